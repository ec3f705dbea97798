package config

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/tradepost/internal/flagx"
)

var knownFlags = []string{"-a", "-cp", "-mp", "-d", "-e", "-l", "-t", "-scan", "-ephemeral"}

// parseFlags overlays cfg with command-line flags. Intervals and the timeout
// are given in whole seconds.
//
//	-a string     API base URL
//	-cp int       conversation poll interval (seconds)
//	-mp int       message poll interval (seconds)
//	-d string     state directory
//	-e string     environment: dev, local or prod
//	-l string     log level
//	-t int        HTTP timeout (seconds, 0 = none)
//	-scan         allow the feed-scan fallback for "mine"
//	-ephemeral    keep credentials in memory only
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("tradepost", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.APIBaseURL, "a", cfg.APIBaseURL, "API base URL")
	convSec := fs.Int("cp", int(cfg.ConversationPollInterval.Seconds()), "conversation poll interval (in seconds)")
	msgSec := fs.Int("mp", int(cfg.MessagePollInterval.Seconds()), "message poll interval (in seconds)")
	fs.StringVar(&cfg.StateDir, "d", cfg.StateDir, "state directory")
	fs.StringVar(&cfg.Env, "e", cfg.Env, "environment")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	timeoutSec := fs.Int("t", int(cfg.HTTPTimeout.Seconds()), "HTTP timeout (in seconds)")
	fs.BoolVar(&cfg.OwnerScanFallback, "scan", cfg.OwnerScanFallback, "allow feed-scan fallback for my listings")
	fs.BoolVar(&cfg.Ephemeral, "ephemeral", cfg.Ephemeral, "do not persist credentials")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cp":
			cfg.ConversationPollInterval = time.Duration(*convSec) * time.Second
		case "mp":
			cfg.MessagePollInterval = time.Duration(*msgSec) * time.Second
		case "t":
			cfg.HTTPTimeout = time.Duration(*timeoutSec) * time.Second
		}
	})
	return nil
}
