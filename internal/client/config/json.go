package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/tradepost/internal/flagx"
	"github.com/dmitrijs2005/tradepost/internal/timex"
)

// JSONConfig is the on-disk shape of the config file. Intervals use
// timex.Duration, so "5s" and integer nanoseconds are both accepted. Absent
// fields keep their current value.
type JSONConfig struct {
	APIBaseURL               *string         `json:"api_base_url"`
	ConversationPollInterval *timex.Duration `json:"conversation_poll_interval"`
	MessagePollInterval      *timex.Duration `json:"message_poll_interval"`
	StateDir                 *string         `json:"state_dir"`
	Env                      *string         `json:"env"`
	LogLevel                 *string         `json:"log_level"`
	HTTPTimeout              *timex.Duration `json:"http_timeout"`
	OwnerScanFallback        *bool           `json:"owner_scan_fallback"`
	Ephemeral                *bool           `json:"ephemeral"`
}

// parseJSON overlays cfg with the file given by -c or -config, if any.
func parseJSON(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var jc JSONConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setIf(&cfg.APIBaseURL, jc.APIBaseURL)
	setIf(&cfg.StateDir, jc.StateDir)
	setIf(&cfg.Env, jc.Env)
	setIf(&cfg.LogLevel, jc.LogLevel)
	setIf(&cfg.OwnerScanFallback, jc.OwnerScanFallback)
	setIf(&cfg.Ephemeral, jc.Ephemeral)
	if jc.ConversationPollInterval != nil {
		cfg.ConversationPollInterval = jc.ConversationPollInterval.Duration
	}
	if jc.MessagePollInterval != nil {
		cfg.MessagePollInterval = jc.MessagePollInterval.Duration
	}
	if jc.HTTPTimeout != nil {
		cfg.HTTPTimeout = jc.HTTPTimeout.Duration
	}
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
