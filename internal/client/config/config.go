package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/tradepost/internal/client/api"
	"github.com/dmitrijs2005/tradepost/internal/client/inbox"
)

// Config holds runtime settings for the tradepost CLI.
//
// Intervals and the HTTP timeout are time.Duration values. A zero HTTPTimeout
// leaves the transport default in place.
type Config struct {
	APIBaseURL               string
	ConversationPollInterval time.Duration
	MessagePollInterval      time.Duration
	StateDir                 string
	Env                      string
	LogLevel                 string
	HTTPTimeout              time.Duration
	OwnerScanFallback        bool
	Ephemeral                bool
}

// LoadDefaults populates c with the built-in defaults.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = api.DefaultBaseURL
	c.ConversationPollInterval = inbox.DefaultConversationInterval
	c.MessagePollInterval = inbox.DefaultMessageInterval
	c.StateDir = defaultStateDir()
	c.Env = "prod"
	c.LogLevel = "info"
	c.HTTPTimeout = 0
	c.OwnerScanFallback = false
	c.Ephemeral = false
}

// Load builds a Config from defaults, then the JSON file named by -c/-config,
// then environment variables, then flags. Later sources win.
func Load(args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg, args); err != nil {
		return nil, err
	}
	parseEnv(cfg, getenv)
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig is Load over the process arguments and environment.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:], os.Getenv)
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".tradepost"
	}
	return filepath.Join(dir, "tradepost")
}
