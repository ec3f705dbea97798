package config

const (
	EnvAPIBaseURL = "TRADEPOST_API_BASE_URL"
	EnvEnv        = "TRADEPOST_ENV"
)

// parseEnv applies the environment overrides. Empty variables are ignored.
func parseEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		return
	}
	if v := getenv(EnvAPIBaseURL); v != "" {
		cfg.APIBaseURL = v
	}
	if v := getenv(EnvEnv); v != "" {
		cfg.Env = v
	}
}
