// Package config loads runtime configuration for the tradepost CLI.
//
// Sources, in increasing precedence:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. An optional JSON file selected with -c or -config.
//  3. Environment variables TRADEPOST_API_BASE_URL and TRADEPOST_ENV.
//  4. Command-line flags.
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "5s" or integer nanoseconds:
//
//	{
//	  "api_base_url": "http://localhost:8000/api/v1",
//	  "conversation_poll_interval": "5s",
//	  "message_poll_interval": "3s",
//	  "state_dir": "/home/me/.config/tradepost",
//	  "env": "dev",
//	  "log_level": "debug",
//	  "http_timeout": "30s",
//	  "owner_scan_fallback": false
//	}
package config
