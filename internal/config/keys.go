package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "THREADMARK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "THREADMARK_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "THREADMARK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.backend", typ: kString, env: "THREADMARK_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.flatfile_limit", typ: kInt, env: "THREADMARK_STORAGE_FLATFILE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Storage.FlatFileLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.FlatFileLimit },
	},
	{
		key: "remote.url", typ: kString, env: "THREADMARK_REMOTE_URL",
		apply:   func(cfg *Config, v any) { cfg.Remote.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.URL },
	},
	{
		key: "remote.timeout", typ: kDuration, env: "THREADMARK_REMOTE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Remote.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Remote.Timeout },
	},
	{
		key: "remote.rate_limit", typ: kFloat, env: "THREADMARK_REMOTE_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Remote.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Remote.RateLimit },
	},
	{
		key: "log.level", typ: kString, env: "THREADMARK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "maintenance.schedule", typ: kString, env: "THREADMARK_MAINTENANCE_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Maintenance.Schedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Maintenance.Schedule },
	},
	{
		key: "settings.cache_ttl", typ: kDuration, env: "THREADMARK_SETTINGS_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Settings.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Settings.CacheTTL },
	},
}

// parse converts a raw string for a key of type typ.
func parse(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			raw, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok {
				continue
			}
			v, err := parse(s.typ, raw)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", s.key, err)
			}
			s.apply(cfg, v)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parse(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using configured value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
