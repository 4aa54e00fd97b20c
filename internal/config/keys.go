package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "EVALDECK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "EVALDECK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "cache.stats_ttl", typ: kString, env: "EVALDECK_CACHE_STATS_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.StatsTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.StatsTTL },
	},
	{
		key: "cache.recent_ttl", typ: kString, env: "EVALDECK_CACHE_RECENT_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.RecentTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RecentTTL },
	},
	{
		key: "cache.sweep_interval", typ: kString, env: "EVALDECK_CACHE_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Cache.SweepInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.SweepInterval },
	},
	{
		key: "owner.default", typ: kString, env: "EVALDECK_OWNER_DEFAULT",
		apply:   func(cfg *Config, v any) { cfg.Owner.Default = v.(string) },
		extract: func(cfg Config) any { return cfg.Owner.Default },
	},
	{
		key: "log.level", typ: kString, env: "EVALDECK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
