package config

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Cache   CacheConfig
	Owner   OwnerConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

// CacheConfig carries the response-cache TTLs as duration strings
// (e.g. "15s"). These are policy knobs, not correctness contracts.
type CacheConfig struct {
	StatsTTL      string
	RecentTTL     string
	SweepInterval string // "0" disables the background sweep
}

type OwnerConfig struct {
	// Default is the owner identity assumed when a request carries none.
	Default string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Cache: CacheConfig{
			StatsTTL:      "15s",
			RecentTTL:     "10s",
			SweepInterval: "1m",
		},
		Owner: OwnerConfig{
			Default: "local",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/evaldeck/config.json with EVALDECK_* environment
// variables overriding backend values.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// ParseTTL parses a cache TTL string, falling back to def on any value that
// is not a positive duration.
func ParseTTL(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "evaldeck-data"
		}
	}
	return filepath.Join(dir, "evaldeck")
}
