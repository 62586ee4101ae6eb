// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all driver configuration.
type Config struct {
	// Filesystem
	BackingDir string

	// Classifier IPC
	BrainEndpoint string
	BrainTimeout  time.Duration

	// Worker
	Debounce time.Duration
	Rescan   bool

	// Observability
	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

// DefaultBrainEndpoint is the classifier's request/reply socket.
const DefaultBrainEndpoint = "ipc:///tmp/magic_brain.ipc"

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		BackingDir:    envOr("MF_BACKING_DIR", ""),
		BrainEndpoint: envOr("MF_BRAIN_ENDPOINT", DefaultBrainEndpoint),
		BrainTimeout:  envDuration("MF_BRAIN_TIMEOUT", 60*time.Second),
		Debounce:      envDuration("MF_DEBOUNCE", 500*time.Millisecond),
		Rescan:        envBool("MF_RESCAN", true),
		MetricsAddr:   envOr("METRICS_ADDR", ""),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		LogFormat:     envOr("LOG_FORMAT", "console"),
	}

	if cfg.BackingDir == "" {
		home := os.Getenv("HOME")
		if home == "" {
			return nil, fmt.Errorf("HOME is not set and MF_BACKING_DIR is empty")
		}
		cfg.BackingDir = filepath.Join(home, ".magicFolder", "raw")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
