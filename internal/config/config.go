// Package config loads and hot-reloads taskpipe's layered configuration:
// built-in defaults, an optional YAML file, then environment variable
// overrides (highest precedence), grounded on the teacher's viper usage
// in cmd/bd/doctor/config_values.go.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable named by SPEC_FULL.md's ambient and domain
// stack sections: pipeline cadence/back-pressure, correlation/dedup
// sizing, reconnect backoff, and the server this instance talks to.
type Config struct {
	// Server.
	BaseURL string `mapstructure:"base-url"`
	Token   string `mapstructure:"token"`

	// Pipeline driver (spec.md §4.F / SPEC_FULL.md supplements).
	TickInterval      time.Duration `mapstructure:"tick-interval"`
	MaxConcurrency    int           `mapstructure:"max-concurrency"`
	MaxPending        int           `mapstructure:"max-pending"`
	ExpireEveryNTicks uint64        `mapstructure:"expire-every-n-ticks"`

	// Correlation Registry (spec.md §4.B).
	CorrelationTTL time.Duration `mapstructure:"correlation-ttl"`

	// Transaction Processor dedup cache (spec.md §4.C).
	DedupCapacity int `mapstructure:"dedup-capacity"`

	// Interrupt Controller SSE reconnect (spec.md §6).
	ReconnectMaxBackoff time.Duration `mapstructure:"reconnect-max-backoff"`

	// Logging.
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tick-interval", 16*time.Millisecond)
	v.SetDefault("max-concurrency", 10)
	v.SetDefault("max-pending", 1024)
	v.SetDefault("expire-every-n-ticks", uint64(64))
	v.SetDefault("correlation-ttl", 30*time.Second)
	v.SetDefault("dedup-capacity", 512)
	v.SetDefault("reconnect-max-backoff", 30*time.Second)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
}

// Load reads Config from (in ascending precedence) built-in defaults, the
// YAML file at path if it exists, then TASKPIPE_-prefixed environment
// variables. A missing file at path is not an error; callers may pass an
// empty path to skip file loading entirely.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix("TASKPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"base-url", "token", "tick-interval", "max-concurrency", "max-pending",
		"expire-every-n-ticks", "correlation-ttl", "dedup-capacity",
		"reconnect-max-backoff", "log-level", "log-format",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
