package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds kvdexctl's startup settings: segment chunk size, an
// undelivered-entry retention period, and a framework key prefix. These
// values are loaded and reported by inspect; no subcommand otherwise
// applies them (dump and restore always use kv.FrameworkKey).
// Precedence is env > yaml > default, matching the teacher's
// internal/config layering.
type Config struct {
	SegmentLimit         int           `mapstructure:"segment-limit"`
	UndeliveredRetention time.Duration `mapstructure:"undelivered-retention"`
	FrameworkPrefix      string        `mapstructure:"framework-prefix"`
}

func defaultConfig() Config {
	return Config{
		SegmentLimit:         2048,
		UndeliveredRetention: 7 * 24 * time.Hour,
		FrameworkPrefix:      "kvdex",
	}
}

// loadConfig reads cfgFile (if set) as YAML, then lets KVDEXCTL_*
// environment variables override individual keys.
func loadConfig(cfgFile string) (Config, error) {
	v := viper.New()
	d := defaultConfig()
	v.SetDefault("segment-limit", d.SegmentLimit)
	v.SetDefault("undelivered-retention", d.UndeliveredRetention)
	v.SetDefault("framework-prefix", d.FrameworkPrefix)

	v.SetEnvPrefix("KVDEXCTL")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("kvdexctl: read config %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("kvdexctl: parse config: %w", err)
	}
	return cfg, nil
}
