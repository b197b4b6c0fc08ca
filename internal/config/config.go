// Package config loads runtime configuration from defaults, an optional
// YAML file, and MESHFORGE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Addr         string   `mapstructure:"addr"`
	DBPath       string   `mapstructure:"db_path"`
	ContentRoot  string   `mapstructure:"content_root"`
	GeneratedDir string   `mapstructure:"generated_dir"`
	TrellisURL   string   `mapstructure:"trellis_url"`
	CORSOrigins  []string `mapstructure:"cors_origins"`

	// PollRetrySeconds is the suggested client poll interval returned with
	// every pending status response.
	PollRetrySeconds int `mapstructure:"poll_retry_seconds"`

	// RecencyWindowSeconds bounds the freshness bonus in asset scoring.
	RecencyWindowSeconds int `mapstructure:"recency_window_seconds"`
}

// Load reads configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "meshforge.db")
	v.SetDefault("content_root", "Assets")
	v.SetDefault("generated_dir", "Generated")
	v.SetDefault("trellis_url", "http://localhost:5001")
	v.SetDefault("cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("poll_retry_seconds", 3)
	v.SetDefault("recency_window_seconds", 60)

	v.SetEnvPrefix("MESHFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config %q: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.PollRetrySeconds <= 0 {
		cfg.PollRetrySeconds = 3
	}
	if cfg.RecencyWindowSeconds <= 0 {
		cfg.RecencyWindowSeconds = 60
	}
	return &cfg, nil
}
