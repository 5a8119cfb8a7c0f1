// Package config reads relmap settings from the environment and an
// optional relmap.yaml file.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "RELMAP"

// Config represents the CLI configuration.
type Config struct {
	Database DatabaseConfig
	Log      LogConfig
}

// DatabaseConfig represents the connection settings passed to orm.Open.
type DatabaseConfig struct {
	URL    string // RELMAP_DATABASE_URL
	Driver string // RELMAP_DRIVER; selects pgx or lib/pq for postgres URLs
}

// LogConfig represents logger settings passed to zaplog.Build.
type LogConfig struct {
	Level  string // RELMAP_LOG_LEVEL
	Format string // RELMAP_LOG_FORMAT
}

// Load reads the configuration. Environment variables take precedence
// over the file. When path is empty, relmap.yaml is looked up in the
// working directory and is optional; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("database_url", "sqlite://:memory:")
	v.SetDefault("driver", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("relmap")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			URL:    v.GetString("database_url"),
			Driver: v.GetString("driver"),
		},
		Log: LogConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("RELMAP_DATABASE_URL is required (set via environment variable or relmap.yaml)")
	}
	return cfg, nil
}
