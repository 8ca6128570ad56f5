// Package config loads the session client configuration from a YAML file
// and environment variables with a predictable precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root configuration.
// Sources, highest precedence first:
//  1. an explicit path (the --config flag);
//  2. the path in CONFIG_PATH;
//  3. ./local.yaml;
//  4. environment variables only.
//
// Environment variables always overlay values read from a file.
type Config struct {
	BaseURL        string        `yaml:"base_url" env:"HEARTPATH_BASE_URL" env-required:"true"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"HEARTPATH_REFRESH_TIMEOUT" env-default:"10s"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"HEARTPATH_REQUEST_TIMEOUT" env-default:"30s"`

	Keyring     KeyringConfig     `yaml:"keyring"`
	Preferences PreferencesConfig `yaml:"preferences"`
	Log         LogConfig         `yaml:"log"`
}

// KeyringConfig selects where session secrets are kept
type KeyringConfig struct {
	ServiceName string `yaml:"service_name" env:"HEARTPATH_KEYRING_SERVICE" env-default:"com.heartpath.session"`
	Backend     string `yaml:"backend" env:"HEARTPATH_KEYRING_BACKEND"`
	FileDir     string `yaml:"file_dir" env:"HEARTPATH_KEYRING_FILE_DIR"`
}

// PreferencesConfig locates the non-secret status cache
type PreferencesConfig struct {
	Path string `yaml:"path" env:"HEARTPATH_PREFERENCES_PATH" env-default:"heartpath-prefs.db"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level string `yaml:"level" env:"HEARTPATH_LOG_LEVEL" env-default:"info"`
}

// SlogLevel parses Level, falling back to info.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the configuration following the precedence documented on
// Config.
func Load(path string) (*Config, error) {
	var cfg Config

	readFile := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", p, err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}
		return &cfg, nil
	}

	if path != "" {
		return readFile(path)
	}

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return readFile(envPath)
	}

	if _, err := os.Stat("local.yaml"); err == nil {
		return readFile("local.yaml")
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}
	return &cfg, nil
}
