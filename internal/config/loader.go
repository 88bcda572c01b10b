// Package config loads tool-level configuration for the cardforge CLI.
//
// Tool configuration covers defaults that apply across runs: logging,
// the default backend endpoint, and worker defaults. Per-run behavior
// lives in the batch manifest, not here. Precedence, lowest to highest:
// built-in defaults, config file, environment (CARDFORGE_*), runtime
// overrides, command-line flags.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix for overrides.
const EnvPrefix = "CARDFORGE"

// Config is the tool-level configuration.
type Config struct {
	// Logging configures CLI diagnostics.
	Logging LoggingConfig `mapstructure:"logging"`

	// Backend holds connection defaults applied when a manifest omits them.
	Backend BackendConfig `mapstructure:"backend"`

	// Workers is the default worker count for manifests that omit one.
	Workers int `mapstructure:"workers"`

	// OutputDir is the default artifact destination.
	OutputDir string `mapstructure:"output_dir"`
}

// LoggingConfig configures CLI diagnostics.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `mapstructure:"level"`
}

// BackendConfig holds backend connection defaults.
type BackendConfig struct {
	// Endpoint is the default backend base URL.
	Endpoint string `mapstructure:"endpoint"`

	// RequestTimeout bounds a single round-trip.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load reads configuration from defaults, an optional config file, the
// environment, and any runtime overrides (applied in that order).
//
// The config file is $CARDFORGE_CONFIG if set, otherwise
// ~/.config/cardforge/config.yaml. A missing file is not an error.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := configFilePath(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return nil, fmt.Errorf("read config %s: %w", path, err)
				}
			}
		}
	}

	for _, override := range overrides {
		if err := v.MergeConfigMap(override); err != nil {
			return nil, fmt.Errorf("merge overrides: %w", err)
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q (expected debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Workers < 1 || c.Workers > 32 {
		return fmt.Errorf("invalid workers %d (expected 1-32)", c.Workers)
	}
	return nil
}

// setDefaults registers built-in defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("backend.endpoint", "http://127.0.0.1:8188")
	v.SetDefault("backend.request_timeout", "60s")
	v.SetDefault("workers", 4)
	v.SetDefault("output_dir", "output")
}

// configFilePath resolves the config file location.
func configFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "cardforge", "config.yaml")
}
