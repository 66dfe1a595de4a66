package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variable names.
const (
	envPrefix = "DIALOGKPI_"
	envConfig = "DIALOGKPI_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if DIALOGKPI_CONFIG is set
//  3. env (prefix DIALOGKPI_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(envConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// Map env keys like DIALOGKPI_QUEUE_SIZE -> queue_size (flat keys).
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}
	// The config path itself is not a Config field.
	k.Delete("config")

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields Load cannot coerce into something usable.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DataSampleRate < 0 || c.DataSampleRate > 1:
		return fmt.Errorf("%w: data_sample_rate must be within [0,1], got %v", ErrInvalidConfig, c.DataSampleRate)
	}

	switch c.StoreKind {
	case StoreMemory:
	case StoreFile, StoreSQLite:
		if c.StorePath == "" {
			return fmt.Errorf("%w: store_path is required for store_kind %q", ErrInvalidConfig, c.StoreKind)
		}
	default:
		return fmt.Errorf("%w: unknown store_kind %q", ErrInvalidConfig, c.StoreKind)
	}

	switch c.UploadCompression {
	case "none", "zstd":
	default:
		return fmt.Errorf("%w: unknown upload_compression %q", ErrInvalidConfig, c.UploadCompression)
	}
	return nil
}
