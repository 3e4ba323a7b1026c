// Package config loads client settings from defaults, an optional YAML file
// and MAMMOTH_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultFile is read by Load when present in the working directory.
	DefaultFile = "mammoth.yaml"
	// EnvPrefix prefixes every environment variable the loader reads.
	EnvPrefix = "MAMMOTH_"

	DefaultBaseURL      = "https://api.mammoth.io/api/v2"
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = time.Second
	DefaultUserAgent    = "mammoth-go/0.1.0"
	DefaultJobTimeout   = 300 * time.Second
	DefaultPollInterval = 5 * time.Second

	DefaultMetricsInterval = 15 * time.Second
)

// Load reads DefaultFile if it exists, then the environment.
func Load() (*Config, error) {
	return load(func(k *koanf.Koanf) error {
		err := k.Load(file.Provider(DefaultFile), yaml.Parser())
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", DefaultFile, err)
		}
		return nil
	})
}

// LoadFile reads the YAML file at path, which must exist, then the environment.
func LoadFile(path string) (*Config, error) {
	return load(func(k *koanf.Koanf) error {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		return nil
	})
}

// LoadBytes parses in-memory YAML, then the environment.
func LoadBytes(data []byte) (*Config, error) {
	return load(func(k *koanf.Koanf) error {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		return nil
	})
}

func load(source func(*koanf.Koanf) error) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := source(k); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// envKey maps MAMMOTH_API_RETRY_MAX to api.retry.max.
func envKey(key, value string) (string, any) {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "_", "."), value
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"api.url":         DefaultBaseURL,
		"api.timeout":     DefaultTimeout.String(),
		"api.useragent":   DefaultUserAgent,
		"api.retry.max":   DefaultMaxRetries,
		"api.retry.delay": DefaultRetryDelay.String(),
		"api.rate.limit":  0,
		"api.rate.burst":  1,

		"jobs.timeout": DefaultJobTimeout.String(),
		"jobs.poll":    DefaultPollInterval.String(),

		"log.level":  "info",
		"log.pretty": false,

		"metrics.enabled":  false,
		"metrics.interval": DefaultMetricsInterval.String(),
		"metrics.endpoint": "stdout",
		"metrics.protocol": "http",
		"metrics.insecure": false,
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
