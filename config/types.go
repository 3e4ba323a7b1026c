package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Config is the client configuration. Keys map to environment variables by
// upper-casing them, replacing dots with underscores and adding the MAMMOTH_
// prefix, e.g. api.retry.max is MAMMOTH_API_RETRY_MAX.
type Config struct {
	API       APIConfig       `koanf:"api" json:"api" yaml:"api"`
	Jobs      JobsConfig      `koanf:"jobs" json:"jobs" yaml:"jobs"`
	Log       LogConfig       `koanf:"log" json:"log" yaml:"log"`
	Workspace WorkspaceConfig `koanf:"workspace" json:"workspace" yaml:"workspace"`
	Metrics   MetricsConfig   `koanf:"metrics" json:"metrics" yaml:"metrics"`

	// k keeps the merged sources for GetString and friends.
	k *koanf.Koanf `json:"-" yaml:"-"`
}

// APIConfig holds connection and request settings.
type APIConfig struct {
	BaseURL   string        `koanf:"url" json:"url" yaml:"url" validate:"required,url"`
	Key       string        `koanf:"key" json:"-" yaml:"key" validate:"required"`
	Secret    string        `koanf:"secret" json:"-" yaml:"secret" validate:"required"`
	Timeout   time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout" validate:"gt=0"`
	UserAgent string        `koanf:"useragent" json:"useragent" yaml:"useragent"`
	Retry     RetryConfig   `koanf:"retry" json:"retry" yaml:"retry"`
	Rate      RateConfig    `koanf:"rate" json:"rate" yaml:"rate"`
}

// RetryConfig controls retries of transport failures.
// Attempt n (from 0) is followed by a sleep of Delay * 2^n. A nil Max or a
// zero Delay keeps the client defaults; an explicit zero Max disables retries.
type RetryConfig struct {
	Max   *int          `koanf:"max" json:"max" yaml:"max" validate:"omitempty,gte=0,lte=10"`
	Delay time.Duration `koanf:"delay" json:"delay" yaml:"delay" validate:"gte=0"`
}

// RateConfig is an optional client-side request rate limit. A zero Limit disables it.
type RateConfig struct {
	Limit float64 `koanf:"limit" json:"limit" yaml:"limit" validate:"gte=0"`
	Burst int     `koanf:"burst" json:"burst" yaml:"burst" validate:"gte=0"`
}

// JobsConfig holds the defaults used when waiting for jobs.
type JobsConfig struct {
	Timeout      time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout" validate:"gt=0"`
	PollInterval time.Duration `koanf:"poll" json:"poll" yaml:"poll" validate:"gt=0,ltfield=Timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn error disabled"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`
}

// WorkspaceConfig holds the default workspace and project used by the CLI.
// Zero means unset.
type WorkspaceConfig struct {
	ID      int64 `koanf:"id" json:"id" yaml:"id" validate:"gte=0"`
	Project int64 `koanf:"project" json:"project" yaml:"project" validate:"gte=0"`
}

// MetricsConfig controls the periodic metrics export of the CLI.
// An empty endpoint or "stdout" writes to stderr; anything else is an OTLP
// collector address.
type MetricsConfig struct {
	Enabled  bool          `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Interval time.Duration `koanf:"interval" json:"interval" yaml:"interval" validate:"required_if=Enabled true,gte=0"`
	Endpoint string        `koanf:"endpoint" json:"endpoint" yaml:"endpoint"`
	Protocol string        `koanf:"protocol" json:"protocol" yaml:"protocol" validate:"omitempty,oneof=http grpc"`
	Insecure bool          `koanf:"insecure" json:"insecure" yaml:"insecure"`
}
