package config

import "time"

// GetString returns the raw value of key, or the first default when unset.
func (c *Config) GetString(key string, defaultVal ...string) string {
	if !c.Exists(key) {
		return optionalDefault("", defaultVal...)
	}
	return c.k.String(key)
}

// GetInt64 returns key as an int64, or the first default when unset.
func (c *Config) GetInt64(key string, defaultVal ...int64) int64 {
	if !c.Exists(key) {
		return optionalDefault(int64(0), defaultVal...)
	}
	return c.k.Int64(key)
}

// GetDuration returns key parsed as a duration, or the first default when unset.
func (c *Config) GetDuration(key string, defaultVal ...time.Duration) time.Duration {
	if !c.Exists(key) {
		return optionalDefault(time.Duration(0), defaultVal...)
	}
	return c.k.Duration(key)
}

// Exists reports whether any source set key.
func (c *Config) Exists(key string) bool {
	return c != nil && c.k != nil && c.k.Exists(key)
}

func optionalDefault[T any](zero T, overrides ...T) T {
	if len(overrides) > 0 {
		return overrides[0]
	}
	return zero
}
