// Package config loads pipeline configuration from YAML or JSON files into
// typed options with defaults. Unknown keys are ignored; missing keys fall
// back to defaults rather than erroring, so partial config files are valid.
package config

import (
	"time"
)

// Config wraps a parsed key-value map. Accessors never fail: a missing key
// or a value of the wrong type yields the caller's default.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map. A nil map means empty config.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// Raw returns the underlying map.
func (c Config) Raw() map[string]any {
	return c.data
}

// Sub returns the nested Config under key, or an empty Config.
func (c Config) Sub(key string) Config {
	switch m := c.data[key].(type) {
	case map[string]any:
		return New(m)
	case Config:
		return m
	}
	return New(nil)
}

// String returns the value under key when it is a string, else defaultVal.
func (c Config) String(key, defaultVal string) string {
	if s, ok := c.data[key].(string); ok {
		return s
	}
	return defaultVal
}

// StringSlice returns the string slice under key, else defaultVal. YAML
// sequences arrive as []any and are converted element-wise; a single
// non-empty string becomes a one-element slice.
func (c Config) StringSlice(key string, defaultVal []string) []string {
	switch val := c.data[key].(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return defaultVal
			}
			out = append(out, s)
		}
		return out
	case string:
		if val != "" {
			return []string{val}
		}
	}
	return defaultVal
}

// Duration returns the duration under key, else defaultVal. Strings go
// through time.ParseDuration; bare numbers are taken as seconds.
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	switch val := c.data[key].(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// Bool returns the boolean under key, else defaultVal.
func (c Config) Bool(key string, defaultVal bool) bool {
	if b, ok := c.data[key].(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer under key, else defaultVal. JSON numbers decode
// as float64 and convert only when they carry no fractional part.
func (c Config) Int(key string, defaultVal int) int {
	switch val := c.data[key].(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// Float returns the float64 under key, else defaultVal.
func (c Config) Float(key string, defaultVal float64) float64 {
	switch val := c.data[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	}
	return defaultVal
}
