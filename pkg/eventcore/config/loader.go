package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// Environment variables overriding file-provided values. Knobs that differ
// per host are overridable without editing the shared config file.
const (
	EnvQueuePath     = "EVENTCORE_QUEUE_PATH"
	EnvDefaultDomain = "EVENTCORE_DOMAIN"
	EnvValidatorMode = "EVENTCORE_VALIDATOR_MODE"
)

// LoadOptionsFromFile reads a config file, materializes Options with
// defaults for anything missing, and applies environment overrides on top.
// The format is detected by extension: .yaml, .yml or .json.
func LoadOptionsFromFile(path string) (Options, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return Options{}, err
	}
	return applyEnv(LoadOptions(cfg)), nil
}

// FromFile loads a raw Config from a file, detecting the format by extension.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	}
	return Config{}, fmt.Errorf("config %s: unsupported extension", path)
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	return decode("yaml", yaml.Unmarshal, data)
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	return decode("json", json.Unmarshal, data)
}

func decode(format string, unmarshal func([]byte, any) error, data []byte) (Config, error) {
	var m map[string]any
	if err := unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse %s config: %w", format, err)
	}
	return New(m), nil
}

func applyEnv(opts Options) Options {
	if v := os.Getenv(EnvQueuePath); v != "" {
		opts.QueuePath = v
	}
	if v := os.Getenv(EnvDefaultDomain); v != "" {
		opts.DefaultDomain = v
	}
	if v := os.Getenv(EnvValidatorMode); v != "" {
		opts.ValidatorMode = event.Mode(v)
	}
	return opts
}
