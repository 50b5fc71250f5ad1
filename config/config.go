// Package config loads dispatcher configuration from defaults, an optional
// YAML file and DISPATCH_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	envprovider "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultFile is the YAML file Load reads when present.
	DefaultFile = "dispatch.yaml"

	// EnvPrefix prefixes every environment variable read by Load and LoadFile.
	EnvPrefix = "DISPATCH_"
)

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. dispatch.yaml in the working directory, when it exists
// 3. Default values (lowest priority)
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if _, err := os.Stat(DefaultFile); err == nil {
		if err := k.Load(file.Provider(DefaultFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", DefaultFile, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat %s: %w", DefaultFile, err)
	}

	if err := loadEnv(k); err != nil {
		return nil, err
	}
	return finish(k)
}

// LoadFile loads defaults, then the YAML file at path, then the environment.
// Unlike Load, a missing file is an error.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")
	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	if err := loadEnv(k); err != nil {
		return nil, err
	}
	return finish(k)
}

// LoadBytes loads defaults overlaid with an in-memory YAML document.
// The environment is not consulted.
func LoadBytes(data []byte) (*Config, error) {
	k := koanf.New(".")
	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	return finish(k)
}

func loadEnv(k *koanf.Koanf) error {
	provider := envprovider.Provider(".", envprovider.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			// DISPATCH_DISPATCHER_RETRY_TIMES -> dispatcher.retry.times
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			return strings.ReplaceAll(key, "_", "."), value
		},
	})
	if err := k.Load(provider, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

func finish(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	normalize(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func normalize(cfg *Config) {
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Dispatcher.Method = strings.ToUpper(strings.TrimSpace(cfg.Dispatcher.Method))
	cfg.Dispatcher.Base = strings.TrimSpace(cfg.Dispatcher.Base)
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"log.level":  "info",
		"log.pretty": false,

		"dispatcher.method":      "GET",
		"dispatcher.url":         "",
		"dispatcher.base":        "",
		"dispatcher.enabled":     true,
		"dispatcher.verbose":     false,
		"dispatcher.maxhandles":  0,
		"dispatcher.retry.times": 3,
		"dispatcher.retry.wait":  5,
		"dispatcher.retry.tick":  "1s",
		"dispatcher.rate.limit":  0,
		"dispatcher.rate.burst":  1,
		"dispatcher.csrf.token":  "",
		"dispatcher.csrf.page":   "",

		"transport.timeout":            "30s",
		"transport.compress":           true,
		"transport.logpayloads":        false,
		"transport.maxpayloadlogbytes": 1024,
		"transport.requestidheader":    "X-Request-ID",
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
