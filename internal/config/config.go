// Package config loads relgraph settings from a YAML file, an optional
// .env file, and RELGRAPH_* environment variables, in that order of
// increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RELGRAPH_"

// Config is the runtime configuration.
type Config struct {
	// Backend selects the record store: "sqlite" or "badger".
	Backend string `yaml:"backend"`

	// Path is the database file (sqlite) or directory (badger).
	// Empty means in-memory.
	Path string `yaml:"path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Order is the cascade frontier order: fifo or lifo.
	Order string `yaml:"order"`

	// Schema is a directory of CUE edge declarations. Empty disables
	// schema checks.
	Schema string `yaml:"schema"`

	Badger BadgerConfig `yaml:"badger"`
}

// BadgerConfig holds badger-only settings.
type BadgerConfig struct {
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Backend:  BackendSQLite,
		LogLevel: "info",
		Order:    "fifo",
		Badger: BadgerConfig{
			SyncWrites: true,
			GCInterval: 10 * time.Minute,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty), then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads variables from the given .env files into the process
// environment without overriding variables already set. Missing files
// are skipped.
func LoadEnvFile(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from RELGRAPH_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"BACKEND", &c.Backend},
		{"PATH", &c.Path},
		{"LOG_LEVEL", &c.LogLevel},
		{"ORDER", &c.Order},
		{"SCHEMA", &c.Schema},
	}
	for _, s := range strs {
		if v, ok := lookup(EnvPrefix + s.key); ok {
			*s.dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "BADGER_SYNC_WRITES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sBADGER_SYNC_WRITES: %w", EnvPrefix, err)
		}
		c.Badger.SyncWrites = b
	}
	if v, ok := lookup(EnvPrefix + "BADGER_GC_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sBADGER_GC_INTERVAL: %w", EnvPrefix, err)
		}
		c.Badger.GCInterval = d
	}
	return nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendSQLite, BackendBadger:
	default:
		errs = append(errs, fmt.Errorf("backend: unknown %q (want sqlite or badger)", c.Backend))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.Order {
	case "fifo", "lifo":
	default:
		errs = append(errs, fmt.Errorf("order: unknown %q (want fifo or lifo)", c.Order))
	}
	if c.Badger.GCInterval < 0 {
		errs = append(errs, fmt.Errorf("badger.gc_interval: must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

// InMemory reports whether the database lives only in memory.
func (c *Config) InMemory() bool {
	return c.Path == "" || c.Path == ":memory:"
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log_level: unknown %q", s)
	}
}
