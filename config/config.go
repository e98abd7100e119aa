// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads daemon settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luxfi/linerpc"
	"github.com/luxfi/linerpc/admin"
	"github.com/luxfi/linerpc/tcp"
)

// Config is the daemon configuration file.
type Config struct {
	// Listen is the TCP address the daemon binds.
	Listen string `yaml:"listen"`

	// MaxClients caps connected clients; 0 means no cap.
	MaxClients int `yaml:"max_clients,omitempty"`

	// Workers runs client sessions on a fixed pool of that size instead of
	// one goroutine per client; 0 disables the pool.
	Workers int `yaml:"workers,omitempty"`

	// Perm is the permission list granted to clients, for example
	// "read,write,call" or "default" or "all".
	Perm string `yaml:"perm,omitempty"`

	// SelectTimeout bounds each readiness wait of a peer loop.
	SelectTimeout time.Duration `yaml:"select_timeout,omitempty"`

	// MaxLine is the longest accepted request line in bytes.
	MaxLine int `yaml:"max_line,omitempty"`

	Blocks Blocks `yaml:"blocks,omitempty"`
	Admin  Admin  `yaml:"admin,omitempty"`
	Trace  Trace  `yaml:"trace,omitempty"`
	Log    Log    `yaml:"log,omitempty"`
}

// Blocks sizes the memory block table of each session.
type Blocks struct {
	Slots   int `yaml:"slots,omitempty"`
	MaxSize int `yaml:"max_size,omitempty"`
}

// Admin enables the control surface when Listen is set.
type Admin struct {
	Listen  string `yaml:"listen,omitempty"`
	Surface string `yaml:"surface,omitempty"`
}

// Trace exports spans and metrics to stderr when enabled.
type Trace struct {
	Enabled  bool          `yaml:"enabled,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

type Log struct {
	Level string `yaml:"level,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:        "127.0.0.1:4810",
		Perm:          "default",
		SelectTimeout: tcp.DefaultSelectTimeout,
		MaxLine:       linerpc.DefaultLineMax,
		Blocks: Blocks{
			Slots:   linerpc.DefaultBlockSlots,
			MaxSize: linerpc.DefaultBlockMax,
		},
		Admin: Admin{Surface: admin.SurfaceJSON},
		Trace: Trace{Interval: time.Minute},
		Log:   Log{Level: "info"},
	}
}

// Load reads a configuration file over the defaults.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields, or fails validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and names.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if c.MaxClients < 0 {
		errs = append(errs, fmt.Errorf("max_clients must not be negative, got %d", c.MaxClients))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if _, err := c.Permissions(); err != nil {
		errs = append(errs, err)
	}
	if c.SelectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("select_timeout must be positive, got %s", c.SelectTimeout))
	}
	if c.MaxLine < 64 {
		errs = append(errs, fmt.Errorf("max_line must be at least 64, got %d", c.MaxLine))
	}
	if c.Blocks.Slots < 1 {
		errs = append(errs, fmt.Errorf("blocks.slots must be positive, got %d", c.Blocks.Slots))
	}
	if c.Blocks.MaxSize < 1 {
		errs = append(errs, fmt.Errorf("blocks.max_size must be positive, got %d", c.Blocks.MaxSize))
	}
	if c.Admin.Listen != "" && !admin.HasSurface(c.Admin.Surface) {
		errs = append(errs, fmt.Errorf("admin.surface %q is not available (have %s)",
			c.Admin.Surface, strings.Join(admin.Surfaces(), ", ")))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Permissions parses Perm.
func (c *Config) Permissions() (linerpc.Perm, error) {
	return linerpc.ParsePerm(c.Perm)
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// SessionOptions returns the per-session settings.
func (c *Config) SessionOptions() []linerpc.Option {
	perm, _ := c.Permissions()
	return []linerpc.Option{
		linerpc.WithPerm(perm),
		linerpc.WithMaxLine(c.MaxLine),
		linerpc.WithBlocks(c.Blocks.Slots, c.Blocks.MaxSize),
	}
}

// DaemonOptions returns the tcp settings, session settings included.
func (c *Config) DaemonOptions() []tcp.Option {
	return []tcp.Option{
		tcp.WithMaxClients(c.MaxClients),
		tcp.WithSelectTimeout(c.SelectTimeout),
		tcp.WithSessionOptions(c.SessionOptions()...),
	}
}
