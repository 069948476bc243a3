// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package config loads assetfetch settings from defaults, an optional
// JSON/YAML file, ASSETFETCH_* environment variables and command flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bodaay/assetfetch/internal/logger"
	"github.com/bodaay/assetfetch/pkg/assetfetch"
)

// EnvPrefix prefixes every environment override, e.g. ASSETFETCH_MODELS_DIR.
const EnvPrefix = "ASSETFETCH"

// Config is the merged configuration of a CLI invocation.
type Config struct {
	Set              string `mapstructure:"set" json:"set,omitempty" yaml:"set,omitempty"`
	Token            string `mapstructure:"token" json:"token" yaml:"token"`
	ModelsDir        string `mapstructure:"models-dir" json:"models-dir" yaml:"models-dir"`
	Catalog          string `mapstructure:"catalog" json:"catalog" yaml:"catalog"`
	MaxAttempts      int    `mapstructure:"max-attempts" json:"max-attempts" yaml:"max-attempts"`
	RetryDelay       string `mapstructure:"retry-delay" json:"retry-delay" yaml:"retry-delay"`
	AttemptTimeout   string `mapstructure:"attempt-timeout" json:"attempt-timeout" yaml:"attempt-timeout"`
	ProbeTimeout     string `mapstructure:"probe-timeout" json:"probe-timeout" yaml:"probe-timeout"`
	ProgressInterval string `mapstructure:"progress-interval" json:"progress-interval" yaml:"progress-interval"`
	LogLevel         string `mapstructure:"log-level" json:"log-level" yaml:"log-level"`
	LogFormat        string `mapstructure:"log-format" json:"log-format" yaml:"log-format"`
	LogFile          string `mapstructure:"log-file" json:"log-file" yaml:"log-file"`
	MetricsTextfile  string `mapstructure:"metrics-textfile" json:"metrics-textfile" yaml:"metrics-textfile"`
	Addr             string `mapstructure:"addr" json:"addr" yaml:"addr"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" json:"-" yaml:"-"`
}

// Default returns the built-in defaults.
func Default() Config {
	s := assetfetch.DefaultSettings()
	return Config{
		ModelsDir:        s.ModelsDir,
		MaxAttempts:      s.MaxAttempts,
		RetryDelay:       s.RetryDelay,
		AttemptTimeout:   s.AttemptTimeout,
		ProbeTimeout:     s.ProbeTimeout,
		ProgressInterval: s.ProgressInterval,
		LogLevel:         "info",
		LogFormat:        "console",
		Addr:             "127.0.0.1:8080",
	}
}

// DefaultPath is where `config init` writes the settings file.
func DefaultPath(yaml bool) string {
	home, _ := os.UserHomeDir()
	if yaml {
		return filepath.Join(home, ".config", "assetfetch.yaml")
	}
	return filepath.Join(home, ".config", "assetfetch.json")
}

// Discover returns the first existing settings file under ~/.config,
// trying JSON first, then YAML. It returns "" if none exists.
func Discover() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"assetfetch.json", "assetfetch.yaml", "assetfetch.yml"} {
		p := filepath.Join(home, ".config", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load merges defaults, the settings file at path (or the discovered one
// when path is empty), environment variables and flags. Only flags the user
// changed override the other sources.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("set", def.Set)
	v.SetDefault("token", def.Token)
	v.SetDefault("models-dir", def.ModelsDir)
	v.SetDefault("catalog", def.Catalog)
	v.SetDefault("max-attempts", def.MaxAttempts)
	v.SetDefault("retry-delay", def.RetryDelay)
	v.SetDefault("attempt-timeout", def.AttemptTimeout)
	v.SetDefault("probe-timeout", def.ProbeTimeout)
	v.SetDefault("progress-interval", def.ProgressInterval)
	v.SetDefault("log-level", def.LogLevel)
	v.SetDefault("log-format", def.LogFormat)
	v.SetDefault("log-file", def.LogFile)
	v.SetDefault("metrics-textfile", def.MetricsTextfile)
	v.SetDefault("addr", def.Addr)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// Container conventions of the worker images this tool runs in.
	_ = v.BindEnv("set", EnvPrefix+"_SET", "MODEL_TYPE")
	_ = v.BindEnv("token", EnvPrefix+"_TOKEN", "HUGGINGFACE_ACCESS_TOKEN", "HF_TOKEN")

	if path == "" {
		path = Discover()
	}
	if path != "" {
		v.SetConfigFile(path)
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			v.SetConfigType("yaml")
		default:
			v.SetConfigType("json")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, configError(fmt.Errorf("failed to read config file %s: %w", path, err))
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if isKnownKey(f.Name) {
				if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
					bindErr = err
				}
			}
		})
		if bindErr != nil {
			return nil, configError(bindErr)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, configError(fmt.Errorf("failed to unmarshal config: %w", err))
	}
	c.File = path
	c.Set = strings.TrimSpace(c.Set)
	c.Token = strings.TrimSpace(c.Token)

	if err := c.Validate(); err != nil {
		return nil, configError(fmt.Errorf("config validation failed: %w", err))
	}
	return &c, nil
}

func isKnownKey(name string) bool {
	switch name {
	case "set", "token", "models-dir", "catalog", "max-attempts", "retry-delay",
		"attempt-timeout", "probe-timeout", "progress-interval", "log-level",
		"log-format", "log-file", "metrics-textfile", "addr":
		return true
	}
	return false
}

// Validate checks value ranges and duration syntax.
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max-attempts must be at least 1, got %d", c.MaxAttempts)
	}
	for name, s := range map[string]string{
		"retry-delay":       c.RetryDelay,
		"attempt-timeout":   c.AttemptTimeout,
		"probe-timeout":     c.ProbeTimeout,
		"progress-interval": c.ProgressInterval,
	} {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", name)
		}
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "console", "text":
	default:
		return fmt.Errorf("invalid log-format: %s", c.LogFormat)
	}
	return nil
}

// Settings converts c into fetcher settings.
func (c *Config) Settings() assetfetch.Settings {
	return assetfetch.Settings{
		ModelsDir:        c.ModelsDir,
		CatalogFile:      c.Catalog,
		MaxAttempts:      c.MaxAttempts,
		RetryDelay:       c.RetryDelay,
		AttemptTimeout:   c.AttemptTimeout,
		ProbeTimeout:     c.ProbeTimeout,
		ProgressInterval: c.ProgressInterval,
	}
}

// Logger returns the logger options of c.
func (c *Config) Logger() logger.Options {
	return logger.Options{Level: c.LogLevel, Format: c.LogFormat, File: c.LogFile}
}

// MaskToken hides t for display. Only tokens longer than eight characters
// keep their last four.
func MaskToken(t string) string {
	switch {
	case t == "":
		return ""
	case len(t) <= 8:
		return "********"
	default:
		return "********" + t[len(t)-4:]
	}
}

func configError(err error) error {
	if errors.Is(err, assetfetch.ErrConfiguration) {
		return err
	}
	return fmt.Errorf("%w: %v", assetfetch.ErrConfiguration, err)
}
