// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/bodaay/assetfetch/pkg/assetfetch"
)

// isolate points HOME at an empty directory and clears the token/set
// variables so the developer's environment does not leak into tests.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{"MODEL_TYPE", "HUGGINGFACE_ACCESS_TOKEN", "HF_TOKEN", "ASSETFETCH_TOKEN", "ASSETFETCH_SET", "ASSETFETCH_MODELS_DIR"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	c, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if c.ModelsDir != def.ModelsDir || c.MaxAttempts != 3 || c.RetryDelay != "5s" {
		t.Errorf("Expected defaults, got %+v", c)
	}
	if c.File != "" {
		t.Errorf("Expected no config file, got %s", c.File)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	isolate(t)
	path := writeFile(t, "assetfetch.yaml", "models-dir: /workspace/models\nmax-attempts: 5\nretry-delay: 1s\n")

	c, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.ModelsDir != "/workspace/models" || c.MaxAttempts != 5 || c.RetryDelay != "1s" {
		t.Errorf("File values not applied: %+v", c)
	}
	if c.AttemptTimeout != "2h" {
		t.Errorf("Unset keys should keep defaults, got %s", c.AttemptTimeout)
	}
}

func TestLoad_DiscoversJSONInHome(t *testing.T) {
	isolate(t)
	home := os.Getenv("HOME")
	if err := os.MkdirAll(filepath.Join(home, ".config"), 0o755); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(home, ".config", "assetfetch.json")
	if err := os.WriteFile(p, []byte(`{"catalog": "/etc/assetfetch/sets.yaml"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.File != p || c.Catalog != "/etc/assetfetch/sets.yaml" {
		t.Errorf("Expected discovered file %s, got %+v", p, c)
	}
}

func TestLoad_Precedence(t *testing.T) {
	isolate(t)
	path := writeFile(t, "assetfetch.json", `{"models-dir": "/from/file", "retry-delay": "2s", "max-attempts": 4}`)
	t.Setenv("ASSETFETCH_MODELS_DIR", "/from/env")
	t.Setenv("ASSETFETCH_RETRY_DELAY", "3s")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("models-dir", "/flag/default", "")
	flags.String("retry-delay", "", "")
	flags.Int("max-attempts", 3, "")
	if err := flags.Parse([]string{"--models-dir", "/from/flag"}); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path, flags)
	if err != nil {
		t.Fatal(err)
	}
	if c.ModelsDir != "/from/flag" {
		t.Errorf("Changed flag should win, got %s", c.ModelsDir)
	}
	if c.RetryDelay != "3s" {
		t.Errorf("Env should beat file, got %s", c.RetryDelay)
	}
	if c.MaxAttempts != 4 {
		t.Errorf("File should beat unchanged flag default, got %d", c.MaxAttempts)
	}
}

func TestLoad_ContainerEnv(t *testing.T) {
	isolate(t)
	t.Setenv("MODEL_TYPE", " flux1-dev ")
	t.Setenv("HF_TOKEN", "hf_fallback")
	t.Setenv("HUGGINGFACE_ACCESS_TOKEN", "hf_primary")

	c, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Set != "flux1-dev" {
		t.Errorf("Expected set from MODEL_TYPE, got %q", c.Set)
	}
	if c.Token != "hf_primary" {
		t.Errorf("HUGGINGFACE_ACCESS_TOKEN should take precedence, got %q", c.Token)
	}
}

func TestLoad_Invalid(t *testing.T) {
	isolate(t)
	tests := []struct {
		name string
		body string
	}{
		{"bad duration", `{"retry-delay": "soon"}`},
		{"zero attempts", `{"max-attempts": 0}`},
		{"bad level", `{"log-level": "chatty"}`},
		{"bad format", `{"log-format": "xml"}`},
		{"malformed", `{"models-dir": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.json", tt.body), nil)
			if !errors.Is(err, assetfetch.ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestConfig_Settings(t *testing.T) {
	c := Default()
	c.Catalog = "/sets.yaml"
	s := c.Settings()
	if s.CatalogFile != "/sets.yaml" || s.MaxAttempts != 3 || s.ProgressInterval != "10s" {
		t.Errorf("Unexpected settings: %+v", s)
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"", ""},
		{"abcd", "********"},
		{"hf_12345", "********"},
		{"hf_123456", "********3456"},
		{"hf_abcdefghijklmnop", "********mnop"},
	}

	for _, tt := range tests {
		if got := MaskToken(tt.token); got != tt.want {
			t.Errorf("MaskToken(%q): expected %q, got %q", tt.token, tt.want, got)
		}
	}
}
