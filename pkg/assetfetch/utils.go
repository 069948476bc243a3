// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package assetfetch

import (
	"fmt"
	"time"
)

// resolved holds Settings with defaults applied and durations parsed.
type resolved struct {
	modelsDir        string
	catalogFile      string
	maxAttempts      int
	retryDelay       time.Duration
	attemptTimeout   time.Duration
	probeTimeout     time.Duration
	progressInterval time.Duration
}

// resolve applies defaults and parses the duration fields of cfg.
func resolve(cfg Settings) (resolved, error) {
	r := resolved{
		modelsDir:   defaultString(cfg.ModelsDir, DefaultModelsDir),
		catalogFile: cfg.CatalogFile,
		maxAttempts: cfg.MaxAttempts,
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = 3
	}

	var err error
	if r.retryDelay, err = parseDuration("retry-delay", cfg.RetryDelay, "5s"); err != nil {
		return r, err
	}
	if r.attemptTimeout, err = parseDuration("attempt-timeout", cfg.AttemptTimeout, "2h"); err != nil {
		return r, err
	}
	if r.probeTimeout, err = parseDuration("probe-timeout", cfg.ProbeTimeout, "30s"); err != nil {
		return r, err
	}
	if r.progressInterval, err = parseDuration("progress-interval", cfg.ProgressInterval, "10s"); err != nil {
		return r, err
	}
	return r, nil
}

func parseDuration(name, s, def string) (time.Duration, error) {
	d, err := time.ParseDuration(defaultString(s, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %s", name, s)
	}
	return d, nil
}

// defaultString returns s if non-empty, otherwise def.
func defaultString(s string, def string) string {
	if s == "" {
		return def
	}
	return s
}
