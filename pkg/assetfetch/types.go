// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package assetfetch

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"
)

// AssetDescriptor identifies one file to fetch.
//
// Descriptors are plain values: once built they are never mutated, and a fetch
// run owns them for its whole lifetime.
//
// Example:
//
//	d := assetfetch.AssetDescriptor{
//	    DestinationPath: "/comfyui/models/vae/ae.safetensors",
//	    SourceURL:       "https://huggingface.co/black-forest-labs/FLUX.1-dev/resolve/main/ae.safetensors",
//	    RequiresAuth:    true,
//	}
type AssetDescriptor struct {
	// DestinationPath is the absolute path the file is materialized at.
	DestinationPath string `json:"path" yaml:"path"`

	// SourceURL is the HTTPS location the file is fetched from.
	SourceURL string `json:"url" yaml:"url"`

	// RequiresAuth attaches the bearer token to every request for this file.
	// A descriptor that requires auth can never be fetched without a token.
	RequiresAuth bool `json:"requiresAuth,omitempty" yaml:"auth,omitempty"`
}

func (d AssetDescriptor) String() string {
	return fmt.Sprintf("%s <- %s", d.DestinationPath, d.SourceURL)
}

// AssetSet is a named, ordered group of files that must all be present and
// valid before a dependent workload can run.
type AssetSet struct {
	Name        string            `json:"name"`
	Descriptors []AssetDescriptor `json:"descriptors"`
}

// Validate checks the static invariants of a set: at least one descriptor,
// absolute and unique destination paths, and http(s) source URLs.
func (s AssetSet) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("asset set has no name")
	}
	if len(s.Descriptors) == 0 {
		return fmt.Errorf("asset set %q has no descriptors", s.Name)
	}
	seen := make(map[string]int, len(s.Descriptors))
	for i, d := range s.Descriptors {
		if !filepath.IsAbs(d.DestinationPath) {
			return fmt.Errorf("asset set %q: descriptor %d: destination %q is not absolute", s.Name, i, d.DestinationPath)
		}
		clean := filepath.Clean(d.DestinationPath)
		if j, ok := seen[clean]; ok {
			return fmt.Errorf("asset set %q: descriptors %d and %d share destination %q", s.Name, j, i, clean)
		}
		seen[clean] = i

		u, err := url.Parse(d.SourceURL)
		if err != nil {
			return fmt.Errorf("asset set %q: descriptor %d: %w", s.Name, i, err)
		}
		if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return fmt.Errorf("asset set %q: descriptor %d: source %q is not an http(s) URL", s.Name, i, d.SourceURL)
		}
	}
	return nil
}

// RequiresAuth reports whether any descriptor in the set needs a token.
func (s AssetSet) RequiresAuth() bool {
	for _, d := range s.Descriptors {
		if d.RequiresAuth {
			return true
		}
	}
	return false
}

// RemoteSizeHint is the server-declared length of a resource.
// Known is false when the server did not disclose a usable length.
type RemoteSizeHint struct {
	Bytes uint64 `json:"bytes,omitempty"`
	Known bool   `json:"known"`
}

// UnknownSize is the hint used when no length could be obtained.
var UnknownSize = RemoteSizeHint{}

// SizeHint returns a known hint of n bytes.
func SizeHint(n uint64) RemoteSizeHint {
	return RemoteSizeHint{Bytes: n, Known: true}
}

func (h RemoteSizeHint) String() string {
	if !h.Known {
		return "unknown"
	}
	return fmt.Sprintf("%d bytes", h.Bytes)
}

// TransferOutcome is the result of one Transfer Engine attempt.
type TransferOutcome struct {
	Success      bool
	BytesWritten uint64
	// Kind is set when Success is false.
	Kind ErrorKind
	// Err carries the underlying cause when Success is false.
	Err error
}

// ValidationVerdict is the result of inspecting a local file.
type ValidationVerdict struct {
	Valid  bool
	Reason string
}

// Settings configures a fetch run.
//
// Duration fields accept Go duration strings ("5s", "2h"). Zero values fall
// back to DefaultSettings.
//
//	cfg := assetfetch.DefaultSettings()
//	cfg.ModelsDir = "/workspace/models"
type Settings struct {
	// ModelsDir is the root the reference catalog resolves destinations under.
	// If empty, defaults to "/comfyui/models".
	ModelsDir string

	// CatalogFile is an optional YAML file with extra or overriding asset sets.
	CatalogFile string

	// MaxAttempts is the number of transfer attempts per descriptor.
	// If <= 0, defaults to 3.
	MaxAttempts int

	// RetryDelay is the fixed pause between attempts. If empty, defaults to "5s".
	RetryDelay string

	// AttemptTimeout is the wall-clock ceiling of a single transfer attempt.
	// If empty, defaults to "2h".
	AttemptTimeout string

	// ProbeTimeout bounds each size probe. If empty, defaults to "30s".
	ProbeTimeout string

	// ProgressInterval is how often in-flight byte counts are reported.
	// If empty, defaults to "10s".
	ProgressInterval string
}

// DefaultSettings returns Settings with every field at its default.
func DefaultSettings() Settings {
	return Settings{
		ModelsDir:        DefaultModelsDir,
		MaxAttempts:      3,
		RetryDelay:       "5s",
		AttemptTimeout:   "2h",
		ProbeTimeout:     "30s",
		ProgressInterval: "10s",
	}
}

// ProgressEvent represents a progress update during a fetch run.
//
// The Event field is one of:
//   - "set_start": an asset set is about to be processed
//   - "probe": the size oracle answered for a descriptor
//   - "file_skip": the local copy is already valid, no transfer happens
//   - "file_start": a transfer attempt has started
//   - "file_progress": periodic byte count of the running attempt
//   - "attempt_failed": an attempt failed (transfer or validation)
//   - "retry": a new attempt begins after a failed one
//   - "file_done": a descriptor was downloaded and validated
//   - "error": the set failed
//   - "done": every descriptor of the set is valid
type ProgressEvent struct {
	Time       time.Time `json:"time"`
	Level      string    `json:"level,omitempty"`
	Event      string    `json:"event"`
	Set        string    `json:"set,omitempty"`
	Index      int       `json:"index"`
	Count      int       `json:"count,omitempty"`
	Path       string    `json:"path,omitempty"`
	URL        string    `json:"url,omitempty"`
	Total      int64     `json:"total,omitempty"`
	Downloaded int64     `json:"downloaded,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Kind       ErrorKind `json:"kind,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// ProgressFunc receives progress events. It may be called from the transfer
// monitor goroutine and must be safe for concurrent use.
type ProgressFunc func(ProgressEvent)
