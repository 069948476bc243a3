// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package assetfetch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies fetch failures.
type ErrorKind string

const (
	// KindConfiguration is a caller mistake such as an unknown set name. Not retried.
	KindConfiguration ErrorKind = "configuration_error"
	// KindAuthRequired means a protected descriptor has no token. Not retried.
	KindAuthRequired ErrorKind = "auth_required"
	// KindTimeout is an attempt that hit its wall-clock ceiling. Retried.
	KindTimeout ErrorKind = "timeout"
	// KindTransferFailed is a network or I/O fault during an attempt. Retried.
	KindTransferFailed ErrorKind = "transfer_failed"
	// KindValidationFailed is a downloaded file whose size does not match. Retried.
	KindValidationFailed ErrorKind = "validation_failed"
	// KindExhaustedRetries is terminal: every attempt failed.
	KindExhaustedRetries ErrorKind = "exhausted_retries"
)

// Retryable reports whether an attempt failing with k may be attempted again.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindTransferFailed, KindValidationFailed:
		return true
	default:
		return false
	}
}

// Sentinel errors matched by FetchError.Is.
var (
	// ErrConfiguration is returned for unknown asset sets and invalid catalogs.
	ErrConfiguration = errors.New("configuration error")

	// ErrAuthRequired is returned when a descriptor needs a token and none was given.
	ErrAuthRequired = errors.New("authorization token required")

	// ErrExhaustedRetries is returned when no attempt produced a valid file.
	ErrExhaustedRetries = errors.New("retries exhausted")
)

// FetchError is the terminal error of a fetch run. It identifies the
// descriptor that could not be satisfied with enough context to diagnose the
// failure without re-running.
type FetchError struct {
	Kind ErrorKind
	Set  string
	// Index is the zero-based descriptor position within the set, -1 when the
	// error is not tied to a descriptor.
	Index    int
	Path     string
	URL      string
	Attempts int
	// LastKind is the attempt-level kind of the final failed attempt.
	LastKind ErrorKind
	Err      error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Set != "" {
		fmt.Fprintf(&b, ": set %q", e.Set)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, ": descriptor %d %s (%s)", e.Index, e.Path, e.URL)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, ": %d attempts, last %s", e.Attempts, e.LastKind)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is against the package sentinels.
func (e *FetchError) Is(target error) bool {
	switch e.Kind {
	case KindConfiguration:
		return target == ErrConfiguration
	case KindAuthRequired:
		return target == ErrAuthRequired
	case KindExhaustedRetries:
		return target == ErrExhaustedRetries
	default:
		return false
	}
}

// KindOf returns the kind of a *FetchError in err's chain, or "" when err
// carries none.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// attemptError carries the kind of a failed attempt through juju/retry.
type attemptError struct {
	kind ErrorKind
	err  error
}

func (e *attemptError) Error() string {
	if e.err == nil {
		return string(e.kind)
	}
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

func (e *attemptError) Unwrap() error {
	return e.err
}
