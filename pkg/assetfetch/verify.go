// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package assetfetch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const (
	// MinPlausibleSize is the floor used when the server did not disclose a
	// length. Every real asset is far larger, but this only rejects empty or
	// error-page downloads; it cannot detect truncation.
	MinPlausibleSize = 1 << 20

	// tolerancePercent is the accepted size difference against a known hint.
	tolerancePercent = 1
)

// ReasonAbsent is the verdict reason for a path that does not exist.
const ReasonAbsent = "absent"

// Inspect decides whether path already holds a complete copy of a resource
// whose remote size is hint. It only reads; deleting an invalid file is the
// caller's decision.
//
// With a known hint the file is valid when its size is within 1% of the hint.
// Without one, the file is valid when it is larger than MinPlausibleSize, a
// deliberately weak check.
func Inspect(path string, hint RemoteSizeHint) ValidationVerdict {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ValidationVerdict{Reason: ReasonAbsent}
		}
		return ValidationVerdict{Reason: fmt.Sprintf("stat: %v", err)}
	}
	if !fi.Mode().IsRegular() {
		return ValidationVerdict{Reason: "not a regular file"}
	}
	return compareSize(uint64(fi.Size()), hint)
}

func compareSize(actual uint64, hint RemoteSizeHint) ValidationVerdict {
	if !hint.Known {
		if actual > MinPlausibleSize {
			return ValidationVerdict{Valid: true, Reason: fmt.Sprintf("size %d above %d byte floor (no remote size)", actual, MinPlausibleSize)}
		}
		return ValidationVerdict{Reason: fmt.Sprintf("size %d not above %d byte floor (no remote size)", actual, MinPlausibleSize)}
	}

	var diff uint64
	if actual > hint.Bytes {
		diff = actual - hint.Bytes
	} else {
		diff = hint.Bytes - actual
	}
	// Divide the hint rather than multiply diff; hints can reach MaxInt64.
	if diff <= hint.Bytes/(100/tolerancePercent) {
		return ValidationVerdict{Valid: true, Reason: fmt.Sprintf("size %d within %d%% of %d", actual, tolerancePercent, hint.Bytes)}
	}
	return ValidationVerdict{Reason: fmt.Sprintf("size %d differs from %d by %d bytes", actual, hint.Bytes, diff)}
}

// removeIfPresent deletes path, treating an already missing file as success.
func removeIfPresent(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
