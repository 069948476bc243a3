// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package assetfetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"
)

// fakeOracle returns fixed hints per URL and counts probes.
type fakeOracle struct {
	mu     sync.Mutex
	hints  map[string]RemoteSizeHint
	probes []string
}

func (o *fakeOracle) Probe(_ context.Context, url string, _ bool, _ string) RemoteSizeHint {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.probes = append(o.probes, url)
	return o.hints[url]
}

func (o *fakeOracle) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.probes)
}

// fakeEngine writes sizes[url] bytes to the destination, or a partial file
// and a failure when fail[url] is set.
type fakeEngine struct {
	mu    sync.Mutex
	sizes map[string]int64
	fail  map[string]ErrorKind
	clock clock.Clock
	calls []engineCall
}

type engineCall struct {
	url string
	at  time.Time
}

func (e *fakeEngine) Transfer(_ context.Context, url, dst string, requiresAuth bool, token string, onProgress func(uint64)) TransferOutcome {
	e.mu.Lock()
	call := engineCall{url: url}
	if e.clock != nil {
		call.at = e.clock.Now()
	}
	e.calls = append(e.calls, call)
	kind, failing := e.fail[url]
	size := e.sizes[url]
	e.mu.Unlock()

	if requiresAuth && token == "" {
		return TransferOutcome{Kind: KindAuthRequired, Err: ErrAuthRequired}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return TransferOutcome{Kind: KindTransferFailed, Err: err}
	}
	if failing {
		if err := writeSized(dst, 512); err != nil {
			return TransferOutcome{Kind: KindTransferFailed, Err: err}
		}
		return TransferOutcome{BytesWritten: 512, Kind: kind, Err: errors.New("connection reset")}
	}
	if err := writeSized(dst, size); err != nil {
		return TransferOutcome{Kind: KindTransferFailed, Err: err}
	}
	if onProgress != nil {
		onProgress(uint64(size))
	}
	return TransferOutcome{Success: true, BytesWritten: uint64(size)}
}

func (e *fakeEngine) callsFor(url string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c.url == url {
			n++
		}
	}
	return n
}

func (e *fakeEngine) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// writeSized creates path as a sparse file of size bytes.
func writeSized(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func mustWriteSized(t *testing.T, path string, size int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := writeSized(path, size); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// eventRecorder collects progress events.
type eventRecorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *eventRecorder) record(ev ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) named(name string) []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ProgressEvent
	for _, ev := range r.events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}
