// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package assetfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// copyBufferSize is the streaming buffer; large enough to keep syscalls low on
// multi-gigabyte bodies.
const copyBufferSize = 1 << 20

// TransferEngine performs one download attempt of a resource.
type TransferEngine interface {
	Transfer(ctx context.Context, url, dst string, requiresAuth bool, token string, onProgress func(bytes uint64)) TransferOutcome
}

// HTTPTransferEngine streams GET responses straight to the destination path.
type HTTPTransferEngine struct {
	client           *http.Client
	attemptTimeout   time.Duration
	progressInterval time.Duration
}

// NewHTTPTransferEngine returns an engine using client (a default client when
// nil). Each attempt is aborted after attemptTimeout and reports progress every
// progressInterval.
func NewHTTPTransferEngine(client *http.Client, attemptTimeout, progressInterval time.Duration) *HTTPTransferEngine {
	if client == nil {
		client = buildHTTPClient()
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 2 * time.Hour
	}
	if progressInterval <= 0 {
		progressInterval = 10 * time.Second
	}
	return &HTTPTransferEngine{
		client:           client,
		attemptTimeout:   attemptTimeout,
		progressInterval: progressInterval,
	}
}

// countingWriter counts bytes written through it.
type countingWriter struct {
	w io.Writer
	n *atomic.Uint64
}

func (cw countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n.Add(uint64(n))
	return n, err
}

// Transfer downloads url into dst from byte zero, replacing whatever dst held.
//
// A descriptor that requires auth but has no token fails with KindAuthRequired
// before any network call. Faults mid-stream leave the partial file in place
// for the caller to inspect or delete; the file handle is closed on every path.
func (e *HTTPTransferEngine) Transfer(ctx context.Context, url, dst string, requiresAuth bool, token string, onProgress func(uint64)) TransferOutcome {
	if requiresAuth && token == "" {
		return TransferOutcome{Kind: KindAuthRequired, Err: ErrAuthRequired}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return TransferOutcome{Kind: KindTransferFailed, Err: err}
	}

	req, err := newRequest(attemptCtx, http.MethodGet, url, requiresAuth, token)
	if err != nil {
		return TransferOutcome{Kind: KindTransferFailed, Err: err}
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return e.failure(ctx, attemptCtx, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TransferOutcome{Kind: KindTransferFailed, Err: fmt.Errorf("bad status: %s", resp.Status)}
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return TransferOutcome{Kind: KindTransferFailed, Err: err}
	}

	var written atomic.Uint64
	stop := e.startMonitor(&written, onProgress)

	buf := make([]byte, copyBufferSize)
	_, copyErr := io.CopyBuffer(countingWriter{w: out, n: &written}, resp.Body, buf)
	closeErr := out.Close()
	stop()

	n := written.Load()
	if onProgress != nil {
		onProgress(n)
	}
	if copyErr != nil {
		return e.failure(ctx, attemptCtx, n, copyErr)
	}
	if closeErr != nil {
		return TransferOutcome{BytesWritten: n, Kind: KindTransferFailed, Err: closeErr}
	}
	if resp.ContentLength > 0 && n != uint64(resp.ContentLength) {
		return TransferOutcome{BytesWritten: n, Kind: KindTransferFailed,
			Err: fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)}
	}
	return TransferOutcome{Success: true, BytesWritten: n}
}

// startMonitor reports the byte counter every progressInterval until the
// returned stop function is called. stop waits for the monitor to exit so no
// report races the final one.
func (e *HTTPTransferEngine) startMonitor(counter *atomic.Uint64, onProgress func(uint64)) (stop func()) {
	if onProgress == nil {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(e.progressInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				onProgress(counter.Load())
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// failure classifies err: hitting the attempt ceiling is a timeout, anything
// else (including cancellation of the parent context) is a transfer failure.
func (e *HTTPTransferEngine) failure(parent, attemptCtx context.Context, n uint64, err error) TransferOutcome {
	if parent.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return TransferOutcome{BytesWritten: n, Kind: KindTimeout,
			Err: fmt.Errorf("attempt exceeded %s: %w", e.attemptTimeout, err)}
	}
	return TransferOutcome{BytesWritten: n, Kind: KindTransferFailed, Err: err}
}
