// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package assetfetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPTransferEngine_Transfer(t *testing.T) {
	payload := bytes.Repeat([]byte("weights!"), 64*1024) // 512 KiB
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		http.ServeContent(w, r, "model.safetensors", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "nested", "dir", "model.safetensors")
	// Stale bytes must be replaced, not appended to.
	mustWriteSized(t, dst, int64(len(payload))*2)

	var mu sync.Mutex
	var reports []uint64
	engine := NewHTTPTransferEngine(srv.Client(), time.Minute, time.Millisecond)
	out := engine.Transfer(context.Background(), srv.URL+"/model", dst, true, "tok", func(n uint64) {
		mu.Lock()
		reports = append(reports, n)
		mu.Unlock()
	})

	if !out.Success {
		t.Fatalf("Expected success, got %s: %v", out.Kind, out.Err)
	}
	if out.BytesWritten != uint64(len(payload)) {
		t.Errorf("Expected %d bytes, got %d", len(payload), out.BytesWritten)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Destination content mismatch: %d bytes on disk", len(got))
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Expected bearer header, got %q", gotAuth)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reports) == 0 {
		t.Fatal("Expected at least one progress report")
	}
	if last := reports[len(reports)-1]; last != uint64(len(payload)) {
		t.Errorf("Expected final report %d, got %d", len(payload), last)
	}
}

func TestHTTPTransferEngine_AuthRequiredSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "gated.safetensors")
	out := NewHTTPTransferEngine(srv.Client(), time.Minute, time.Second).
		Transfer(context.Background(), srv.URL, dst, true, "", nil)

	if out.Success || out.Kind != KindAuthRequired {
		t.Errorf("Expected %s, got success=%t kind=%s", KindAuthRequired, out.Success, out.Kind)
	}
	if hits.Load() != 0 {
		t.Errorf("Expected no network calls, got %d", hits.Load())
	}
	if exists(dst) {
		t.Error("No file should be created")
	}
}

func TestHTTPTransferEngine_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	out := NewHTTPTransferEngine(srv.Client(), time.Minute, time.Second).
		Transfer(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x"), false, "", nil)
	if out.Success || out.Kind != KindTransferFailed {
		t.Errorf("Expected %s, got success=%t kind=%s", KindTransferFailed, out.Success, out.Kind)
	}
}

func TestHTTPTransferEngine_TruncatedBodyLeavesPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 1024))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "partial.safetensors")
	out := NewHTTPTransferEngine(srv.Client(), time.Minute, time.Second).
		Transfer(context.Background(), srv.URL, dst, false, "", nil)

	if out.Success || out.Kind != KindTransferFailed {
		t.Fatalf("Expected %s, got success=%t kind=%s", KindTransferFailed, out.Success, out.Kind)
	}
	if out.BytesWritten != 1024 {
		t.Errorf("Expected 1024 partial bytes, got %d", out.BytesWritten)
	}
	if !exists(dst) {
		t.Error("Engine should leave the partial file for the caller")
	}
}

func TestHTTPTransferEngine_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	out := NewHTTPTransferEngine(srv.Client(), 50*time.Millisecond, time.Second).
		Transfer(context.Background(), srv.URL, filepath.Join(t.TempDir(), "slow"), false, "", nil)
	if out.Success || out.Kind != KindTimeout {
		t.Errorf("Expected %s, got success=%t kind=%s (%v)", KindTimeout, out.Success, out.Kind, out.Err)
	}
}

func TestHTTPTransferEngine_ProgressOnlyAtIntervalAndEnd(t *testing.T) {
	const chunks, chunkSize = 16, 8 * 1024
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunk := bytes.Repeat([]byte("x"), chunkSize)
		for i := 0; i < chunks; i++ {
			w.Write(chunk)
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	var mu sync.Mutex
	var reports []uint64
	engine := NewHTTPTransferEngine(srv.Client(), time.Minute, time.Hour)
	out := engine.Transfer(context.Background(), srv.URL, filepath.Join(t.TempDir(), "chunked.bin"), false, "", func(n uint64) {
		mu.Lock()
		reports = append(reports, n)
		mu.Unlock()
	})

	if !out.Success {
		t.Fatalf("Expected success, got %s: %v", out.Kind, out.Err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reports) != 1 {
		t.Fatalf("Expected exactly one report with an hour-long interval, got %d: %v", len(reports), reports)
	}
	if reports[0] != chunks*chunkSize {
		t.Errorf("Expected final report %d, got %d", chunks*chunkSize, reports[0])
	}
}

func TestHTTPTransferEngine_TimeoutMidStreamKeepsPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 4096))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "stalled.safetensors")
	out := NewHTTPTransferEngine(srv.Client(), 200*time.Millisecond, time.Hour).
		Transfer(context.Background(), srv.URL, dst, false, "", nil)

	if out.Success || out.Kind != KindTimeout {
		t.Fatalf("Expected %s, got success=%t kind=%s (%v)", KindTimeout, out.Success, out.Kind, out.Err)
	}
	if out.BytesWritten != 4096 {
		t.Errorf("Expected 4096 partial bytes, got %d", out.BytesWritten)
	}
	fi, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("Engine should leave the partial file for the caller: %v", err)
	}
	if fi.Size() != 4096 {
		t.Errorf("Expected 4096 bytes on disk, got %d", fi.Size())
	}
}
