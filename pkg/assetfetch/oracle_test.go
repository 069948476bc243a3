// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package assetfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPSizeOracle_Probe(t *testing.T) {
	var gotMethod, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/sized":
			w.Header().Set("Content-Length", "6938078334")
			w.WriteHeader(http.StatusOK)
		case "/zero":
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusOK)
		case "/forbidden":
			w.Header().Set("Content-Length", "42")
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	oracle := NewHTTPSizeOracle(srv.Client(), time.Second)
	ctx := context.Background()

	t.Run("reports content length", func(t *testing.T) {
		h := oracle.Probe(ctx, srv.URL+"/sized", false, "secret")
		if !h.Known || h.Bytes != 6938078334 {
			t.Errorf("Expected 6938078334 bytes, got %s", h)
		}
		if gotMethod != http.MethodHead {
			t.Errorf("Expected HEAD, got %s", gotMethod)
		}
		if gotAuth != "" {
			t.Errorf("Token must not be sent when auth is not required, got %q", gotAuth)
		}
	})

	t.Run("sends bearer token when required", func(t *testing.T) {
		oracle.Probe(ctx, srv.URL+"/sized", true, "secret")
		if gotAuth != "Bearer secret" {
			t.Errorf("Expected bearer header, got %q", gotAuth)
		}
	})

	t.Run("non-positive length is unknown", func(t *testing.T) {
		if h := oracle.Probe(ctx, srv.URL+"/zero", false, ""); h.Known {
			t.Errorf("Expected unknown, got %s", h)
		}
	})

	t.Run("missing length is unknown", func(t *testing.T) {
		if h := oracle.Probe(ctx, srv.URL+"/none", false, ""); h.Known {
			t.Errorf("Expected unknown, got %s", h)
		}
	})

	t.Run("error status is unknown", func(t *testing.T) {
		if h := oracle.Probe(ctx, srv.URL+"/forbidden", false, ""); h.Known {
			t.Errorf("Expected unknown, got %s", h)
		}
	})
}

func TestHTTPSizeOracle_NetworkFailureDegrades(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/gone"
	srv.Close()

	h := NewHTTPSizeOracle(nil, time.Second).Probe(context.Background(), url, false, "")
	if h.Known {
		t.Errorf("Expected unknown for unreachable server, got %s", h)
	}
}
