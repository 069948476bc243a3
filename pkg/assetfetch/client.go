// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package assetfetch

import (
	"context"
	"net/http"
	"time"
)

// userAgent is sent with every request.
const userAgent = "assetfetch/1"

// buildHTTPClient creates an HTTP client tuned for a few very large transfers.
// There is no client-wide timeout: attempts are bounded by their context.
func buildHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Weights are already compressed; keep Content-Length meaningful.
		DisableCompression: true,
	}
	return &http.Client{Transport: tr}
}

// newRequest builds a request carrying the user agent and, when requiresAuth
// is set, the bearer token.
func newRequest(ctx context.Context, method, url string, requiresAuth bool, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if requiresAuth && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}
