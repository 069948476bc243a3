// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package assetfetch

import (
	"context"
	"io"
	"net/http"
	"time"
)

// SizeOracle asks the remote server for the authoritative length of a
// resource without downloading it.
//
// Size checking is advisory: implementations never fail, they degrade to
// UnknownSize.
type SizeOracle interface {
	Probe(ctx context.Context, url string, requiresAuth bool, token string) RemoteSizeHint
}

// HTTPSizeOracle probes with HEAD requests.
type HTTPSizeOracle struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPSizeOracle returns an oracle using client (a default client when nil)
// with each probe bounded by timeout.
func NewHTTPSizeOracle(client *http.Client, timeout time.Duration) *HTTPSizeOracle {
	if client == nil {
		client = buildHTTPClient()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSizeOracle{client: client, timeout: timeout}
}

// Probe issues a HEAD request and returns the declared Content-Length.
// Redirects are followed, so CDN-backed hosts report the final object size.
func (o *HTTPSizeOracle) Probe(ctx context.Context, url string, requiresAuth bool, token string) RemoteSizeHint {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := newRequest(ctx, http.MethodHead, url, requiresAuth, token)
	if err != nil {
		return UnknownSize
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return UnknownSize
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return UnknownSize
	}
	// ContentLength is -1 when the header is absent or unparsable.
	if resp.ContentLength <= 0 {
		return UnknownSize
	}
	return SizeHint(uint64(resp.ContentLength))
}
