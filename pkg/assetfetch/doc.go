// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package assetfetch materializes large model weight files onto a local or
network-mounted filesystem before a dependent process starts.

Files are grouped into named asset sets. Fetching a set walks its descriptors
in order and, for each one, checks whether the file already on disk is valid
before transferring anything. Every transfer is validated afterwards; an
invalid result is deleted and retried a bounded number of times.

# Quick Start

	err := assetfetch.Fetch(ctx, "flux1-dev", os.Getenv("HUGGINGFACE_ACCESS_TOKEN"),
		assetfetch.DefaultSettings(),
		func(e assetfetch.ProgressEvent) {
			fmt.Printf("[%s] %s %s\n", e.Event, e.Path, e.Message)
		})
	switch {
	case errors.Is(err, assetfetch.ErrConfiguration):
		// unknown set name
	case errors.Is(err, assetfetch.ErrAuthRequired):
		// a protected file needs a token
	case errors.Is(err, assetfetch.ErrExhaustedRetries):
		// a file could not be downloaded and validated
	}

# Validation

A file is valid when its size is within 1% of the Content-Length reported by a
HEAD request. When the server does not report a length the only check is that
the file is larger than 1 MiB. That fallback catches empty files and error
pages but not truncation, so servers that omit Content-Length get weak
guarantees.

# Retries

Each descriptor gets Settings.MaxAttempts transfers (3 by default) with a
fixed Settings.RetryDelay pause (5s) between them. Each attempt is capped at
Settings.AttemptTimeout (2h). A transfer always restarts from byte zero;
partial files are deleted on every failure so the next run starts clean.

# Idempotence

There is no state besides the filesystem. Running the same set twice performs
size probes only on the second run.

# Custom Catalogs

Extra sets can be loaded from YAML with Settings.CatalogFile:

	sets:
	  my-lora:
	    - path: loras/my-lora.safetensors
	      url: https://huggingface.co/me/my-lora/resolve/main/my-lora.safetensors
	      auth: true

Relative paths are placed under Settings.ModelsDir.
*/
package assetfetch
