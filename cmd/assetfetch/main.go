// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/bodaay/assetfetch/internal/cli"
)

// Version is set at build time via ldflags
var Version = "1.0.0-dev"

func main() {
	os.Exit(cli.ExitCode(cli.Execute(Version)))
}
