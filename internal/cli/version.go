// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// BuildInfo holds version and build information.
type BuildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go"`
	Platform  string `json:"platform"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	Modified  bool   `json:"modified,omitempty"`
}

// GetBuildInfo returns the current build information.
func GetBuildInfo(version string) BuildInfo {
	info := BuildInfo{
		Version:   version,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value[:min(7, len(s.Value))]
		case "vcs.time":
			info.BuildTime = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func newVersionCmd(version string) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := GetBuildInfo(version)
			out := cmd.OutOrStdout()

			if short {
				fmt.Fprintln(out, info.Version)
				return nil
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return json.NewEncoder(out).Encode(info)
			}

			commit := info.Commit
			if info.Modified {
				commit += " (modified)"
			}
			fmt.Fprintf(out, "assetfetch %s\n", info.Version)
			fmt.Fprintf(out, "  Go:       %s\n", info.GoVersion)
			fmt.Fprintf(out, "  OS/Arch:  %s\n", info.Platform)
			fmt.Fprintf(out, "  Commit:   %s\n", commit)
			fmt.Fprintf(out, "  Built:    %s\n", info.BuildTime)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")

	return cmd
}
