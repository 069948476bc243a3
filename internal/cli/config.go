// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bodaay/assetfetch/internal/config"
)

func newConfigCmd(ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(ro))
	cmd.AddCommand(newConfigPathCmd(ro))

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		useYAML bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Creates a default configuration file at ~/.config/assetfetch.json (or .yaml)

The configuration file sets default values for all command flags.
Environment variables (ASSETFETCH_*) override the file, and CLI flags
override both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := config.DefaultPath(useYAML)

			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
			}
			if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
				return fmt.Errorf("could not create config directory: %w", err)
			}

			cfg := config.Default()
			var (
				data []byte
				err  error
			)
			if useYAML {
				data, err = yaml.Marshal(cfg)
			} else {
				data, err = json.MarshalIndent(cfg, "", "  ")
			}
			if err != nil {
				return err
			}
			if err := os.WriteFile(configPath, data, 0o600); err != nil {
				return fmt.Errorf("could not write config file: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created config file: %s\n\n", configPath)
			fmt.Fprintln(out, "Edit this file to set your defaults. For example:")
			fmt.Fprintln(out, "  - Set your Hugging Face token for gated sets")
			fmt.Fprintln(out, "  - Point models-dir at your ComfyUI models directory")
			fmt.Fprintln(out, "  - Add your own sets with a catalog file")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")
	cmd.Flags().BoolVar(&useYAML, "yaml", false, "Create YAML config instead of JSON")

	return cmd
}

func newConfigShowCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(ro.Config, nil)
			if err != nil {
				return err
			}
			cfg.Token = config.MaskToken(cfg.Token)

			out := cmd.OutOrStdout()
			if cfg.File == "" {
				fmt.Fprintf(out, "# no config file; run 'assetfetch config init' to create %s\n", config.DefaultPath(false))
			} else {
				fmt.Fprintf(out, "# config file: %s\n", cfg.File)
			}
			if ro.JSONOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			enc := yaml.NewEncoder(out)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func newConfigPathCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			p := ro.Config
			if p == "" {
				p = config.Discover()
			}
			if p == "" {
				p = config.DefaultPath(false)
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
		},
	}
}
