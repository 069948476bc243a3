// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bodaay/assetfetch/internal/config"
	"github.com/bodaay/assetfetch/internal/server"
)

func newServeCmd(ro *RootOpts) *cobra.Command {
	var (
		queueSize int
		origins   []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start an HTTP server that queues asset set fetches",
		Long: `Start an HTTP server that provides:
  - REST API to queue fetches and inspect jobs
  - WebSocket for live progress updates
  - Prometheus metrics on /metrics

Jobs run one at a time in arrival order. Destinations come from the catalog
and the server's models directory; they are never taken from requests.

Example:
  assetfetch serve
  assetfetch serve --addr 0.0.0.0:8080 --models-dir /workspace/models`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, ro, nil)
			if err != nil {
				return err
			}
			defer log.Sync()

			srv, err := server.New(server.Config{
				Addr:           cfg.Addr,
				Token:          cfg.Token,
				Settings:       cfg.Settings(),
				AllowedOrigins: origins,
				QueueSize:      queueSize,
				Version:        cmd.Root().Version,
			}, log)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  assetfetch %s  serving on http://%s\n", cmd.Root().Version, cfg.Addr)
			fmt.Fprintf(out, "  models: %s\n", cfg.ModelsDir)
			if cfg.Token == "" {
				fmt.Fprintln(out, "  no token configured; gated sets will be rejected")
			}
			fmt.Fprintln(out)

			log.Info("starting server", zap.String("addr", cfg.Addr), zap.Int("queue", queueSize))
			return srv.ListenAndServe(cmd.Context())
		},
	}

	addSettingsFlags(cmd.Flags())
	cmd.Flags().String("addr", config.Default().Addr, "Address to listen on (host:port)")
	cmd.Flags().IntVar(&queueSize, "queue-size", 64, "Maximum number of queued jobs")
	cmd.Flags().StringSliceVar(&origins, "allowed-origins", nil, "CORS origins allowed to call the API (default: any)")

	return cmd
}
