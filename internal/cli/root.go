// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/bodaay/assetfetch/internal/config"
	"github.com/bodaay/assetfetch/internal/logger"
	"github.com/bodaay/assetfetch/internal/metrics"
	"github.com/bodaay/assetfetch/internal/tui"
	"github.com/bodaay/assetfetch/pkg/assetfetch"
)

// Exit codes returned by ExitCode.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConfiguration = 2
	ExitAuthRequired  = 3
	ExitExhausted     = 4
)

// RootOpts holds global CLI options.
type RootOpts struct {
	Token     string
	JSONOut   bool
	Quiet     bool
	Verbose   bool
	Config    string
	LogFile   string
	LogLevel  string
	LogFormat string
}

// fetchOpts holds flags that are not config keys.
type fetchOpts struct {
	dryRun bool
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := newRootCmd(version)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// ExitCode maps an error returned by Execute to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, assetfetch.ErrConfiguration):
		return ExitConfiguration
	case errors.Is(err, assetfetch.ErrAuthRequired):
		return ExitAuthRequired
	case errors.Is(err, assetfetch.ErrExhaustedRetries):
		return ExitExhausted
	default:
		return ExitFailure
	}
}

func newRootCmd(version string) *cobra.Command {
	ro := &RootOpts{}
	fo := &fetchOpts{}

	root := &cobra.Command{
		Use:   "assetfetch [SET]",
		Short: "Fetch and validate the model files of a named asset set",
		Long: `Fetch every file of a named asset set into its fixed location under the
models directory. Files already present with the expected size are skipped,
failed transfers are retried, and a partial file is never left behind.

The set may be given as an argument, with --set, or through MODEL_TYPE.
Gated sets need a Hugging Face token (--token, HUGGINGFACE_ACCESS_TOKEN or HF_TOKEN).`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	// Global flags
	pf := root.PersistentFlags()
	pf.StringVarP(&ro.Token, "token", "t", "", "Hugging Face access token (also reads HUGGINGFACE_ACCESS_TOKEN, HF_TOKEN)")
	pf.BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events (progress, plan, results)")
	pf.BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (final summary only)")
	pf.BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose logs (debug details)")
	pf.StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")
	pf.StringVar(&ro.LogFile, "log-file", "", "Write logs to file (in addition to stderr)")
	pf.StringVar(&ro.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&ro.LogFormat, "log-format", "console", "Log format: console or json")

	fetchCmd := newFetchCmd(ro)
	root.AddCommand(fetchCmd)
	root.AddCommand(newPlanCmd(ro))
	root.AddCommand(newSetsCmd(ro))
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newServeCmd(ro))
	root.AddCommand(newConfigCmd(ro))

	// fetch is the default command when no subcommand is given
	addFetchFlags(root.Flags(), fo)
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return runFetch(cmd, ro, fo, args)
	}
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})
	return root
}

func newFetchCmd(ro *RootOpts) *cobra.Command {
	fo := &fetchOpts{}
	cmd := &cobra.Command{
		Use:   "fetch [SET]",
		Short: "Download every missing or invalid file of an asset set",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, ro, fo, args)
		},
	}
	addFetchFlags(cmd.Flags(), fo)
	return cmd
}

func newPlanCmd(ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [SET]",
		Short: "Show what a fetch would download without writing anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, ro, args)
			if err != nil {
				return err
			}
			defer log.Sync()
			return runPlan(cmd, ro, cfg, log)
		},
	}
	addSettingsFlags(cmd.Flags())
	cmd.Flags().String("set", "", "Asset set name (also reads MODEL_TYPE)")
	return cmd
}

func newSetsCmd(ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sets",
		Short: "List the known asset sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, ro, nil)
			if err != nil {
				return err
			}
			defer log.Sync()

			f, err := assetfetch.New(cfg.Settings(), assetfetch.WithLogger(log))
			if err != nil {
				return err
			}
			return printSets(cmd.OutOrStdout(), f.Catalog(), ro.JSONOut)
		},
	}
	cmd.Flags().String("models-dir", config.Default().ModelsDir, "Root directory the catalog resolves destinations under")
	cmd.Flags().String("catalog", "", "YAML catalog file merged over the built-in sets")
	return cmd
}

// addSettingsFlags registers flags that map onto config keys.
func addSettingsFlags(fs *pflag.FlagSet) {
	def := config.Default()
	fs.String("models-dir", def.ModelsDir, "Root directory the catalog resolves destinations under")
	fs.String("catalog", "", "YAML catalog file merged over the built-in sets")
	fs.Int("max-attempts", def.MaxAttempts, "Transfer attempts per file before giving up")
	fs.String("retry-delay", def.RetryDelay, "Fixed delay between attempts")
	fs.String("attempt-timeout", def.AttemptTimeout, "Wall-clock limit of one transfer attempt")
	fs.String("probe-timeout", def.ProbeTimeout, "Timeout of the remote size probe")
	fs.String("progress-interval", def.ProgressInterval, "How often transfer progress is reported")
}

func addFetchFlags(fs *pflag.FlagSet, fo *fetchOpts) {
	addSettingsFlags(fs)
	fs.String("set", "", "Asset set name (also reads MODEL_TYPE)")
	fs.String("metrics-textfile", "", "Write Prometheus metrics of the run to this file")
	fs.BoolVar(&fo.dryRun, "dry-run", false, "Plan only: print what would be downloaded and exit")
}

// setup loads the merged configuration and builds the logger.
func setup(cmd *cobra.Command, ro *RootOpts, args []string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(ro.Config, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if len(args) > 0 {
		cfg.Set = strings.TrimSpace(args[0])
	}
	if ro.Verbose {
		cfg.LogLevel = "debug"
	} else if ro.Quiet && !cmd.Flags().Changed("log-level") {
		cfg.LogLevel = "warn"
	}

	log, err := logger.New(cfg.Logger())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", assetfetch.ErrConfiguration, err)
	}
	if cfg.File != "" {
		log.Debug("loaded config file", zap.String("path", cfg.File))
	}
	return cfg, log, nil
}

func runFetch(cmd *cobra.Command, ro *RootOpts, fo *fetchOpts, args []string) error {
	cfg, log, err := setup(cmd, ro, args)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Set == "" {
		return fmt.Errorf("%w: missing asset set name; pass it as an argument, with --set or MODEL_TYPE",
			assetfetch.ErrConfiguration)
	}
	if fo.dryRun {
		return runPlan(cmd, ro, cfg, log)
	}

	out := cmd.OutOrStdout()
	var progress assetfetch.ProgressFunc
	switch {
	case ro.JSONOut:
		progress = jsonProgress(out)
	case ro.Quiet:
		progress = quietProgress(out)
	default:
		ui := tui.New(out)
		defer ui.Close()
		progress = ui.Handler()
	}

	rec := metrics.NewRecorder()
	progress = rec.Wrap(progress)

	f, err := assetfetch.New(cfg.Settings(),
		assetfetch.WithLogger(log),
		assetfetch.WithProgress(progress),
	)
	if err != nil {
		return err
	}

	err = f.FetchSet(cmd.Context(), cfg.Set, cfg.Token)

	if cfg.MetricsTextfile != "" {
		if werr := rec.WriteTextfile(cfg.MetricsTextfile); werr != nil {
			log.Warn("failed to write metrics textfile", zap.String("path", cfg.MetricsTextfile), zap.Error(werr))
		}
	}
	return err
}

func runPlan(cmd *cobra.Command, ro *RootOpts, cfg *config.Config, log *zap.Logger) error {
	if cfg.Set == "" {
		return fmt.Errorf("%w: missing asset set name; pass it as an argument, with --set or MODEL_TYPE",
			assetfetch.ErrConfiguration)
	}
	f, err := assetfetch.New(cfg.Settings(), assetfetch.WithLogger(log))
	if err != nil {
		return err
	}
	p, err := f.PlanSet(cmd.Context(), cfg.Set, cfg.Token)
	if err != nil {
		return err
	}
	return printPlan(cmd.OutOrStdout(), p, ro.JSONOut)
}

func printPlan(w io.Writer, p *assetfetch.Plan, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}

	var total uint64
	for _, it := range p.Items {
		if it.Download && it.Remote.Known {
			total += it.Remote.Bytes
		}
	}
	fmt.Fprintf(w, "Plan for %s (%d files, %d to download, %s):\n",
		p.Set, len(p.Items), p.Pending(), humanize.Bytes(total))
	for _, it := range p.Items {
		action := "ok"
		switch {
		case it.Blocked:
			action = "blocked"
		case it.Download:
			action = "fetch"
		}
		size := "unknown"
		if it.Remote.Known {
			size = humanize.Bytes(it.Remote.Bytes)
		}
		fmt.Fprintf(w, "  %-8s %10s  %s  (%s)\n", action, size, it.DestinationPath, it.Reason)
	}
	return nil
}

type setInfo struct {
	Name         string `json:"name"`
	Files        int    `json:"files"`
	RequiresAuth bool   `json:"requiresAuth"`
}

func printSets(w io.Writer, cat assetfetch.Catalog, asJSON bool) error {
	infos := make([]setInfo, 0, len(cat))
	for _, name := range cat.Names() {
		s := cat[name]
		infos = append(infos, setInfo{Name: name, Files: len(s.Descriptors), RequiresAuth: s.RequiresAuth()})
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	fmt.Fprintf(w, "%-16s %5s  %s\n", "SET", "FILES", "TOKEN")
	for _, s := range infos {
		auth := "-"
		if s.RequiresAuth {
			auth = "required"
		}
		fmt.Fprintf(w, "%-16s %5d  %s\n", s.Name, s.Files, auth)
	}
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}

// quietProgress prints the final summary only. Errors reach the user
// through Execute.
func quietProgress(out io.Writer) assetfetch.ProgressFunc {
	var mu sync.Mutex
	return func(ev assetfetch.ProgressEvent) {
		if ev.Event != "done" {
			return
		}
		mu.Lock()
		fmt.Fprintln(out, ev.Message)
		mu.Unlock()
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) assetfetch.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev assetfetch.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}
