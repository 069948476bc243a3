// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package assetfetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

// Fetcher resolves asset-set names against a catalog and drives each
// descriptor through a Controller, one at a time.
type Fetcher struct {
	catalog    Catalog
	controller *Controller
	oracle     SizeOracle
	logger     *zap.Logger
	progress   ProgressFunc
}

type options struct {
	logger   *zap.Logger
	clock    clock.Clock
	client   *http.Client
	oracle   SizeOracle
	engine   TransferEngine
	catalog  Catalog
	progress ProgressFunc
}

// Option customizes a Fetcher.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock sets the clock used for the pause between attempts.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithHTTPClient shares client between the default oracle and engine.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.client = c } }

// WithSizeOracle replaces the HTTP size oracle.
func WithSizeOracle(s SizeOracle) Option { return func(o *options) { o.oracle = s } }

// WithTransferEngine replaces the HTTP transfer engine.
func WithTransferEngine(e TransferEngine) Option { return func(o *options) { o.engine = e } }

// WithCatalog replaces the catalog built from Settings.
func WithCatalog(c Catalog) Option { return func(o *options) { o.catalog = c } }

// WithProgress sets the progress callback.
func WithProgress(p ProgressFunc) Option { return func(o *options) { o.progress = p } }

// New builds a Fetcher from cfg. The catalog is the reference catalog rooted
// at cfg.ModelsDir, merged with cfg.CatalogFile when set.
func New(cfg Settings, opts ...Option) (*Fetcher, error) {
	r, err := resolve(cfg)
	if err != nil {
		return nil, &FetchError{Kind: KindConfiguration, Index: -1, Err: fmt.Errorf("%w: %v", ErrConfiguration, err)}
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.client == nil {
		o.client = buildHTTPClient()
	}
	if o.oracle == nil {
		o.oracle = NewHTTPSizeOracle(o.client, r.probeTimeout)
	}
	if o.engine == nil {
		o.engine = NewHTTPTransferEngine(o.client, r.attemptTimeout, r.progressInterval)
	}

	cat := o.catalog
	if cat == nil {
		cat = ReferenceCatalog(r.modelsDir)
		if r.catalogFile != "" {
			extra, err := LoadCatalogFile(r.catalogFile, r.modelsDir)
			if err != nil {
				return nil, err
			}
			cat = cat.Merge(extra)
		}
	}
	if err := cat.Validate(); err != nil {
		return nil, &FetchError{Kind: KindConfiguration, Index: -1, Err: fmt.Errorf("%w: %v", ErrConfiguration, err)}
	}

	return &Fetcher{
		catalog: cat,
		controller: NewController(ControllerConfig{
			Oracle:      o.oracle,
			Engine:      o.engine,
			Clock:       o.clock,
			MaxAttempts: r.maxAttempts,
			RetryDelay:  r.retryDelay,
			Logger:      o.logger,
		}),
		oracle:   o.oracle,
		logger:   o.logger,
		progress: o.progress,
	}, nil
}

// Catalog returns the catalog the Fetcher resolves names against.
func (f *Fetcher) Catalog() Catalog {
	return f.catalog
}

// FetchSet materializes every descriptor of the named set, in declared order.
//
// An unknown name is a KindConfiguration error. If any descriptor requires a
// token and none is given, the set fails with KindAuthRequired before any
// network traffic. Otherwise the first descriptor that exhausts its retries
// stops the set: a partially populated set is unusable, so there is no
// continue-on-error mode. Files completed before the failure stay on disk.
func (f *Fetcher) FetchSet(ctx context.Context, name, token string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	set, err := f.catalog.Lookup(name)
	if err != nil {
		f.emit(ProgressEvent{Level: "error", Event: "error", Set: name, Index: -1, Kind: KindConfiguration, Message: err.Error()})
		return err
	}
	log := f.logger.With(zap.String("set", set.Name))
	count := len(set.Descriptors)

	if token == "" {
		for i, d := range set.Descriptors {
			if d.RequiresAuth {
				err := &FetchError{Kind: KindAuthRequired, Set: set.Name, Index: i, Path: d.DestinationPath, URL: d.SourceURL, Err: ErrAuthRequired}
				log.Error("token required", zap.Int("index", i), zap.String("path", d.DestinationPath))
				f.emit(ProgressEvent{Level: "error", Event: "error", Set: set.Name, Index: i, Count: count, Path: d.DestinationPath, Kind: KindAuthRequired, Message: err.Error()})
				return err
			}
		}
	}

	start := time.Now()
	log.Info("fetching asset set", zap.Int("descriptors", count))
	f.emit(ProgressEvent{Event: "set_start", Set: set.Name, Index: -1, Count: count})

	for i, d := range set.Descriptors {
		i, d := i, d
		emit := func(ev ProgressEvent) {
			ev.Set = set.Name
			ev.Index = i
			ev.Count = count
			ev.Path = d.DestinationPath
			ev.URL = d.SourceURL
			f.emit(ev)
		}
		if err := f.controller.FetchValidated(ctx, d, token, emit); err != nil {
			var fe *FetchError
			if errors.As(err, &fe) {
				fe.Set = set.Name
				fe.Index = i
			}
			log.Error("asset set failed", zap.Int("index", i), zap.String("path", d.DestinationPath), zap.Error(err))
			f.emit(ProgressEvent{Level: "error", Event: "error", Set: set.Name, Index: i, Count: count,
				Path: d.DestinationPath, URL: d.SourceURL, Kind: KindOf(err), Message: err.Error()})
			return err
		}
	}

	log.Info("asset set complete", zap.Duration("elapsed", time.Since(start)))
	f.emit(ProgressEvent{Event: "done", Set: set.Name, Index: -1, Count: count,
		Message: fmt.Sprintf("asset set %s ready (%d files)", set.Name, count)})
	return nil
}

func (f *Fetcher) emit(ev ProgressEvent) {
	if f.progress == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	f.progress(ev)
}

// Fetch builds a Fetcher from cfg and fetches the named set.
func Fetch(ctx context.Context, name, token string, cfg Settings, progress ProgressFunc, opts ...Option) error {
	f, err := New(cfg, append(append([]Option(nil), opts...), WithProgress(progress))...)
	if err != nil {
		return err
	}
	return f.FetchSet(ctx, name, token)
}
