// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package assetfetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.uber.org/zap"
)

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Oracle SizeOracle
	Engine TransferEngine

	// Clock schedules the pause between attempts. Defaults to clock.WallClock.
	Clock clock.Clock

	// MaxAttempts defaults to 3.
	MaxAttempts int

	// RetryDelay defaults to 5s.
	RetryDelay time.Duration

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Controller wraps a TransferEngine with a bounded retry policy and validates
// every result against the remote size. A transfer that merely exits without
// error is never trusted by itself.
type Controller struct {
	oracle      SizeOracle
	engine      TransferEngine
	clock       clock.Clock
	maxAttempts int
	delay       time.Duration
	logger      *zap.Logger
}

// NewController returns a Controller with defaults applied to cfg.
func NewController(cfg ControllerConfig) *Controller {
	c := &Controller{
		oracle:      cfg.Oracle,
		engine:      cfg.Engine,
		clock:       cfg.Clock,
		maxAttempts: cfg.MaxAttempts,
		delay:       cfg.RetryDelay,
		logger:      cfg.Logger,
	}
	if c.oracle == nil {
		c.oracle = NewHTTPSizeOracle(nil, 0)
	}
	if c.engine == nil {
		c.engine = NewHTTPTransferEngine(nil, 0, 0)
	}
	if c.clock == nil {
		c.clock = clock.WallClock
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 3
	}
	if c.delay <= 0 {
		c.delay = 5 * time.Second
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// FetchValidated makes sure d.DestinationPath holds a valid copy of d.SourceURL.
//
// The remote size is probed once and reused for every check of this
// descriptor. An existing valid file short-circuits before any transfer; an
// invalid one is deleted. Each failed attempt, whether the transfer failed or
// the result did not validate, deletes the file, so when every attempt fails
// nothing is left at the destination.
//
// The returned error is a *FetchError of kind KindAuthRequired or
// KindExhaustedRetries, or the context error if ctx ends first. emit may be nil.
func (c *Controller) FetchValidated(ctx context.Context, d AssetDescriptor, token string, emit func(ProgressEvent)) error {
	if emit == nil {
		emit = func(ProgressEvent) {}
	}
	log := c.logger.With(zap.String("path", d.DestinationPath), zap.String("url", d.SourceURL))

	if d.RequiresAuth && token == "" {
		return &FetchError{Kind: KindAuthRequired, Index: -1, Path: d.DestinationPath, URL: d.SourceURL, Err: ErrAuthRequired}
	}

	hint := c.oracle.Probe(ctx, d.SourceURL, d.RequiresAuth, token)
	emit(ProgressEvent{Event: "probe", Total: hintTotal(hint), Message: hint.String()})
	log.Debug("probed remote size", zap.Stringer("hint", hint))

	verdict := Inspect(d.DestinationPath, hint)
	if verdict.Valid {
		log.Info("local copy valid, skipping download", zap.String("reason", verdict.Reason))
		emit(ProgressEvent{Event: "file_skip", Total: hintTotal(hint), Message: "skip (" + verdict.Reason + ")"})
		return nil
	}
	if verdict.Reason != ReasonAbsent {
		log.Info("removing invalid local copy", zap.String("reason", verdict.Reason))
		if err := removeIfPresent(d.DestinationPath); err != nil {
			// The engine truncates on open, so a failed delete is not fatal.
			log.Warn("could not remove invalid local copy", zap.Error(err))
		}
	}

	var (
		attempts int
		lastKind ErrorKind
		written  uint64
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			if attempts > 1 {
				emit(ProgressEvent{Event: "retry", Attempt: attempts, Total: hintTotal(hint), Message: string(lastKind)})
			}
			n, kind, err := c.attempt(ctx, d, token, hint, attempts, emit)
			written = n
			if err != nil {
				lastKind = kind
				if rmErr := removeIfPresent(d.DestinationPath); rmErr != nil {
					log.Warn("could not remove failed download", zap.Error(rmErr))
				}
				return &attemptError{kind: kind, err: err}
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			var ae *attemptError
			return errors.As(err, &ae) && !ae.kind.Retryable()
		},
		NotifyFunc: func(err error, attempt int) {
			log.Warn("attempt failed", zap.Int("attempt", attempt), zap.Int("max_attempts", c.maxAttempts), zap.Error(err))
			emit(ProgressEvent{Level: "warn", Event: "attempt_failed", Attempt: attempt, Kind: lastKind, Message: err.Error()})
		},
		Attempts: c.maxAttempts,
		Delay:    c.delay,
		Clock:    c.clock,
		Stop:     ctx.Done(),
	})
	if err == nil {
		log.Info("download validated", zap.Int("attempts", attempts))
		emit(ProgressEvent{Event: "file_done", Attempt: attempts, Downloaded: int64(written), Total: hintTotal(hint)})
		return nil
	}

	// Every failure exit leaves the destination empty.
	if rmErr := removeIfPresent(d.DestinationPath); rmErr != nil {
		log.Error("could not remove failed download", zap.Error(rmErr))
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("fetch %s: %w", d.DestinationPath, ctxErr)
	}

	var ae *attemptError
	if errors.As(err, &ae) && ae.kind == KindAuthRequired {
		return &FetchError{Kind: KindAuthRequired, Index: -1, Path: d.DestinationPath, URL: d.SourceURL, Err: ErrAuthRequired}
	}
	cause := err
	if errors.As(err, &ae) {
		cause = ae
	}
	if !retry.IsAttemptsExceeded(err) {
		log.Error("unexpected retry error", zap.Error(err))
	}
	return &FetchError{
		Kind:     KindExhaustedRetries,
		Index:    -1,
		Path:     d.DestinationPath,
		URL:      d.SourceURL,
		Attempts: attempts,
		LastKind: lastKind,
		Err:      cause,
	}
}

// attempt runs one transfer and validates its result with hint.
func (c *Controller) attempt(ctx context.Context, d AssetDescriptor, token string, hint RemoteSizeHint, n int, emit func(ProgressEvent)) (uint64, ErrorKind, error) {
	total := hintTotal(hint)
	emit(ProgressEvent{Event: "file_start", Attempt: n, Total: total})

	outcome := c.engine.Transfer(ctx, d.SourceURL, d.DestinationPath, d.RequiresAuth, token, func(b uint64) {
		emit(ProgressEvent{Event: "file_progress", Attempt: n, Downloaded: int64(b), Total: total})
	})
	if !outcome.Success {
		kind := outcome.Kind
		if kind == "" {
			kind = KindTransferFailed
		}
		err := outcome.Err
		if err == nil {
			err = errors.New("transfer failed")
		}
		return outcome.BytesWritten, kind, fmt.Errorf("after %d bytes: %w", outcome.BytesWritten, err)
	}

	v := Inspect(d.DestinationPath, hint)
	if !v.Valid {
		return outcome.BytesWritten, KindValidationFailed, errors.New(v.Reason)
	}
	return outcome.BytesWritten, "", nil
}

func hintTotal(h RemoteSizeHint) int64 {
	if !h.Known {
		return 0
	}
	return int64(h.Bytes)
}
