// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package metrics turns fetch progress events into Prometheus metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bodaay/assetfetch/pkg/assetfetch"
)

const namespace = "assetfetch"

// Recorder is a prometheus.Collector fed by assetfetch progress events.
type Recorder struct {
	files       *prometheus.CounterVec
	failures    *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	sets        *prometheus.CounterVec
	setDuration *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec

	mu      sync.Mutex
	started map[string]time.Time
}

// NewRecorder returns a new Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		files: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_total",
				Help:      "Descriptors processed, by outcome (skipped, downloaded, failed).",
			}, []string{"set", "outcome"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempt_failures_total",
				Help:      "Failed transfer attempts, by error kind.",
			}, []string{"set", "kind"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloaded_bytes_total",
				Help:      "Bytes written by validated downloads.",
			}, []string{"set"},
		),
		sets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sets_total",
				Help:      "Asset set runs, by outcome (ready, failed).",
			}, []string{"set", "outcome"},
		),
		setDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "set_duration_seconds",
				Help:      "Wall time of successful asset set runs.",
				Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
			}, []string{"set"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run of each asset set.",
			}, []string{"set"},
		),
		started: make(map[string]time.Time),
	}
}

// Describe is part of the prometheus.Collector interface.
func (r *Recorder) Describe(ch chan<- *prometheus.Desc) {
	r.files.Describe(ch)
	r.failures.Describe(ch)
	r.bytes.Describe(ch)
	r.sets.Describe(ch)
	r.setDuration.Describe(ch)
	r.lastSuccess.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (r *Recorder) Collect(ch chan<- prometheus.Metric) {
	r.files.Collect(ch)
	r.failures.Collect(ch)
	r.bytes.Collect(ch)
	r.sets.Collect(ch)
	r.setDuration.Collect(ch)
	r.lastSuccess.Collect(ch)
}

// Observe updates the metrics for one event.
func (r *Recorder) Observe(ev assetfetch.ProgressEvent) {
	switch ev.Event {
	case "set_start":
		r.mu.Lock()
		r.started[ev.Set] = ev.Time
		r.mu.Unlock()
	case "file_skip":
		r.files.WithLabelValues(ev.Set, "skipped").Inc()
	case "file_done":
		r.files.WithLabelValues(ev.Set, "downloaded").Inc()
		if ev.Downloaded > 0 {
			r.bytes.WithLabelValues(ev.Set).Add(float64(ev.Downloaded))
		}
	case "attempt_failed":
		r.failures.WithLabelValues(ev.Set, string(ev.Kind)).Inc()
	case "error":
		if ev.Set == "" {
			return
		}
		if ev.Index >= 0 {
			r.files.WithLabelValues(ev.Set, "failed").Inc()
		}
		r.sets.WithLabelValues(ev.Set, "failed").Inc()
		r.mu.Lock()
		delete(r.started, ev.Set)
		r.mu.Unlock()
	case "done":
		r.sets.WithLabelValues(ev.Set, "ready").Inc()
		r.lastSuccess.WithLabelValues(ev.Set).Set(float64(ev.Time.Unix()))
		r.mu.Lock()
		start, ok := r.started[ev.Set]
		delete(r.started, ev.Set)
		r.mu.Unlock()
		if ok && !ev.Time.Before(start) {
			r.setDuration.WithLabelValues(ev.Set).Observe(ev.Time.Sub(start).Seconds())
		}
	}
}

// Wrap returns a ProgressFunc that records ev and then passes it to next.
func (r *Recorder) Wrap(next assetfetch.ProgressFunc) assetfetch.ProgressFunc {
	return func(ev assetfetch.ProgressEvent) {
		r.Observe(ev)
		if next != nil {
			next(ev)
		}
	}
}

// Registry returns a registry holding only r, suitable for textfile export.
func (r *Recorder) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(r)
	return reg
}

// WriteTextfile writes r in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.Registry())
}
