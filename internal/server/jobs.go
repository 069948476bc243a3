// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bodaay/assetfetch/pkg/assetfetch"
)

// JobStatus represents the state of a fetch job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ErrQueueFull is returned by CreateJob when no more jobs can be queued.
var ErrQueueFull = errors.New("job queue is full")

// Job is one fetch of an asset set.
type Job struct {
	ID        string               `json:"id"`
	Set       string               `json:"set"`
	Status    JobStatus            `json:"status"`
	Progress  JobProgress          `json:"progress"`
	Error     string               `json:"error,omitempty"`
	ErrorKind assetfetch.ErrorKind `json:"errorKind,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
	StartedAt *time.Time           `json:"startedAt,omitempty"`
	EndedAt   *time.Time           `json:"endedAt,omitempty"`
	Files     []JobFileProgress    `json:"files"`

	cancel context.CancelFunc
}

// JobProgress holds aggregate progress info.
type JobProgress struct {
	TotalFiles      int   `json:"totalFiles"`
	CompletedFiles  int   `json:"completedFiles"`
	TotalBytes      int64 `json:"totalBytes"`
	DownloadedBytes int64 `json:"downloadedBytes"`
}

// JobFileProgress holds per-descriptor progress.
type JobFileProgress struct {
	Path       string `json:"path"`
	URL        string `json:"url"`
	TotalBytes int64  `json:"totalBytes"`
	Downloaded int64  `json:"downloaded"`
	Attempt    int    `json:"attempt,omitempty"`
	Status     string `json:"status"` // pending, active, retrying, complete, skipped, error
}

func (j *Job) terminal() bool {
	return j.Status != JobStatusQueued && j.Status != JobStatusRunning
}

// snapshot returns a copy safe to use without the manager's lock.
func (j *Job) snapshot() *Job {
	c := *j
	c.Files = append([]JobFileProgress(nil), j.Files...)
	c.cancel = nil
	return &c
}

// RunFunc fetches one asset set.
type RunFunc func(ctx context.Context, set, token string) error

// JobManager queues fetch jobs and runs them one at a time in FIFO order.
// Asset sets share destination paths, so two runs must never overlap.
type JobManager struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	order   []string
	current *Job

	queue  chan *Job
	run    RunFunc
	token  string
	logger *zap.Logger

	listeners  []chan *Job
	listenerMu sync.RWMutex
	wsHub      *WSHub
}

// NewJobManager creates a job manager with room for queueSize waiting jobs.
func NewJobManager(run RunFunc, token string, queueSize int, wsHub *WSHub, logger *zap.Logger) *JobManager {
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobManager{
		jobs:   make(map[string]*Job),
		queue:  make(chan *Job, queueSize),
		run:    run,
		token:  token,
		logger: logger,
		wsHub:  wsHub,
	}
}

var (
	randRead = rand.Read
	idSeq    atomic.Uint64
)

// generateID creates a short random ID. If the system random source fails it
// falls back to the clock plus a process-wide sequence.
func generateID() string {
	b := make([]byte, 6)
	if _, err := randRead(b); err == nil {
		return hex.EncodeToString(b)
	}
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(idSeq.Add(1), 36)
}

// CreateJob queues a fetch of set. If a job for the same set is already
// queued or running, that job is returned with existing=true.
func (m *JobManager) CreateJob(set assetfetch.AssetSet) (job *Job, existing bool, err error) {
	m.mu.Lock()
	for _, j := range m.jobs {
		if j.Set == set.Name && !j.terminal() {
			s := j.snapshot()
			m.mu.Unlock()
			return s, true, nil
		}
	}

	j := &Job{
		ID:        generateID(),
		Set:       set.Name,
		Status:    JobStatusQueued,
		CreatedAt: time.Now().UTC(),
		Progress:  JobProgress{TotalFiles: len(set.Descriptors)},
		Files:     make([]JobFileProgress, len(set.Descriptors)),
	}
	for i, d := range set.Descriptors {
		j.Files[i] = JobFileProgress{Path: d.DestinationPath, URL: d.SourceURL, Status: "pending"}
	}

	select {
	case m.queue <- j:
	default:
		m.mu.Unlock()
		return nil, false, ErrQueueFull
	}
	m.jobs[j.ID] = j
	m.order = append(m.order, j.ID)
	s := j.snapshot()
	m.mu.Unlock()

	m.logger.Info("job queued", zap.String("job", j.ID), zap.String("set", j.Set))
	m.notifyListeners(s)
	return s, false, nil
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return job.snapshot(), true
}

// ListJobs returns all jobs in creation order.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.order))
	for _, id := range m.order {
		jobs = append(jobs, m.jobs[id].snapshot())
	}
	return jobs
}

// QueueDepth returns the number of jobs waiting to run.
func (m *JobManager) QueueDepth() int {
	return len(m.queue)
}

// CancelJob cancels a running or queued job.
func (m *JobManager) CancelJob(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.terminal() {
		m.mu.Unlock()
		return false
	}
	if job.cancel != nil {
		job.cancel()
	}
	job.Status = JobStatusCancelled
	now := time.Now().UTC()
	job.EndedAt = &now
	s := job.snapshot()
	m.mu.Unlock()

	m.logger.Info("job cancelled", zap.String("job", id), zap.String("set", s.Set))
	m.notifyListeners(s)
	return true
}

// Subscribe adds a listener for job updates.
func (m *JobManager) Subscribe() chan *Job {
	ch := make(chan *Job, 100)
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes a listener.
func (m *JobManager) Unsubscribe(ch chan *Job) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// notifyListeners must be called without holding m.mu.
func (m *JobManager) notifyListeners(job *Job) {
	m.listenerMu.RLock()
	for _, ch := range m.listeners {
		select {
		case ch <- job:
		default:
			// slow listener
		}
	}
	m.listenerMu.RUnlock()

	if m.wsHub != nil {
		m.wsHub.BroadcastJob(job)
	}
}

// Run executes queued jobs until ctx is done.
func (m *JobManager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-m.queue:
			m.runJob(ctx, job)
		}
	}
}

func (m *JobManager) runJob(parent context.Context, job *Job) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	m.mu.Lock()
	if job.Status != JobStatusQueued {
		// cancelled while waiting
		m.mu.Unlock()
		return
	}
	job.cancel = cancel
	job.Status = JobStatusRunning
	now := time.Now().UTC()
	job.StartedAt = &now
	m.current = job
	s := job.snapshot()
	m.mu.Unlock()
	m.notifyListeners(s)

	log := m.logger.With(zap.String("job", job.ID), zap.String("set", job.Set))
	log.Info("job started")
	err := m.run(ctx, job.Set, m.token)

	m.mu.Lock()
	m.current = nil
	job.cancel = nil
	if job.Status == JobStatusRunning {
		end := time.Now().UTC()
		job.EndedAt = &end
		switch {
		case ctx.Err() != nil:
			job.Status = JobStatusCancelled
		case err != nil:
			job.Status = JobStatusFailed
			job.Error = err.Error()
			job.ErrorKind = assetfetch.KindOf(err)
		default:
			job.Status = JobStatusCompleted
		}
	}
	s = job.snapshot()
	m.mu.Unlock()

	if err != nil {
		log.Warn("job ended", zap.String("status", string(s.Status)), zap.Error(err))
	} else {
		log.Info("job completed")
	}
	m.notifyListeners(s)
}

// HandleEvent applies a progress event to the running job.
func (m *JobManager) HandleEvent(ev assetfetch.ProgressEvent) {
	m.mu.Lock()
	job := m.current
	if job == nil || job.Set != ev.Set {
		m.mu.Unlock()
		return
	}

	var f *JobFileProgress
	if ev.Index >= 0 && ev.Index < len(job.Files) {
		f = &job.Files[ev.Index]
	}
	switch ev.Event {
	case "probe":
		if f != nil && ev.Total > 0 {
			f.TotalBytes = ev.Total
		}
	case "file_skip":
		if f != nil {
			f.Status = "skipped"
			f.Downloaded = f.TotalBytes
		}
		job.Progress.CompletedFiles++
	case "file_start":
		if f != nil {
			f.Status = "active"
			f.Attempt = ev.Attempt
			f.Downloaded = 0
		}
	case "file_progress":
		if f != nil {
			f.Downloaded = ev.Downloaded
		}
	case "attempt_failed":
		if f != nil {
			f.Status = "retrying"
			f.Downloaded = 0
		}
	case "file_done":
		if f != nil {
			f.Status = "complete"
			f.Downloaded = ev.Downloaded
			if f.TotalBytes == 0 {
				f.TotalBytes = ev.Downloaded
			}
		}
		job.Progress.CompletedFiles++
	case "error":
		if f != nil {
			f.Status = "error"
		}
	}

	var total, done int64
	for _, fp := range job.Files {
		total += fp.TotalBytes
		done += fp.Downloaded
	}
	job.Progress.TotalBytes = total
	job.Progress.DownloadedBytes = done
	s := job.snapshot()
	m.mu.Unlock()

	m.notifyListeners(s)
	if m.wsHub != nil {
		m.wsHub.BroadcastEvent(ev)
	}
}
