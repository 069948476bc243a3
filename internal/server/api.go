// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bodaay/assetfetch/internal/config"
	"github.com/bodaay/assetfetch/pkg/assetfetch"
)

// FetchRequest is the request body for queueing a fetch.
// Destinations are NOT configurable via API; they come from the catalog.
type FetchRequest struct {
	Set    string `json:"set"`
	DryRun bool   `json:"dryRun,omitempty"`
}

// SetSummary describes one catalog entry.
type SetSummary struct {
	Name         string                       `json:"name"`
	Files        int                          `json:"files"`
	RequiresAuth bool                         `json:"requiresAuth"`
	Descriptors  []assetfetch.AssetDescriptor `json:"descriptors"`
}

// SettingsResponse represents current settings.
type SettingsResponse struct {
	Token          string `json:"token,omitempty"`
	ModelsDir      string `json:"modelsDir"`
	CatalogFile    string `json:"catalogFile,omitempty"`
	MaxAttempts    int    `json:"maxAttempts"`
	RetryDelay     string `json:"retryDelay"`
	AttemptTimeout string `json:"attemptTimeout"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a simple success message.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// --- Handlers ---

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.config.Version,
		"queued":  s.jobs.QueueDepth(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListSets returns the catalog.
func (s *Server) handleListSets(w http.ResponseWriter, r *http.Request) {
	cat := s.fetcher.Catalog()
	sets := make([]SetSummary, 0, len(cat))
	for _, name := range cat.Names() {
		set := cat[name]
		sets = append(sets, SetSummary{
			Name:         name,
			Files:        len(set.Descriptors),
			RequiresAuth: set.RequiresAuth(),
			Descriptors:  set.Descriptors,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sets":  sets,
		"count": len(sets),
	})
}

// handlePlan reports what a fetch of the set would do.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	s.writePlan(w, r.Context(), r.PathValue("name"))
}

func (s *Server) writePlan(w http.ResponseWriter, ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	p, err := s.fetcher.PlanSet(ctx, name, s.config.Token)
	if err != nil {
		if errors.Is(err, assetfetch.ErrConfiguration) {
			writeError(w, http.StatusNotFound, "Unknown asset set", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to plan asset set", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":    p,
		"pending": p.Pending(),
	})
}

// handleStartFetch queues a fetch job.
func (s *Server) handleStartFetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	req.Set = strings.TrimSpace(req.Set)
	if req.Set == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: set", "")
		return
	}

	set, err := s.fetcher.Catalog().Lookup(req.Set)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown asset set", err.Error())
		return
	}
	if set.RequiresAuth() && s.config.Token == "" {
		writeError(w, http.StatusForbidden, "Asset set requires a Hugging Face token",
			"start the server with --token or HUGGINGFACE_ACCESS_TOKEN")
		return
	}

	if req.DryRun {
		s.writePlan(w, r.Context(), req.Set)
		return
	}

	job, existing, err := s.jobs.CreateJob(set)
	if err != nil {
		if errors.Is(err, ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "Job queue is full", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create job", err.Error())
		return
	}

	if existing {
		writeJSON(w, http.StatusOK, map[string]any{
			"job":     job,
			"message": "Fetch already queued or running",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleListJobs returns all jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob returns a specific job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.GetJob(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found", "")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs.CancelJob(r.PathValue("id")) {
		writeJSON(w, http.StatusOK, SuccessResponse{
			Success: true,
			Message: "Job cancelled",
		})
		return
	}
	writeError(w, http.StatusNotFound, "Job not found or already finished", "")
}

// handleGetSettings returns current settings with the token masked.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	def := assetfetch.DefaultSettings()
	st := s.config.Settings
	resp := SettingsResponse{
		Token:          config.MaskToken(s.config.Token),
		ModelsDir:      firstNonEmpty(st.ModelsDir, def.ModelsDir),
		CatalogFile:    st.CatalogFile,
		MaxAttempts:    st.MaxAttempts,
		RetryDelay:     firstNonEmpty(st.RetryDelay, def.RetryDelay),
		AttemptTimeout: firstNonEmpty(st.AttemptTimeout, def.AttemptTimeout),
	}
	if resp.MaxAttempts <= 0 {
		resp.MaxAttempts = def.MaxAttempts
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
