// Package handlers implements the HTTP API: analytics queries over the
// transaction graph, sync and scan job management, and graph admin.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dvloznov/spendgraph/internal/analytics"
	"github.com/dvloznov/spendgraph/internal/api/middleware"
	"github.com/dvloznov/spendgraph/internal/graph"
	"github.com/dvloznov/spendgraph/internal/jobs"
	"github.com/rs/zerolog"
)

// Query parameter defaults.
const (
	DefaultWindowDays       = 30
	DefaultMerchantLimit    = 20
	DefaultAnomalyThreshold = 2.0
	DefaultSimilarityScore  = 0.5
	DefaultCoOccurrenceGap  = 1
	DefaultTransitionGap    = 7
)

// AnalyticsHandler serves the read-side analytics endpoints.
type AnalyticsHandler struct {
	engine *analytics.Engine
	log    zerolog.Logger
}

// NewAnalyticsHandler creates an analytics handler.
func NewAnalyticsHandler(engine *analytics.Engine, log zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{engine: engine, log: log}
}

// SpendingByCategory handles GET /api/analytics/categories?days=N
func (h *AnalyticsHandler) SpendingByCategory(w http.ResponseWriter, r *http.Request) {
	days, ok := intQuery(w, r, "days", DefaultWindowDays)
	if !ok {
		return
	}

	results, err := h.engine.SpendingByCategory(r.Context(), days)
	if err != nil {
		h.writeEngineError(w, err, "Failed to compute category spending")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": results,
		"count":      len(results),
	})
}

// MerchantAnalysis handles GET /api/analytics/merchants?limit=N
func (h *AnalyticsHandler) MerchantAnalysis(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit", DefaultMerchantLimit)
	if !ok {
		return
	}

	results, err := h.engine.MerchantAnalysis(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, err, "Failed to analyze merchants")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"merchants": results,
		"count":     len(results),
	})
}

// SpendingTrends handles GET /api/analytics/trends?account_id=X
func (h *AnalyticsHandler) SpendingTrends(w http.ResponseWriter, r *http.Request) {
	results, err := h.engine.SpendingTrends(r.Context(), r.URL.Query().Get("account_id"))
	if err != nil {
		h.writeEngineError(w, err, "Failed to compute spending trends")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"months": results,
		"count":  len(results),
	})
}

// DetectAnomalies handles GET /api/analytics/anomalies?threshold=F
func (h *AnalyticsHandler) DetectAnomalies(w http.ResponseWriter, r *http.Request) {
	threshold, ok := floatQuery(w, r, "threshold", DefaultAnomalyThreshold)
	if !ok {
		return
	}

	results, err := h.engine.DetectAnomalies(r.Context(), threshold)
	if err != nil {
		h.writeEngineError(w, err, "Failed to detect anomalies")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"anomalies": results,
		"count":     len(results),
	})
}

// SimilarTransactions handles GET /api/analytics/similar/{id}?threshold=F
func (h *AnalyticsHandler) SimilarTransactions(w http.ResponseWriter, r *http.Request, transactionID string) {
	threshold, ok := floatQuery(w, r, "threshold", DefaultSimilarityScore)
	if !ok {
		return
	}

	results, err := h.engine.SimilarTransactions(r.Context(), transactionID, threshold)
	if err != nil {
		h.writeEngineError(w, err, "Failed to find similar transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transaction_id": transactionID,
		"similar":        results,
		"count":          len(results),
	})
}

// MerchantCoOccurrence handles GET /api/analytics/co-occurrence?max_gap_days=N
func (h *AnalyticsHandler) MerchantCoOccurrence(w http.ResponseWriter, r *http.Request) {
	maxGap, ok := intQuery(w, r, "max_gap_days", DefaultCoOccurrenceGap)
	if !ok {
		return
	}

	results, err := h.engine.MerchantCoOccurrence(r.Context(), maxGap)
	if err != nil {
		h.writeEngineError(w, err, "Failed to compute merchant co-occurrence")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"pairs": results,
		"count": len(results),
	})
}

// CategoryTransitions handles GET /api/analytics/transitions?account_id=X&max_gap_days=N
func (h *AnalyticsHandler) CategoryTransitions(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	maxGap, ok := intQuery(w, r, "max_gap_days", DefaultTransitionGap)
	if !ok {
		return
	}

	results, err := h.engine.CategoryTransitions(r.Context(), accountID, maxGap)
	if err != nil {
		h.writeEngineError(w, err, "Failed to compute category transitions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transitions": results,
		"count":       len(results),
	})
}

// SpendingVelocity handles GET /api/analytics/velocity?account_id=X
func (h *AnalyticsHandler) SpendingVelocity(w http.ResponseWriter, r *http.Request) {
	results, err := h.engine.SpendingVelocity(r.Context(), r.URL.Query().Get("account_id"))
	if err != nil {
		h.writeEngineError(w, err, "Failed to compute spending velocity")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": results,
		"count":    len(results),
	})
}

// RecurringMerchants handles GET /api/analytics/recurring
func (h *AnalyticsHandler) RecurringMerchants(w http.ResponseWriter, r *http.Request) {
	results, err := h.engine.RecurringMerchants(r.Context())
	if err != nil {
		h.writeEngineError(w, err, "Failed to find recurring merchants")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"merchants": results,
		"count":     len(results),
	})
}

// DayOfWeekProfile handles GET /api/analytics/day-of-week
func (h *AnalyticsHandler) DayOfWeekProfile(w http.ResponseWriter, r *http.Request) {
	results, err := h.engine.DayOfWeekProfile(r.Context())
	if err != nil {
		h.writeEngineError(w, err, "Failed to compute day-of-week profile")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"profile": results,
		"count":   len(results),
	})
}

// CategoryLineage handles GET /api/analytics/lineage?category=X
func (h *AnalyticsHandler) CategoryLineage(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		middleware.WriteError(w, http.StatusBadRequest, "category is required")
		return
	}

	chain, err := h.engine.CategoryLineage(r.Context(), category)
	if err != nil {
		h.writeEngineError(w, err, "Failed to resolve category lineage")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"category": category,
		"lineage":  chain,
	})
}

// AccountSummary handles GET /api/accounts/{id}/summary
func (h *AnalyticsHandler) AccountSummary(w http.ResponseWriter, r *http.Request, accountID string) {
	summary, err := h.engine.AccountSummary(r.Context(), accountID)
	if err != nil {
		h.writeEngineError(w, err, "Failed to summarize account")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, summary)
}

func (h *AnalyticsHandler) writeEngineError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, graph.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	h.log.Error().Err(err).Msg(message)
	middleware.WriteError(w, http.StatusInternalServerError, message)
}

// SyncHandler enqueues ingestion and scan jobs.
type SyncHandler struct {
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewSyncHandler creates a sync handler.
func NewSyncHandler(publisher jobs.Publisher, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{publisher: publisher, log: log}
}

// EnqueueSync handles POST /api/sync
func (h *SyncHandler) EnqueueSync(w http.ResponseWriter, r *http.Request) {
	job := &jobs.AnalysisJob{Kind: jobs.JobKindSync}
	if err := h.publisher.Publish(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue sync job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue sync job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Msg("Sync job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"kind":   string(job.Kind),
		"status": string(job.Status),
	})
}

// EnqueueAnomalyScan handles POST /api/analytics/anomaly-scan
func (h *SyncHandler) EnqueueAnomalyScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold *float64 `json:"threshold"`
	}
	// An empty body means defaults; a malformed one is an error.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// Distinguish an absent threshold from an explicit zero.
	threshold := DefaultAnomalyThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	job := &jobs.AnalysisJob{Kind: jobs.JobKindAnomalyScan, Threshold: threshold}
	if err := h.publisher.Publish(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue anomaly scan")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue anomaly scan")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Float64("threshold", threshold).Msg("Anomaly scan enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"kind":   string(job.Kind),
		"status": string(job.Status),
	})
}

// JobsHandler serves job status queries.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{store: store, log: log}
}

// ListJobs handles GET /api/jobs?kind=X&status=Y&limit=N&offset=N
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit", 0)
	if !ok {
		return
	}
	offset, ok := intQuery(w, r, "offset", 0)
	if !ok {
		return
	}

	filter := jobs.JobFilter{
		Kind:   jobs.JobKind(r.URL.Query().Get("kind")),
		Status: jobs.JobStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}

	list, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// AdminHandler serves graph stats and destructive admin operations.
type AdminHandler struct {
	store graph.Store
	log   zerolog.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(store graph.Store, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{store: store, log: log}
}

// Stats handles GET /api/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read graph stats")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read graph stats")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, stats)
}

// ListAccounts handles GET /api/accounts
func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list accounts")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list accounts")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// Wipe handles DELETE /api/admin/graph. The body must carry the exact
// confirmation token or nothing is deleted.
func (h *AdminHandler) Wipe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm string `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.store.Clear(r.Context(), req.Confirm); err != nil {
		if errors.Is(err, graph.ErrBadConfirmToken) {
			middleware.WriteError(w, http.StatusForbidden, "Confirmation token mismatch")
			return
		}
		h.log.Error().Err(err).Msg("Failed to wipe graph")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to wipe graph")
		return
	}

	h.log.Warn().Msg("Graph wiped")
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "wiped"})
}

// intQuery parses an integer query parameter, writing a 400 and
// returning ok=false when the value is present but invalid.
func intQuery(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid "+name+" parameter")
		return 0, false
	}
	return v, true
}

func floatQuery(w http.ResponseWriter, r *http.Request, name string, fallback float64) (float64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid "+name+" parameter")
		return 0, false
	}
	return v, true
}
