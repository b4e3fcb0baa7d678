package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/spendgraph/internal/analytics"
	"github.com/dvloznov/spendgraph/internal/api/handlers"
	"github.com/dvloznov/spendgraph/internal/api/middleware"
	"github.com/dvloznov/spendgraph/internal/config"
	"github.com/dvloznov/spendgraph/internal/graph"
	bqstore "github.com/dvloznov/spendgraph/internal/graph/bigquery"
	"github.com/dvloznov/spendgraph/internal/graph/memory"
	"github.com/dvloznov/spendgraph/internal/graph/sqlite"
	"github.com/dvloznov/spendgraph/internal/ingest"
	"github.com/dvloznov/spendgraph/internal/ingest/plaidapi"
	"github.com/dvloznov/spendgraph/internal/jobs"
	"github.com/dvloznov/spendgraph/internal/jobs/inmemory"
	"github.com/dvloznov/spendgraph/internal/logger"
)

func main() {
	var configPath = flag.String("config", "config.yaml", "Path to YAML config file")
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := logger.WithContext(context.Background(), log)

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("Failed to open graph store")
	}
	defer store.Close()
	log.Info().Str("backend", cfg.Store.Backend).Msg("Graph store ready")

	engine := analytics.NewEngine(store)

	var syncer *ingest.Syncer
	if cfg.Source.BaseURL != "" {
		source := plaidapi.NewClient(cfg.Source.BaseURL, nil)
		syncer = ingest.NewSyncer(source, store, cfg.Source.PageSize)
	} else {
		log.Warn().Msg("No source configured - sync jobs will fail until SOURCE_BASE_URL is set")
	}

	// Job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Jobs.BufferSize, cfg.Jobs.Workers, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job *jobs.AnalysisJob) error {
		switch job.Kind {
		case jobs.JobKindSync:
			if syncer == nil {
				return fmt.Errorf("no transaction source configured")
			}
			result, err := syncer.Sync(ctx)
			if result != nil {
				if data, merr := json.Marshal(result); merr == nil {
					job.Result = data
				}
			}
			return err

		case jobs.JobKindAnomalyScan:
			anomalies, err := engine.DetectAnomalies(ctx, job.Threshold)
			if err != nil {
				return err
			}
			data, err := json.Marshal(map[string]interface{}{
				"anomalies": anomalies,
				"count":     len(anomalies),
				"threshold": job.Threshold,
			})
			if err != nil {
				return err
			}
			job.Result = data
			return nil

		default:
			return fmt.Errorf("unknown job kind: %s", job.Kind)
		}
	}

	go func() {
		log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting job workers")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Job workers stopped with error")
		}
	}()

	// Handlers
	analyticsHandler := handlers.NewAnalyticsHandler(engine, log)
	syncHandler := handlers.NewSyncHandler(jobQueue, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)
	adminHandler := handlers.NewAdminHandler(store, log)

	mux := http.NewServeMux()

	get := func(pattern string, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			fn(w, r)
		})
	}
	post := func(pattern string, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			fn(w, r)
		})
	}

	// Analytics endpoints
	get("/api/analytics/categories", analyticsHandler.SpendingByCategory)
	get("/api/analytics/merchants", analyticsHandler.MerchantAnalysis)
	get("/api/analytics/trends", analyticsHandler.SpendingTrends)
	get("/api/analytics/anomalies", analyticsHandler.DetectAnomalies)
	get("/api/analytics/co-occurrence", analyticsHandler.MerchantCoOccurrence)
	get("/api/analytics/transitions", analyticsHandler.CategoryTransitions)
	get("/api/analytics/velocity", analyticsHandler.SpendingVelocity)
	get("/api/analytics/recurring", analyticsHandler.RecurringMerchants)
	get("/api/analytics/day-of-week", analyticsHandler.DayOfWeekProfile)
	get("/api/analytics/lineage", analyticsHandler.CategoryLineage)

	mux.HandleFunc("/api/analytics/similar/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		transactionID := strings.TrimPrefix(r.URL.Path, "/api/analytics/similar/")
		if transactionID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Transaction ID is required")
			return
		}
		analyticsHandler.SimilarTransactions(w, r, transactionID)
	})

	// Account endpoints
	get("/api/accounts", adminHandler.ListAccounts)
	mux.HandleFunc("/api/accounts/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/api/accounts/")
		accountID := strings.TrimSuffix(rest, "/summary")
		if accountID == "" || accountID == rest {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		analyticsHandler.AccountSummary(w, r, accountID)
	})

	// Sync and scan endpoints
	post("/api/sync", syncHandler.EnqueueSync)
	post("/api/analytics/anomaly-scan", syncHandler.EnqueueAnomalyScan)

	// Jobs endpoints
	get("/api/jobs", jobsHandler.ListJobs)
	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		jobsHandler.GetJob(w, r, jobID)
	})

	// Admin endpoints
	get("/api/stats", adminHandler.Stats)
	mux.HandleFunc("/api/admin/graph", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		adminHandler.Wipe(w, r)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}

// openStore builds the configured graph store backend.
func openStore(ctx context.Context, cfg *config.Config) (graph.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memory.NewStore(), nil
	case config.BackendSQLite:
		return sqlite.NewStore(cfg.Store.SQLitePath)
	case config.BackendBigQuery:
		return bqstore.NewStore(ctx, cfg.Store.BigQuery.ProjectID, cfg.Store.BigQuery.DatasetID)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
