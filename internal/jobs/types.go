// Package jobs defines the asynchronous work model: analysis jobs, the
// queue contracts, and job status tracking. Implementations live in
// subpackages; the in-memory one suits single-instance deployments.
package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// JobKind identifies what an analysis job does.
type JobKind string

const (
	// JobKindSync pulls accounts and transactions from the configured
	// source into the graph store.
	JobKindSync JobKind = "sync"
	// JobKindAnomalyScan runs anomaly detection over the whole graph.
	JobKindAnomalyScan JobKind = "anomaly_scan"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// AnalysisJob is one unit of asynchronous work. Result carries the
// kind-specific output (a sync summary, an anomaly list) as raw JSON
// so the store does not need to know each shape.
type AnalysisJob struct {
	JobID string  `json:"job_id"`
	Kind  JobKind `json:"kind"`

	// Threshold is the score cutoff for anomaly scans; ignored by
	// other kinds.
	Threshold float64 `json:"threshold,omitempty"`

	Status      JobStatus       `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
}

// Publisher enqueues analysis jobs. The abstraction keeps the HTTP
// layer independent of the queue implementation.
type Publisher interface {
	Publish(ctx context.Context, job *AnalysisJob) error
	Close() error
}

// JobHandler processes one job. Returning an error marks the job
// failed and eligible for retry.
type JobHandler func(ctx context.Context, job *AnalysisJob) error

// Consumer runs jobs from a queue through a handler.
type Consumer interface {
	Start(ctx context.Context, handler JobHandler) error
	// Stop drains in-flight jobs, bounded by the context.
	Stop(ctx context.Context) error
}

// JobStore tracks job state so callers can poll for completion.
type JobStore interface {
	SaveJob(ctx context.Context, job *AnalysisJob) error
	GetJob(ctx context.Context, jobID string) (*AnalysisJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*AnalysisJob, error)
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	Kind   JobKind
	Status JobStatus
	Limit  int
	Offset int
}
