package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/spendgraph/internal/jobs"
)

func TestStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	job := &jobs.AnalysisJob{JobID: "job-1", Kind: jobs.JobKindSync, Status: jobs.JobStatusPending}
	if err := store.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	// The store keeps a copy; later mutation of the original must not
	// leak into stored state.
	job.Status = jobs.JobStatusFailed
	got, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != jobs.JobStatusPending {
		t.Errorf("Status = %s, want pending copy", got.Status)
	}

	if _, err := store.GetJob(ctx, "missing"); err == nil {
		t.Error("Expected error for unknown job")
	}
	if err := store.SaveJob(ctx, &jobs.AnalysisJob{}); err == nil {
		t.Error("Expected error for job without ID")
	}
}

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fixtures := []*jobs.AnalysisJob{
		{JobID: "job-a", Kind: jobs.JobKindSync, Status: jobs.JobStatusCompleted, CreatedAt: base},
		{JobID: "job-b", Kind: jobs.JobKindAnomalyScan, Status: jobs.JobStatusFailed, CreatedAt: base.Add(time.Minute)},
		{JobID: "job-c", Kind: jobs.JobKindSync, Status: jobs.JobStatusPending, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, j := range fixtures {
		if err := store.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob(%s): %v", j.JobID, err)
		}
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all newest first", jobs.JobFilter{}, []string{"job-c", "job-b", "job-a"}},
		{"by kind", jobs.JobFilter{Kind: jobs.JobKindSync}, []string{"job-c", "job-a"}},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusFailed}, []string{"job-b"}},
		{"limit", jobs.JobFilter{Limit: 2}, []string{"job-c", "job-b"}},
		{"offset", jobs.JobFilter{Offset: 1}, []string{"job-b", "job-a"}},
		{"offset past end", jobs.JobFilter{Offset: 10}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d jobs, want %d", len(got), len(tt.want))
			}
			for i, j := range got {
				if j.JobID != tt.want[i] {
					t.Errorf("job %d = %s, want %s", i, j.JobID, tt.want[i])
				}
			}
		})
	}
}
