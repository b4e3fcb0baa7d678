// Package ingest pulls accounts and transactions from an external
// source and upserts them into the graph store. Malformed records are
// skipped and reported per record; store failures abort the run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/spendgraph/internal/domain"
	"github.com/dvloznov/spendgraph/internal/graph"
	"github.com/dvloznov/spendgraph/internal/logger"
	"github.com/google/uuid"
)

// Source is a paginated feed of account and transaction records.
// Implementations return one page at a time plus the source's total
// record count so the syncer can drive pagination.
type Source interface {
	Accounts(ctx context.Context, offset, limit int) ([]AccountRecord, int, error)
	Transactions(ctx context.Context, offset, limit int) ([]TransactionRecord, int, error)
}

// DefaultPageSize is the page size used when none is configured.
const DefaultPageSize = 100

// RecordError describes one record that was skipped during a sync.
type RecordError struct {
	RecordID string `json:"record_id"`
	Field    string `json:"field"`
	Reason   string `json:"reason"`
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	SyncID     string        `json:"sync_id"`
	Fetched    int           `json:"fetched"`
	Saved      int           `json:"saved"`
	Skipped    int           `json:"skipped"`
	Errors     []RecordError `json:"errors,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Syncer pulls records from a Source and writes them into a Store.
type Syncer struct {
	source   Source
	store    graph.Store
	pageSize int
	now      func() time.Time
}

// NewSyncer creates a Syncer. A pageSize of zero or less falls back to
// DefaultPageSize.
func NewSyncer(source Source, store graph.Store, pageSize int) *Syncer {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Syncer{
		source:   source,
		store:    store,
		pageSize: pageSize,
		now:      time.Now,
	}
}

// Sync fetches all accounts, then all transactions, and upserts them in
// source order. Accounts go first so transactions can attach to them.
// A record that fails validation is counted, recorded in the result,
// and skipped; a store write failure aborts the run with the partial
// result.
func (s *Syncer) Sync(ctx context.Context) (*SyncResult, error) {
	log := logger.FromContext(ctx)

	result := &SyncResult{
		SyncID:    uuid.New().String(),
		StartedAt: s.now(),
	}
	log.Info().
		Str("sync_id", result.SyncID).
		Int("page_size", s.pageSize).
		Msg("Starting sync")

	if err := s.syncAccounts(ctx, result); err != nil {
		result.FinishedAt = s.now()
		return result, err
	}
	if err := s.syncTransactions(ctx, result); err != nil {
		result.FinishedAt = s.now()
		return result, err
	}

	result.FinishedAt = s.now()
	log.Info().
		Str("sync_id", result.SyncID).
		Int("fetched", result.Fetched).
		Int("saved", result.Saved).
		Int("skipped", result.Skipped).
		Dur("elapsed", result.FinishedAt.Sub(result.StartedAt)).
		Msg("Sync completed")
	return result, nil
}

func (s *Syncer) syncAccounts(ctx context.Context, result *SyncResult) error {
	log := logger.FromContext(ctx)

	offset := 0
	for {
		records, total, err := s.source.Accounts(ctx, offset, s.pageSize)
		if err != nil {
			return fmt.Errorf("Sync: fetch accounts page at offset %d: %w", offset, err)
		}
		log.Info().
			Int("offset", offset).
			Int("page_count", len(records)).
			Int("total", total).
			Msg("Fetched accounts page")

		for i := range records {
			result.Fetched++
			account, err := records[i].ToDomain()
			if err != nil {
				s.recordSkip(ctx, result, err)
				continue
			}
			if err := s.store.UpsertAccount(ctx, account); err != nil {
				return fmt.Errorf("Sync: upsert account %s: %w", account.AccountID, err)
			}
			result.Saved++
		}

		offset += len(records)
		if len(records) == 0 || offset >= total {
			return nil
		}
	}
}

func (s *Syncer) syncTransactions(ctx context.Context, result *SyncResult) error {
	log := logger.FromContext(ctx)

	offset := 0
	for {
		records, total, err := s.source.Transactions(ctx, offset, s.pageSize)
		if err != nil {
			return fmt.Errorf("Sync: fetch transactions page at offset %d: %w", offset, err)
		}
		log.Info().
			Int("offset", offset).
			Int("page_count", len(records)).
			Int("total", total).
			Msg("Fetched transactions page")

		for i := range records {
			result.Fetched++
			tx, err := records[i].ToDomain()
			if err != nil {
				s.recordSkip(ctx, result, err)
				continue
			}
			if err := s.store.UpsertTransaction(ctx, tx); err != nil {
				return fmt.Errorf("Sync: upsert transaction %s: %w", tx.TransactionID, err)
			}
			result.Saved++
		}

		offset += len(records)
		if len(records) == 0 || offset >= total {
			return nil
		}
	}
}

// recordSkip counts a malformed record and keeps its details on the
// result so callers can report exactly what was dropped.
func (s *Syncer) recordSkip(ctx context.Context, result *SyncResult, err error) {
	log := logger.FromContext(ctx)

	result.Skipped++
	var malformed *domain.MalformedRecordError
	if errors.As(err, &malformed) {
		result.Errors = append(result.Errors, RecordError{
			RecordID: malformed.RecordID,
			Field:    malformed.Field,
			Reason:   malformed.Reason,
		})
		log.Warn().
			Str("record_id", malformed.RecordID).
			Str("field", malformed.Field).
			Str("reason", malformed.Reason).
			Msg("Skipping malformed record")
		return
	}
	result.Errors = append(result.Errors, RecordError{Reason: err.Error()})
	log.Warn().Err(err).Msg("Skipping malformed record")
}
