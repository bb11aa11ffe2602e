package execlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/unit4-bridge/internal/platform/db"
)

// Store persists log entries.
type Store interface {
	InsertBatch(ctx context.Context, entries []Entry) error
	ListByExecution(ctx context.Context, executionID uuid.UUID) ([]Entry, error)
}

// Repository stores entries in unit4_processing_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repo.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertEntry = `
INSERT INTO unit4_processing_logs (
    id, execution_id, source_system_id, source_system_code, file_name, status, stage,
    voucher_count, transaction_count, message, duration_ms, started_at, finished_at, dry_run)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

// InsertBatch writes all entries in one transaction.
func (r *Repository) InsertBatch(ctx context.Context, entries []Entry) error {
	if r == nil || r.pool == nil {
		return errors.New("execlog: repository not initialised")
	}
	if len(entries) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			var sysID *int64
			if e.SourceSystemID > 0 {
				id := e.SourceSystemID
				sysID = &id
			}
			batch.Queue(insertEntry,
				e.ID, e.ExecutionID, sysID, e.SourceSystemCode, e.FileName, string(e.Status), string(e.Stage),
				e.VoucherCount, e.TransactionCount, e.Message, e.Duration.Milliseconds(), e.StartedAt, e.FinishedAt, e.DryRun,
			)
		}
		results := tx.SendBatch(ctx, batch)
		for _, e := range entries {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("execlog: insert %s: %w", e.FileName, err)
			}
		}
		return results.Close()
	})
}

// ListByExecution returns the entries of one run in insertion order.
func (r *Repository) ListByExecution(ctx context.Context, executionID uuid.UUID) ([]Entry, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("execlog: repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, execution_id, COALESCE(source_system_id, 0), source_system_code, file_name, status, stage,
       voucher_count, transaction_count, message, duration_ms, started_at, finished_at, dry_run
FROM unit4_processing_logs
WHERE execution_id = $1
ORDER BY started_at, seq`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			status     string
			stage      string
			durationMs int64
		)
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.SourceSystemID, &e.SourceSystemCode, &e.FileName, &status, &stage,
			&e.VoucherCount, &e.TransactionCount, &e.Message, &durationMs, &e.StartedAt, &e.FinishedAt, &e.DryRun); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		e.Stage = Stage(stage)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}
