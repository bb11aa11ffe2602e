// Package processing runs one export file through download, transform, post and relocation.
package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/unit4-bridge/internal/execlog"
	"github.com/odyssey-erp/unit4-bridge/internal/filesource"
	"github.com/odyssey-erp/unit4-bridge/internal/sourcesystem"
	"github.com/odyssey-erp/unit4-bridge/internal/transform"
	"github.com/odyssey-erp/unit4-bridge/internal/unit4"
)

// BatchPoster submits a transformed batch.
type BatchPoster interface {
	PostBatch(ctx context.Context, batch *unit4.BatchRequest) (unit4.BatchResponse, error)
}

// TransformerResolver looks up the transformer configured for a source system.
type TransformerResolver interface {
	Resolve(key string) (transform.Transformer, error)
}

// MessageCancelled is the entry message for a file interrupted by cancellation.
const MessageCancelled = "cancelled"

// Processor drives the per-file state machine.
type Processor struct {
	files        filesource.FileSource
	transformers TransformerResolver
	poster       BatchPoster
	logger       *slog.Logger
	clock        func() time.Time
}

// NewProcessor constructs a processor.
func NewProcessor(files filesource.FileSource, transformers TransformerResolver, poster BatchPoster, logger *slog.Logger) *Processor {
	return &Processor{
		files:        files,
		transformers: transformers,
		poster:       poster,
		logger:       logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (p *Processor) WithClock(clock func() time.Time) {
	if p != nil && clock != nil {
		p.clock = clock
	}
}

// IsSystemAbort reports whether err returned by ProcessFile means the rest of
// the source system must be skipped.
func IsSystemAbort(err error) bool {
	var unsupported *transform.UnsupportedTransformerError
	var cfg *unit4.ConfigurationError
	var auth *unit4.AuthenticationError
	return errors.As(err, &unsupported) || errors.As(err, &cfg) || errors.As(err, &auth)
}

// ProcessFile runs one file to a finalized entry. Per-file failures are
// recorded on the entry and return a nil error. A non-nil error is either a
// cancellation or a failure that aborts the whole source system.
// ExecutionID is left for the caller to stamp.
func (p *Processor) ProcessFile(ctx context.Context, sys sourcesystem.SourceSystem, fileName string, dryRun bool) (entry execlog.Entry, err error) {
	entry = execlog.NewEntry(uuid.Nil, sys.ID, sys.Code, fileName, dryRun, p.now())
	logger := p.log().With(slog.String("source_system", sys.Code), slog.String("file", fileName))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("file processing panicked", slog.Any("panic", r))
			entry.Finalize(execlog.StatusError, fmt.Sprintf("unexpected failure: %v", r), p.now())
			err = nil
		}
	}()

	if ctx.Err() != nil {
		return p.cancelled(entry), ctx.Err()
	}

	raw, err := p.files.Download(ctx, sys, fileName)
	if err != nil {
		if ctx.Err() != nil {
			return p.cancelled(entry), ctx.Err()
		}
		return p.fail(ctx, logger, sys, entry, fmt.Sprintf("download failed: %v", err)), nil
	}
	entry.Advance(execlog.StageDownloaded)

	transformer, err := p.transformers.Resolve(sys.TransformerType)
	if err != nil {
		logger.Error("no transformer for source system", slog.Any("error", err))
		entry.Finalize(execlog.StatusError, err.Error(), p.now())
		return entry, err
	}
	batch, err := transformer.Transform(raw, sys)
	if err != nil {
		return p.fail(ctx, logger, sys, entry, fmt.Sprintf("transform failed: %v", err)), nil
	}
	if ctx.Err() != nil {
		return p.cancelled(entry), ctx.Err()
	}
	entry.VoucherCount = len(batch.TransactionInformation)
	entry.TransactionCount = batch.DetailCount()
	entry.Advance(execlog.StageTransformed)

	if dryRun {
		entry.Advance(execlog.StageDryRunComplete)
		entry.Finalize(execlog.StatusSuccess,
			fmt.Sprintf("dry run, not posted: %d vouchers, %d transactions", entry.VoucherCount, entry.TransactionCount), p.now())
		logger.Info("dry run complete", slog.Int("vouchers", entry.VoucherCount), slog.Int("transactions", entry.TransactionCount))
		return entry, nil
	}

	batchID := batch.BatchInformation.BatchID
	resp, err := p.poster.PostBatch(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return p.cancelled(entry), ctx.Err()
		}
		if IsSystemAbort(err) {
			logger.Error("unit4 client unusable", slog.Any("error", err))
			entry.Finalize(execlog.StatusError, err.Error(), p.now())
			return entry, err
		}
		subErr := &unit4.SubmissionError{BatchID: batchID, Err: err}
		return p.fail(ctx, logger, sys, entry, subErr.Error()), nil
	}
	if !resp.IsSuccess() {
		subErr := &unit4.SubmissionError{BatchID: batchID, Response: resp}
		return p.fail(ctx, logger, sys, entry, subErr.Error()), nil
	}
	entry.Advance(execlog.StageSubmitted)

	relocCtx := context.WithoutCancel(ctx)
	archived, err := p.files.MoveToArchive(relocCtx, sys, fileName)
	if err != nil {
		logger.Error("archive after post failed", slog.String("batch_id", batchID), slog.Any("error", err))
		msg := fmt.Sprintf("posted batch %s but archive failed: %v", batchID, err)
		if moved, moveErr := p.files.MoveToError(relocCtx, sys, fileName); moveErr == nil {
			entry.Advance(execlog.StageErrored)
			msg += "; moved to error as " + moved
		}
		entry.Finalize(execlog.StatusError, msg, p.now())
		return entry, nil
	}
	entry.Advance(execlog.StageArchived)

	msg := fmt.Sprintf("posted batch %s: %d vouchers, %d transactions; archived as %s",
		batchID, entry.VoucherCount, entry.TransactionCount, archived)
	if err := p.saveSidecar(relocCtx, sys, archived, batch); err != nil {
		logger.Warn("sidecar write failed", slog.String("archived", archived), slog.Any("error", err))
		msg += fmt.Sprintf("; sidecar not saved: %v", err)
	}
	entry.Finalize(execlog.StatusSuccess, msg, p.now())
	logger.Info("file posted", slog.String("batch_id", batchID), slog.String("archived", archived))
	return entry, nil
}

func (p *Processor) saveSidecar(ctx context.Context, sys sourcesystem.SourceSystem, archived string, batch *unit4.BatchRequest) error {
	body, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("processing: encode sidecar: %w", err)
	}
	return p.files.SaveJSONSidecar(ctx, sys, archived, body)
}

// fail finalizes a per-file error and moves the file to the error folder
// unless the entry is a dry run.
func (p *Processor) fail(ctx context.Context, logger *slog.Logger, sys sourcesystem.SourceSystem, entry execlog.Entry, msg string) execlog.Entry {
	logger.Warn("file failed", slog.String("stage", string(entry.Stage)), slog.String("reason", msg))
	if !entry.DryRun {
		moved, err := p.files.MoveToError(context.WithoutCancel(ctx), sys, entry.FileName)
		if err != nil {
			logger.Error("move to error failed", slog.Any("error", err))
			msg += fmt.Sprintf("; move to error failed: %v", err)
		} else {
			entry.Advance(execlog.StageErrored)
			if moved != entry.FileName {
				msg += "; moved to error as " + moved
			}
		}
	}
	entry.Finalize(execlog.StatusError, msg, p.now())
	return entry
}

func (p *Processor) cancelled(entry execlog.Entry) execlog.Entry {
	entry.Finalize(execlog.StatusError, MessageCancelled, p.now())
	return entry
}

func (p *Processor) log() *slog.Logger {
	if p != nil && p.logger != nil {
		return p.logger.With(slog.String("component", "processing"))
	}
	return slog.Default().With(slog.String("component", "processing"))
}

func (p *Processor) now() time.Time {
	if p != nil && p.clock != nil {
		return p.clock()
	}
	return time.Now().UTC()
}
