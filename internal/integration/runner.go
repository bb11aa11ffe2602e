// Package integration orchestrates import runs across source systems and
// aggregates their processing logs.
package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/unit4-bridge/internal/execlog"
	jobmetrics "github.com/odyssey-erp/unit4-bridge/internal/jobs"
	"github.com/odyssey-erp/unit4-bridge/internal/platform/cache"
	"github.com/odyssey-erp/unit4-bridge/internal/processing"
	"github.com/odyssey-erp/unit4-bridge/internal/sourcesystem"
)

// ErrRunInProgress indicates another run holds the lock of a source system.
var ErrRunInProgress = errors.New("integration: run already in progress")

// FileLister lists candidate files of a source system.
type FileLister interface {
	ListFiles(ctx context.Context, sys sourcesystem.SourceSystem) ([]string, error)
}

// FileProcessor runs one file through the state machine.
type FileProcessor interface {
	ProcessFile(ctx context.Context, sys sourcesystem.SourceSystem, fileName string, dryRun bool) (execlog.Entry, error)
}

// LogWriter persists a batch of entries.
type LogWriter interface {
	InsertBatch(ctx context.Context, entries []execlog.Entry) error
}

// Locker provides cross-process run exclusion.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// Runner executes import runs.
type Runner struct {
	sources      sourcesystem.Lookup
	files        FileLister
	transformers processing.TransformerResolver
	processor    FileProcessor
	logs         LogWriter
	locker       Locker
	metrics      *jobmetrics.Metrics
	logger       *slog.Logger
	clock        func() time.Time
}

// NewRunner constructs a runner. Locker and metrics are optional.
func NewRunner(sources sourcesystem.Lookup, files FileLister, transformers processing.TransformerResolver, processor FileProcessor, logs LogWriter, logger *slog.Logger) *Runner {
	return &Runner{
		sources:      sources,
		files:        files,
		transformers: transformers,
		processor:    processor,
		logs:         logs,
		logger:       logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithLocker enables the run lock.
func (r *Runner) WithLocker(locker Locker) *Runner {
	r.locker = locker
	return r
}

// WithMetrics enables Prometheus instrumentation.
func (r *Runner) WithMetrics(metrics *jobmetrics.Metrics) *Runner {
	r.metrics = metrics
	return r
}

// WithClock overrides the internal clock for deterministic tests.
func (r *Runner) WithClock(clock func() time.Time) {
	if r != nil && clock != nil {
		r.clock = clock
	}
}

// RunOnce processes every selected source system sequentially.
func (r *Runner) RunOnce(ctx context.Context, filter Filter) (summary Summary, err error) {
	if r == nil || r.sources == nil || r.files == nil || r.processor == nil {
		return Summary{}, errors.New("integration: runner dependencies not configured")
	}
	filter = filter.normalized()
	summary = Summary{ExecutionID: uuid.New(), DryRun: filter.DryRun}
	start := r.now()
	logger := r.log().With(slog.String("execution_id", summary.ExecutionID.String()))

	defer func() {
		summary.Duration = r.now().Sub(start)
		r.logSummary(logger, summary, err)
	}()

	systems, err := r.selectSystems(ctx, logger, filter)
	if err != nil {
		logger.Error("resolve source systems", slog.Any("error", err))
		return summary, err
	}

	var persistErr error
	for _, sys := range systems {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return summary, ctxErr
		}
		flushErr, sysErr := r.runSystem(ctx, logger, summary.ExecutionID, sys, filter, &summary)
		if errors.Is(sysErr, ErrRunInProgress) && filter.SourceSystemCode == "" {
			summary.Skipped++
			continue
		}
		if !errors.Is(sysErr, ErrRunInProgress) {
			summary.SourceSystems++
		}
		if flushErr != nil && persistErr == nil {
			persistErr = flushErr
		}
		if sysErr != nil {
			return summary, sysErr
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return summary, ctxErr
	}
	if persistErr != nil && summary.Failed == 0 {
		return summary, persistErr
	}
	return summary, nil
}

func (r *Runner) selectSystems(ctx context.Context, logger *slog.Logger, filter Filter) ([]sourcesystem.SourceSystem, error) {
	if filter.SourceSystemCode == "" {
		systems, err := r.sources.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("integration: list source systems: %w", err)
		}
		return systems, nil
	}
	sys, err := r.sources.FindByCode(ctx, filter.SourceSystemCode)
	if errors.Is(err, sourcesystem.ErrNotFound) {
		logger.Warn("source system not found", slog.String("source_system", filter.SourceSystemCode))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("integration: find source system %s: %w", filter.SourceSystemCode, err)
	}
	if !sys.Active {
		logger.Warn("source system inactive, nothing to do", slog.String("source_system", sys.Code))
		return nil, nil
	}
	return []sourcesystem.SourceSystem{sys}, nil
}

// runSystem processes one source system under its lock and flushes its entries
// on every exit path. flushErr reports a persistence failure; err aborts the
// run unless it is ErrRunInProgress on an unscoped run.
func (r *Runner) runSystem(ctx context.Context, logger *slog.Logger, executionID uuid.UUID, sys sourcesystem.SourceSystem, filter Filter, summary *Summary) (flushErr, err error) {
	logger = logger.With(slog.String("source_system", sys.Code))
	var entries []execlog.Entry
	defer func() {
		flushErr = r.flush(ctx, logger, entries)
	}()

	record := func(entry execlog.Entry) {
		entry.ExecutionID = executionID
		entries = append(entries, entry)
		summary.record(entry)
		if entry.Counted() {
			r.metrics.ObserveFile(sys.Code, string(entry.Status))
		}
	}

	if r.locker != nil {
		key := lockKey(sys.Code)
		release, lockErr := r.locker.Acquire(ctx, key)
		if errors.Is(lockErr, cache.ErrLockHeld) {
			logger.Warn("source system skipped, lock held", slog.String("lock", key))
			return nil, ErrRunInProgress
		}
		if lockErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Error("source system skipped, lock unavailable", slog.Any("error", lockErr))
			record(r.systemFailure(executionID, sys, filter.DryRun, fmt.Errorf("acquire lock: %w", lockErr)))
			return nil, nil
		}
		defer func() {
			if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
				logger.Warn("release source system lock", slog.Any("error", relErr))
			}
		}()
	}

	if r.transformers != nil {
		if _, resolveErr := r.transformers.Resolve(sys.TransformerType); resolveErr != nil {
			logger.Error("source system skipped", slog.Any("error", resolveErr))
			record(r.systemFailure(executionID, sys, filter.DryRun, resolveErr))
			return nil, nil
		}
	}

	names, err := r.files.ListFiles(ctx, sys)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Error("source system skipped, list files failed", slog.Any("error", err))
		record(r.systemFailure(executionID, sys, filter.DryRun, fmt.Errorf("list files: %w", err)))
		return nil, nil
	}
	names = filterNames(names, filter.FileName)
	if filter.FileName != "" && len(names) == 0 {
		logger.Warn("requested file not found", slog.String("file", filter.FileName))
	}

	if len(names) == 0 {
		entry := execlog.NewEntry(executionID, sys.ID, sys.Code, execlog.NoFilesName, filter.DryRun, r.now())
		entry.Finalize(execlog.StatusSuccess, fmt.Sprintf("no files matching %s", sys.FilePattern), r.now())
		record(entry)
		return nil, nil
	}

	for _, name := range names {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		entry, procErr := r.processor.ProcessFile(ctx, sys, name, filter.DryRun)
		record(entry)
		if procErr == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(procErr, context.Canceled) || errors.Is(procErr, context.DeadlineExceeded) {
			return nil, procErr
		}
		logger.Error("source system aborted", slog.String("file", name), slog.Any("error", procErr))
		return nil, nil
	}
	return nil, nil
}

func (r *Runner) systemFailure(executionID uuid.UUID, sys sourcesystem.SourceSystem, dryRun bool, err error) execlog.Entry {
	entry := execlog.NewEntry(executionID, sys.ID, sys.Code, execlog.SourceSystemName, dryRun, r.now())
	entry.Finalize(execlog.StatusError, err.Error(), r.now())
	return entry
}

func (r *Runner) flush(ctx context.Context, logger *slog.Logger, entries []execlog.Entry) error {
	if r.logs == nil || len(entries) == 0 {
		return nil
	}
	if err := r.logs.InsertBatch(context.WithoutCancel(ctx), entries); err != nil {
		logger.Error("persist processing log", slog.Int("entries", len(entries)), slog.Any("error", err))
		return fmt.Errorf("integration: persist processing log: %w", err)
	}
	return nil
}

func (r *Runner) logSummary(logger *slog.Logger, summary Summary, err error) {
	attrs := []any{
		slog.Int("source_systems", summary.SourceSystems),
		slog.Int("processed", summary.Processed),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Duration("duration", summary.Duration),
		slog.Bool("dry_run", summary.DryRun),
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Warn("import run cancelled", attrs...)
	case err != nil:
		logger.Error("import run failed", append(attrs, slog.Any("error", err))...)
	default:
		logger.Info("import run completed", attrs...)
	}
}

func filterNames(names []string, fileName string) []string {
	if fileName == "" {
		return names
	}
	for _, name := range names {
		if strings.EqualFold(name, fileName) {
			return []string{name}
		}
	}
	return nil
}

func (r *Runner) log() *slog.Logger {
	if r != nil && r.logger != nil {
		return r.logger.With(slog.String("component", "integration"))
	}
	return slog.Default().With(slog.String("component", "integration"))
}

func (r *Runner) now() time.Time {
	if r != nil && r.clock != nil {
		return r.clock()
	}
	return time.Now().UTC()
}
