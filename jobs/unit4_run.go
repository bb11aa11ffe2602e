package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/unit4-bridge/internal/integration"
	jobmetrics "github.com/odyssey-erp/unit4-bridge/internal/jobs"
)

// RunExecutor executes one import run.
type RunExecutor interface {
	RunOnce(ctx context.Context, filter integration.Filter) (integration.Summary, error)
}

// RunJob handles TaskUnit4Run.
type RunJob struct {
	Runner  RunExecutor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRunJob constructs the job handler.
func NewRunJob(runner RunExecutor, logger *slog.Logger, metrics *jobmetrics.Metrics) *RunJob {
	return &RunJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handle executes the import run described by the task payload.
func (j *RunJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("unit4 run: dependencies not configured")
	}
	var payload RunPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			j.log().Warn("discarding malformed run payload", slog.Any("error", err))
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskUnit4Run)
	summary, err := j.Runner.RunOnce(ctx, payload.Filter())
	if errors.Is(err, integration.ErrRunInProgress) {
		j.log().Info("import run already in progress, skipping",
			slog.String("source_system", payload.SourceSystemCode))
		return nil
	}
	if err != nil {
		j.log().Error("import run failed",
			slog.String("execution_id", summary.ExecutionID.String()),
			slog.Any("error", err))
	}
	return tracker.End(err)
}

func (j *RunJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
