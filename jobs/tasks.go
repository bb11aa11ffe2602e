package jobs

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/unit4-bridge/internal/integration"
)

const (
	// QueueImport carries import runs; the worker drains it one task at a time.
	QueueImport = "import"
	// TaskUnit4Run runs the import pipeline for the payload's scope.
	TaskUnit4Run = "unit4:run"
)

// RunPayload scopes an import run.
type RunPayload struct {
	SourceSystemCode string `json:"source_system_code"`
	FileName         string `json:"file_name"`
	DryRun           bool   `json:"dry_run"`
}

// Filter converts the payload into the runner's filter.
func (p RunPayload) Filter() integration.Filter {
	return integration.Filter{
		SourceSystemCode: strings.TrimSpace(p.SourceSystemCode),
		FileName:         strings.TrimSpace(p.FileName),
		DryRun:           p.DryRun,
	}
}

// NewRunTask constructs an import run task. Identical scopes are deduplicated
// while one is still queued.
func NewRunTask(payload RunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskUnit4Run, data,
		asynq.Queue(QueueImport),
		asynq.MaxRetry(2),
		asynq.Timeout(2*time.Hour),
		asynq.Unique(30*time.Minute),
	), nil
}
