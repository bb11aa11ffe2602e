// Package execlog records the outcome of every file an import run touches.
package execlog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a log entry.
type Status string

const (
	// StatusProcessing marks an entry that has not been finalized yet.
	StatusProcessing Status = "Processing"
	// StatusSuccess marks a file that was posted (or dry-run) without errors.
	StatusSuccess Status = "Success"
	// StatusError marks a file that failed at some stage.
	StatusError Status = "Error"
)

// Stage is the last state-machine state an entry reached.
type Stage string

const (
	StageDiscovered     Stage = "Discovered"
	StageDownloaded     Stage = "Downloaded"
	StageTransformed    Stage = "Transformed"
	StageDryRunComplete Stage = "DryRunComplete"
	StageSubmitted      Stage = "Submitted"
	StageArchived       Stage = "Archived"
	StageErrored        Stage = "Errored"
)

// NoFilesName is the file name of the synthetic entry written when a source
// system had nothing to process.
const NoFilesName = "(no files)"

// SourceSystemName is the file name of the synthetic entry written when a
// source system was aborted before any file was attempted.
const SourceSystemName = "(source system)"

// Entry is one processing log row.
type Entry struct {
	ID               uuid.UUID     `json:"id"`
	ExecutionID      uuid.UUID     `json:"executionId"`
	SourceSystemID   int64         `json:"sourceSystemId"`
	SourceSystemCode string        `json:"sourceSystemCode"`
	FileName         string        `json:"fileName"`
	Status           Status        `json:"status"`
	Stage            Stage         `json:"stage"`
	VoucherCount     int           `json:"voucherCount"`
	TransactionCount int           `json:"transactionCount"`
	Message          string        `json:"message,omitempty"`
	Duration         time.Duration `json:"-"`
	StartedAt        time.Time     `json:"startedAt"`
	FinishedAt       *time.Time    `json:"finishedAt,omitempty"`
	DryRun           bool          `json:"dryRun"`
}

// NewEntry starts an entry in the Processing state.
func NewEntry(executionID uuid.UUID, sourceSystemID int64, sourceSystemCode, fileName string, dryRun bool, startedAt time.Time) Entry {
	return Entry{
		ID:               uuid.New(),
		ExecutionID:      executionID,
		SourceSystemID:   sourceSystemID,
		SourceSystemCode: sourceSystemCode,
		FileName:         fileName,
		Status:           StatusProcessing,
		Stage:            StageDiscovered,
		StartedAt:        startedAt,
		DryRun:           dryRun,
	}
}

// Finalize sets the terminal status once; later calls are ignored.
func (e *Entry) Finalize(status Status, message string, finishedAt time.Time) {
	if e.Finalized() {
		return
	}
	e.Status = status
	e.Message = message
	at := finishedAt
	e.FinishedAt = &at
	if !e.StartedAt.IsZero() && finishedAt.After(e.StartedAt) {
		e.Duration = finishedAt.Sub(e.StartedAt)
	}
}

// Finalized reports whether the entry reached a terminal status.
func (e Entry) Finalized() bool {
	return e.Status == StatusSuccess || e.Status == StatusError
}

// Advance records the stage reached unless the entry is already final.
func (e *Entry) Advance(stage Stage) {
	if e.Finalized() {
		return
	}
	e.Stage = stage
}

// Counted reports whether the entry represents a real file attempt.
func (e Entry) Counted() bool {
	return e.FileName != NoFilesName
}

// MarshalJSON reports the duration in milliseconds.
func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	return json.Marshal(struct {
		plain
		DurationMs int64 `json:"durationMs"`
	}{plain: plain(e), DurationMs: e.Duration.Milliseconds()})
}
