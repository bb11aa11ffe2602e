package integration

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/unit4-bridge/internal/execlog"
)

// Filter narrows a run.
type Filter struct {
	SourceSystemCode string `json:"source_system_code"`
	FileName         string `json:"file_name"`
	DryRun           bool   `json:"dry_run"`
}

func (f Filter) normalized() Filter {
	f.SourceSystemCode = strings.TrimSpace(f.SourceSystemCode)
	f.FileName = strings.TrimSpace(f.FileName)
	return f
}

// LockKey names the source-system lock a scoped run takes, or "all" for an
// unscoped run, which locks each system as it reaches it.
func (f Filter) LockKey() string {
	if key := lockKey(f.SourceSystemCode); key != "" {
		return key
	}
	return "all"
}

func lockKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Summary aggregates the outcome of one run.
type Summary struct {
	ExecutionID   uuid.UUID     `json:"executionId"`
	Processed     int           `json:"processed"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	SourceSystems int           `json:"sourceSystems"`
	Skipped       int           `json:"skipped"`
	DryRun        bool          `json:"dryRun"`
	Duration      time.Duration `json:"-"`
}

// MarshalJSON reports the duration in milliseconds.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	return json.Marshal(struct {
		plain
		DurationMs int64 `json:"durationMs"`
	}{plain: plain(s), DurationMs: s.Duration.Milliseconds()})
}

func (s *Summary) record(entry execlog.Entry) {
	switch entry.FileName {
	case execlog.NoFilesName:
		return
	case execlog.SourceSystemName:
		s.Failed++
		return
	}
	s.Processed++
	if entry.Status == execlog.StatusSuccess {
		s.Succeeded++
	} else {
		s.Failed++
	}
}
