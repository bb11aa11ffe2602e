package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/unit4-bridge/internal/integration"
	jobmetrics "github.com/odyssey-erp/unit4-bridge/internal/jobs"
)

type stubRunner struct {
	filters []integration.Filter
	err     error
}

func (s *stubRunner) RunOnce(_ context.Context, filter integration.Filter) (integration.Summary, error) {
	s.filters = append(s.filters, filter)
	return integration.Summary{Processed: 1}, s.err
}

func TestNewRunTaskPayload(t *testing.T) {
	task, err := NewRunTask(RunPayload{SourceSystemCode: "HR", FileName: "a.xml", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, TaskUnit4Run, task.Type())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, "HR", decoded["source_system_code"])
	assert.Equal(t, "a.xml", decoded["file_name"])
	assert.Equal(t, true, decoded["dry_run"])
}

func TestRunJobPassesFilter(t *testing.T) {
	runner := &stubRunner{}
	job := NewRunJob(runner, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewRunTask(RunPayload{SourceSystemCode: " HR ", DryRun: true})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, runner.filters, 1)
	assert.Equal(t, integration.Filter{SourceSystemCode: "HR", DryRun: true}, runner.filters[0])
}

func TestRunJobEmptyPayloadRunsEverything(t *testing.T) {
	runner := &stubRunner{}
	job := NewRunJob(runner, nil, nil)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskUnit4Run, nil)))
	require.Len(t, runner.filters, 1)
	assert.Equal(t, integration.Filter{}, runner.filters[0])
}

func TestRunJobSkipsMalformedPayload(t *testing.T) {
	runner := &stubRunner{}
	job := NewRunJob(runner, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskUnit4Run, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, runner.filters)
}

func TestRunJobErrors(t *testing.T) {
	busy := NewRunJob(&stubRunner{err: integration.ErrRunInProgress}, nil, nil)
	require.NoError(t, busy.Handle(context.Background(), asynq.NewTask(TaskUnit4Run, nil)))

	boom := errors.New("share offline")
	failing := NewRunJob(&stubRunner{err: boom}, nil, nil)
	require.ErrorIs(t, failing.Handle(context.Background(), asynq.NewTask(TaskUnit4Run, nil)), boom)

	var unconfigured *RunJob
	require.Error(t, unconfigured.Handle(context.Background(), asynq.NewTask(TaskUnit4Run, nil)))
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthReportsQueueDepth(t *testing.T) {
	for _, tc := range []struct {
		name      string
		inspector QueueInspector
		status    int
		pending   float64
	}{
		{name: "no inspector", status: http.StatusOK},
		{name: "queue info", inspector: stubInspector{info: &asynq.QueueInfo{Queue: QueueImport, Pending: 3}}, status: http.StatusOK, pending: 3},
		{name: "unknown queue", inspector: stubInspector{err: asynq.ErrQueueNotFound}, status: http.StatusOK},
		{name: "redis down", inspector: stubInspector{err: errors.New("dial tcp")}, status: http.StatusServiceUnavailable},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, nil).MountRoutes(r)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.status, rr.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, QueueImport, body["queue"])
			assert.Equal(t, tc.pending, body["pending"])
		})
	}
}
