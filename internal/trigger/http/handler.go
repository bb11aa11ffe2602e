// Package triggerhttp exposes the import pipeline over HTTP.
package triggerhttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/unit4-bridge/internal/execlog"
	"github.com/odyssey-erp/unit4-bridge/internal/integration"
	"github.com/odyssey-erp/unit4-bridge/internal/platform/httpx"
	"github.com/odyssey-erp/unit4-bridge/jobs"
)

type runner interface {
	RunOnce(ctx context.Context, filter integration.Filter) (integration.Summary, error)
}

type enqueuer interface {
	EnqueueRun(ctx context.Context, payload jobs.RunPayload) (*asynq.TaskInfo, error)
}

type logReader interface {
	ListByExecution(ctx context.Context, executionID uuid.UUID) ([]execlog.Entry, error)
}

type connectionTester interface {
	TestConnection(ctx context.Context) bool
}

// Handler wires the run trigger endpoints.
type Handler struct {
	logger    *slog.Logger
	runner    runner
	queue     enqueuer
	logs      logReader
	unit4     connectionTester
	validator *validator.Validate
}

// NewHandler constructs the handler. queue may be nil, in which case async
// requests are rejected.
func NewHandler(logger *slog.Logger, runner runner, queue enqueuer, logs logReader, unit4 connectionTester) *Handler {
	return &Handler{
		logger:    logger,
		runner:    runner,
		queue:     queue,
		logs:      logs,
		unit4:     unit4,
		validator: validator.New(),
	}
}

// MountRoutes registers the trigger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/runs", h.startRun)
	r.Get("/runs/{executionID}/logs", h.runLogs)
	r.Get("/connection", h.connection)
}

type runRequest struct {
	SourceSystemCode string `json:"source_system_code" validate:"max=50"`
	FileName         string `json:"file_name" validate:"max=255,excludesall=/\\"`
	DryRun           bool   `json:"dry_run"`
	Async            bool   `json:"async"`
}

type enqueuedResponse struct {
	TaskID string `json:"taskId"`
	Queue  string `json:"queue"`
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "body must be a JSON object")
		return
	}
	req.SourceSystemCode = strings.TrimSpace(req.SourceSystemCode)
	req.FileName = strings.TrimSpace(req.FileName)
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	payload := jobs.RunPayload{SourceSystemCode: req.SourceSystemCode, FileName: req.FileName, DryRun: req.DryRun}

	if req.Async {
		if h.queue == nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "asynchronous runs are not configured")
			return
		}
		info, err := h.queue.EnqueueRun(r.Context(), payload)
		if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
			httpx.Problem(w, http.StatusConflict, "Run Already Queued", "a run for this scope is already queued")
			return
		}
		if err != nil {
			h.log().Error("enqueue run", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
			return
		}
		httpx.JSON(w, http.StatusAccepted, enqueuedResponse{TaskID: info.ID, Queue: info.Queue})
		return
	}

	// A started file must finish even if the caller goes away.
	summary, err := h.runner.RunOnce(context.WithoutCancel(r.Context()), payload.Filter())
	switch {
	case errors.Is(err, integration.ErrRunInProgress):
		httpx.Problem(w, http.StatusConflict, "Run In Progress", "another run holds the lock for this scope")
	case err != nil:
		h.log().Error("run failed", slog.String("execution_id", summary.ExecutionID.String()), slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, runFailure{
			ProblemDetail: httpx.ProblemDetail{Title: "Run Failed", Status: http.StatusInternalServerError, Detail: err.Error()},
			Summary:       summary,
		})
	default:
		httpx.JSON(w, http.StatusOK, summary)
	}
}

type runFailure struct {
	httpx.ProblemDetail
	Summary integration.Summary `json:"summary"`
}

type logsResponse struct {
	ExecutionID uuid.UUID       `json:"executionId"`
	Entries     []execlog.Entry `json:"entries"`
}

func (h *Handler) runLogs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Execution ID", "execution id must be a UUID")
		return
	}
	entries, err := h.logs.ListByExecution(r.Context(), id)
	if err != nil {
		h.log().Error("list processing log", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if len(entries) == 0 {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, logsResponse{ExecutionID: id, Entries: entries})
}

func (h *Handler) connection(w http.ResponseWriter, r *http.Request) {
	ok := h.unit4.TestConnection(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	httpx.JSON(w, status, map[string]bool{"connected": ok})
}

func (h *Handler) log() *slog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
