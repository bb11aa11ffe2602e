package jobs

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/unit4-bridge/internal/platform/httpx"
)

// QueueInspector reports queue depth.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler serves the import queue health endpoint.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs the handler. A nil inspector reports an empty queue.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	out := queueHealth{Queue: QueueImport}
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, out)
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueImport)
	switch {
	case errors.Is(err, asynq.ErrQueueNotFound):
	case err != nil:
		if h.logger != nil {
			h.logger.Warn("import queue health", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
		return
	case info != nil:
		out = queueHealth{
			Queue:     info.Queue,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}
