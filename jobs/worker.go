package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

// Worker drains the import queue and, when scheduled, enqueues unscoped runs.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
}

// WorkerConfig wires the import worker.
type WorkerConfig struct {
	RedisOpts asynq.RedisClientOpt
	Logger    *slog.Logger
	Run       *RunJob
	// Schedule is a cron expression evaluated in UTC. Empty disables it.
	Schedule string
}

// NewWorker builds the worker. Concurrency is one so runs never overlap
// inside a process.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Run == nil {
		return nil, errors.New("jobs: run job is required")
	}
	logger := newAsynqLogger(cfg.Logger)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskUnit4Run, cfg.Run.Handle)

	w := &Worker{mux: mux}
	if spec := strings.TrimSpace(cfg.Schedule); spec != "" {
		task, err := NewRunTask(RunPayload{})
		if err != nil {
			return nil, fmt.Errorf("jobs: build scheduled run: %w", err)
		}
		w.scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC, Logger: logger})
		if _, err := w.scheduler.Register(spec, task); err != nil {
			return nil, fmt.Errorf("jobs: register schedule %q: %w", spec, err)
		}
	}
	w.server = asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{QueueImport: 1},
		Logger:      logger,
		LogLevel:    asynq.InfoLevel,
	})
	return w, nil
}

// Scheduled reports whether a cron schedule is registered.
func (w *Worker) Scheduled() bool {
	return w != nil && w.scheduler != nil
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.server == nil {
		return errors.New("jobs: worker not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return fmt.Errorf("jobs: start scheduler: %w", err)
		}
		defer w.scheduler.Shutdown()
	}
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("jobs: start server: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	return ctx.Err()
}

// Client enqueues import runs.
type Client struct {
	client *asynq.Client
}

// NewClient constructs the queue client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueRun queues a run for payload's scope. A payload identical to one
// still queued fails with asynq.ErrDuplicateTask.
func (c *Client) EnqueueRun(ctx context.Context, payload RunPayload) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs: client not configured")
	}
	task, err := NewRunTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
