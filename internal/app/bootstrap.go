package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/unit4-bridge/internal/execlog"
	"github.com/odyssey-erp/unit4-bridge/internal/filesource"
	"github.com/odyssey-erp/unit4-bridge/internal/integration"
	jobmetrics "github.com/odyssey-erp/unit4-bridge/internal/jobs"
	"github.com/odyssey-erp/unit4-bridge/internal/observability"
	"github.com/odyssey-erp/unit4-bridge/internal/platform/cache"
	"github.com/odyssey-erp/unit4-bridge/internal/platform/db"
	"github.com/odyssey-erp/unit4-bridge/internal/processing"
	"github.com/odyssey-erp/unit4-bridge/internal/sourcesystem"
	"github.com/odyssey-erp/unit4-bridge/internal/transform"
	triggerhttp "github.com/odyssey-erp/unit4-bridge/internal/trigger/http"
	"github.com/odyssey-erp/unit4-bridge/internal/unit4"
	"github.com/odyssey-erp/unit4-bridge/jobs"
)

// Services holds the wired import pipeline shared by the CLI, the HTTP server
// and the worker.
type Services struct {
	Config       *Config
	Logger       *slog.Logger
	Pool         *pgxpool.Pool
	Redis        *redis.Client
	Sources      sourcesystem.Lookup
	Files        *filesource.Router
	Unit4        *unit4.Client
	Transformers *transform.Registry
	Processor    *processing.Processor
	Logs         *execlog.Repository
	Runner       *integration.Runner
	Metrics      *observability.Metrics
	JobMetrics   *jobmetrics.Metrics
}

// Bootstrap connects to Postgres and Redis and assembles the pipeline. Redis
// is optional: without it runs proceed without the cross-process lock.
func Bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger) (*Services, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: bootstrap: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Services{Config: cfg, Logger: logger}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("app: bootstrap: %w", err)
	}
	svc.Pool = pool

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, run lock disabled", slog.Any("error", err))
	} else {
		svc.Redis = redisClient
	}

	sources, err := NewSourceLookup(cfg, pool)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("app: bootstrap: %w", err)
	}
	svc.Sources = sources

	files, err := NewFileRouter(cfg)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("app: bootstrap: %w", err)
	}
	svc.Files = files

	svc.Metrics = observability.NewMetrics()
	svc.JobMetrics = jobmetrics.NewMetrics(svc.Metrics.Registerer())
	svc.Unit4 = NewUnit4Client(cfg, logger, svc.Metrics.InstrumentTransport(nil))
	svc.Transformers = NewTransformers(cfg)
	svc.Processor = processing.NewProcessor(svc.Files, svc.Transformers, svc.Unit4, logger)
	svc.Logs = execlog.NewRepository(pool)

	svc.Runner = integration.NewRunner(svc.Sources, svc.Files, svc.Transformers, svc.Processor, svc.Logs, logger).
		WithMetrics(svc.JobMetrics)
	if svc.Redis != nil {
		svc.Runner.WithLocker(cache.NewRunLock(svc.Redis, "", cfg.RunLockTTL))
	}
	return svc, nil
}

// RedisOpts returns the asynq connection options for the configured Redis.
func (s *Services) RedisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: s.Config.RedisAddr}
}

// NewWorker builds the asynq worker serving import runs, with the scheduled
// run registered when RUN_SCHEDULE is set.
func (s *Services) NewWorker() (*jobs.Worker, error) {
	return jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: s.RedisOpts(),
		Logger:    s.Logger,
		Run:       jobs.NewRunJob(s.Runner, s.Logger, s.JobMetrics),
		Schedule:  s.Config.RunSchedule,
	})
}

// NewHTTPServer builds the trigger API server. queue and inspector may be nil.
func (s *Services) NewHTTPServer(queue *jobs.Client, inspector jobs.QueueInspector) *http.Server {
	var trigger *triggerhttp.Handler
	if queue != nil {
		trigger = triggerhttp.NewHandler(s.Logger, s.Runner, queue, s.Logs, s.Unit4)
	} else {
		trigger = triggerhttp.NewHandler(s.Logger, s.Runner, nil, s.Logs, s.Unit4)
	}
	router := NewRouter(RouterParams{
		Logger:         s.Logger,
		Config:         s.Config,
		TriggerHandler: trigger,
		JobHandler:     jobs.NewHandler(inspector, s.Logger),
		Metrics:        s.Metrics,
	})
	return &http.Server{
		Addr:         s.Config.AppAddr,
		Handler:      router,
		ReadTimeout:  s.Config.AppReadTimeout,
		WriteTimeout: s.Config.AppWriteTimeout,
	}
}

// Close releases pooled connections.
func (s *Services) Close() {
	if s == nil {
		return
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// NewSourceLookup prefers the YAML catalog when SOURCE_SYSTEMS_FILE is set and
// falls back to the database table.
func NewSourceLookup(cfg *Config, pool *pgxpool.Pool) (sourcesystem.Lookup, error) {
	if cfg.SourceSystemsFile != "" {
		catalog, err := sourcesystem.LoadCatalog(cfg.SourceSystemsFile)
		if err != nil {
			return nil, err
		}
		return catalog, nil
	}
	if pool == nil {
		return nil, fmt.Errorf("app: source systems need SOURCE_SYSTEMS_FILE or a database")
	}
	return sourcesystem.NewRepository(pool), nil
}

// NewFileRouter registers the local and share adapters, plus blob storage when
// an endpoint is configured.
func NewFileRouter(cfg *Config) (*filesource.Router, error) {
	router := filesource.NewRouter().
		Register(sourcesystem.ProviderLocal, filesource.NewLocal(cfg.FilesLocalRoot)).
		Register(sourcesystem.ProviderFileShare, filesource.NewFileShare(cfg.FilesShareRoot))
	if cfg.BlobEnabled() {
		store, err := filesource.NewMinioStore(filesource.MinioConfig{
			Endpoint:  cfg.BlobEndpoint,
			AccessKey: cfg.BlobAccessKey,
			SecretKey: cfg.BlobSecretKey,
			Bucket:    cfg.BlobBucket,
			Region:    cfg.BlobRegion,
			UseSSL:    cfg.BlobUseSSL,
		})
		if err != nil {
			return nil, err
		}
		router.Register(sourcesystem.ProviderBlob, filesource.NewBlob(store))
	}
	return router, nil
}

// NewUnit4Client maps the UNIT4_* settings onto the API client. transport may
// be nil.
func NewUnit4Client(cfg *Config, logger *slog.Logger, transport http.RoundTripper) *unit4.Client {
	return unit4.NewClient(unit4.ClientConfig{
		BaseURL:      cfg.Unit4BaseURL,
		BatchPath:    cfg.Unit4BatchPath,
		Tenant:       cfg.Unit4Tenant,
		TokenURL:     cfg.Unit4TokenURL,
		ClientID:     cfg.Unit4ClientID,
		ClientSecret: cfg.Unit4ClientSecret,
		Scope:        cfg.Unit4Scope,
		Timeout:      cfg.Unit4Timeout,
		RateLimit:    cfg.Unit4RateLimit,
		RateBurst:    cfg.Unit4RateBurst,
		Transport:    transport,
	}, logger)
}

// NewTransformers returns the registry of supported export formats.
func NewTransformers(cfg *Config) *transform.Registry {
	return transform.NewRegistry(transform.NewABWTransformer(cfg.Unit4DefaultCurrency))
}
