package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/tasksync/internal/config"
	"github.com/hitoshi/tasksync/internal/handler"
	"github.com/hitoshi/tasksync/internal/metrics"
	"github.com/hitoshi/tasksync/internal/middleware"
	"github.com/hitoshi/tasksync/internal/project"
	"github.com/hitoshi/tasksync/internal/remote"
	"github.com/hitoshi/tasksync/internal/repository"
	"github.com/hitoshi/tasksync/internal/security"
	"github.com/hitoshi/tasksync/internal/syncer"
	"github.com/hitoshi/tasksync/internal/task"
	"github.com/hitoshi/tasksync/internal/user"
	"github.com/hitoshi/tasksync/internal/worker/syncjob"
)

// syncStack は同期エンジンとその依存関係。serve/worker/syncの各コマンドで共有する。
type syncStack struct {
	engine    *syncer.Engine
	repos     syncer.Repositories
	sessions  *repository.PostgresSessionRepo
	logs      *repository.PostgresSyncLogRepo
	collector *metrics.Collector
	registry  *prometheus.Registry
}

// newRegistry はプロセス・ランタイムのメトリクスを登録済みのレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newSyncStack はリポジトリ、外部APIクライアント、同期エンジンを組み立てる。
// 外部APIのベースURLが送信先ポリシーに違反する場合はエラーを返す。
func newSyncStack(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*syncStack, error) {
	guard := security.NewEgressGuard(cfg.RemoteAPIAllowHTTP)
	if err := guard.ValidateBaseURL(cfg.RemoteAPIBaseURL); err != nil {
		return nil, fmt.Errorf("invalid REMOTE_API_BASE_URL: %w", err)
	}

	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	logs := repository.NewPostgresSyncLogRepo(db)
	repos := syncer.Repositories{
		Users:    repository.NewPostgresUserRepo(db),
		Projects: repository.NewPostgresProjectRepo(db),
		Tasks:    repository.NewPostgresTaskRepo(db),
		Logs:     logs,
		Locks:    repository.NewPostgresSyncLockRepo(db),
	}

	factory := remote.NewFactory(guard.NewClient(cfg.RemoteAPITimeout), logger, remote.Config{
		BaseURL:           cfg.RemoteAPIBaseURL,
		MaxResponseSize:   cfg.RemoteAPIMaxSize,
		RequestsPerSecond: cfg.RemoteAPIRate,
		Burst:             cfg.RemoteAPIBurst,
	}, collector)
	clients := syncer.ClientFactoryFunc(func(token string) syncer.RemoteClient {
		return factory.New(token)
	})

	engine := syncer.NewEngine(repos, clients, security.NewTextSanitizer(), collector, logger, syncer.Config{
		MaxConcurrentUsers: cfg.SyncMaxConcurrent,
		RunTimeout:         cfg.SyncRunTimeout,
	})

	return &syncStack{
		engine:    engine,
		repos:     repos,
		sessions:  repository.NewPostgresSessionRepo(db),
		logs:      logs,
		collector: collector,
		registry:  reg,
	}, nil
}

// newTriggerQueue はローカル変更後の同期依頼を処理するキューを生成する。
func newTriggerQueue(cfg *config.Config, stack *syncStack, logger *slog.Logger) *syncjob.Queue {
	return syncjob.NewQueue(stack.engine, stack.collector, logger, syncjob.QueueConfig{
		Size:       cfg.SyncQueueSize,
		Workers:    cfg.SyncQueueWorkers,
		RunTimeout: cfg.SyncRunTimeout,
		RetryDelay: cfg.SyncQueueRetry,
	})
}

// newAPIHandler はサービス層を組み立て、APIルーターを返す。
func newAPIHandler(
	cfg *config.Config,
	db handler.Pinger,
	stack *syncStack,
	trigger *syncjob.Queue,
	rateLimiter *middleware.RateLimiter,
	logger *slog.Logger,
) http.Handler {
	projectService := project.NewService(stack.repos.Projects, trigger, stack.engine, logger)
	taskService := task.NewService(stack.repos.Tasks, stack.repos.Projects, trigger, stack.engine, logger)
	userService := user.NewService(stack.repos.Users, trigger, logger)

	return handler.NewRouter(&handler.RouterDeps{
		SessionFinder:     stack.sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            logger,

		DB:             db,
		MetricsHandler: metrics.Handler(stack.registry),

		ProjectService: projectService,
		TaskService:    taskService,
		UserService:    userService,
		SyncService:    stack.engine,

		StatusRecentLogs: cfg.StatusRecentLogs,
		SyncRunTimeout:   cfg.SyncRunTimeout,
	})
}
