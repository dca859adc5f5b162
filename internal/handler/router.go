package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/tasksync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 運用エンドポイント
	DB             Pinger
	MetricsHandler http.Handler

	ProjectService ProjectServiceInterface
	TaskService    TaskServiceInterface
	UserService    UserServiceInterface
	SyncService    SyncServiceInterface

	// StatusRecentLogs は同期ステータスに含める同期ログの件数。
	StatusRecentLogs int
	// SyncRunTimeout は即時同期1回の時間の上限。0なら無制限。
	SyncRunTimeout time.Duration
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → Session → RateLimit(General)
//
// /health と /metrics は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	projectHandler := NewProjectHandler(deps.ProjectService, deps.Logger)
	taskHandler := NewTaskHandler(deps.TaskService, deps.Logger)
	userHandler := NewUserHandler(deps.UserService, deps.Logger)
	syncHandler := NewSyncHandler(deps.SyncService, deps.StatusRecentLogs, deps.SyncRunTimeout, deps.Logger)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.DB, deps.Logger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, deps.Logger))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", projectHandler.List)
			r.Post("/", projectHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", projectHandler.Get)
				r.Put("/", projectHandler.Update)
				r.Delete("/", projectHandler.Delete)
			})
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.List)
			r.Post("/", taskHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", taskHandler.Get)
				r.Put("/", taskHandler.Update)
				r.Delete("/", taskHandler.Delete)
			})
		})

		r.Route("/users/me", func(r chi.Router) {
			r.Get("/", userHandler.Profile)
			r.Put("/remote-token", userHandler.ConnectRemote)
			r.Delete("/remote-token", userHandler.DisconnectRemote)
		})

		r.Route("/sync", func(r chi.Router) {
			// 手動同期と再試行には専用のレート制限も適用する
			r.With(deps.RateLimiter.SyncTriggerMiddleware()).Post("/trigger", syncHandler.Trigger)
			r.With(deps.RateLimiter.SyncTriggerMiddleware()).Post("/retry", syncHandler.Retry)
			r.Get("/status", syncHandler.Status)
		})
	})

	return r
}
