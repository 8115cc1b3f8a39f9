package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/weekplanner/internal/metrics"
	"github.com/hitoshi/weekplanner/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通を確認する対象。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// healthCheckTimeout はヘルスチェックでの疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger
	StatusObserver    middleware.StatusObserver // nilの場合はステータスを記録しない

	// 運用
	HealthChecker   HealthChecker
	MetricsGatherer prometheus.Gatherer // nilの場合は/metricsを公開しない

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 目標・イベント
	Workspaces     *WorkspaceAdapter
	OriginPatterns []string

	// プッシュ通知
	PushService  PushServiceInterface
	TestNotifier TestNotifier

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS
//	  └ 認証が必要なルート: Session → RateLimit(General) → CSRF
//
// 認証ルート（/auth/*）とヘルスチェックはセッション検証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var observers []middleware.StatusObserver
	if deps.StatusObserver != nil {
		observers = append(observers, deps.StatusObserver)
	}

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, observers...))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// WorkspaceAdapterがnilの場合でもインターフェースにnilポインタを入れない
	var lifecycle WorkspaceLifecycle
	var goalResolver GoalServiceResolver
	var eventResolver EventSourceResolver
	if deps.Workspaces != nil {
		lifecycle = deps.Workspaces
		goalResolver = deps.Workspaces
		eventResolver = deps.Workspaces
	}

	authHandler := NewAuthHandler(deps.AuthService, lifecycle, deps.AuthConfig)
	goalHandler := NewGoalHandler(goalResolver)
	calendarHandler := NewCalendarHandler()
	eventsHandler := NewEventsHandler(eventResolver, deps.OriginPatterns)
	pushHandler := NewPushHandler(deps.PushService, deps.TestNotifier)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.SignUp)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		write := deps.RateLimiter.WriteMiddleware()

		r.Get("/api/calendar", calendarHandler.Week)
		r.Get("/api/events", eventsHandler.Stream)

		r.Route("/api/weeks/{weekKey}/goals", func(r chi.Router) {
			r.Get("/", goalHandler.ListWeek)
			r.With(write).Post("/", goalHandler.CreateWeek)
		})
		r.Route("/api/days/{dayKey}/goals", func(r chi.Router) {
			r.Get("/", goalHandler.ListDay)
			r.With(write).Post("/", goalHandler.CreateDay)
		})
		r.Route("/api/goals/{kind}/{id}", func(r chi.Router) {
			r.With(write).Patch("/", goalHandler.Update)
			r.With(write).Delete("/", goalHandler.Delete)
			r.With(write).Post("/toggle", goalHandler.Toggle)
		})

		r.Route("/api/push", func(r chi.Router) {
			r.Get("/subscriptions", pushHandler.List)
			r.With(write).Post("/subscriptions", pushHandler.Register)
			r.With(write).Delete("/subscriptions/{id}", pushHandler.Unregister)
			r.With(write).Post("/test", pushHandler.SendTest)
		})

		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	return r
}

// healthHandler はDBへの疎通を確認し、結果を返すハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
