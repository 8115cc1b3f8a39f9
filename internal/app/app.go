package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/weekplanner/internal/auth"
	"github.com/hitoshi/weekplanner/internal/changefeed"
	"github.com/hitoshi/weekplanner/internal/config"
	"github.com/hitoshi/weekplanner/internal/database"
	"github.com/hitoshi/weekplanner/internal/handler"
	"github.com/hitoshi/weekplanner/internal/logger"
	"github.com/hitoshi/weekplanner/internal/metrics"
	"github.com/hitoshi/weekplanner/internal/middleware"
	"github.com/hitoshi/weekplanner/internal/notify"
	"github.com/hitoshi/weekplanner/internal/repository"
	"github.com/hitoshi/weekplanner/internal/security"
	"github.com/hitoshi/weekplanner/internal/user"
	"github.com/hitoshi/weekplanner/internal/worker/cleanup"
	"github.com/hitoshi/weekplanner/internal/worker/reminder"
	"github.com/hitoshi/weekplanner/internal/workspace"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// 読み込み後はLOG_LEVELに従ってログレベルを設定し直す。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newRegistry はプロセス・Goランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newBroadcaster はSSRF対策済みのHTTPクライアントで送信するBroadcasterを構築する。
func newBroadcaster(cfg *config.Config, pushRepo *repository.PostgresPushSubscriptionRepo, guard security.SSRFGuardService, collector *metrics.Collector) *notify.Broadcaster {
	client := notify.NewClient(guard.NewSafeClient(cfg.PushTimeout), slog.Default())
	return notify.NewBroadcaster(pushRepo, client, cfg.PushRate, collector, slog.Default())
}

// rateLimiterConfig はreq/min単位の設定値をreq/secのレートに変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitWrite > 0 {
		rl.WriteRate = rate.Limit(float64(cfg.RateLimitWrite) / 60.0)
		rl.WriteBurst = max(cfg.RateLimitWrite/2, 1)
	}
	return rl
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバー・変更通知の配送・
// セッションのクリーンアップを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	goalRepo := repository.NewPostgresGoalRepo(db)
	pushRepo := repository.NewPostgresPushSubscriptionRepo(db)

	// 3. メトリクスとセキュリティ
	registry := newRegistry()
	collector := metrics.NewCollector(registry)
	ssrfGuard := security.NewSSRFGuard(cfg.PushAllowInsecure)

	// 4. セッションごとのワークスペース
	manager := workspace.NewManager(workspace.Deps{
		Goals:     goalRepo,
		Sessions:  sessionRepo,
		Sanitizer: security.NewTextSanitizer(),
		Metrics:   collector,
		Logger:    slog.Default(),
	})

	// 5. ドメインサービスの初期化
	authService := auth.NewService(
		userRepo, sessionRepo, auth.NewBcryptHasher(cfg.BcryptCost),
		auth.ServiceConfig{
			SessionMaxAge:     cfg.SessionMaxAge,
			MinPasswordLength: cfg.MinPasswordLength,
		},
	)
	userService := user.NewService(userRepo, sessionRepo, manager)
	pushRegistry := notify.NewRegistry(pushRepo, ssrfGuard, slog.Default())
	broadcaster := newBroadcaster(cfg, pushRepo, ssrfGuard, collector)

	// 6. 変更通知の購読と配送
	listener := changefeed.NewListener(cfg.DatabaseURL, slog.Default())
	listener.OnReconnect = func() {
		// 切断中に失われた通知を全件取得で補う
		manager.ResyncAll(ctx)
	}
	dispatcher := changefeed.NewDispatcher(listener, goalRepo, manager, collector, slog.Default())
	go func() {
		if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("change feed dispatcher stopped", slog.String("error", err.Error()))
		}
	}()

	// 7. 期限切れセッションのクリーンアップ
	cleanupJob := cleanup.NewCleanupJob(sessionRepo, manager, slog.Default())
	go cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	// 8. ルーターの構築
	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterConfig(cfg)),
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger:         slog.Default(),
		StatusObserver: collector,

		HealthChecker:   db,
		MetricsGatherer: registry,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Workspaces:     handler.NewWorkspaceAdapter(manager),
		OriginPatterns: cfg.WSOriginPatterns,

		PushService:  pushRegistry,
		TestNotifier: broadcaster,
		UserService:  handler.NewUserServiceAdapter(userService),
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	// WebSocketのイベントストリームは長時間接続のため、WriteTimeoutは設定しない。
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// WebSocket接続はShutdownで待たれないため、先にワークスペースを閉じて購読を終わらせる
	server.RegisterOnShutdown(func() {
		manager.CloseAll()
	})
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、日次リマインダーのジョブを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）と停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. 送信経路の初期化
	pushRepo := repository.NewPostgresPushSubscriptionRepo(db)
	collector := metrics.NewCollector(prometheus.NewRegistry())
	broadcaster := newBroadcaster(cfg, pushRepo, security.NewSSRFGuard(cfg.PushAllowInsecure), collector)

	// 3. リマインダーの起動
	job := reminder.NewJob(broadcaster, repository.NewPostgresReminderRunRepo(db), collector, slog.Default(), reminder.Config{
		Hour:         cfg.ReminderHour,
		Minute:       cfg.ReminderMinute,
		Location:     cfg.ReminderLocation,
		PollInterval: cfg.ReminderPollInterval,
		Message:      notify.ReminderMessage,
	})

	slog.Info("worker starting",
		slog.String("reminder_at", fmt.Sprintf("%02d:%02d", cfg.ReminderHour, cfg.ReminderMinute)),
		slog.String("timezone", cfg.ReminderLocation.String()),
		slog.Float64("push_rate", cfg.PushRate),
	)

	// メインgoroutineで実行（ブロッキング）
	job.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
