package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/auth"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/config"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/database"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/handler"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/logger"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/metrics"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/middleware"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/repository"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/security"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/session"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/telemetry"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/user"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/worker/sweep"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Warn("LOG_LEVELが不正なためinfoを使用します", slog.String("log_level", cfg.LogLevel))
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// SIGINTまたはSIGTERMでキャンセルされるコンテキストでコマンドを実行する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return RunContext(ctx, w, args)
}

// RunContext はctxのキャンセルで停止するRun。
func RunContext(ctx context.Context, w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// runWithConfig は設定を読み込んでからfnを実行する。
func runWithConfig(w io.Writer, command string, fn func(cfg *config.Config) error) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", command),
		slog.String("version", Version),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
	)

	return fn(cfg)
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// sessionStore はSESSION_STOREで選択したセッションストアと、その疎通確認・後始末をまとめる。
type sessionStore struct {
	repo   repository.SessionRepository
	pinger handler.Pinger
	close  func() error
}

// openSessionStore は設定に応じてPostgreSQLまたはRedisのセッションストアを開く。
// PostgreSQLの場合はdbを共有するため、closeは何もしない。
func openSessionStore(ctx context.Context, cfg *config.Config, db *sql.DB) (*sessionStore, error) {
	if cfg.SessionStore != config.SessionStoreRedis {
		return &sessionStore{
			repo:  repository.NewPostgresSessionRepo(db),
			close: func() error { return nil },
		}, nil
	}

	client, err := database.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	slog.Info("redis connection established")
	repo := repository.NewRedisSessionRepo(client)
	return &sessionStore{
		repo:   repo,
		pinger: handler.PingerFunc(repo.Ping),
		close:  client.Close,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーと期限切れセッションの削除ジョブを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := openSessionStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer store.close()

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(registry)

	tp, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		Exporter:       cfg.TracingExporter,
		ServiceVersion: Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			slog.Warn("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	// 3. リポジトリとセッション管理
	userRepo := repository.NewPostgresUserRepo(db)
	sessions := session.NewManager(store.repo, session.Config{MaxAge: cfg.SessionMaxAge}, mc)

	adminPolicy := auth.SingleAdminPolicy{Email: cfg.AdminEmail}
	gate := auth.NewGate(sessions, userRepo, adminPolicy, mc)

	// 4. 本人確認
	ssrfGuard := security.NewSSRFGuard()
	hasher := auth.NewBcryptHasher(cfg.BcryptCost, runtime.NumCPU(), mc)
	resolver := auth.NewResolver(userRepo, hasher, ssrfGuard, security.NewProfileSanitizer())

	authDeps := auth.ServiceDeps{
		Resolver: resolver,
		Sessions: sessions,
		Gate:     gate,
		Metrics:  mc,
	}
	if cfg.GoogleEnabled() {
		authDeps.Google = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			HTTPClient:   ssrfGuard.NewSafeClient(cfg.HTTPClientTimeout),
		})
	}
	if cfg.PlatformEnabled() {
		platform, err := auth.NewPlatformTokenVerifier(ctx, auth.PlatformConfig{
			Issuer:     cfg.PlatformIssuer,
			Audience:   cfg.PlatformAudience,
			JWKSURL:    cfg.PlatformJWKSURL,
			HTTPClient: ssrfGuard.NewSafeClient(cfg.HTTPClientTimeout),
		})
		if err != nil {
			return fmt.Errorf("failed to set up platform token verifier: %w", err)
		}
		authDeps.Platform = platform
	}
	authService := auth.NewService(authDeps)
	userService := user.NewService(userRepo, sessions)

	slog.Info("identity providers configured",
		slog.Bool("google", cfg.GoogleEnabled()),
		slog.Bool("platform", cfg.PlatformEnabled()),
		slog.String("tracing_exporter", cfg.TracingExporter),
	)

	// 5. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate, rateLimiterCfg.GeneralBurst = middleware.PerMinute(cfg.RateLimitGeneral)
	rateLimiterCfg.LoginRate, rateLimiterCfg.LoginBurst = middleware.PerMinute(cfg.RateLimitLogin)
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	healthChecks := map[string]handler.Pinger{"postgres": db}
	if store.pinger != nil {
		healthChecks["redis"] = store.pinger
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Gate:              gate,
		AdminPolicy:       adminPolicy,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			Secret:       []byte(cfg.SessionSecret),
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		UserService: userService,

		HealthChecks:   healthChecks,
		MetricsHandler: metrics.Handler(registry),
	})

	// 6. 期限切れセッションの削除ジョブ
	if cfg.SweepInterval > 0 {
		sweeper := sweep.NewSweepJob(store.repo, slog.Default(), mc)
		sweeper.BatchSize = cfg.SweepBatchSize
		go sweeper.Start(ctx, cfg.SweepInterval)
	}

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runSweep は期限切れセッションの削除を実行する。
// watchがtrueの場合はSWEEP_INTERVAL間隔でctxがキャンセルされるまで繰り返す。
func runSweep(ctx context.Context, cfg *config.Config, watch bool) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := openSessionStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer store.close()

	sweeper := sweep.NewSweepJob(store.repo, slog.Default(), metrics.Nop{})
	sweeper.BatchSize = cfg.SweepBatchSize

	if watch {
		if cfg.SweepInterval <= 0 {
			return fmt.Errorf("SWEEP_INTERVAL must be positive for --watch, got %s", cfg.SweepInterval)
		}
		slog.Info("sweeper starting", slog.Duration("interval", cfg.SweepInterval))
		sweeper.Start(ctx, cfg.SweepInterval)
		slog.Info("sweeper stopped gracefully")
		return nil
	}

	if _, err := sweeper.Run(ctx); err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// actionはup（未適用をすべて適用）、down（steps件取り消し）、version（現在のバージョンを表示）のいずれか。
func runMigrate(out io.Writer, cfg *config.Config, action string, steps int) error {
	slog.Info("running database migrations",
		slog.String("action", action),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case migrateUp:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case migrateDown:
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case migrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "version=%d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}

	slog.Info("database migrations completed successfully", slog.String("action", action))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// URLとして解釈できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
