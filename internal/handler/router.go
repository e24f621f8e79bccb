package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Gate              middleware.SessionGate
	AdminPolicy       middleware.AdminChecker
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// アカウント
	UserService UserServiceInterface

	// 運用
	HealthChecks   map[string]Pinger
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → CSRF
//	  /api/auth/{login,register,platform}: → LoginRateLimit
//	  /api/users/*:  → Session → RateLimit(General)
//	  /api/admin/*:  → Session → RateLimit(General) → Admin
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AdminPolicy, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, deps.AdminPolicy, deps.AuthConfig)
	adminHandler := NewAdminHandler(deps.UserService, deps.AdminPolicy)

	// --- CSRF対象外のエンドポイント ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecks))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		// --- 認証ルート ---
		r.Route("/api/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.LoginMiddleware())
				r.Post("/register", authHandler.Register)
				r.Post("/login", authHandler.Login)
				r.Post("/platform", authHandler.PlatformLogin)
			})

			r.Get("/google/login", authHandler.GoogleLogin)
			r.Get("/google/callback", authHandler.GoogleCallback)
			r.Post("/logout", authHandler.Logout)
			r.Get("/user", authHandler.CurrentUser)
		})

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: Session → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.Gate))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Route("/api/users/me", func(r chi.Router) {
				r.Get("/", userHandler.Me)
				r.Get("/sessions", userHandler.ListSessions)
				r.Post("/sessions/revoke", userHandler.RevokeSessions)
			})

			r.Route("/api/admin", func(r chi.Router) {
				r.Use(middleware.NewAdminMiddleware(deps.Gate))
				r.Get("/users/{id}", adminHandler.GetUser)
			})
		})
	})

	return r
}
