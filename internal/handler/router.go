package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/userdir/internal/metrics"
	"github.com/hitoshi/userdir/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CreateRatePerMin  int

	// ヘルスチェック
	HealthChecker HealthChecker
	HealthTimeout time.Duration

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → Metrics → SecurityHeaders → CORS → RateLimit(General)
//
// ヘルスチェック（/health）はレート制限の外に配置する。
// POST /api/users には作成専用のレート制限を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecker, deps.HealthTimeout))

	userHandler := NewUserHandler(deps.UserService, collector)

	var createMW func(http.Handler) http.Handler
	if deps.CreateRatePerMin > 0 {
		createMW = middleware.NewCreateRateLimitMiddleware(deps.CreateRatePerMin)
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}
		mountUserRoutes(r, userHandler, createMW)
	})

	return r
}
