package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/unstabling/internal/metrics"
	"github.com/hitoshi/unstabling/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 投稿・投票
	IdeaService   IdeaServiceInterface
	VoteService   VoteServiceInterface
	FeedService   FeedServiceInterface
	ThreadService ThreadServiceInterface
	BaseURL       string

	// 運用
	Store          Pinger
	HealthHandler  *HealthHandler
	MetricsHandler http.Handler
	Realtime       http.Handler

	// 管理用（AdminTokenが空の場合はルート自体を登録しない）
	Rescorer   RescoreRunner
	AdminToken string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → SecurityHeaders → CORS → RateLimit(General)
//
// 投稿作成と投票には投稿専用のレート制限を追加で適用する。
// /health、/metrics、/wsはレート制限の対象外とする。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	health := deps.HealthHandler
	if health == nil && deps.Store != nil {
		health = NewHealthHandler(deps.Store, time.Now())
	}
	if health != nil {
		r.Method(http.MethodGet, "/health", health)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.Realtime != nil {
		r.Method(http.MethodGet, "/ws", deps.Realtime)
	}

	ideaHandler := NewIdeaHandler(deps.IdeaService, deps.VoteService, deps.FeedService, deps.ThreadService)
	feedXML := NewFeedXMLHandler(deps.FeedService, deps.BaseURL)

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}
		postLimit := func(next http.Handler) http.Handler { return next }
		if deps.RateLimiter != nil {
			postLimit = deps.RateLimiter.PostMiddleware()
		}

		r.Route("/api/ideas", func(r chi.Router) {
			r.Get("/", ideaHandler.List)
			r.With(postLimit).Post("/", ideaHandler.Create)
			r.Method(http.MethodGet, "/feed.xml", feedXML)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", ideaHandler.Get)
				r.With(postLimit).Post("/vote", ideaHandler.Vote)
			})
		})

		if deps.AdminToken != "" && deps.Rescorer != nil {
			admin := NewAdminHandler(deps.Rescorer, deps.AdminToken)
			r.With(admin.RequireToken).Post("/api/admin/rescore", admin.Rescore)
		}
	})

	return r
}
