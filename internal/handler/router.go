package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/acadtrust/internal/middleware"
)

// healthCheckTimeout はヘルスチェック時のDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はヘルスチェックで疎通を確認する依存先。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 運用
	HealthChecker  HealthChecker // nilの場合はDB確認を省略する
	MetricsHandler http.Handler  // nilの場合は/metricsを公開しない

	// アカウント
	AccountService AccountServiceInterface

	// 信頼レベル検証
	TrustService       TrustServiceInterface
	VerificationConfig VerificationHandlerConfig

	// コメント・モデレーション
	ModerationService ModerationServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → Auth → RateLimit(General)
//
// 検証エンドポイント（DOI・メール送信）には検証専用のレート制限を追加する。
// 登録・ログイン・コールバック・メール確認は認証グループの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AccountService)
	verifyHandler := NewVerificationHandler(deps.TrustService, deps.VerificationConfig)
	commentHandler := NewCommentHandler(deps.ModerationService)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証不要のルート ---
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)
	})
	r.Get("/api/verify/orcid/callback", verifyHandler.CallbackORCID)
	r.Get("/api/verify/email/confirm", verifyHandler.ConfirmEmail)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/auth/me", authHandler.Me)

		r.Route("/api/verify", func(r chi.Router) {
			r.Get("/orcid/authorize", verifyHandler.AuthorizeORCID)

			// 外部サービスを呼ぶ検証は検証専用のレート制限を追加
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.VerificationMiddleware())
				r.Post("/doi", verifyHandler.VerifyDOI)
				r.Post("/email", verifyHandler.RequestEmail)
			})
		})

		r.Post("/api/posts/{postID}/comments", commentHandler.CreateComment)

		r.Route("/api/moderation/comments", func(r chi.Router) {
			r.Get("/pending", commentHandler.ListPending)
			r.Post("/{id}/approve", commentHandler.Approve)
		})
	})

	return r
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// healthHandler は稼働確認用のハンドラーを返す。
// DBに到達できない場合は503を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := checker.PingContext(ctx); err != nil {
			slog.WarnContext(r.Context(), "health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Database: "unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "ok"})
	}
}
