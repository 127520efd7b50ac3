package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/unimarket/internal/metrics"
	"github.com/hitoshi/unimarket/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	HealthChecker     HealthChecker
	Resolver          middleware.ActorResolver
	ActivityChecker   middleware.ActivityChecker
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	HSTS              bool
	RateLimiter       *middleware.RateLimiter

	// メトリクス（nilの場合は/metricsを公開しない）
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer

	// 認証・アカウント
	AccountService AccountServiceInterface
	AuthConfig     AuthHandlerConfig

	// プロフィール
	ProfileService ProfileServiceInterface

	// 出品
	ListingService ListingServiceInterface

	// カート・購入
	CartService CartServiceInterface

	// メッセージ
	MessageService MessageServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → SecurityHeaders → Logging → Metrics → CORS → Actor
//
// 認証が必要なルートではさらに以下を適用する:
//
//	RequireActor → Activity → CSRF → RateLimit(General)
//
// /logout はActivityを通さず、非アクティブで失効したセッションも破棄できる。
// 出品登録とメッセージ送信には専用のレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(metrics.Middleware(deps.Metrics))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewActorMiddleware(deps.Resolver))

	authHandler := NewAuthHandler(deps.AccountService, deps.AuthConfig)
	profileHandler := NewProfileHandler(deps.ProfileService)
	listingHandler := NewListingHandler(deps.ListingService)
	cartHandler := NewCartHandler(deps.CartService)
	messageHandler := NewMessageHandler(deps.MessageService)

	// --- 認証不要のルート ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	r.Post("/signin", authHandler.SignIn)
	r.Post("/signup", authHandler.SignUp)
	r.Post("/api/forgot-password", authHandler.ForgotPassword)
	r.Post("/api/restore-session", authHandler.RestoreSession)

	r.Get("/search", listingHandler.Search)
	r.Get("/api/products/search", listingHandler.Search)
	r.Get("/api/featured-products", listingHandler.Featured)
	r.Get("/api/listings/{id}", listingHandler.Get)

	// --- サインアウト（非アクティブ判定なし） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireActor)
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/logout", authHandler.Logout)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireActor)
		r.Use(middleware.NewActivityMiddleware(deps.ActivityChecker))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// セッション
		r.Post("/api/session/heartbeat", authHandler.Heartbeat)
		r.Post("/api/change-password", authHandler.ChangePassword)

		// プロフィール
		r.Route("/api/profile", func(r chi.Router) {
			r.Get("/", profileHandler.Get)
			r.Put("/", profileHandler.Update)
			r.Post("/picture", profileHandler.UploadPicture)
		})

		// 出品管理（登録専用レート制限を追加）
		r.With(deps.RateLimiter.ListingMiddleware()).Post("/uploadProduct", listingHandler.Upload)
		r.Route("/api/my-listings", func(r chi.Router) {
			r.Get("/", listingHandler.ListMine)
			r.Get("/stats", listingHandler.Stats)
			r.Patch("/{id}", listingHandler.Update)
			r.Delete("/{id}", listingHandler.Delete)
		})

		// カート・購入
		r.Route("/api/cart", func(r chi.Router) {
			r.Get("/", cartHandler.List)
			r.Post("/", cartHandler.Add)
			r.Delete("/", cartHandler.Clear)
			r.Get("/count", cartHandler.Count)
			r.Patch("/{id}", cartHandler.UpdateQuantity)
			r.Delete("/{id}", cartHandler.Remove)
		})
		r.Post("/api/checkout", cartHandler.Checkout)
		r.Get("/api/purchases", cartHandler.Purchases)
		r.Get("/api/balance", cartHandler.Balance)

		// メッセージ（送信専用レート制限を追加）
		r.Get("/api/conversations", messageHandler.ListConversations)
		r.Post("/api/conversations", messageHandler.StartConversation)
		r.Get("/api/messages/{conversationID}", messageHandler.GetMessages)
		r.With(deps.RateLimiter.MessageMiddleware()).Post("/api/messages", messageHandler.Send)
	})

	return r
}
