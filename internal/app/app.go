package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/unimarket/internal/account"
	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/cart"
	"github.com/hitoshi/unimarket/internal/config"
	"github.com/hitoshi/unimarket/internal/database"
	"github.com/hitoshi/unimarket/internal/handler"
	"github.com/hitoshi/unimarket/internal/identity"
	"github.com/hitoshi/unimarket/internal/listing"
	"github.com/hitoshi/unimarket/internal/logger"
	"github.com/hitoshi/unimarket/internal/message"
	"github.com/hitoshi/unimarket/internal/metrics"
	"github.com/hitoshi/unimarket/internal/middleware"
	"github.com/hitoshi/unimarket/internal/profile"
	"github.com/hitoshi/unimarket/internal/repository"
	"github.com/hitoshi/unimarket/internal/security"
	"github.com/hitoshi/unimarket/internal/storage"
	"github.com/hitoshi/unimarket/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	if err := config.LoadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck とloadtest はDBを使わないため、フル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	case CommandLoadtest:
		logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))
		if err := config.LoadEnvFile(); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		ltCfg, err := LoadtestConfigFromEnv()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		report, err := runLoadtest(ctx, ltCfg)
		if err != nil {
			return err
		}
		report.Log(slog.Default())
		return nil
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

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB・Redis・オブジェクトストレージに接続し、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(context.Background(), db, 10*time.Second); err != nil {
		return err
	}

	slog.Info("database connection established",
		slog.Int("max_open_conns", database.DefaultPoolOptions.MaxOpenConns),
	)

	// 2. リポジトリの初期化
	studentRepo := repository.NewPostgresStudentRepo(db)
	listingRepo := repository.NewPostgresListingRepo(db)
	cartRepo := repository.NewPostgresCartRepo(db)
	purchaseRepo := repository.NewPostgresPurchaseRepo(db)
	conversationRepo := repository.NewPostgresConversationRepo(db)

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 4. IdPクライアントと認証ゲート
	parser := auth.NewTokenParser(cfg.IdentityJWTSecret)
	idp := identity.NewClient(identity.Config{
		BaseURL: cfg.IdentityURL,
		AnonKey: cfg.IdentityAnonKey,
		Timeout: cfg.IdentityTimeout,
	}, parser, collector)
	gate := auth.NewGate(idp, parser, collector)

	// 5. サーバー側のアクティビティ追跡（REDIS_URL未設定の場合は無効）
	policy := cfg.SessionPolicy()
	var tracker *auth.ActivityTracker
	if cfg.RedisURL != "" {
		rdb, err := openRedis(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		tracker = auth.NewActivityTracker(repository.NewRedisActivityRepo(rdb), policy, idp, collector)
		slog.Info("session activity store connected",
			slog.Duration("inactivity_timeout", policy.InactivityTimeout),
		)
	} else {
		slog.Warn("REDIS_URL is not set; server-side inactivity timeout is disabled")
	}

	// 6. オブジェクトストレージ
	blobs, err := storage.New(cfg.Storage())
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	checkBuckets(blobs, cfg.ListingBucket, cfg.ProfileBucket)

	// 7. ドメインサービスの初期化
	sanitizer := security.NewContentSanitizer()
	accountService := account.NewService(idp, studentRepo, tracker, parser)
	profileService := profile.NewService(studentRepo, blobs, sanitizer, cfg.ProfileBucket, cfg.UploadMaxBytes)
	listingService := listing.NewService(listingRepo, blobs, sanitizer, cfg.ListingBucket, cfg.UploadMaxBytes)
	cartService := cart.NewService(cartRepo, listingRepo, purchaseRepo)
	messageService := message.NewService(conversationRepo, listingRepo, sanitizer)

	// 8. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(
		cfg.RateLimitGeneral, cfg.RateLimitListing, cfg.RateLimitMessage,
	))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		HealthChecker:     db,
		Resolver:          gate,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		HSTS:        cfg.CookieSecure,
		RateLimiter: rateLimiter,

		Metrics:         collector,
		MetricsGatherer: reg,

		AccountService: accountService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
		ProfileService: profileService,
		ListingService: listingService,
		CartService:    cartService,
		MessageService: messageService,
	}
	if tracker != nil {
		deps.ActivityChecker = tracker
	}

	router := handler.NewRouter(deps)

	// 9. カートのクリーンアップジョブをバックグラウンドで起動
	jobCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	pruneJob := cleanup.NewCartPruneJob(db, slog.Default(), cfg.CartPruneRetentionDays)
	go pruneJob.Start(jobCtx, cfg.CartPruneInterval)

	// 10. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// openRedis はREDIS_URLからクライアントを生成し、疎通を確認する。
func openRedis(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// checkBuckets はバケットの存在を確認する。起動は継続し、警告のみを出力する。
func checkBuckets(blobs *storage.BlobStore, buckets ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, b := range buckets {
		if err := blobs.Ping(ctx, b); err != nil {
			slog.Warn("storage bucket is not reachable",
				slog.String("bucket", b),
				slog.String("error", err.Error()),
			)
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("changed", status.Changed),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
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
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
