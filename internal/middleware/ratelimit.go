package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/unimarket/internal/model"
)

// レート制限のバケット名
const (
	LimitGeneral = "general"
	LimitListing = "listing"
	LimitMessage = "message"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	ListingRate     rate.Limit    // 出品登録のレート（req/sec）。10/60
	ListingBurst    int           // 出品登録のバーストサイズ
	MessageRate     rate.Limit    // メッセージ送信のレート（req/sec）。30/60
	MessageBurst    int           // メッセージ送信のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、出品登録 10 req/min/user、メッセージ送信 30 req/min/user
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PerMinuteConfig(120, 10, 30)
}

// PerMinuteConfig は1分あたりのリクエスト数からレート制限設定を生成する。
// バーストサイズは1分あたりの上限と同じ値にする。
func PerMinuteConfig(general, listing, message int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(general) / 60.0),
		GeneralBurst:    general,
		ListingRate:     rate.Limit(float64(listing) / 60.0),
		ListingBurst:    listing,
		MessageRate:     rate.Limit(float64(message) / 60.0),
		MessageBurst:    message,
		CleanupInterval: 5 * time.Minute,
	}
}

// actorLimiter は行為者ごとのレートリミッターとアクセス時刻を保持する。
type actorLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// bucket は1種類のレート制限について行為者ごとのリミッターを管理する。
type bucket struct {
	rate  rate.Limit
	burst int

	mu       sync.RWMutex
	limiters map[string]*actorLimiter
}

// RateLimiter は行為者ごとのレート制限を管理する。
// API全般、出品登録、メッセージ送信のバケットは互いに独立に動作する。
type RateLimiter struct {
	config  RateLimiterConfig
	buckets map[string]*bucket

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config: config,
		buckets: map[string]*bucket{
			LimitGeneral: newBucket(config.GeneralRate, config.GeneralBurst),
			LimitListing: newBucket(config.ListingRate, config.ListingBurst),
			LimitMessage: newBucket(config.MessageRate, config.MessageBurst),
		},
		stopCh: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

func newBucket(r rate.Limit, burst int) *bucket {
	return &bucket{
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*actorLimiter),
	}
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼び出しても安全。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.Middleware(LimitGeneral)
}

// ListingMiddleware は出品登録専用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) ListingMiddleware() func(next http.Handler) http.Handler {
	return rl.Middleware(LimitListing)
}

// MessageMiddleware はメッセージ送信専用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) MessageMiddleware() func(next http.Handler) http.Handler {
	return rl.Middleware(LimitMessage)
}

// Middleware は指定したバケットのレート制限ミドルウェアを返す。
// リクエストコンテキストに行為者が含まれている必要がある（RequireActorの後に配置）。
// 未知のバケット名を指定した場合はpanicする。
func (rl *RateLimiter) Middleware(name string) func(next http.Handler) http.Handler {
	b, ok := rl.buckets[name]
	if !ok {
		panic("middleware: unknown rate limit bucket " + name)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if !b.get(actor.ID).Allow() {
				writeRateLimitResponse(w, b.rate)
				slog.Warn("rate limit exceeded",
					slog.String("actor_id", actor.ID),
					slog.String("limit_type", name),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は指定したバケットで現在管理されているエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LimiterCount(name string) int {
	b, ok := rl.buckets[name]
	if !ok {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.limiters)
}

// get は行為者のリミッターを取得または作成する。
func (b *bucket) get(actorID string) *rate.Limiter {
	b.mu.RLock()
	al, exists := b.limiters[actorID]
	b.mu.RUnlock()

	if exists {
		b.mu.Lock()
		al.lastAccess = time.Now()
		b.mu.Unlock()
		return al.limiter
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// ダブルチェック
	if al, exists := b.limiters[actorID]; exists {
		al.lastAccess = time.Now()
		return al.limiter
	}

	limiter := rate.NewLimiter(b.rate, b.burst)
	b.limiters[actorID] = &actorLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// evict は最終アクセスからttlを超えたエントリを削除する。
func (b *bucket) evict(now time.Time, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for actorID, al := range b.limiters {
		if now.Sub(al.lastAccess) > ttl {
			delete(b.limiters, actorID)
		}
	}
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()
	for _, b := range rl.buckets {
		b.evict(now, ttl)
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitExceededError())
}
