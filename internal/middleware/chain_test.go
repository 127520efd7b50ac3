package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/model"
)

// buildChain は本番と同じ順序でミドルウェアを組み立てる。
// Recovery -> SecurityHeaders -> Logging -> CORS -> Actor -> RequireActor -> Activity -> CSRF -> RateLimit
func buildChain(resolver ActorResolver, checker ActivityChecker, rl *RateLimiter, logger *slog.Logger, final http.Handler) http.Handler {
	protected := RequireActor(NewActivityMiddleware(checker)(NewCSRFMiddleware(CSRFConfig{})(rl.GeneralMiddleware()(final))))
	return NewRecoveryMiddleware(logger)(
		NewSecurityHeadersMiddleware(true)(
			NewLoggingMiddleware(logger)(
				NewCORSMiddleware("http://localhost:3000")(
					NewActorMiddleware(resolver)(protected)))))
}

func TestMiddlewareChain_BearerPOST_PassesAllLayers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	resolver := &mockResolver{
		resolveFn: func(r *http.Request) (*auth.Resolution, error) {
			return actorResolution("user-chain"), nil
		},
	}
	checker := &mockActivityChecker{}

	var captured string
	handler := buildChain(resolver, checker, rl, logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		captured = actor.ID
		w.WriteHeader(http.StatusCreated)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/cart", nil))

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if captured != "user-chain" {
		t.Errorf("actor = %q, want %q", captured, "user-chain")
	}
	if len(checker.keys) != 1 {
		t.Errorf("activity checks = %d, want 1", len(checker.keys))
	}
	if got := w.Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("expected Strict-Transport-Security header")
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want %q", got, "no-store")
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"actor_id":"user-chain"`)) {
		t.Errorf("expected actor_id in log, got %s", buf.String())
	}
}

func TestMiddlewareChain_Anonymous_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := buildChain(&mockResolver{}, &mockActivityChecker{}, rl, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)),
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/cart", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if got := w.Header().Get("WWW-Authenticate"); got == "" {
		t.Error("expected WWW-Authenticate header")
	}
}

// 失効したセッションではCSRFやレート制限に到達する前に拒否されること
func TestMiddlewareChain_ExpiredSession_StopsBeforeCSRF(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	resolver := &mockResolver{
		resolveFn: func(r *http.Request) (*auth.Resolution, error) {
			res := actorResolution("user-expired")
			res.Source = auth.SourceCookie
			return res, nil
		},
	}
	checker := &mockActivityChecker{
		checkFn: func(ctx context.Context, key string) error {
			return &auth.Error{Kind: auth.KindUnauthenticated, Op: "check activity", Reason: auth.ReasonSessionExpired}
		},
	}

	handler := buildChain(resolver, checker, rl, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/cart", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := decodeErrorBody(t, w); body.Code != model.ErrCodeSessionExpired {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeSessionExpired)
	}
	if got := rl.LimiterCount(LimitGeneral); got != 0 {
		t.Errorf("rate limiter should not be reached, count = %d", got)
	}
}

func TestMiddlewareChain_ProviderUnavailable_Returns503(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	resolver := &mockResolver{
		resolveFn: func(r *http.Request) (*auth.Resolution, error) {
			return nil, auth.Unavailable("resolve actor", errors.New("dial tcp: timeout"))
		},
	}

	handler := buildChain(resolver, nil, rl, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/profile", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if got := w.Header().Get("Retry-After"); got == "" {
		t.Error("expected Retry-After header")
	}
}

func TestMiddlewareChain_PanicRecovered(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	resolver := &mockResolver{
		resolveFn: func(r *http.Request) (*auth.Resolution, error) {
			return actorResolution("user-panic"), nil
		},
	}

	handler := buildChain(resolver, nil, rl, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)),
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/profile", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if body := decodeErrorBody(t, w); body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want %q", body.Code, "INTERNAL_ERROR")
	}
}

func TestSecurityHeadersMiddleware_WithoutHSTS(t *testing.T) {
	handler := NewSecurityHeadersMiddleware(false)(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("Strict-Transport-Security = %q, want empty", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}
}
