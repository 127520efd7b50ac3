package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/metrics"
	"github.com/hitoshi/unimarket/internal/middleware"
	"github.com/hitoshi/unimarket/internal/model"
)

// tokenResolver はトークンと行為者IDの対応表で行為者を解決するテスト用のリゾルバー。
type tokenResolver struct {
	tokens map[string]string
}

func (r *tokenResolver) Resolve(req *http.Request) (*auth.Resolution, error) {
	token, source := auth.BearerToken(req)
	if token == "" {
		return &auth.Resolution{}, nil
	}
	if token == "provider-down" {
		return nil, auth.Unavailable("get user", errors.New("connection refused"))
	}
	id, ok := r.tokens[token]
	if !ok {
		return nil, auth.Invalid("get user", errors.New("invalid JWT"))
	}
	return &auth.Resolution{
		Actor:      &model.Actor{ID: id},
		Token:      token,
		Source:     source,
		SessionKey: "session-" + id,
	}, nil
}

type mockActivityChecker struct {
	checkFn func(ctx context.Context, key string) error
}

func (m *mockActivityChecker) Check(ctx context.Context, key, accessToken string) error {
	if m.checkFn != nil {
		return m.checkFn(ctx, key)
	}
	return nil
}

type testRouterOptions struct {
	activityChecker middleware.ActivityChecker
	accountService  AccountServiceInterface
	rateLimit       middleware.RateLimiterConfig
}

func createTestRouter(t *testing.T, opts testRouterOptions) http.Handler {
	t.Helper()

	rlCfg := opts.rateLimit
	if rlCfg.GeneralRate == 0 {
		rlCfg = middleware.DefaultRateLimiterConfig()
	}
	rl := middleware.NewRateLimiter(rlCfg)
	t.Cleanup(rl.Stop)

	accountService := opts.accountService
	if accountService == nil {
		accountService = &mockAccountService{}
	}

	reg := prometheus.NewRegistry()
	deps := &RouterDeps{
		HealthChecker:     &mockHealthChecker{},
		Resolver:          &tokenResolver{tokens: map[string]string{"token-alice": "alice", "token-bob": "bob"}},
		ActivityChecker:   opts.activityChecker,
		CORSAllowedOrigin: "http://localhost:5173",
		HSTS:              true,
		RateLimiter:       rl,
		Metrics:           metrics.NewCollector(reg),
		MetricsGatherer:   reg,
		AccountService:    accountService,
		ProfileService:    &mockProfileService{},
		ListingService:    &mockListingService{},
		CartService:       &mockCartService{},
		MessageService:    &mockMessageService{},
	}
	return NewRouter(deps)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func bearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestNewRouter_PublicRoutes_NoAuthRequired(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/health", ""},
		{http.MethodGet, "/metrics", ""},
		{http.MethodGet, "/api/csrf-token", ""},
		{http.MethodGet, "/search?query=lamp", ""},
		{http.MethodGet, "/api/products/search", ""},
		{http.MethodGet, "/api/featured-products", ""},
		{http.MethodGet, "/api/listings/listing-1", ""},
		{http.MethodPost, "/api/forgot-password", `{"email":"a@uni.edu"}`},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := serve(router, req)

			if w.Code == http.StatusUnauthorized || w.Code == http.StatusForbidden || w.Code == http.StatusNotFound {
				t.Errorf("%s %s status = %d, want public access", tt.method, tt.path, w.Code)
			}
		})
	}
}

func TestNewRouter_PublicRoute_InvalidCredential_StillServed(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	req := bearer(httptest.NewRequest(http.MethodGet, "/api/featured-products", nil), "garbage")
	w := serve(router, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_ProtectedRoutes_RequireActor(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/logout"},
		{http.MethodPost, "/api/session/heartbeat"},
		{http.MethodGet, "/api/profile"},
		{http.MethodPut, "/api/profile"},
		{http.MethodPost, "/api/profile/picture"},
		{http.MethodPost, "/api/change-password"},
		{http.MethodPost, "/uploadProduct"},
		{http.MethodGet, "/api/my-listings"},
		{http.MethodGet, "/api/my-listings/stats"},
		{http.MethodPatch, "/api/my-listings/listing-1"},
		{http.MethodDelete, "/api/my-listings/listing-1"},
		{http.MethodGet, "/api/cart"},
		{http.MethodPost, "/api/cart"},
		{http.MethodDelete, "/api/cart"},
		{http.MethodGet, "/api/cart/count"},
		{http.MethodPatch, "/api/cart/c1"},
		{http.MethodDelete, "/api/cart/c1"},
		{http.MethodPost, "/api/checkout"},
		{http.MethodGet, "/api/purchases"},
		{http.MethodGet, "/api/balance"},
		{http.MethodGet, "/api/conversations"},
		{http.MethodPost, "/api/conversations"},
		{http.MethodGet, "/api/messages/conv-1"},
		{http.MethodPost, "/api/messages"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := serve(router, httptest.NewRequest(rt.method, rt.path, nil))

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", body["code"], model.ErrCodeUnauthorized)
			}
		})
	}
}

func TestNewRouter_ProtectedRoute_InvalidToken_Returns401InvalidCredential(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	w := serve(router, bearer(httptest.NewRequest(http.MethodGet, "/api/cart", nil), "expired-jwt"))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeInvalidCredential {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeInvalidCredential)
	}
}

func TestNewRouter_ProtectedRoute_ProviderDown_Returns503(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	w := serve(router, bearer(httptest.NewRequest(http.MethodGet, "/api/cart", nil), "provider-down"))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestNewRouter_BearerPOST_SkipsCSRF(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	req := bearer(jsonRequest(t, http.MethodPost, "/api/cart", map[string]any{"listing_id": "l1", "quantity": 1}), "token-alice")
	w := serve(router, req)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
	}
}

func TestNewRouter_CookiePOST_RequiresCSRF(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	req := httptest.NewRequest(http.MethodPost, "/api/session/heartbeat", nil)
	req.AddCookie(&http.Cookie{Name: auth.AccessTokenCookie, Value: "token-alice"})
	w := serve(router, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeCSRFFailed {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeCSRFFailed)
	}
}

func TestNewRouter_CookiePOST_WithCSRF_Succeeds(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	req := httptest.NewRequest(http.MethodPost, "/api/session/heartbeat", nil)
	req.AddCookie(&http.Cookie{Name: auth.AccessTokenCookie, Value: "token-alice"})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "csrf-abc"})
	req.Header.Set("X-CSRF-Token", "csrf-abc")
	w := serve(router, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestNewRouter_ExpiredSession_Returns401SessionExpired(t *testing.T) {
	var gotKey string
	checker := &mockActivityChecker{
		checkFn: func(ctx context.Context, key string) error {
			gotKey = key
			return &auth.Error{Kind: auth.KindUnauthenticated, Op: "check activity", Reason: auth.ReasonSessionExpired}
		},
	}
	router := createTestRouter(t, testRouterOptions{activityChecker: checker})

	w := serve(router, bearer(httptest.NewRequest(http.MethodGet, "/api/profile", nil), "token-bob"))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeSessionExpired {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeSessionExpired)
	}
	if gotKey != "session-bob" {
		t.Errorf("session key = %q, want session-bob", gotKey)
	}
}

func TestNewRouter_LogoutAfterTimeout_SignsOutAndClearsCookies(t *testing.T) {
	checker := &mockActivityChecker{
		checkFn: func(ctx context.Context, key string) error {
			return &auth.Error{Kind: auth.KindUnauthenticated, Op: "check activity", Reason: auth.ReasonSessionExpired}
		},
	}
	var gotToken string
	var gotScope auth.SignOutScope
	svc := &mockAccountService{
		signOutFn: func(ctx context.Context, accessToken string, scope auth.SignOutScope) error {
			gotToken = accessToken
			gotScope = scope
			return nil
		},
	}
	router := createTestRouter(t, testRouterOptions{activityChecker: checker, accountService: svc})

	w := serve(router, bearer(httptest.NewRequest(http.MethodPost, "/logout?scope=local", nil), "token-alice"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if gotToken != "token-alice" || gotScope != auth.ScopeLocal {
		t.Errorf("SignOut(%q, %q), want (token-alice, local)", gotToken, gotScope)
	}
	for _, name := range []string{auth.AccessTokenCookie, auth.RefreshTokenCookie} {
		if c := findCookie(w, name); c == nil || c.MaxAge >= 0 {
			t.Errorf("cookie %s = %+v, want cleared", name, c)
		}
	}
}

func TestNewRouter_PublicRoutes_SkipActivityCheck(t *testing.T) {
	checker := &mockActivityChecker{
		checkFn: func(ctx context.Context, key string) error {
			t.Error("activity should not be checked on public routes")
			return nil
		},
	}
	router := createTestRouter(t, testRouterOptions{activityChecker: checker})

	w := serve(router, bearer(httptest.NewRequest(http.MethodGet, "/api/featured-products", nil), "token-alice"))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_ListingUploadRateLimit(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{rateLimit: middleware.RateLimiterConfig{
		GeneralRate:     10,
		GeneralBurst:    10,
		ListingRate:     0.01,
		ListingBurst:    1,
		MessageRate:     10,
		MessageBurst:    10,
		CleanupInterval: time.Minute,
	}})

	upload := func() *httptest.ResponseRecorder {
		req := multipartRequest(t, "/uploadProduct", map[string]string{"title": "x"}, "a.jpg", []byte("x"))
		return serve(router, bearer(req, "token-alice"))
	}

	if w := upload(); w.Code != http.StatusCreated {
		t.Fatalf("first upload status = %d, want %d", w.Code, http.StatusCreated)
	}
	if w := upload(); w.Code != http.StatusTooManyRequests {
		t.Errorf("second upload status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// 他の認証済みルートには影響しない
	if w := serve(router, bearer(httptest.NewRequest(http.MethodGet, "/api/my-listings", nil), "token-alice")); w.Code != http.StatusOK {
		t.Errorf("my-listings status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_SecurityHeadersAndCORS(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := serve(router, req)

	if got := w.Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("expected Strict-Transport-Security header")
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestNewRouter_MetricsExposeResolutions(t *testing.T) {
	router := createTestRouter(t, testRouterOptions{})

	serve(router, httptest.NewRequest(http.MethodGet, "/api/featured-products", nil))
	w := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "unimarket_http_status_total") {
		t.Error("expected unimarket_http_status_total in metrics output")
	}
}
