package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/unimarket/internal/model"
)

// --- モック定義 ---

type mockIdentityProvider struct {
	getUserFn func(ctx context.Context, accessToken string) (*model.Actor, error)
	calls     int
}

func (m *mockIdentityProvider) GetUser(ctx context.Context, accessToken string) (*model.Actor, error) {
	m.calls++
	if m.getUserFn != nil {
		return m.getUserFn(ctx, accessToken)
	}
	return nil, nil
}

type mockResolutionObserver struct {
	results []string
}

func (m *mockResolutionObserver) ObserveResolution(result string) {
	m.results = append(m.results, result)
}

var _ IdentityProvider = (*mockIdentityProvider)(nil)
var _ ResolutionObserver = (*mockResolutionObserver)(nil)

// tokenUsers はトークン文字列ごとにユーザーを返すIdPを生成する。
func tokenUsers(users map[string]*model.Actor) *mockIdentityProvider {
	return &mockIdentityProvider{
		getUserFn: func(_ context.Context, token string) (*model.Actor, error) {
			if a, ok := users[token]; ok {
				return a, nil
			}
			return nil, Invalid("get user", errors.New("invalid JWT"))
		},
	}
}

func requestWithBearer(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

// --- テスト ---

func TestResolveActor_NoCredentialIsAnonymous(t *testing.T) {
	provider := &mockIdentityProvider{}
	observer := &mockResolutionObserver{}
	gate := NewGate(provider, nil, observer)

	requests := map[string]*http.Request{
		"ヘッダーなし": requestWithBearer(""),
		"Bearer以外のスキーム": func() *http.Request {
			r := requestWithBearer("")
			r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
			return r
		}(),
		"空のBearer": func() *http.Request {
			r := requestWithBearer("")
			r.Header.Set("Authorization", "Bearer   ")
			return r
		}(),
		"空のCookie": func() *http.Request {
			r := requestWithBearer("")
			r.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: ""})
			return r
		}(),
	}

	for name, r := range requests {
		t.Run(name, func(t *testing.T) {
			actor, err := gate.ResolveActor(r)
			if err != nil {
				t.Fatalf("anonymous request must not fail, got %v", err)
			}
			if actor != nil {
				t.Errorf("actor = %+v, want nil", actor)
			}
		})
	}

	if provider.calls != 0 {
		t.Errorf("identity provider called %d times for anonymous requests", provider.calls)
	}
	for _, r := range observer.results {
		if r != ResultAnonymous {
			t.Errorf("observed %q, want %q", r, ResultAnonymous)
		}
	}
}

func TestRequireActor_ReturnsProviderReportedActor(t *testing.T) {
	users := map[string]*model.Actor{
		"token-a": {ID: "3F2504E0-4F89-11D3-9A0C-0305E82C3301", Email: "a@example.com"},
		"token-b": {ID: "9b2e5f44-1f0e-4c43-8f87-5c1b2a3d4e5f", Email: "b@example.com"},
	}
	gate := NewGate(tokenUsers(users), nil, nil)

	for token, want := range users {
		actor, err := gate.RequireActor(requestWithBearer(token))
		if err != nil {
			t.Fatalf("RequireActor(%s) unexpected error: %v", token, err)
		}
		if !SameID(actor.ID, want.ID) {
			t.Errorf("actor id = %q, want %q", actor.ID, want.ID)
		}
		if actor.ID != CanonicalID(want.ID) {
			t.Errorf("actor id should be canonical, got %q", actor.ID)
		}
		if actor.Email != want.Email {
			t.Errorf("actor email = %q, want %q", actor.Email, want.Email)
		}
	}
}

func TestRequireActor_AnonymousIsUnauthenticated(t *testing.T) {
	gate := NewGate(&mockIdentityProvider{}, nil, nil)

	_, err := gate.RequireActor(requestWithBearer(""))
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestResolveActor_RejectedCredentialIsInvalid(t *testing.T) {
	observer := &mockResolutionObserver{}
	gate := NewGate(tokenUsers(nil), nil, observer)

	_, err := gate.ResolveActor(requestWithBearer("forged"))
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
	if len(observer.results) != 1 || observer.results[0] != ResultInvalid {
		t.Errorf("observed %v, want [%s]", observer.results, ResultInvalid)
	}
}

func TestResolveActor_ProviderFailureFailsClosed(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"分類済みの障害", Unavailable("get user", errors.New("connection refused"))},
		{"未分類のエラー", errors.New("unexpected EOF")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockIdentityProvider{
				getUserFn: func(context.Context, string) (*model.Actor, error) { return nil, tt.err },
			}
			gate := NewGate(provider, nil, nil)

			actor, err := gate.RequireActor(requestWithBearer("token"))
			if actor != nil {
				t.Errorf("actor = %+v, want nil", actor)
			}
			if !errors.Is(err, ErrProviderUnavailable) {
				t.Errorf("err = %v, want ErrProviderUnavailable", err)
			}
		})
	}
}

func TestResolveActor_ProviderReturnsNoUser(t *testing.T) {
	gate := NewGate(&mockIdentityProvider{}, nil, nil)

	_, err := gate.ResolveActor(requestWithBearer("token"))
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestResolve_HeaderTakesPrecedenceOverCookie(t *testing.T) {
	users := map[string]*model.Actor{
		"header-token": {ID: "header-user"},
		"cookie-token": {ID: "cookie-user"},
	}
	gate := NewGate(tokenUsers(users), nil, nil)

	r := requestWithBearer("header-token")
	r.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "cookie-token"})
	res, err := gate.Resolve(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Actor.ID != "header-user" || res.Source != SourceHeader {
		t.Errorf("resolved %q from %q, want header-user from header", res.Actor.ID, res.Source)
	}

	r = requestWithBearer("")
	r.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "cookie-token"})
	res, err = gate.Resolve(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Actor.ID != "cookie-user" || res.Source != SourceCookie {
		t.Errorf("resolved %q from %q, want cookie-user from cookie", res.Actor.ID, res.Source)
	}
}

func TestResolve_ParserRejectsMalformedWithoutRoundTrip(t *testing.T) {
	provider := &mockIdentityProvider{}
	gate := NewGate(provider, NewTokenParser(testJWTSecret), nil)

	_, err := gate.ResolveActor(requestWithBearer("not-a-jwt"))
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
	if provider.calls != 0 {
		t.Errorf("identity provider called %d times, want 0", provider.calls)
	}
}

func TestResolve_ParserRejectsExpiredToken(t *testing.T) {
	provider := &mockIdentityProvider{}
	gate := NewGate(provider, NewTokenParser(testJWTSecret), nil)
	raw := signTestToken(t, testJWTSecret, "user-1", time.Now().Add(-time.Minute), testClaims{})

	_, err := gate.ResolveActor(requestWithBearer(raw))
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
	if provider.calls != 0 {
		t.Errorf("identity provider called %d times, want 0", provider.calls)
	}
}

func TestResolve_SubjectMismatchIsInvalid(t *testing.T) {
	raw := signTestToken(t, testJWTSecret, "user-1", time.Now().Add(time.Hour), testClaims{})
	gate := NewGate(tokenUsers(map[string]*model.Actor{raw: {ID: "user-2"}}), NewTokenParser(testJWTSecret), nil)

	_, err := gate.ResolveActor(requestWithBearer(raw))
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestResolve_SessionKeyFromClaims(t *testing.T) {
	raw := signTestToken(t, testJWTSecret, "user-1", time.Now().Add(time.Hour), testClaims{SessionID: "sess-42"})
	gate := NewGate(tokenUsers(map[string]*model.Actor{raw: {ID: "USER-1"}}), NewTokenParser(testJWTSecret), nil)

	res, err := gate.Resolve(requestWithBearer(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SessionKey != "sess-42" {
		t.Errorf("SessionKey = %q, want %q", res.SessionKey, "sess-42")
	}
	if res.Token != raw {
		t.Error("resolution should carry the presented token")
	}
}
