// Package identity はホスト型認証API（GoTrue互換）のHTTPクライアントを提供する。
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/model"
)

const defaultTimeout = 10 * time.Second

// Config はIdPクライアントの設定。
type Config struct {
	BaseURL string // 例: https://xxxx.supabase.co
	AnonKey string // 全リクエストのapikeyヘッダーに付与する
	Timeout time.Duration

	// テスト用にオーバーライド可能
	HTTPClient *http.Client
}

// LatencyObserver はIdP呼び出しの所要時間を受け取る。
type LatencyObserver interface {
	ObserveIdentityLatency(op string, d time.Duration)
}

// Session はサインイン・リフレッシュで得られた行為者とトークンの組。
type Session struct {
	Actor  model.Actor
	Tokens model.SessionTokens
}

// SignUpProfile はサインアップ時にユーザーメタデータとして渡すプロフィール。
type SignUpProfile struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Client はIdPのREST APIを呼び出す。
// データ操作用のハンドルとは独立したhttp.Clientを持ち、セッション状態を内部に保持しない。
type Client struct {
	baseURL  string
	anonKey  string
	http     *http.Client
	parser   *auth.TokenParser
	observer LatencyObserver
	now      func() time.Time
}

// NewClient はClientを生成する。parserとobserverはnilでもよい。
func NewClient(cfg Config, parser *auth.TokenParser, observer LatencyObserver) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	if parser == nil {
		parser = auth.NewTokenParser("")
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		anonKey:  cfg.AnonKey,
		http:     hc,
		parser:   parser,
		observer: observer,
		now:      time.Now,
	}
}

// userResponse は /auth/v1/user のレスポンス。
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// tokenResponse は /auth/v1/token のレスポンス。
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

// signUpResponse はメール確認の有無によりユーザー単体またはセッションを返す。
type signUpResponse struct {
	tokenResponse
	ID    string `json:"id"`
	Email string `json:"email"`
}

// errorResponse はIdPのエラーレスポンス。バージョンによりフィールド名が異なる。
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e errorResponse) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// StatusError はIdPが2xx以外を返したことを表す。
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("identity provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("identity provider returned status %d: %s", e.StatusCode, e.Message)
}

// SignIn はメールアドレスとパスワードでサインインする。
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var resp tokenResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, "sign_in", http.MethodPost, "/auth/v1/token?grant_type=password", "", body, &resp); err != nil {
		return nil, err
	}
	return c.sessionFrom("sign_in", &resp)
}

// SignUp は新規ユーザーを登録し、登録されたユーザーを返す。
// メール確認が不要な設定の場合はトークンも返す（確認待ちの場合はゼロ値）。
func (c *Client) SignUp(ctx context.Context, email, password string, profile SignUpProfile) (*Session, error) {
	var resp signUpResponse
	body := map[string]any{"email": email, "password": password, "data": profile}
	if err := c.do(ctx, "sign_up", http.MethodPost, "/auth/v1/signup", "", body, &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken != "" {
		return c.sessionFrom("sign_up", &resp.tokenResponse)
	}
	if resp.ID == "" {
		return nil, auth.Unavailable("sign_up", errors.New("empty user in sign up response"))
	}
	return &Session{Actor: model.Actor{ID: auth.CanonicalID(resp.ID), Email: resp.Email}}, nil
}

// GetUser はアクセストークンの持ち主を返す。
func (c *Client) GetUser(ctx context.Context, accessToken string) (*model.Actor, error) {
	var resp userResponse
	if err := c.do(ctx, "get_user", http.MethodGet, "/auth/v1/user", accessToken, nil, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, auth.Invalid("get_user", errors.New("empty user id"))
	}
	return &model.Actor{ID: auth.CanonicalID(resp.ID), Email: resp.Email}, nil
}

// Refresh はリフレッシュトークンで新しいトークンを取得する。
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var resp tokenResponse
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, "refresh", http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "", body, &resp); err != nil {
		return nil, err
	}
	return c.sessionFrom("refresh", &resp)
}

// SetSession は保存済みのトークンを検証する。
// アクセストークンが期限切れであればリフレッシュし、そうでなければ持ち主を問い合わせる。
// 構文として不正なトークンは問い合わせずにKindInvalidCredentialで返す。
func (c *Client) SetSession(ctx context.Context, tokens model.SessionTokens) (*model.Actor, model.SessionTokens, error) {
	if tokens.Empty() {
		return nil, model.SessionTokens{}, auth.Invalid("set_session", errors.New("access and refresh tokens are required"))
	}
	claims, err := c.parser.Parse(tokens.AccessToken)
	if err != nil {
		return nil, model.SessionTokens{}, err
	}

	if claims.Expired(c.now()) {
		s, err := c.Refresh(ctx, tokens.RefreshToken)
		if err != nil {
			return nil, model.SessionTokens{}, err
		}
		return &s.Actor, s.Tokens, nil
	}

	actor, err := c.GetUser(ctx, tokens.AccessToken)
	if err != nil {
		return nil, model.SessionTokens{}, err
	}
	if tokens.ExpiresAt.IsZero() {
		tokens.ExpiresAt = claims.Expiry
	}
	return actor, tokens, nil
}

// SignOut はアクセストークンを指定範囲で失効させる。
// 既に失効している（4xx）場合はサインアウト済みとして扱う。
func (c *Client) SignOut(ctx context.Context, accessToken string, scope auth.SignOutScope) error {
	if scope == "" {
		scope = auth.ScopeGlobal
	}
	path := "/auth/v1/logout?scope=" + url.QueryEscape(string(scope))
	err := c.do(ctx, "sign_out", http.MethodPost, path, accessToken, nil, nil)
	if auth.KindOf(err) == auth.KindInvalidCredential {
		return nil
	}
	return err
}

// UpdatePassword はトークンの持ち主のパスワードを変更する。
func (c *Client) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	body := map[string]string{"password": newPassword}
	return c.do(ctx, "update_password", http.MethodPut, "/auth/v1/user", accessToken, body, nil)
}

// Recover はパスワード再設定メールの送信を依頼する。
func (c *Client) Recover(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return c.do(ctx, "recover", http.MethodPost, "/auth/v1/recover", "", body, nil)
}

func (c *Client) sessionFrom(op string, resp *tokenResponse) (*Session, error) {
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, auth.Unavailable(op, errors.New("empty token in response"))
	}

	s := &Session{
		Tokens: model.SessionTokens{
			AccessToken:  resp.AccessToken,
			RefreshToken: resp.RefreshToken,
		},
	}
	switch {
	case resp.ExpiresAt > 0:
		s.Tokens.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		s.Tokens.ExpiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	if resp.User != nil && resp.User.ID != "" {
		s.Actor = model.Actor{ID: auth.CanonicalID(resp.User.ID), Email: resp.User.Email}
		return s, nil
	}
	claims, err := c.parser.Parse(resp.AccessToken)
	if err != nil {
		return nil, auth.Unavailable(op, fmt.Errorf("no user in response: %w", err))
	}
	s.Actor = model.Actor{ID: auth.CanonicalID(claims.Subject), Email: claims.Email}
	return s, nil
}

// do はリクエストを送信し、結果を分類する。
// 4xx（429を除く）はKindInvalidCredential、通信障害・5xx・429はKindProviderUnavailable。
func (c *Client) do(ctx context.Context, op, method, path, accessToken string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if c.observer != nil {
		c.observer.ObserveIdentityLatency(op, time.Since(start))
	}
	if err != nil {
		return auth.Unavailable(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return auth.Unavailable(op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er errorResponse
		_ = json.Unmarshal(respBody, &er)
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: er.text()}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return auth.Unavailable(op, statusErr)
		}
		return auth.Invalid(op, statusErr)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return auth.Unavailable(op, fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

// compile-time interface checks
var (
	_ auth.IdentityProvider = (*Client)(nil)
	_ auth.SessionProvider  = (*Client)(nil)
)
