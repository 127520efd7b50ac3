// Package client はマーケットプレイスAPIのGoクライアントを提供する。
// セッションの復元・非アクティブタイムアウト・失効をauth.Lifecycleで管理する。
package client

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

const (
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 4 << 20
)

// ErrNoSession は有効なセッションがない状態で認証が必要なAPIを呼び出したことを示す。
var ErrNoSession = errors.New("client: no active session")

// ErrSessionExpired は非アクティブタイムアウトまたはサーバーの拒否でセッションが失効したことを示す。
var ErrSessionExpired = errors.New("client: session expired")

// Config はAPIクライアントの設定。
type Config struct {
	BaseURL string // 例: http://localhost:8080
	Policy  auth.Policy
	Timeout time.Duration

	// テスト用にオーバーライド可能
	HTTPClient *http.Client
}

// APIError はAPIが返した統一フォーマットのエラー。
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Category   string `json:"category"`
	Action     string `json:"action"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client はマーケットプレイスAPIを呼び出す。1インスタンスが1利用者のセッションを持つ。
type Client struct {
	baseURL   string
	http      *http.Client
	lifecycle *auth.Lifecycle
	watcher   *auth.TimeoutWatcher
	now       func() time.Time
}

// New はClientを生成する。Policyがゼロ値の場合はauth.DefaultPolicyを使う。
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client: base URL is required")
	}
	policy := cfg.Policy
	if policy == (auth.Policy{}) {
		policy = auth.DefaultPolicy
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		now:     time.Now,
	}
	c.lifecycle = auth.NewLifecycle(&apiSessionProvider{client: c}, policy)
	c.watcher = auth.NewTimeoutWatcher(c.lifecycle)
	return c, nil
}

// Lifecycle はセッションの状態機械を返す。
func (c *Client) Lifecycle() *auth.Lifecycle { return c.lifecycle }

// Actor は現在の行為者を返す。有効なセッションがない場合はnil。
func (c *Client) Actor() *model.Actor { return c.lifecycle.Actor() }

// Watch は非アクティブタイムアウトの監視をバックグラウンドで開始する。
// ctxのキャンセルまたはセッションの終了で停止する。
func (c *Client) Watch(ctx context.Context) {
	go c.watcher.Run(ctx)
}

// SignIn はメールアドレスとパスワードでサインインし、セッションを開始する。
func (c *Client) SignIn(ctx context.Context, email, password string) (*model.Actor, error) {
	var resp sessionResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.send(ctx, http.MethodPost, "/signin", "", body, &resp); err != nil {
		return nil, err
	}
	actor, tokens := resp.session()
	if tokens.Empty() {
		return nil, errors.New("client: sign in returned no session")
	}
	c.lifecycle.Begin(actor, tokens)
	return c.lifecycle.Actor(), nil
}

// Restore は保存済みトークンからセッションを復元する。
func (c *Client) Restore(ctx context.Context, saved model.SessionTokens) auth.State {
	return c.lifecycle.Restore(ctx, saved)
}

// SignOut はセッションを終了する。
func (c *Client) SignOut(ctx context.Context) error {
	return c.lifecycle.SignOut(ctx)
}

// Heartbeat はサーバー側のアクティビティ記録を更新する。
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/session/heartbeat", nil, nil)
}

// Search は販売中の出品を検索する。
func (c *Client) Search(ctx context.Context, query string) ([]Listing, error) {
	var out []Listing
	path := "/search?query=" + url.QueryEscape(query)
	if err := c.send(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	c.lifecycle.RecordActivity()
	return out, nil
}

// Featured は注目の出品を返す。
func (c *Client) Featured(ctx context.Context) ([]Listing, error) {
	var out []Listing
	if err := c.send(ctx, http.MethodGet, "/api/featured-products", "", nil, &out); err != nil {
		return nil, err
	}
	c.lifecycle.RecordActivity()
	return out, nil
}

// Profile は行為者自身のプロフィールを返す。
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.call(ctx, http.MethodGet, "/api/profile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cart は行為者のカートを返す。
func (c *Client) Cart(ctx context.Context) (*Cart, error) {
	var out Cart
	if err := c.call(ctx, http.MethodGet, "/api/cart", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CartCount はカートの行数を返す。
func (c *Client) CartCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/cart/count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// MyListings は行為者自身の出品一覧を返す。
func (c *Client) MyListings(ctx context.Context) ([]Listing, error) {
	var out []Listing
	if err := c.call(ctx, http.MethodGet, "/api/my-listings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Purchases は行為者の購入履歴を返す。
func (c *Client) Purchases(ctx context.Context) ([]Purchase, error) {
	var out []Purchase
	if err := c.call(ctx, http.MethodGet, "/api/purchases", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// call はセッションのトークンで認証が必要なAPIを呼び出す。
// 呼び出し前にタイムアウトを判定し、成功した場合はアクティビティを記録する。
// サーバーが401を返した場合はセッションを失効させる。
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	switch c.lifecycle.CheckTimeout(c.now()) {
	case auth.StateActive:
	case auth.StateExpired:
		c.lifecycle.Expire(ctx)
		return ErrSessionExpired
	default:
		return ErrNoSession
	}

	err := c.send(ctx, method, path, c.lifecycle.Tokens().AccessToken, in, out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		c.lifecycle.Expire(ctx)
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	if err != nil {
		return err
	}
	c.lifecycle.RecordActivity()
	return nil
}

// send はHTTPリクエストを送信し、2xxの場合はレスポンスをoutにデコードする。
func (c *Client) send(ctx context.Context, method, path, accessToken string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		return apiErr
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
