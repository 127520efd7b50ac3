// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/unimarket/internal/account"
	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/identity"
	"github.com/hitoshi/unimarket/internal/middleware"
	"github.com/hitoshi/unimarket/internal/model"
)

// refreshCookieMaxAge はリフレッシュトークンCookieの有効期間（秒）。
const refreshCookieMaxAge = 30 * 24 * 60 * 60

// AccountServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	SignIn(ctx context.Context, email, password string) (*identity.Session, error)
	SignUp(ctx context.Context, req account.SignUpRequest) (*identity.Session, error)
	SignOut(ctx context.Context, accessToken string, scope auth.SignOutScope) error
	RestoreSession(ctx context.Context, tokens model.SessionTokens) (*identity.Session, error)
	ChangePassword(ctx context.Context, actor *model.Actor, accessToken, current, next string) error
	ForgotPassword(ctx context.Context, email string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はサインイン・セッション管理のHTTPハンドラー。
type AuthHandler struct {
	service AccountServiceInterface
	config  AuthHandlerConfig
	now     func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AccountServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
		now:     time.Now,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type restoreSessionRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type actorResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type tokensResponse struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// sessionResponse はサインイン・サインアップ・セッション復元のレスポンス。
// メール確認待ちのサインアップではSessionを含まない。
type sessionResponse struct {
	Message string          `json:"message"`
	User    actorResponse   `json:"user"`
	Session *tokensResponse `json:"session,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func newSessionResponse(message string, sess *identity.Session) sessionResponse {
	resp := sessionResponse{
		Message: message,
		User:    actorResponse{ID: sess.Actor.ID, Email: sess.Actor.Email},
	}
	if !sess.Tokens.Empty() {
		t := &tokensResponse{
			AccessToken:  sess.Tokens.AccessToken,
			RefreshToken: sess.Tokens.RefreshToken,
		}
		if !sess.Tokens.ExpiresAt.IsZero() {
			exp := sess.Tokens.ExpiresAt.UTC()
			t.ExpiresAt = &exp
		}
		resp.Session = t
	}
	return resp
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.setSessionCookies(w, sess.Tokens)
	writeJSON(w, http.StatusOK, newSessionResponse("Signin successful", sess))
}

// SignUp は新規ユーザーを登録する。
// POST /signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.service.SignUp(r.Context(), account.SignUpRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		// 登録済みのメールアドレスなどIdPが拒否した入力は400として返す
		var statusErr *identity.StatusError
		if auth.KindOf(err) == auth.KindInvalidCredential && errors.As(err, &statusErr) {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(statusErr.Message))
			return
		}
		handleServiceError(w, r, err)
		return
	}

	if !sess.Tokens.Empty() {
		h.setSessionCookies(w, sess.Tokens)
	}
	writeJSON(w, http.StatusCreated, newSessionResponse("User created successfully", sess))
}

// Logout はIdP上のセッションを失効させ、セッションCookieを削除する。
// scopeクエリで範囲を指定できる（global・local・others、省略時はglobal）。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	res := middleware.ResolutionFromContext(r.Context())
	if res.Anonymous() {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	scope, ok := parseSignOutScope(r.URL.Query().Get("scope"))
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("scope must be global, local or others"))
		return
	}

	if err := h.service.SignOut(r.Context(), res.Token, scope); err != nil {
		// IdPに到達できなくてもクライアント側のセッションは破棄する
		slog.Warn("sign out failed",
			slog.String("actor_id", res.Actor.ID),
			slog.String("error", err.Error()),
		)
	}

	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logout successful"})
}

func parseSignOutScope(raw string) (auth.SignOutScope, bool) {
	switch auth.SignOutScope(raw) {
	case "", auth.ScopeGlobal:
		return auth.ScopeGlobal, true
	case auth.ScopeLocal:
		return auth.ScopeLocal, true
	case auth.ScopeOthers:
		return auth.ScopeOthers, true
	}
	return "", false
}

// RestoreSession は保存済みのトークンからセッションを復元する。
// ボディにトークンがない場合はセッションCookieを使う。
// POST /api/restore-session
func (h *AuthHandler) RestoreSession(w http.ResponseWriter, r *http.Request) {
	var req restoreSessionRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	if req.AccessToken == "" && req.RefreshToken == "" {
		req.AccessToken = cookieValue(r, auth.AccessTokenCookie)
		req.RefreshToken = cookieValue(r, auth.RefreshTokenCookie)
	}

	sess, err := h.service.RestoreSession(r.Context(), model.SessionTokens{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		if auth.KindOf(err) != auth.KindProviderUnavailable {
			h.clearSessionCookies(w)
		}
		handleServiceError(w, r, err)
		return
	}

	h.setSessionCookies(w, sess.Tokens)
	writeJSON(w, http.StatusOK, newSessionResponse("Session restored", sess))
}

// Heartbeat はセッションが有効であることを確認する。
// 非アクティブタイムアウトの判定と記録の更新はActivityミドルウェアが行う。
// POST /api/session/heartbeat
func (h *AuthHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "active",
		"user_id": actor.ID,
	})
}

// ChangePassword は現在のパスワードを確認した上でパスワードを変更する。
// POST /api/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	token := middleware.ResolutionFromContext(r.Context()).Token
	if err := h.service.ChangePassword(r.Context(), actor, token, req.CurrentPassword, req.NewPassword); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Password updated successfully"})
}

// ForgotPassword はパスワード再設定メールの送信を依頼する。
// IdPが拒否した場合も成功として返す。
// POST /api/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		if auth.KindOf(err) != auth.KindInvalidCredential {
			handleServiceError(w, r, err)
			return
		}
		slog.Info("password recovery rejected by identity provider")
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset email sent"})
}

// setSessionCookies は復元用のセッションCookieを設定する。
func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, tokens model.SessionTokens) {
	if tokens.Empty() {
		return
	}
	accessMaxAge := 0
	if !tokens.ExpiresAt.IsZero() {
		accessMaxAge = int(tokens.ExpiresAt.Sub(h.now()).Seconds())
		if accessMaxAge <= 0 {
			accessMaxAge = -1
		}
	}
	http.SetCookie(w, h.cookie(auth.AccessTokenCookie, tokens.AccessToken, accessMaxAge))
	http.SetCookie(w, h.cookie(auth.RefreshTokenCookie, tokens.RefreshToken, refreshCookieMaxAge))
}

// clearSessionCookies はセッションCookieを削除する。
func (h *AuthHandler) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, h.cookie(auth.AccessTokenCookie, "", -1))
	http.SetCookie(w, h.cookie(auth.RefreshTokenCookie, "", -1))
}

func (h *AuthHandler) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
