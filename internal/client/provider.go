package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/model"
)

// apiSessionProvider はAPIサーバー経由でセッションの再検証と破棄を行うauth.SessionProvider。
type apiSessionProvider struct {
	client *Client
}

var _ auth.SessionProvider = (*apiSessionProvider)(nil)

// SetSession は保存済みトークンを/api/restore-sessionで再検証する。
// 401・400はInvalidCredential、それ以外の失敗はProviderUnavailableとして返す。
func (p *apiSessionProvider) SetSession(ctx context.Context, tokens model.SessionTokens) (*model.Actor, model.SessionTokens, error) {
	body := map[string]string{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
	}
	var resp sessionResponse
	if err := p.client.send(ctx, http.MethodPost, "/api/restore-session", "", body, &resp); err != nil {
		return nil, model.SessionTokens{}, classify("restore session", err)
	}
	actor, restored := resp.session()
	return actor, restored, nil
}

// SignOut は/logoutでサーバー側のセッションをscopeの範囲で破棄する。
// 既に無効なトークン（401）はサインアウト済みとして扱う。
func (p *apiSessionProvider) SignOut(ctx context.Context, accessToken string, scope auth.SignOutScope) error {
	path := "/logout"
	if scope != "" {
		path += "?" + url.Values{"scope": {string(scope)}}.Encode()
	}
	err := p.client.send(ctx, http.MethodPost, path, accessToken, nil, nil)
	if err == nil {
		return nil
	}
	err = classify("sign out", err)
	if auth.KindOf(err) == auth.KindInvalidCredential {
		return nil
	}
	return err
}

func classify(op string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusBadRequest:
			return auth.Invalid(op, apiErr)
		}
	}
	return auth.Unavailable(op, err)
}
