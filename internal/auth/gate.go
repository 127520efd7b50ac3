package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/unimarket/internal/model"
)

// 復元済みセッションを保持するCookie名
const (
	AccessTokenCookie  = "sb_access_token"
	RefreshTokenCookie = "sb_refresh_token"
)

// CredentialSource は資格情報の取得元を表す。
type CredentialSource string

const (
	// SourceNone は資格情報が提示されていないことを示す。
	SourceNone CredentialSource = ""
	// SourceHeader はAuthorizationヘッダーのBearerトークンを示す。
	SourceHeader CredentialSource = "header"
	// SourceCookie は復元済みセッションのCookieを示す。
	SourceCookie CredentialSource = "cookie"
)

// 解決結果のラベル（メトリクス用）
const (
	ResultActor       = "actor"
	ResultAnonymous   = "anonymous"
	ResultInvalid     = "invalid"
	ResultUnavailable = "unavailable"
)

// IdentityProvider はアクセストークンから行為者を問い合わせるIdPの機能。
type IdentityProvider interface {
	// GetUser はトークンの持ち主を返す。拒否はKindInvalidCredential、
	// 到達不能はKindProviderUnavailableのエラーで返す。
	GetUser(ctx context.Context, accessToken string) (*model.Actor, error)
}

// ResolutionObserver は行為者解決の結果を受け取る。
type ResolutionObserver interface {
	ObserveResolution(result string)
}

// Resolution は1リクエスト分の行為者解決の結果を表す。
type Resolution struct {
	Actor      *model.Actor // 匿名の場合はnil
	Token      string
	Source     CredentialSource
	SessionKey string
}

// Anonymous は資格情報が提示されなかったかどうかを返す。
func (r *Resolution) Anonymous() bool {
	return r == nil || r.Actor == nil
}

// Gate はリクエストごとに行為者を解決する。
// 解決結果はリクエストをまたいでキャッシュしない。
type Gate struct {
	provider IdentityProvider
	parser   *TokenParser
	observer ResolutionObserver
	now      func() time.Time
}

// NewGate はGateを生成する。parserとobserverはnilでもよい。
func NewGate(provider IdentityProvider, parser *TokenParser, observer ResolutionObserver) *Gate {
	return &Gate{
		provider: provider,
		parser:   parser,
		observer: observer,
		now:      time.Now,
	}
}

// BearerToken はリクエストから資格情報を取り出す。
// AuthorizationヘッダーのBearerトークンを優先し、なければ復元済みセッションのCookieを使う。
func BearerToken(r *http.Request) (string, CredentialSource) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token, SourceHeader
			}
		}
	}
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value, SourceCookie
	}
	return "", SourceNone
}

// Resolve はリクエストの行為者を解決する。
// 資格情報がない場合はエラーにせず匿名の結果を返す。
func (g *Gate) Resolve(r *http.Request) (*Resolution, error) {
	token, source := BearerToken(r)
	if token == "" {
		g.observe(ResultAnonymous)
		return &Resolution{}, nil
	}

	res, err := g.resolveToken(r.Context(), token)
	if err != nil {
		if KindOf(err) == KindProviderUnavailable {
			g.observe(ResultUnavailable)
		} else {
			g.observe(ResultInvalid)
		}
		return nil, err
	}
	res.Source = source
	g.observe(ResultActor)
	return res, nil
}

// ResolveActor はリクエストの行為者を返す。匿名の場合は (nil, nil)。
func (g *Gate) ResolveActor(r *http.Request) (*model.Actor, error) {
	res, err := g.Resolve(r)
	if err != nil {
		return nil, err
	}
	return res.Actor, nil
}

// RequireActor は行為者の存在を必須とする。
// 匿名の場合はKindUnauthenticated、解決時のエラーはそのまま返す。
func (g *Gate) RequireActor(r *http.Request) (*model.Actor, error) {
	actor, err := g.ResolveActor(r)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, &Error{Kind: KindUnauthenticated, Op: "require actor"}
	}
	return actor, nil
}

func (g *Gate) resolveToken(ctx context.Context, token string) (*Resolution, error) {
	var claims *TokenClaims
	if g.parser != nil {
		c, err := g.parser.Parse(token)
		if err != nil {
			return nil, err
		}
		if c.Expired(g.now()) {
			return nil, &Error{Kind: KindInvalidCredential, Op: "resolve actor", Reason: "token_expired"}
		}
		claims = c
	}

	actor, err := g.provider.GetUser(ctx, token)
	if err != nil {
		if KindOf(err) == 0 {
			// 分類されていない障害は信頼できないため到達不能として扱う
			err = Unavailable("resolve actor", err)
		}
		return nil, err
	}
	if actor == nil || CanonicalID(actor.ID) == "" {
		return nil, Invalid("resolve actor", errors.New("identity provider returned no user"))
	}

	resolved := &model.Actor{ID: CanonicalID(actor.ID), Email: actor.Email}
	if claims != nil && !SameID(claims.Subject, resolved.ID) {
		slog.Warn("token subject mismatch",
			slog.String("subject", claims.Subject),
			slog.String("actor_id", resolved.ID),
		)
		return nil, &Error{Kind: KindInvalidCredential, Op: "resolve actor", ActorID: resolved.ID, Reason: "subject_mismatch"}
	}

	return &Resolution{
		Actor:      resolved,
		Token:      token,
		SessionKey: SessionKey(claims, token),
	}, nil
}

func (g *Gate) observe(result string) {
	if g.observer != nil {
		g.observer.ObserveResolution(result)
	}
}
