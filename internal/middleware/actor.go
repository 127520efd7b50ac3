// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// resolutionContextKey は行為者解決の結果を格納するためのキー。
	resolutionContextKey = contextKey("resolution")
	// resolveErrContextKey は行為者解決に失敗した理由を格納するためのキー。
	resolveErrContextKey = contextKey("resolve_error")
	// requestInfoContextKey はロギングミドルウェアと共有するリクエスト情報のキー。
	requestInfoContextKey = contextKey("request_info")
)

// ActorResolver はリクエストから行為者を解決する。auth.Gateが実装する。
type ActorResolver interface {
	Resolve(r *http.Request) (*auth.Resolution, error)
}

// NewActorMiddleware は全リクエストで行為者を解決し、結果をコンテキストに注入するミドルウェアを返す。
// 解決に失敗したリクエストも匿名として後続に渡し、失敗理由はRequireActorが扱う。
// リクエストをまたいだキャッシュは行わない。
func NewActorMiddleware(resolver ActorResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := resolver.Resolve(r)
			ctx := r.Context()
			if err != nil {
				ctx = context.WithValue(ctx, resolveErrContextKey, err)
				res = &auth.Resolution{}
			}
			ctx = ContextWithResolution(ctx, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireActor は行為者のないリクエストを拒否するミドルウェア。
// 資格情報がない・無効な場合は401、IdPに到達できない場合は503を返す。
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err, ok := r.Context().Value(resolveErrContextKey).(error); ok && err != nil {
			WriteAuthError(w, r, err)
			return
		}
		if _, ok := ActorFromContext(r.Context()); !ok {
			WriteAuthError(w, r, auth.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ActorFromContext はコンテキストから行為者を取得する。匿名の場合はfalse。
func ActorFromContext(ctx context.Context) (*model.Actor, bool) {
	res := ResolutionFromContext(ctx)
	if res.Anonymous() {
		return nil, false
	}
	return res.Actor, true
}

// ResolutionFromContext はコンテキストから行為者解決の結果を取得する。未設定の場合はnil。
func ResolutionFromContext(ctx context.Context) *auth.Resolution {
	res, _ := ctx.Value(resolutionContextKey).(*auth.Resolution)
	return res
}

// ContextWithResolution はコンテキストに解決結果を注入する。
// ロギングミドルウェアの内側であれば、ログ出力用に行為者IDも記録する。
func ContextWithResolution(ctx context.Context, res *auth.Resolution) context.Context {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok && !res.Anonymous() {
		info.actorID = res.Actor.ID
	}
	return context.WithValue(ctx, resolutionContextKey, res)
}

// ContextWithActor はコンテキストに行為者を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithActor(ctx context.Context, actor *model.Actor) context.Context {
	return ContextWithResolution(ctx, &auth.Resolution{Actor: actor, Source: auth.SourceHeader})
}
