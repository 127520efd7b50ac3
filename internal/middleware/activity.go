package middleware

import (
	"context"
	"net/http"
)

// ActivityChecker はセッションの非アクティブタイムアウトを判定し、記録を更新する。
// タイムアウトしたセッションはaccessTokenを使ってIdP上でも失効させる。
// auth.ActivityTrackerが実装する。
type ActivityChecker interface {
	Check(ctx context.Context, key, accessToken string) error
}

// NewActivityMiddleware はサーバー側で非アクティブタイムアウトを判定するミドルウェアを返す。
// RequireActorの後に配置する。タイムアウトした場合は401 SESSION_EXPIRED、
// 記録ストアに到達できない場合は503を返す。checkerがnilの場合は何もしない。
func NewActivityMiddleware(checker ActivityChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if checker == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := ResolutionFromContext(r.Context())
			if res.Anonymous() {
				next.ServeHTTP(w, r)
				return
			}
			if err := checker.Check(r.Context(), res.SessionKey, res.Token); err != nil {
				WriteAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
