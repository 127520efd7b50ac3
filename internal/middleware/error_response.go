package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// AuthErrorResponse は認証・認可エラーのHTTPステータスとレスポンス本文を返す。
// auth.Errorを含まないエラーの場合はok=false。
func AuthErrorResponse(err error) (status int, apiErr *model.APIError, ok bool) {
	var e *auth.Error
	switch auth.KindOf(err) {
	case auth.KindUnauthenticated:
		if auth.IsSessionExpired(err) {
			return http.StatusUnauthorized, model.NewSessionExpiredError(), true
		}
		return http.StatusUnauthorized, model.NewUnauthorizedError(), true
	case auth.KindInvalidCredential:
		return http.StatusUnauthorized, model.NewInvalidCredentialError(), true
	case auth.KindDenied:
		return http.StatusForbidden, model.NewForbiddenError(), true
	case auth.KindNotFound:
		id := ""
		if errors.As(err, &e) {
			id = e.ResourceID
		}
		return http.StatusNotFound, model.NewNotFoundError(id), true
	case auth.KindProviderUnavailable:
		return http.StatusServiceUnavailable, model.NewIdentityUnavailableError(), true
	}
	return 0, nil, false
}

// WriteAuthError は認証・認可エラーを統一フォーマットで書き込む。
// 分類できないエラーは500として扱い、詳細はログのみに記録する。
func WriteAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr, ok := AuthErrorResponse(err)
	if !ok {
		slog.Error("unclassified error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteInternalServerError(w)
		return
	}

	if status == http.StatusServiceUnavailable {
		slog.Error("identity provider unavailable",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		w.Header().Set("Retry-After", "5")
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="unimarket"`)
	}
	WriteErrorResponse(w, status, apiErr)
}
