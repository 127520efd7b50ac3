package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/unimarket/internal/middleware"
	"github.com/hitoshi/unimarket/internal/model"
)

// maxJSONBodyBytes はJSONリクエストボディの最大サイズ。
const maxJSONBodyBytes = 1 << 20

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// decodeJSON はリクエストボディをJSONとして解析する。失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)).Decode(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// requireActor はコンテキストから行為者を取り出す。存在しない場合は401を書き込みfalseを返す。
// 通常はRequireActorミドルウェアが先に拒否する。
func requireActor(w http.ResponseWriter, r *http.Request) (*model.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil, false
	}
	return actor, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// 認証・認可エラーと分類できないエラーはmiddleware.WriteAuthErrorに委ねる。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}
	middleware.WriteAuthError(w, r, err)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest,
		model.ErrCodeMissingCredentials,
		model.ErrCodePasswordTooShort,
		model.ErrCodeWrongPassword,
		model.ErrCodeInvalidPrice,
		model.ErrCodeImageMissing,
		model.ErrCodeUnsupportedImage,
		model.ErrCodeCartEmpty,
		model.ErrCodeSelfConversation,
		model.ErrCodeMessageEmpty,
		model.ErrCodeMessageTooLong,
		model.ErrCodeOwnListing:
		return http.StatusBadRequest
	case model.ErrCodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeListingNotFound, model.ErrCodeProfileNotFound, model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeListingUnavailable:
		return http.StatusConflict
	case model.ErrCodeUnauthorized, model.ErrCodeSessionExpired, model.ErrCodeInvalidCredential:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeCSRFFailed:
		return http.StatusForbidden
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case model.ErrCodeStorageUnavailable, model.ErrCodeIdentityUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
