// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, listing, cart, message, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeMissingCredentials = "MISSING_CREDENTIALS"
	ErrCodePasswordTooShort   = "PASSWORD_TOO_SHORT"
	ErrCodeWrongPassword      = "WRONG_PASSWORD"
	ErrCodeListingNotFound    = "LISTING_NOT_FOUND"
	ErrCodeListingUnavailable = "LISTING_UNAVAILABLE"
	ErrCodeOwnListing         = "OWN_LISTING"
	ErrCodeInvalidPrice       = "INVALID_PRICE"
	ErrCodeImageMissing       = "IMAGE_MISSING"
	ErrCodeFileTooLarge       = "FILE_TOO_LARGE"
	ErrCodeUnsupportedImage   = "UNSUPPORTED_IMAGE"
	ErrCodeCartEmpty          = "CART_EMPTY"
	ErrCodeSelfConversation   = "SELF_CONVERSATION"
	ErrCodeMessageEmpty       = "MESSAGE_EMPTY"
	ErrCodeMessageTooLong     = "MESSAGE_TOO_LONG"
	ErrCodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	ErrCodeProfileNotFound    = "PROFILE_NOT_FOUND"

	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeSessionExpired      = "SESSION_EXPIRED"
	ErrCodeInvalidCredential   = "INVALID_CREDENTIAL"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeIdentityUnavailable = "IDENTITY_UNAVAILABLE"
	ErrCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFFailed          = "CSRF_FAILED"
)

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストの内容が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewMissingCredentialsError はメールアドレスまたはパスワードが未入力の場合のエラーを生成する。
func NewMissingCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCredentials,
		Message:  "メールアドレスとパスワードは必須です。",
		Category: "validation",
		Action:   "メールアドレスとパスワードを入力してください。",
	}
}

// NewPasswordTooShortError は新しいパスワードが短すぎる場合のエラーを生成する。
func NewPasswordTooShortError(minLength int) *APIError {
	return &APIError{
		Code:     ErrCodePasswordTooShort,
		Message:  fmt.Sprintf("パスワードは%d文字以上で指定してください。", minLength),
		Category: "validation",
		Action:   "より長いパスワードを入力してください。",
	}
}

// NewWrongPasswordError はパスワード変更時に現在のパスワードが一致しない場合のエラーを生成する。
func NewWrongPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeWrongPassword,
		Message:  "現在のパスワードが正しくありません。",
		Category: "auth",
		Action:   "現在のパスワードを確認してください。",
	}
}

// NewListingNotFoundError は出品が見つからない場合のエラーを生成する。
func NewListingNotFoundError(listingID string) *APIError {
	return &APIError{
		Code:     ErrCodeListingNotFound,
		Message:  fmt.Sprintf("指定された出品が見つかりません: %s", listingID),
		Category: "listing",
		Action:   "出品IDを確認してください。",
	}
}

// NewListingUnavailableError は出品が購入できない状態の場合のエラーを生成する。
func NewListingUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeListingUnavailable,
		Message:  "この商品は既に販売済みです。",
		Category: "cart",
		Action:   "他の商品をお探しください。",
	}
}

// NewOwnListingError は自分の出品を購入・問い合わせしようとした場合のエラーを生成する。
func NewOwnListingError() *APIError {
	return &APIError{
		Code:     ErrCodeOwnListing,
		Message:  "自分の出品に対しては操作できません。",
		Category: "cart",
		Action:   "他のユーザーの出品を選択してください。",
	}
}

// NewInvalidPriceError は価格が不正な場合のエラーを生成する。
func NewInvalidPriceError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPrice,
		Message:  fmt.Sprintf("無効な価格です: %s", raw),
		Category: "validation",
		Action:   "0以上の数値で価格を入力してください。",
	}
}

// NewImageMissingError は画像ファイルが添付されていない場合のエラーを生成する。
func NewImageMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeImageMissing,
		Message:  "画像ファイルがありません。",
		Category: "validation",
		Action:   "画像ファイルを選択してください。",
	}
}

// NewFileTooLargeError はアップロードファイルが上限を超えた場合のエラーを生成する。
func NewFileTooLargeError(maxBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodeFileTooLarge,
		Message:  fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", maxBytes),
		Category: "validation",
		Action:   "より小さいファイルを選択してください。",
	}
}

// NewUnsupportedImageError は画像以外のファイルがアップロードされた場合のエラーを生成する。
func NewUnsupportedImageError(contentType string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedImage,
		Message:  fmt.Sprintf("サポートされていないファイル形式です: %s", contentType),
		Category: "validation",
		Action:   "JPEG、PNG、GIF、WebPのいずれかの画像を選択してください。",
	}
}

// NewCartEmptyError はカートが空の状態でチェックアウトした場合のエラーを生成する。
func NewCartEmptyError() *APIError {
	return &APIError{
		Code:     ErrCodeCartEmpty,
		Message:  "カートが空です。",
		Category: "cart",
		Action:   "商品をカートに追加してください。",
	}
}

// NewSelfConversationError は自分自身との会話を開始しようとした場合のエラーを生成する。
func NewSelfConversationError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfConversation,
		Message:  "自分自身にメッセージを送ることはできません。",
		Category: "message",
		Action:   "他のユーザーの出品から問い合わせてください。",
	}
}

// NewMessageEmptyError はメッセージ本文が空の場合のエラーを生成する。
func NewMessageEmptyError() *APIError {
	return &APIError{
		Code:     ErrCodeMessageEmpty,
		Message:  "メッセージが空です。",
		Category: "message",
		Action:   "メッセージを入力してください。",
	}
}

// NewMessageTooLongError はメッセージ本文が上限を超えた場合のエラーを生成する。
func NewMessageTooLongError(maxLength int) *APIError {
	return &APIError{
		Code:     ErrCodeMessageTooLong,
		Message:  fmt.Sprintf("メッセージは%d文字以内で入力してください。", maxLength),
		Category: "message",
		Action:   "メッセージを短くしてください。",
	}
}

// NewStorageUnavailableError はオブジェクトストレージが利用できない場合のエラーを生成する。
func NewStorageUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStorageUnavailable,
		Message:  "画像ストレージが利用できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewProfileNotFoundError はプロフィールが見つからない場合のエラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "プロフィールが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUnauthorizedError は資格情報が提示されていない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewSessionExpiredError は非アクティブ状態が続いてセッションが失効した場合のエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "一定時間操作がなかったため、セッションが終了しました。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewInvalidCredentialError は資格情報がIdPに拒否された場合のエラーを生成する。
func NewInvalidCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredential,
		Message:  "認証情報が無効です。",
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認し、再度ログインしてください。",
	}
}

// NewForbiddenError は行為者がリソースの所有者・参加者でない場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "自分のリソースに対してのみ操作できます。",
	}
}

// NewNotFoundError はリソースが存在しない場合のエラーを生成する。
func NewNotFoundError(resourceID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定されたリソースが見つかりません: %s", resourceID),
		Category: "validation",
		Action:   "IDを確認してください。",
	}
}

// NewIdentityUnavailableError は認証サービスに到達できない場合のエラーを生成する。
func NewIdentityUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityUnavailable,
		Message:  "認証サービスに接続できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitExceededError はレート制限を超えた場合のエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFFailedError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}
