// Package auth はリクエストの行為者解決、所有権認可、セッションライフサイクルを提供する。
package auth

import (
	"errors"
	"fmt"
)

// Kind は認証・認可エラーの種別を表す。
type Kind int

const (
	// KindUnauthenticated は行為者を解決できないことを示す。
	KindUnauthenticated Kind = iota + 1
	// KindInvalidCredential は資格情報が提示されたがIdPに拒否されたことを示す。
	KindInvalidCredential
	// KindDenied は行為者が所有者・参加者の条件を満たさないことを示す。
	KindDenied
	// KindNotFound は対象リソースが存在しないことを示す。
	KindNotFound
	// KindProviderUnavailable はIdPやセッションストアに到達できないことを示す。
	KindProviderUnavailable
)

// String はログ出力用の種別名を返す。
func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindDenied:
		return "denied"
	case KindNotFound:
		return "not_found"
	case KindProviderUnavailable:
		return "provider_unavailable"
	default:
		return "unknown"
	}
}

// ReasonSessionExpired は非アクティブタイムアウトによる認証失敗の理由。
const ReasonSessionExpired = "session_expired"

// Error は認証・認可の失敗を表す。
// 呼び出し元がHTTPステータスとログを決定できるよう、行為者IDとリソースIDを保持する。
type Error struct {
	Kind       Kind
	Op         string
	ActorID    string
	ResourceID string
	Reason     string
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap は原因となったエラーを返す。
func (e *Error) Unwrap() error { return e.Err }

// Is は種別が一致する場合にtrueを返す。errors.Is(err, auth.ErrDenied) の形で使う。
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// 種別比較用のセンチネルエラー
var (
	ErrUnauthenticated     = &Error{Kind: KindUnauthenticated}
	ErrInvalidCredential   = &Error{Kind: KindInvalidCredential}
	ErrDenied              = &Error{Kind: KindDenied}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrProviderUnavailable = &Error{Kind: KindProviderUnavailable}
)

// KindOf はエラーチェーンから種別を取り出す。auth.Errorを含まない場合は0を返す。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsSessionExpired は非アクティブタイムアウトによる失敗かどうかを返す。
func IsSessionExpired(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindUnauthenticated && e.Reason == ReasonSessionExpired
}

// Unavailable はIdP・ストア障害をProviderUnavailableとして包む。
func Unavailable(op string, err error) error {
	return &Error{Kind: KindProviderUnavailable, Op: op, Err: err}
}

// Invalid は資格情報の拒否をInvalidCredentialとして包む。
func Invalid(op string, err error) error {
	return &Error{Kind: KindInvalidCredential, Op: op, Err: err}
}

func sessionExpired(op string) error {
	return &Error{Kind: KindUnauthenticated, Op: op, Reason: ReasonSessionExpired}
}

func notFound(op, resourceID string) error {
	return &Error{Kind: KindNotFound, Op: op, ResourceID: resourceID}
}

func fetchFailed(op, resourceID string, err error) error {
	return fmt.Errorf("%s: failed to fetch resource %s: %w", op, resourceID, err)
}
