package auth

import (
	"strings"

	"github.com/google/uuid"
)

// CanonicalID は識別子を比較用の正規形に変換する。
// 前後の空白を除去して小文字化し、UUIDとして解釈できる場合はハイフン区切りの標準形に揃える。
func CanonicalID(id string) string {
	s := strings.ToLower(strings.TrimSpace(id))
	if s == "" {
		return ""
	}
	if u, err := uuid.Parse(s); err == nil {
		return u.String()
	}
	return s
}

// SameID は2つの識別子が同一の主体を指すかどうかを返す。
// いずれかが空の場合は常にfalse。所有権判定はすべてこの関数を経由する。
func SameID(a, b string) bool {
	ca, cb := CanonicalID(a), CanonicalID(b)
	if ca == "" || cb == "" {
		return false
	}
	return ca == cb
}
