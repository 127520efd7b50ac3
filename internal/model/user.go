package model

import "time"

// Actor はリクエストの資格情報から解決された行為者を表す。
// IDは正規化済みの文字列（auth.CanonicalID）で保持する。
type Actor struct {
	ID    string
	Email string
}

// SessionTokens はIdPが発行したトークンの組を表す。
// ExpiresAtがゼロ値の場合は有効期限なしとして扱う。
type SessionTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Empty はいずれかのトークンが欠けているかどうかを返す。
func (t SessionTokens) Empty() bool {
	return t.AccessToken == "" || t.RefreshToken == ""
}

// Expired はnow時点でアクセストークンの有効期限が切れているかどうかを返す。
func (t SessionTokens) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// Student はマーケットプレイスの利用者（出品者・購入者）のプロフィールを表す。
// IDはIdPのユーザーIDと同一。
type Student struct {
	ID             string
	Email          string
	FirstName      string
	LastName       string
	Phone          string
	ProfilePicture string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ResourceID はプロフィールのIDを返す。
func (s *Student) ResourceID() string { return s.ID }

// OwnerID はプロフィールの所有者IDを返す。プロフィールは本人のみが所有する。
func (s *Student) OwnerID() string { return s.ID }

// DisplayName は表示用の氏名を返す。未設定の場合は "Student" を返す。
func (s *Student) DisplayName() string {
	name := s.FirstName
	if s.LastName != "" {
		if name != "" {
			name += " "
		}
		name += s.LastName
	}
	if name == "" {
		return "Student"
	}
	return name
}
