// Package account はサインイン・サインアップ・セッション復元などアカウント操作のドメインロジックを提供する。
package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/identity"
	"github.com/hitoshi/unimarket/internal/model"
	"github.com/hitoshi/unimarket/internal/repository"
)

// MinPasswordLength はサインアップ・パスワード変更で受け付けるパスワードの最小長。
const MinPasswordLength = 6

// IdentityProvider はアカウント操作に必要なIdPの操作。
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*identity.Session, error)
	SignUp(ctx context.Context, email, password string, profile identity.SignUpProfile) (*identity.Session, error)
	SetSession(ctx context.Context, tokens model.SessionTokens) (*model.Actor, model.SessionTokens, error)
	SignOut(ctx context.Context, accessToken string, scope auth.SignOutScope) error
	UpdatePassword(ctx context.Context, accessToken, newPassword string) error
	Recover(ctx context.Context, email string) error
}

// SignUpRequest はサインアップの入力。
type SignUpRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// Service はアカウント操作のサービス層。
type Service struct {
	idp      IdentityProvider
	students repository.StudentRepository
	tracker  *auth.ActivityTracker
	parser   *auth.TokenParser
}

// NewService はServiceの新しいインスタンスを生成する。
// trackerがnilの場合はサーバー側のアクティビティ記録を行わない。
func NewService(
	idp IdentityProvider,
	students repository.StudentRepository,
	tracker *auth.ActivityTracker,
	parser *auth.TokenParser,
) *Service {
	return &Service{
		idp:      idp,
		students: students,
		tracker:  tracker,
		parser:   parser,
	}
}

// SignIn はメールアドレスとパスワードでサインインし、アクティビティ記録を開始する。
// プロフィール行がなければ作成する。
func (s *Service) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, model.NewMissingCredentialsError()
	}

	sess, err := s.idp.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if err := s.students.Upsert(ctx, &model.Student{ID: sess.Actor.ID, Email: sess.Actor.Email}); err != nil {
		return nil, fmt.Errorf("プロフィールの作成に失敗しました: %w", err)
	}
	if err := s.tracker.Start(ctx, s.sessionKey(sess.Tokens.AccessToken)); err != nil {
		return nil, err
	}

	slog.Info("サインインしました", slog.String("actor_id", sess.Actor.ID))
	return sess, nil
}

// SignUp は新規ユーザーを登録し、プロフィール行を作成する。
// メール確認待ちの場合は返却されるトークンがゼロ値になる。
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*identity.Session, error) {
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return nil, model.NewMissingCredentialsError()
	}
	if len(req.Password) < MinPasswordLength {
		return nil, model.NewPasswordTooShortError(MinPasswordLength)
	}

	profile := identity.SignUpProfile{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Phone:     strings.TrimSpace(req.Phone),
	}
	sess, err := s.idp.SignUp(ctx, req.Email, req.Password, profile)
	if err != nil {
		return nil, err
	}

	student := &model.Student{
		ID:        sess.Actor.ID,
		Email:     sess.Actor.Email,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Phone:     profile.Phone,
	}
	if student.Email == "" {
		student.Email = req.Email
	}
	if err := s.students.Upsert(ctx, student); err != nil {
		return nil, fmt.Errorf("プロフィールの作成に失敗しました: %w", err)
	}

	if !sess.Tokens.Empty() {
		if err := s.tracker.Start(ctx, s.sessionKey(sess.Tokens.AccessToken)); err != nil {
			return nil, err
		}
	}

	slog.Info("サインアップしました", slog.String("actor_id", sess.Actor.ID))
	return sess, nil
}

// SignOut はIdP上のセッションを指定範囲で失効させ、アクティビティ記録を削除する。
// scopeが空の場合はglobalとして扱う。IdPが応答しない場合もサーバー側の記録は削除する。
func (s *Service) SignOut(ctx context.Context, accessToken string, scope auth.SignOutScope) error {
	if accessToken == "" {
		return &auth.Error{Kind: auth.KindUnauthenticated, Op: "sign out"}
	}
	if scope == "" {
		scope = auth.ScopeGlobal
	}
	endErr := s.tracker.End(ctx, s.sessionKey(accessToken))
	if err := s.idp.SignOut(ctx, accessToken, scope); err != nil {
		return err
	}
	return endErr
}

// RestoreSession は保存済みのトークンを検証し、有効であればアクティビティ記録を開始する。
// トークンが欠けている場合と、非アクティブで失効したセッションの場合はIdPに問い合わせずに失敗する。
func (s *Service) RestoreSession(ctx context.Context, tokens model.SessionTokens) (*identity.Session, error) {
	if tokens.Empty() {
		return nil, &auth.Error{Kind: auth.KindUnauthenticated, Op: "restore session", Reason: "missing_tokens"}
	}
	if err := s.tracker.Admit(ctx, s.sessionKey(tokens.AccessToken)); err != nil {
		return nil, err
	}

	actor, restored, err := s.idp.SetSession(ctx, tokens)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, &auth.Error{Kind: auth.KindInvalidCredential, Op: "restore session"}
	}

	if err := s.tracker.Start(ctx, s.sessionKey(restored.AccessToken)); err != nil {
		return nil, err
	}
	return &identity.Session{Actor: *actor, Tokens: restored}, nil
}

// ChangePassword は現在のパスワードを再確認した上でパスワードを変更する。
func (s *Service) ChangePassword(ctx context.Context, actor *model.Actor, accessToken, current, next string) error {
	if actor == nil {
		return &auth.Error{Kind: auth.KindUnauthenticated, Op: "change password"}
	}
	if current == "" || next == "" {
		return model.NewMissingCredentialsError()
	}
	if len(next) < MinPasswordLength {
		return model.NewPasswordTooShortError(MinPasswordLength)
	}

	if _, err := s.idp.SignIn(ctx, actor.Email, current); err != nil {
		if auth.KindOf(err) == auth.KindInvalidCredential {
			return model.NewWrongPasswordError()
		}
		return err
	}
	if err := s.idp.UpdatePassword(ctx, accessToken, next); err != nil {
		return err
	}

	slog.Info("パスワードを変更しました", slog.String("actor_id", actor.ID))
	return nil
}

// ForgotPassword はパスワード再設定メールの送信を依頼する。
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.NewInvalidRequestError("email is required")
	}
	return s.idp.Recover(ctx, email)
}

func (s *Service) sessionKey(accessToken string) string {
	if accessToken == "" {
		return ""
	}
	claims, _ := s.parser.Parse(accessToken)
	return auth.SessionKey(claims, accessToken)
}
