package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/unimarket/internal/model"
)

// State はセッションライフサイクルの状態を表す。
type State int

const (
	// StateNoSession はセッションが存在しない状態。
	StateNoSession State = iota
	// StateRestoring は保存済みトークンを再検証中の状態。
	StateRestoring
	// StateActive はセッションが有効な状態。
	StateActive
	// StateExpired はタイムアウトまたは拒否により失効し、再認証待ちの状態。
	StateExpired
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateRestoring:
		return "restoring"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Policy は非アクティブタイムアウトの設定。
type Policy struct {
	InactivityTimeout time.Duration
	CheckInterval     time.Duration
}

// DefaultPolicy は既定のポリシー（30分のタイムアウト、1分間隔の確認）。
var DefaultPolicy = Policy{
	InactivityTimeout: 30 * time.Minute,
	CheckInterval:     time.Minute,
}

// Validate はポリシー値が正であることを検証する。
func (p Policy) Validate() error {
	if p.InactivityTimeout <= 0 {
		return fmt.Errorf("inactivity timeout must be positive: %s", p.InactivityTimeout)
	}
	if p.CheckInterval <= 0 {
		return fmt.Errorf("check interval must be positive: %s", p.CheckInterval)
	}
	return nil
}

// TimedOut は最終アクティビティからtimeout以上経過しているかどうかを返す。
// last+timeout-1ns まではfalse、last+timeout ちょうどでtrueになる。
func (p Policy) TimedOut(last, now time.Time) bool {
	return !now.Before(last.Add(p.InactivityTimeout))
}

// SignOutScope はサインアウトの範囲を表す。
type SignOutScope string

const (
	ScopeGlobal SignOutScope = "global"
	ScopeLocal  SignOutScope = "local"
	ScopeOthers SignOutScope = "others"
)

// SessionProvider は保存済みトークンの再検証と破棄を行うIdPの機能。
type SessionProvider interface {
	// SetSession はトークンの組を検証し、行為者と（更新された可能性のある）トークンを返す。
	SetSession(ctx context.Context, tokens model.SessionTokens) (*model.Actor, model.SessionTokens, error)
	// SignOut はアクセストークンを指定範囲で失効させる。
	SignOut(ctx context.Context, accessToken string, scope SignOutScope) error
}

// Lifecycle は1クライアント分のセッション状態機械。
// 状態の判定は注入された時計に対して行い、タイマー自体は持たない。
type Lifecycle struct {
	provider SessionProvider
	policy   Policy
	now      func() time.Time

	mu           sync.Mutex
	state        State
	actor        *model.Actor
	tokens       model.SessionTokens
	lastActivity time.Time
	onExpire     func()
}

// NewLifecycle はLifecycleを生成する。初期状態はStateNoSession。
func NewLifecycle(provider SessionProvider, policy Policy) *Lifecycle {
	return &Lifecycle{
		provider: provider,
		policy:   policy,
		now:      time.Now,
	}
}

// SetClock は現在時刻の取得関数を差し替える。
func (l *Lifecycle) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// OnExpire は失効時に一度だけ呼ばれるフックを登録する。再認証の促しに使う。
func (l *Lifecycle) OnExpire(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onExpire = fn
}

// Policy は適用中のポリシーを返す。
func (l *Lifecycle) Policy() Policy { return l.policy }

// State は現在の状態を返す。
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Actor は有効なセッションの行為者を返す。セッションがなければnil。
func (l *Lifecycle) Actor() *model.Actor {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateActive {
		return nil
	}
	return l.actor
}

// Tokens は有効なセッションのトークンを返す。セッションがなければゼロ値。
func (l *Lifecycle) Tokens() model.SessionTokens {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateActive {
		return model.SessionTokens{}
	}
	return l.tokens
}

// LastActivity は最終アクティビティ時刻を返す。
func (l *Lifecycle) LastActivity() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastActivity
}

// Restore は保存済みトークンを一度だけ再検証する。
// 検証に失敗した場合は理由を問わずStateNoSessionに遷移し、トークンを破棄する。再試行はしない。
func (l *Lifecycle) Restore(ctx context.Context, saved model.SessionTokens) State {
	l.mu.Lock()
	if l.state == StateRestoring {
		l.mu.Unlock()
		return StateRestoring
	}
	l.state = StateRestoring
	l.actor = nil
	l.tokens = model.SessionTokens{}
	now := l.now
	l.mu.Unlock()

	actor, tokens, err := l.validate(ctx, saved, now())

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		slog.Info("session restore failed",
			slog.String("kind", KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		l.state = StateNoSession
		return l.state
	}
	l.begin(actor, tokens)
	return l.state
}

func (l *Lifecycle) validate(ctx context.Context, saved model.SessionTokens, now time.Time) (*model.Actor, model.SessionTokens, error) {
	if saved.Empty() {
		return nil, model.SessionTokens{}, Invalid("restore", errors.New("saved tokens are incomplete"))
	}
	actor, tokens, err := l.provider.SetSession(ctx, saved)
	if err != nil {
		return nil, model.SessionTokens{}, err
	}
	if actor == nil || CanonicalID(actor.ID) == "" {
		return nil, model.SessionTokens{}, Invalid("restore", errors.New("provider returned no user"))
	}
	if tokens.Empty() {
		tokens = saved
	}
	if tokens.Expired(now) {
		return nil, model.SessionTokens{}, &Error{Kind: KindInvalidCredential, Op: "restore", Reason: "token_expired"}
	}
	return &model.Actor{ID: CanonicalID(actor.ID), Email: actor.Email}, tokens, nil
}

// Begin はサインイン直後のセッションを有効化する。
func (l *Lifecycle) Begin(actor *model.Actor, tokens model.SessionTokens) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.begin(&model.Actor{ID: CanonicalID(actor.ID), Email: actor.Email}, tokens)
}

func (l *Lifecycle) begin(actor *model.Actor, tokens model.SessionTokens) {
	l.state = StateActive
	l.actor = actor
	l.tokens = tokens
	l.lastActivity = l.now()
}

// UpdateTokens はリフレッシュ後のトークンを反映する。有効なセッションがない場合は何もしない。
func (l *Lifecycle) UpdateTokens(tokens model.SessionTokens) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateActive && !tokens.Empty() {
		l.tokens = tokens
	}
}

// RecordActivity は最終アクティビティ時刻を更新する。有効なセッションがない場合は何もしない。
func (l *Lifecycle) RecordActivity() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateActive {
		l.lastActivity = l.now()
	}
}

// CheckTimeout はnow時点でセッションがタイムアウトしているかを判定する。状態は変更しない。
// 有効なセッション以外では現在の状態をそのまま返す。
func (l *Lifecycle) CheckTimeout(now time.Time) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateActive {
		return l.state
	}
	if l.policy.TimedOut(l.lastActivity, now) {
		return StateExpired
	}
	return StateActive
}

// Expire はセッションを失効させる。トークンを破棄し、IdPへのローカルサインアウトと
// OnExpireフックを一度だけ実行する。2回目以降の呼び出しは何もしない。
func (l *Lifecycle) Expire(ctx context.Context) {
	l.mu.Lock()
	if l.state != StateActive {
		l.mu.Unlock()
		return
	}
	token := l.tokens.AccessToken
	l.state = StateExpired
	l.actor = nil
	l.tokens = model.SessionTokens{}
	hook := l.onExpire
	l.mu.Unlock()

	if token != "" {
		if err := l.provider.SignOut(ctx, token, ScopeLocal); err != nil {
			slog.Warn("sign out on expiry failed", slog.String("error", err.Error()))
		}
	}
	if hook != nil {
		hook()
	}
}

// Acknowledge は失効を確認し、StateNoSessionに遷移する。
func (l *Lifecycle) Acknowledge() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateExpired {
		l.state = StateNoSession
	}
}

// SignOut は明示的なサインアウトを行う。どの状態からでもStateNoSessionに遷移する。
func (l *Lifecycle) SignOut(ctx context.Context) error {
	l.mu.Lock()
	token := l.tokens.AccessToken
	l.state = StateNoSession
	l.actor = nil
	l.tokens = model.SessionTokens{}
	l.mu.Unlock()

	if token == "" {
		return nil
	}
	if err := l.provider.SignOut(ctx, token, ScopeGlobal); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}
