package auth

import (
	"context"
	"log/slog"
	"time"
)

// DefaultExpiredRetention は非アクティブで失効したセッションキーを拒否し続ける期間。
const DefaultExpiredRetention = 24 * time.Hour

// ActivityStore はサーバー側のセッションごとの最終アクティビティ時刻を保持する。
type ActivityStore interface {
	Touch(ctx context.Context, key string, at time.Time, ttl time.Duration) error
	// LastActivity は記録がない場合に found=false を返す。
	LastActivity(ctx context.Context, key string) (at time.Time, found bool, err error)
	Delete(ctx context.Context, key string) error
	// MarkExpired は失効したセッションキーをttlの間記録する。
	MarkExpired(ctx context.Context, key string, ttl time.Duration) error
	IsExpired(ctx context.Context, key string) (bool, error)
}

// SessionRevoker はタイムアウトしたセッションをIdP上で失効させる。
// identity.Clientが実装する。
type SessionRevoker interface {
	SignOut(ctx context.Context, accessToken string, scope SignOutScope) error
}

// ExpiryObserver はセッションの失効を受け取る。
type ExpiryObserver interface {
	ObserveSessionExpired()
}

// ActivityTracker はサーバー側で非アクティブタイムアウトを判定する。
// nilのActivityTrackerは無効として扱い、すべての操作が何もしない。
type ActivityTracker struct {
	store     ActivityStore
	policy    Policy
	revoker   SessionRevoker
	observer  ExpiryObserver
	retention time.Duration
	now       func() time.Time
}

// NewActivityTracker はActivityTrackerを生成する。revokerとobserverはnilでもよい。
func NewActivityTracker(store ActivityStore, policy Policy, revoker SessionRevoker, observer ExpiryObserver) *ActivityTracker {
	return &ActivityTracker{
		store:     store,
		policy:    policy,
		revoker:   revoker,
		observer:  observer,
		retention: DefaultExpiredRetention,
		now:       time.Now,
	}
}

// Start はサインイン・セッション復元時に記録を作成する。
func (t *ActivityTracker) Start(ctx context.Context, key string) error {
	if t == nil || key == "" {
		return nil
	}
	if err := t.store.Touch(ctx, key, t.now(), t.ttl()); err != nil {
		return Unavailable("start activity", err)
	}
	return nil
}

// Admit は非アクティブで失効したセッションキーを拒否する。
// セッション復元の前に呼び出す。
func (t *ActivityTracker) Admit(ctx context.Context, key string) error {
	if t == nil || key == "" {
		return nil
	}
	expired, err := t.store.IsExpired(ctx, key)
	if err != nil {
		return Unavailable("admit session", err)
	}
	if expired {
		return sessionExpired("admit session")
	}
	return nil
}

// Check はリクエストごとにタイムアウトを判定し、有効であれば記録を更新する。
// 記録がない・古い場合はセッションを失効させ、ストア障害はProviderUnavailableを返す。
// accessTokenは失効時のIdPでのサインアウトに使う。
func (t *ActivityTracker) Check(ctx context.Context, key, accessToken string) error {
	if t == nil || key == "" {
		return nil
	}
	now := t.now()
	last, found, err := t.store.LastActivity(ctx, key)
	if err != nil {
		return Unavailable("check activity", err)
	}
	if found && !t.policy.TimedOut(last, now) {
		if err := t.store.Touch(ctx, key, now, t.ttl()); err != nil {
			return Unavailable("touch activity", err)
		}
		return nil
	}

	if !found {
		expired, err := t.store.IsExpired(ctx, key)
		if err != nil {
			return Unavailable("check activity", err)
		}
		if expired {
			return sessionExpired("check activity")
		}
	}
	t.expire(ctx, key, accessToken, found)
	return sessionExpired("check activity")
}

// End はサインアウト時に記録を削除する。
func (t *ActivityTracker) End(ctx context.Context, key string) error {
	if t == nil || key == "" {
		return nil
	}
	if err := t.store.Delete(ctx, key); err != nil {
		return Unavailable("end activity", err)
	}
	return nil
}

// expire はセッションキーを失効済みとして記録し、IdP上のセッションも破棄する。
// 途中の失敗はログに残して続行する。
func (t *ActivityTracker) expire(ctx context.Context, key, accessToken string, found bool) {
	if found {
		if err := t.store.Delete(ctx, key); err != nil {
			slog.Warn("failed to delete stale session activity", slog.String("error", err.Error()))
		}
	}
	if err := t.store.MarkExpired(ctx, key, t.retention); err != nil {
		slog.Warn("failed to mark session expired", slog.String("error", err.Error()))
	}
	if t.revoker != nil && accessToken != "" {
		if err := t.revoker.SignOut(ctx, accessToken, ScopeLocal); err != nil {
			slog.Warn("sign out on server-side expiry failed",
				slog.String("kind", KindOf(err).String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if t.observer != nil {
		t.observer.ObserveSessionExpired()
	}
	slog.Info("session expired by inactivity", slog.Bool("had_activity", found))
}

// ttlは判定に必要な期間より長く保持し、判定自体はタイムスタンプで行う。
func (t *ActivityTracker) ttl() time.Duration {
	return t.policy.InactivityTimeout * 2
}
