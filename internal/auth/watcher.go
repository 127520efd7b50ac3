package auth

import (
	"context"
	"log/slog"
	"time"
)

// TimeoutWatcher はLifecycleのタイムアウトを定期的に確認する。
type TimeoutWatcher struct {
	lifecycle *Lifecycle
	interval  time.Duration
	now       func() time.Time
}

// NewTimeoutWatcher はポリシーの確認間隔で動作するTimeoutWatcherを生成する。
func NewTimeoutWatcher(lifecycle *Lifecycle) *TimeoutWatcher {
	return &TimeoutWatcher{
		lifecycle: lifecycle,
		interval:  lifecycle.Policy().CheckInterval,
		now:       time.Now,
	}
}

// Run はコンテキストがキャンセルされるか、有効なセッションがなくなるまでブロックする。
// タイムアウトを検出した場合はセッションを失効させてから戻る。
func (w *TimeoutWatcher) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.Tick(ctx) != StateActive {
				return
			}
		}
	}
}

// Tick は1回分の確認を行い、確認後の状態を返す。
func (w *TimeoutWatcher) Tick(ctx context.Context) State {
	switch w.lifecycle.CheckTimeout(w.now()) {
	case StateExpired:
		slog.Info("session expired by inactivity")
		w.lifecycle.Expire(ctx)
		return StateExpired
	case StateActive:
		return StateActive
	default:
		return w.lifecycle.State()
	}
}
