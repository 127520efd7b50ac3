// Package cleanup はカートの定期メンテナンスを行う。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/unimarket/internal/model"
)

// DefaultRetentionDays は売却済み出品のカート行を残す日数の既定値。
const DefaultRetentionDays = 7

// Executor は*sql.DBと*sql.Txが満たす。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// 出品そのものが削除された行は外部キーのON DELETE CASCADEで消える
const pruneSoldQuery = `DELETE FROM cart_items ci
	USING listings l
	WHERE ci.listing_id = l.id
	  AND l.status = $1
	  AND l.updated_at < now() - make_interval(days => $2)`

// CartPruneJob は売却から一定日数が過ぎた出品をカートから取り除く。
// 何度実行しても同じ結果になる。
type CartPruneJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int
}

// NewCartPruneJob はretentionDaysが0以下ならDefaultRetentionDaysを使う。
func NewCartPruneJob(db Executor, logger *slog.Logger, retentionDays int) *CartPruneJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CartPruneJob{db: db, logger: logger, RetentionDays: retentionDays}
}

// Run は1回分の削除を行い、削除した行数を返す。
func (j *CartPruneJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	log := j.logger.With(slog.Int("retention_days", j.RetentionDays))

	result, err := j.db.ExecContext(ctx, pruneSoldQuery, string(model.ListingStatusSold), j.RetentionDays)
	if err != nil {
		log.Error("cart prune failed", slog.String("error", err.Error()))
		return 0, fmt.Errorf("カートのクリーンアップに失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		log.Error("cart prune row count unavailable", slog.String("error", err.Error()))
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}

	log.Info("cart prune completed",
		slog.Int64("deleted_count", deleted),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return deleted, nil
}

// Start は即時に1回、以降はinterval毎にRunを呼ぶ。ctxが終わるまで戻らない。
// 失敗した回はログだけ残して次の周期を待つ。
func (j *CartPruneJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_, _ = j.Run(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
