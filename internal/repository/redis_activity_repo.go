package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	activityKeyPrefix = "session_activity:"
	expiredKeyPrefix  = "session_expired:"
)

// RedisActivityRepo はRedisを使用したセッションアクティビティストア。
// 値は最終アクティビティ時刻のUnixナノ秒。
type RedisActivityRepo struct {
	client *redis.Client
}

// NewRedisActivityRepo はRedisActivityRepoを生成する。
func NewRedisActivityRepo(client *redis.Client) *RedisActivityRepo {
	return &RedisActivityRepo{client: client}
}

// Touch は最終アクティビティ時刻を記録し、TTLを設定する。
func (r *RedisActivityRepo) Touch(ctx context.Context, key string, at time.Time, ttl time.Duration) error {
	if err := r.client.Set(ctx, activityKeyPrefix+key, strconv.FormatInt(at.UnixNano(), 10), ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session activity: %w", err)
	}
	return nil
}

// LastActivity は最終アクティビティ時刻を返す。記録がない場合はfound=false。
func (r *RedisActivityRepo) LastActivity(ctx context.Context, key string) (time.Time, bool, error) {
	v, err := r.client.Get(ctx, activityKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to load session activity: %w", err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// 壊れた値は記録なしとして扱う
		return time.Time{}, false, nil
	}
	return time.Unix(0, n), true, nil
}

// Delete は記録を削除する。
func (r *RedisActivityRepo) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, activityKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete session activity: %w", err)
	}
	return nil
}

// MarkExpired は失効済みのセッションキーをTTL付きで記録する。
func (r *RedisActivityRepo) MarkExpired(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Set(ctx, expiredKeyPrefix+key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark session expired: %w", err)
	}
	return nil
}

// IsExpired はセッションキーが失効済みとして記録されているかを返す。
func (r *RedisActivityRepo) IsExpired(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, expiredKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to load session expiry: %w", err)
	}
	return n > 0, nil
}
