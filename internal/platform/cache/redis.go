package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "presensi:stats:"

// RedisStats: 統計キャッシュの Redis 実装。
// 世代番号は期限なし、値は TTL 付きで保存する（古い世代の値は TTL で消える）
type RedisStats struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStats(rdb *redis.Client, ttl time.Duration) *RedisStats {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisStats{rdb: rdb, ttl: ttl}
}

func genKey(scope string) string { return keyPrefix + "gen:" + scope }
func valueKey(key string) string { return keyPrefix + "val:" + key }

func (c *RedisStats) Generation(ctx context.Context, scope string) (int64, error) {
	n, err := c.rdb.Get(ctx, genKey(scope)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *RedisStats) Bump(ctx context.Context, scope string) error {
	return c.rdb.Incr(ctx, genKey(scope)).Err()
}

func (c *RedisStats) Get(ctx context.Context, key string, dst any) (bool, error) {
	b, err := c.rdb.Get(ctx, valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisStats) Set(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, valueKey(key), b, c.ttl).Err()
}

// Dial: 接続して疎通確認まで行う。addr が空なら nil（キャッシュ無効）
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
