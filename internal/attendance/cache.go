package attendance

import (
	"context"
	"fmt"
	"log"
)

// StatsCache: 統計の read-through キャッシュ。正は常に Repository 側。
// scope ごとの世代番号をキーに含め、書き込み時は Bump で世代を進めて古い値を無効にする
type StatsCache interface {
	Generation(ctx context.Context, scope string) (int64, error)
	Bump(ctx context.Context, scope string) error
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any) error
}

type noopCache struct{}

func (noopCache) Generation(context.Context, string) (int64, error) { return 0, nil }
func (noopCache) Bump(context.Context, string) error                { return nil }
func (noopCache) Get(context.Context, string, any) (bool, error)    { return false, nil }
func (noopCache) Set(context.Context, string, any) error            { return nil }

func studentScope(id string) string { return "student:" + id }
func classScope(id string) string   { return "class:" + id }

// cached: キャッシュの失敗はログだけ出して load にフォールバックする
func cached[T any](ctx context.Context, c StatsCache, scope, key string, load func() (T, error)) (T, error) {
	gen, err := c.Generation(ctx, scope)
	if err != nil {
		log.Printf("[WARN] stats cache generation %s: %v", scope, err)
		return load()
	}
	fullKey := fmt.Sprintf("%s:g%d:%s", scope, gen, key)

	var hit T
	ok, err := c.Get(ctx, fullKey, &hit)
	if err != nil {
		log.Printf("[WARN] stats cache get %s: %v", fullKey, err)
	}
	if ok {
		return hit, nil
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	if err := c.Set(ctx, fullKey, v); err != nil {
		log.Printf("[WARN] stats cache set %s: %v", fullKey, err)
	}
	return v, nil
}
