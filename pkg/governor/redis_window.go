package governor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the sorted set holding call timestamps.
const DefaultRedisKey = "heirloom:governor:calls"

// RedisWindow shares call accounting between processes through a Redis
// sorted set scored by Unix microseconds.
type RedisWindow struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisWindow wraps client. An empty key uses DefaultRedisKey.
func NewRedisWindow(client *redis.Client, key string, ttl time.Duration) *RedisWindow {
	if key == "" {
		key = DefaultRedisKey
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisWindow{client: client, key: key, ttl: ttl}
}

// Stats implements Window.
func (w *RedisWindow) Stats(ctx context.Context, since time.Time) (WindowStats, error) {
	maxScore := strconv.FormatInt(since.UnixMicro(), 10)
	if err := w.client.ZRemRangeByScore(ctx, w.key, "-inf", maxScore).Err(); err != nil {
		return WindowStats{}, fmt.Errorf("prune window: %w", err)
	}

	count, err := w.client.ZCard(ctx, w.key).Result()
	if err != nil {
		return WindowStats{}, fmt.Errorf("count window: %w", err)
	}
	stats := WindowStats{Count: int(count)}
	if count == 0 {
		return stats, nil
	}

	oldest, err := w.client.ZRangeWithScores(ctx, w.key, 0, 0).Result()
	if err != nil {
		return WindowStats{}, fmt.Errorf("read oldest call: %w", err)
	}
	newest, err := w.client.ZRangeWithScores(ctx, w.key, -1, -1).Result()
	if err != nil {
		return WindowStats{}, fmt.Errorf("read newest call: %w", err)
	}
	if len(oldest) > 0 {
		stats.Oldest = time.UnixMicro(int64(oldest[0].Score))
	}
	if len(newest) > 0 {
		stats.Newest = time.UnixMicro(int64(newest[0].Score))
	}
	return stats, nil
}

// Record implements Window.
func (w *RedisWindow) Record(ctx context.Context, at time.Time) error {
	member := redis.Z{Score: float64(at.UnixMicro()), Member: uuid.NewString()}
	pipe := w.client.TxPipeline()
	pipe.ZAdd(ctx, w.key, member)
	pipe.Expire(ctx, w.key, w.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}
