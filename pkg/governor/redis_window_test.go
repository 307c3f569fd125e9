package governor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisWindow(t *testing.T) *RedisWindow {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisWindow(client, "", time.Hour)
}

func TestRedisWindow_PrunesAndSummarises(t *testing.T) {
	w := newRedisWindow(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, w.Record(ctx, t0))
	require.NoError(t, w.Record(ctx, t0.Add(time.Minute)))
	require.NoError(t, w.Record(ctx, t0.Add(2*time.Minute)))

	stats, err := w.Stats(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.WithinDuration(t, t0.Add(time.Minute), stats.Oldest, time.Microsecond)
	assert.WithinDuration(t, t0.Add(2*time.Minute), stats.Newest, time.Microsecond)
}

func TestRedisWindow_EmptyWindow(t *testing.T) {
	w := newRedisWindow(t)

	stats, err := w.Stats(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
	assert.True(t, stats.Oldest.IsZero())
}

func TestGovernor_SharedRedisWindow(t *testing.T) {
	w := newRedisWindow(t)
	clock := newFakeClock()

	// Two governors share one budget, as two experiment variants would.
	a := newTestGovernor(clock, Config{HourlyLimit: 2, Window: w})
	b := newTestGovernor(clock, Config{HourlyLimit: 2, Window: w})
	ctx := context.Background()

	require.NoError(t, a.Execute(ctx, "a", ok))
	clock.Advance(time.Minute)
	require.NoError(t, b.Execute(ctx, "b", ok))
	clock.Advance(time.Minute)
	require.NoError(t, a.Execute(ctx, "a2", ok))

	sleeps := clock.Sleeps()
	require.NotEmpty(t, sleeps)
	var total time.Duration
	for _, s := range sleeps {
		total += s
	}
	assert.GreaterOrEqual(t, total, 58*time.Minute)
}

func TestRedisWindow_KeepsMicrosecondTimestamps(t *testing.T) {
	w := newRedisWindow(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)

	require.NoError(t, w.Record(ctx, at))
	stats, err := w.Stats(ctx, at.Add(-time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, stats.Count)
	want := at.Truncate(time.Microsecond)
	assert.True(t, want.Equal(stats.Oldest), "oldest %v, want %v", stats.Oldest, want)
	assert.True(t, want.Equal(stats.Newest), "newest %v, want %v", stats.Newest, want)
}
