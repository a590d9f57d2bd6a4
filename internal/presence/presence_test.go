package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTracker(t *testing.T, ttl time.Duration) (*RedisTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTracker(client, ttl), mr
}

func TestTrackers(t *testing.T) {
	redisTracker, _ := newRedisTracker(t, time.Minute)
	trackers := map[string]Tracker{
		"memory": NewMemoryTracker(time.Minute),
		"redis":  redisTracker,
	}

	for name, tracker := range trackers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			status, err := tracker.Status(ctx, "acc_1")
			require.NoError(t, err)
			assert.Equal(t, StatusOffline, status)

			require.NoError(t, tracker.Set(ctx, "acc_1", StatusOnline))
			require.NoError(t, tracker.Set(ctx, "acc_2", StatusIdle))

			status, err = tracker.Status(ctx, "acc_1")
			require.NoError(t, err)
			assert.Equal(t, StatusOnline, status)

			online, err := tracker.Online(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"acc_1": StatusOnline, "acc_2": StatusIdle}, online)

			require.NoError(t, tracker.Set(ctx, "acc_2", StatusOffline))
			online, err = tracker.Online(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"acc_1": StatusOnline}, online)
		})
	}
}

func TestRedisTrackerEntriesExpire(t *testing.T) {
	tracker, mr := newRedisTracker(t, 30*time.Second)
	ctx := context.Background()

	require.NoError(t, tracker.Set(ctx, "acc_1", StatusOnline))
	mr.FastForward(31 * time.Second)

	status, err := tracker.Status(ctx, "acc_1")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, status)
}

func TestMemoryTrackerEntriesExpire(t *testing.T) {
	now := time.Now()
	tracker := NewMemoryTracker(30 * time.Second)
	tracker.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, tracker.Set(ctx, "acc_1", StatusDND))
	now = now.Add(31 * time.Second)

	status, err := tracker.Status(ctx, "acc_1")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, status)

	online, err := tracker.Online(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)
}
