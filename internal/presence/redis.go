package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:"

type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Tracker = (*RedisTracker)(nil)

func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	return &RedisTracker{client: client, ttl: ttl}
}

func (t *RedisTracker) Set(ctx context.Context, accountID, status string) error {
	if status == StatusOffline {
		return t.Clear(ctx, accountID)
	}
	if err := t.client.Set(ctx, keyPrefix+accountID, status, t.ttl).Err(); err != nil {
		return fmt.Errorf("setting presence: %w", err)
	}
	return nil
}

func (t *RedisTracker) Clear(ctx context.Context, accountID string) error {
	if err := t.client.Del(ctx, keyPrefix+accountID).Err(); err != nil {
		return fmt.Errorf("clearing presence: %w", err)
	}
	return nil
}

func (t *RedisTracker) Status(ctx context.Context, accountID string) (string, error) {
	status, err := t.client.Get(ctx, keyPrefix+accountID).Result()
	if errors.Is(err, redis.Nil) {
		return StatusOffline, nil
	}
	if err != nil {
		return StatusOffline, fmt.Errorf("reading presence: %w", err)
	}
	return status, nil
}

func (t *RedisTracker) Online(ctx context.Context) (map[string]string, error) {
	online := make(map[string]string)

	iter := t.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning presence keys: %w", err)
	}
	if len(keys) == 0 {
		return online, nil
	}

	values, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading presence values: %w", err)
	}
	for i, v := range values {
		status, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		online[strings.TrimPrefix(keys[i], keyPrefix)] = status
	}
	return online, nil
}
