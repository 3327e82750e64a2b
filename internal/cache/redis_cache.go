package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "staybook:rate"
	scanBatch        = 200
)

// RedisRateStore shares cached weekly prices between service instances.
// Keys outlive the freshness TTL by the retention period so that a stale
// price is still available when the repository is down.
type RedisRateStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

func NewRedisRateStore(addr string, password string, db int, retention time.Duration) *RedisRateStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	return &RedisRateStore{client: client, prefix: defaultKeyPrefix, retention: retention}
}

func (c *RedisRateStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisRateStore) Close() error {
	return c.client.Close()
}

func (c *RedisRateStore) Get(ctx context.Context, apartmentID string, weekStart time.Time) (RateEntry, bool, error) {
	val, err := c.client.Get(ctx, c.key(NewRateKey(apartmentID, weekStart))).Result()
	if errors.Is(err, redis.Nil) {
		return RateEntry{}, false, nil
	}
	if err != nil {
		return RateEntry{}, false, err
	}

	var entry RateEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return RateEntry{}, false, err
	}
	return entry, true, nil
}

func (c *RedisRateStore) Set(ctx context.Context, apartmentID string, weekStart time.Time, entry RateEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(NewRateKey(apartmentID, weekStart)), payload, c.retention).Err()
}

func (c *RedisRateStore) SetMany(ctx context.Context, entries map[RateKey]RateEntry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for k, entry := range entries {
		payload, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		pipe.Set(ctx, c.key(k), payload, c.retention)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisRateStore) Invalidate(ctx context.Context, apartmentID string, year int) (int, error) {
	pattern := fmt.Sprintf("%s:%s:%04d-*", c.prefix, escapeGlob(apartmentID), year)
	return c.deleteMatching(ctx, pattern)
}

func (c *RedisRateStore) Clear(ctx context.Context) error {
	_, err := c.deleteMatching(ctx, c.prefix+":*")
	return err
}

func (c *RedisRateStore) deleteMatching(ctx context.Context, pattern string) (int, error) {
	removed := 0
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (c *RedisRateStore) key(k RateKey) string {
	return RedisKey(c.prefix, k)
}

// RedisKey renders prefix:apartment:YYYY-MM-DD.
func RedisKey(prefix string, k RateKey) string {
	return prefix + ":" + k.ApartmentID + ":" + k.Week
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
