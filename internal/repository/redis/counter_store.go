package redis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"security-service/internal/client"
	"security-service/internal/ratelimit"
	"security-service/internal/util"
)

const slidingWindowPrefix = "rate_limit:"

// slideScript implements the sliding window atomically per key:
// expire old entries, add the current request, count, report the oldest
// remaining score. Adding before counting means a burst straddling two fixed
// window boundaries cannot evade the limit.
const slideScript = `
    local key = KEYS[1]
    local now = tonumber(ARGV[1])
    local window_start = tonumber(ARGV[2])
    local window_ms = tonumber(ARGV[3])
    local marker = ARGV[4]

    redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
    redis.call('ZADD', key, now, marker)
    redis.call('PEXPIRE', key, window_ms)

    local count = redis.call('ZCARD', key)
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    return {count, oldest[2]}
`

// redisCommands is the slice of the Redis client the counter store uses.
type redisCommands interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
	ZRem(ctx context.Context, key string, members ...interface{}) (int64, error)
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) error
}

// CounterStore is the shared sliding-window counter backed by Redis sorted
// sets. Safe under concurrency: the Lua script makes each check atomic per
// key.
type CounterStore struct {
	client redisCommands
	seq    atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
}

func NewCounterStore(client *client.RedisClient) *CounterStore {
	return newCounterStore(client)
}

func newCounterStore(client redisCommands) *CounterStore {
	return &CounterStore{
		client: client,
		stop:   make(chan struct{}),
	}
}

var _ ratelimit.CounterStore = (*CounterStore)(nil)

// Slide runs the atomic expire-insert-count cycle for key.
func (s *CounterStore) Slide(ctx context.Context, key string, window time.Duration) (ratelimit.SlideResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now()
	nowMs := now.UnixMilli()
	windowStart := nowMs - window.Milliseconds()
	marker := fmt.Sprintf("%d-%d", now.UnixNano(), s.seq.Add(1))

	result, err := s.client.Eval(ctx, slideScript,
		[]string{slidingWindowPrefix + key},
		nowMs, windowStart, window.Milliseconds(), marker)
	if err != nil {
		util.Error("Failed to execute sliding window script",
			zap.String("key", key),
			zap.Duration("window", window),
			zap.Error(err))
		return ratelimit.SlideResult{}, fmt.Errorf("failed to execute sliding window script: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) != 2 {
		return ratelimit.SlideResult{}, fmt.Errorf("unexpected result format from sliding window script")
	}

	count, ok := resultSlice[0].(int64)
	if !ok {
		return ratelimit.SlideResult{}, fmt.Errorf("unexpected count type from sliding window script")
	}

	res := ratelimit.SlideResult{
		Count:  int(count),
		Marker: marker,
	}

	// Oldest score comes back as a string when present.
	if oldestStr, ok := resultSlice[1].(string); ok {
		var oldestMs int64
		if _, err := fmt.Sscanf(oldestStr, "%d", &oldestMs); err == nil {
			res.WindowStart = time.UnixMilli(oldestMs)
		}
	}

	util.Debug("Sliding window check",
		zap.String("key", key),
		zap.Int("count", res.Count),
		zap.Duration("window", window))

	return res, nil
}

// Forget removes the entry added under marker and reports whether one was
// removed. Targets exactly one member; other entries for the key are
// untouched.
func (s *CounterStore) Forget(ctx context.Context, key, marker string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	removed, err := s.client.ZRem(ctx, slidingWindowPrefix+key, marker)
	if err != nil {
		util.Error("Failed to remove sliding window entry",
			zap.String("key", key),
			zap.String("marker", marker),
			zap.Error(err))
		return false, fmt.Errorf("failed to remove sliding window entry: %w", err)
	}
	if removed == 0 {
		util.Debug("Sliding window entry not in shared store",
			zap.String("key", key),
			zap.String("marker", marker))
	}
	return removed > 0, nil
}

// ReapStale walks counter keys and removes any that lost their TTL, so
// drifted keys are cleared before they accumulate.
func (s *CounterStore) ReapStale(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	keys, _, err := s.client.Scan(ctx, 0, slidingWindowPrefix+"*", 1000)
	if err != nil {
		return fmt.Errorf("failed to scan sliding window keys: %w", err)
	}

	stale := 0
	for _, key := range keys {
		ttl, err := s.client.TTL(ctx, key)
		if err != nil {
			continue
		}
		// go-redis reports "no TTL" as -1s.
		if ttl == -1*time.Second {
			stale++
			util.Warn("Found counter key without TTL", zap.String("key", key))
			_ = s.client.Del(ctx, key)
		}
	}

	util.Info("Counter store reap completed",
		zap.Int("keys_checked", len(keys)),
		zap.Int("stale_removed", stale))
	return nil
}

// StartReaper runs ReapStale on a low-priority interval until Stop is called.
func (s *CounterStore) StartReaper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.ReapStale(context.Background()); err != nil {
					util.Warn("Counter store reap failed", zap.Error(err))
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the reaper. There is no in-flight work to cancel.
func (s *CounterStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
