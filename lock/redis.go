// Package lock provides a stock.Locker backed by Redis, for deployments
// where several processes post to the same database.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/stock-ledger/costing"
	"github.com/warp/stock-ledger/stock"
)

// KeyPrefix namespaces lock keys in Redis.
const KeyPrefix = "stock-lock:"

// ErrNotObtained is returned when a key stays locked by another process
// for longer than the retry budget.
var ErrNotObtained = errors.New("stock lock not obtained")

type releaseFunc func(ctx context.Context) error

// RedisLocker implements stock.Locker with one redislock per
// (item, location), obtained in SortedKeys order.
type RedisLocker struct {
	TTL    time.Duration
	Logger logrus.FieldLogger

	obtain func(ctx context.Context, key string, ttl time.Duration) (releaseFunc, error)
}

var _ stock.Locker = (*RedisLocker)(nil)

// NewRedisLocker retries each key every retryInterval, up to retries times.
func NewRedisLocker(client redis.UniversalClient, ttl, retryInterval time.Duration, retries int, logger logrus.FieldLogger) *RedisLocker {
	locker := redislock.New(client)
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(retryInterval), retries),
	}
	return &RedisLocker{
		TTL:    ttl,
		Logger: logger,
		obtain: func(ctx context.Context, key string, ttl time.Duration) (releaseFunc, error) {
			l, err := locker.Obtain(ctx, key, ttl, opts)
			if err != nil {
				return nil, err
			}
			return l.Release, nil
		},
	}
}

// Key returns the Redis key guarding one costing queue.
func Key(k costing.Key) string {
	return KeyPrefix + k.Item + ":" + k.Location
}

func (r *RedisLocker) Lock(ctx context.Context, keys []costing.Key) (func(), error) {
	keys = stock.SortedKeys(keys)
	held := make([]releaseFunc, 0, len(keys))
	release := func() {
		// The caller's context may already be done; releasing must not depend on it.
		bg := context.Background()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i](bg); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.log().WithError(err).Warn("failed to release stock lock")
			}
		}
	}

	for _, k := range keys {
		rel, err := r.obtain(ctx, Key(k), r.TTL)
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, fmt.Errorf("%w: %s", ErrNotObtained, k)
			}
			return nil, fmt.Errorf("obtain stock lock %s: %w", k, err)
		}
		held = append(held, rel)
	}
	return release, nil
}

func (r *RedisLocker) log() logrus.FieldLogger {
	if r.Logger == nil {
		return logrus.StandardLogger()
	}
	return r.Logger
}
