package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis holds keys as redislock leases so that several server instances
// sharing a database also share receipt ownership. Leases are extended every
// half TTL until released, so a long reconciliation keeps its receipts.
type Redis struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	logger  *zap.Logger
}

func NewRedis(rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client:  redislock.New(rdb),
		ttl:     ttl,
		backoff: 50 * time.Millisecond,
		logger:  logger,
	}
}

func (r *Redis) Acquire(ctx context.Context, keys []string) (Release, error) {
	keys = normalize(keys)
	held := make([]*redislock.Lock, 0, len(keys))
	releaseAll := func() {
		// Release with a fresh context so a cancelled request still frees its keys.
		bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(bg); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.Warn("failed to release lock", zap.String("key", held[i].Key()), zap.Error(err))
			}
		}
	}

	for _, key := range keys {
		lk, err := r.client.Obtain(ctx, key, r.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(r.backoff),
		})
		if err != nil {
			releaseAll()
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
			}
			return nil, fmt.Errorf("obtain lock %s: %w", key, err)
		}
		held = append(held, lk)
	}

	stopRefresh := keepAlive(r.ttl/2, func(ctx context.Context) error {
		for _, lk := range held {
			if err := lk.Refresh(ctx, r.ttl, nil); err != nil {
				return fmt.Errorf("refresh lock %s: %w", lk.Key(), err)
			}
		}
		return nil
	}, func(err error) {
		r.logger.Warn("receipt lock lease not extended", zap.Error(err))
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			stopRefresh()
			releaseAll()
		})
	}, nil
}

const minRefreshInterval = 10 * time.Millisecond

// keepAlive calls refresh every interval until the returned stop function
// is called. stop waits for an in-flight refresh to return.
func keepAlive(interval time.Duration, refresh func(ctx context.Context) error, onErr func(error)) (stop func()) {
	if interval < minRefreshInterval {
		interval = minRefreshInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := refresh(ctx); err != nil && ctx.Err() == nil {
					onErr(err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
