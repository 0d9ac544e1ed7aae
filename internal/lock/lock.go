// Package lock serializes ingest runs that share one history store.
//
// With a Redis URL configured, the lock is a bsm/redislock key with a TTL.
// Without one, every Acquire succeeds: a single operator needs no
// coordination and the store's transactional commit still keeps per-key
// atomicity.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/ginjaninja78/loyalty-kpi/internal/config"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

// ErrNotObtained is returned when another run holds the lock.
var ErrNotObtained = errors.New("run lock is held by another run")

// Locker hands out the run lock.
type Locker interface {
	Acquire(ctx context.Context) (Lease, error)
	Close() error
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// New returns a Redis locker when cfg.RedisURL is set, otherwise a no-op
// locker.
func New(cfg config.LockConfig) (Locker, error) {
	if cfg.RedisURL == "" {
		return Noop{}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing lock.redis_url: %w", err)
	}
	return NewRedis(redis.NewClient(opts), cfg.Key, cfg.TTL)
}

// =============================================================================
// REDIS
// =============================================================================

// Redis is a Locker backed by one Redis key.
type Redis struct {
	client *redis.Client
	locker *redislock.Client
	key    string
	ttl    time.Duration
}

// NewRedis builds a Redis locker on an existing client. The locker owns the
// client and closes it on Close.
func NewRedis(client *redis.Client, key string, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, locker: redislock.New(client), key: key, ttl: ttl}, nil
}

// Acquire takes the lock without retrying. A held lock yields ErrNotObtained.
func (r *Redis) Acquire(ctx context.Context) (Lease, error) {
	held, err := r.locker.Obtain(ctx, r.key, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w (key %s)", ErrNotObtained, r.key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtaining run lock: %w", err)
	}
	return redisLease{lock: held}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisLease struct {
	lock *redislock.Lock
}

// Release frees the key. A lock that already expired is not an error.
func (l redisLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

// =============================================================================
// NO-OP
// =============================================================================

// Noop always grants the lock.
type Noop struct{}

func (Noop) Acquire(context.Context) (Lease, error) { return noopLease{}, nil }

func (Noop) Close() error { return nil }

type noopLease struct{}

func (noopLease) Release(context.Context) error { return nil }
