// Package lotlock serializes work on a single lot across API instances with a
// Redis lease.
package lotlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/yourorg/lotflow/internal/lot"
)

type Config struct {
	Addr        string        `env:"ADDR"`
	Password    string        `env:"PASSWORD"`
	DB          int           `env:"DB" envDefault:"0"`
	TTL         time.Duration `env:"LOCK_TTL" envDefault:"10s"`
	RetryEvery  time.Duration `env:"LOCK_RETRY_EVERY" envDefault:"50ms"`
	RetryLimit  int           `env:"LOCK_RETRY_LIMIT" envDefault:"20"`
	PingTimeout time.Duration `env:"PING_TIMEOUT" envDefault:"2s"`
}

// Locker hands out per-lot leases. Keys are namespaced under "lotflow:lock:".
type Locker struct {
	rdb    *redis.Client
	client *redislock.Client
	cfg    Config
	logger *slog.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Locker, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(rdb, cfg, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, cfg Config, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	return &Locker{rdb: rdb, client: redislock.New(rdb), cfg: cfg, logger: logger}
}

// Lock obtains the lease for key, retrying with a linear backoff. When the
// lease stays taken the returned error matches lot.ErrConflict so callers
// treat it like any other contention.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.cfg.RetryEvery), l.cfg.RetryLimit),
	}
	lock, err := l.client.Obtain(ctx, "lotflow:lock:"+key, l.cfg.TTL, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, lot.Errorf(lot.KindConflict, "lot %s is locked by another writer", key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func() {
		// Release uses a fresh context so a cancelled request still frees the lease.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("failed to release lot lock", "lotId", key, "error", err)
		}
	}, nil
}

func (l *Locker) Close() error {
	return l.rdb.Close()
}
