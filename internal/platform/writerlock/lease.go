// Package writerlock holds a Redis lease that keeps a single ledger process
// in the writer role.
package writerlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrHeld is returned when another process holds the lease.
var ErrHeld = errors.New("writer lease held by another process")

// Lease is an obtained writer lease.
type Lease struct {
	lock   *redislock.Lock
	key    string
	ttl    time.Duration
	logger zerolog.Logger
}

// Acquire obtains the lease at key without retrying.
func Acquire(ctx context.Context, client redis.UniversalClient, key string, ttl time.Duration, logger zerolog.Logger) (*Lease, error) {
	lock, err := redislock.New(client).Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrHeld
	}
	if err != nil {
		return nil, fmt.Errorf("obtain writer lease: %w", err)
	}
	return &Lease{
		lock:   lock,
		key:    key,
		ttl:    ttl,
		logger: logger.With().Str("component", "writerlock").Str("key", key).Logger(),
	}, nil
}

// Keep refreshes the lease every ttl/2 until ctx is done. It returns when the
// lease could not be refreshed; the caller must stop writing.
func (l *Lease) Keep(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.lock.Refresh(ctx, l.ttl, nil); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				l.logger.Error().Err(err).Msg("writer lease lost")
				return fmt.Errorf("refresh writer lease: %w", err)
			}
		}
	}
}

// Release gives the lease up.
func (l *Lease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

// Check reports whether the lease is still held, for health endpoints.
func (l *Lease) Check(ctx context.Context) (string, error) {
	ttl, err := l.lock.TTL(ctx)
	if err != nil {
		return "writer_lease", err
	}
	if ttl <= 0 {
		return "writer_lease", ErrHeld
	}
	return "writer_lease", nil
}
