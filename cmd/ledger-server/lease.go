package main

import (
	"context"

	"github.com/rs/zerolog"
)

type leaseKeeper interface {
	Keep(ctx context.Context) error
}

// holdLease refreshes the writer lease until release is called. The returned
// context is cancelled with the refresh error as its cause when the lease is
// lost, so writes running under it stop.
func holdLease(ctx context.Context, k leaseKeeper, logger zerolog.Logger) (context.Context, context.CancelFunc) {
	leaseCtx, cancel := context.WithCancelCause(ctx)
	go func() {
		if err := k.Keep(leaseCtx); err != nil {
			logger.Error().Err(err).Msg("writer lease lost")
			cancel(err)
		}
	}()
	return leaseCtx, func() { cancel(nil) }
}

// leaseLost returns the refresh error that cancelled ctx, or nil.
func leaseLost(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil || cause == ctx.Err() {
		return nil
	}
	return cause
}
