package db

import (
	"context"
	"sync"
)

// StubTransactor runs units of work without a database. Repositories backed
// by memory use Snapshot to make rollback observable: it is called when an
// outermost unit of work begins and the returned restore runs if it fails.
type StubTransactor struct {
	Snapshot func() (restore func())

	mu        sync.Mutex
	Commits   int
	Rollbacks int
}

func (s *StubTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.run(ctx, fn)
}

func (s *StubTransactor) WithinReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.run(ctx, fn)
}

func (s *StubTransactor) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if h, _ := ctx.Value(hooksKey).(*afterCommit); h != nil {
		return fn(ctx)
	}

	var restore func()
	if s.Snapshot != nil {
		restore = s.Snapshot()
	}
	txCtx, hooks := withAfterCommit(ctx)
	if err := fn(txCtx); err != nil {
		if restore != nil {
			restore()
		}
		s.mu.Lock()
		s.Rollbacks++
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.Commits++
	s.mu.Unlock()
	hooks.run(ctx)
	return nil
}
