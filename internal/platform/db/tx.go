package db

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/ledger/internal/platform/apperr"
)

type contextKey string

const (
	DBTxKey  contextKey = "db_tx"
	hooksKey contextKey = "db_after_commit"
)

// Transactor runs a unit of work atomically. Repositories pick the active
// transaction out of the context, so fn must pass its ctx argument down.
// Calls nested inside an active unit of work join it.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	WithinReadTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxFromContext returns the transaction carried by ctx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

type afterCommit struct {
	mu  sync.Mutex
	fns []func(context.Context)
}

func withAfterCommit(ctx context.Context) (context.Context, *afterCommit) {
	h := &afterCommit{}
	return context.WithValue(ctx, hooksKey, h), h
}

func (h *afterCommit) add(fn func(context.Context)) {
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *afterCommit) run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}

// AfterCommit defers fn until the unit of work carried by ctx commits. It is
// dropped if the unit of work rolls back. Outside a unit of work fn runs
// immediately.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if h, _ := ctx.Value(hooksKey).(*afterCommit); h != nil {
		h.add(fn)
		return
	}
	fn(ctx)
}

// TxRunner is the Postgres Transactor. Writes are serialized through a
// process-wide mutex: the ledger is single-writer and every mutating unit of
// work runs alone. Read transactions are REPEATABLE READ snapshots and run
// concurrently with writes.
type TxRunner struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	writeMu sync.Mutex
}

func NewTxRunner(pool *pgxpool.Pool, timeout time.Duration) *TxRunner {
	return &TxRunner{pool: pool, timeout: timeout}
}

func (r *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func (r *TxRunner) WithinReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	return r.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (r *TxRunner) run(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) (err error) {
	hookCtx, hooks := withAfterCommit(ctx)
	txCtx := hookCtx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(hookCtx, r.timeout)
		defer cancel()
	}

	tx, err := r.pool.BeginTx(txCtx, opts)
	if err != nil {
		return MapError("tx.begin", err)
	}
	txCtx = context.WithValue(txCtx, DBTxKey, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(context.Background())
		if apperr.KindOf(err) == "" && (errors.Is(err, context.DeadlineExceeded) || txCtx.Err() != nil) {
			return apperr.Persistence("tx", err)
		}
		return err
	}
	if err := tx.Commit(txCtx); err != nil {
		return MapError("tx.commit", err)
	}

	hooks.run(ctx)
	return nil
}
