package invoice

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinic/ledger/internal/platform/apperr"
	"github.com/clinic/ledger/internal/platform/db"
)

// PatientDirectory resolves patient display names owned by the host
// application.
type PatientDirectory interface {
	PatientName(ctx context.Context, id uuid.UUID) (string, error)
}

// ExpenseSource reads clinic expenses owned by the host application.
type ExpenseSource interface {
	TotalExpenses(ctx context.Context) (decimal.Decimal, error)
	ExpensesBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
}

// HostDirectoryPG reads the host's patients and expenses tables.
type HostDirectoryPG struct{ pool *pgxpool.Pool }

func NewHostDirectoryPG(pool *pgxpool.Pool) *HostDirectoryPG { return &HostDirectoryPG{pool: pool} }

func (d *HostDirectoryPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return d.pool
}

func (d *HostDirectoryPG) PatientName(ctx context.Context, id uuid.UUID) (string, error) {
	var name string
	err := d.conn(ctx).QueryRow(ctx,
		`SELECT first_name || ' ' || last_name FROM patients WHERE id = $1`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.NotFound("patient.get", "patient", id)
	}
	return name, db.MapError("patient.get", err)
}

func (d *HostDirectoryPG) TotalExpenses(ctx context.Context) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := d.conn(ctx).QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM expenses`).Scan(&sum)
	return sum, db.MapError("expense.total", err)
}

func (d *HostDirectoryPG) ExpensesBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := d.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM expenses WHERE expense_date >= $1 AND expense_date < $2`,
		from, to).Scan(&sum)
	return sum, db.MapError("expense.between", err)
}
