package payment

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/ledger/internal/domain/invoice"
	"github.com/clinic/ledger/internal/platform/apperr"
	"github.com/clinic/ledger/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) Create(ctx context.Context, p *invoice.Payment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, invoice_id, amount, payment_date, method, reference, notes,
			idempotency_key, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		p.ID, p.InvoiceID, p.Amount, p.PaymentDate, p.Method, p.Reference, p.Notes,
		p.IdempotencyKey, p.CreatedBy,
	).Scan(&p.CreatedAt)
	if db.IsUniqueViolation(err, "payments_idempotency_key_key") {
		return apperr.Conflict("payment.record", "payment with this idempotency key was already recorded")
	}
	return db.MapError("payment.record", err)
}

func (r *repoPG) GetByIdempotencyKey(ctx context.Context, key string) (*invoice.Payment, error) {
	p, err := invoice.ScanPayment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invoice.PaymentColumns+` FROM payments WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.MapError("payment.get_by_key", err)
	}
	return p, nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*invoice.Payment, int, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, cond+" $"+strconv.Itoa(len(args)))
	}
	if f.InvoiceID != nil {
		add("invoice_id =", *f.InvoiceID)
	}
	if f.Method != "" {
		add("method =", f.Method)
	}
	if f.From != nil {
		add("payment_date >=", *f.From)
	}
	if f.To != nil {
		add("payment_date <=", *f.To)
	}
	clause := ""
	if len(where) > 0 {
		clause = ` WHERE ` + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payments`+clause, args...).Scan(&total); err != nil {
		return nil, 0, db.MapError("payment.list", err)
	}

	query := `SELECT ` + invoice.PaymentColumns + ` FROM payments` + clause +
		` ORDER BY payment_date DESC, created_at DESC LIMIT $` + strconv.Itoa(len(args)+1) +
		` OFFSET $` + strconv.Itoa(len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, db.MapError("payment.list", err)
	}
	defer rows.Close()

	var payments []*invoice.Payment
	for rows.Next() {
		p, err := invoice.ScanPayment(rows)
		if err != nil {
			return nil, 0, db.MapError("payment.list", err)
		}
		payments = append(payments, p)
	}
	return payments, total, db.MapError("payment.list", rows.Err())
}
