package billingcode

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

const codeCols = `id, code, description, category, default_price, tax_rate, active, created_at, updated_at`

func scanCode(row pgx.Row) (*BillingCode, error) {
	var bc BillingCode
	err := row.Scan(&bc.ID, &bc.Code, &bc.Description, &bc.Category,
		&bc.DefaultPrice, &bc.TaxRate, &bc.Active, &bc.CreatedAt, &bc.UpdatedAt)
	return &bc, err
}

func (r *repoPG) Create(ctx context.Context, bc *BillingCode) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO billing_codes (id, code, description, category, default_price, tax_rate, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		bc.ID, bc.Code, bc.Description, bc.Category, bc.DefaultPrice, bc.TaxRate, bc.Active,
	).Scan(&bc.CreatedAt, &bc.UpdatedAt)
	if db.IsUniqueViolation(err, "billing_codes_code_key") {
		return apperr.Validation("billing_code.create", "billing code %q already exists", bc.Code)
	}
	return db.MapError("billing_code.create", err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*BillingCode, error) {
	bc, err := scanCode(r.conn(ctx).QueryRow(ctx, `SELECT `+codeCols+` FROM billing_codes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("billing_code.get", "billing code", id)
	}
	if err != nil {
		return nil, db.MapError("billing_code.get", err)
	}
	return bc, nil
}

func (r *repoPG) GetByCode(ctx context.Context, code string) (*BillingCode, error) {
	bc, err := scanCode(r.conn(ctx).QueryRow(ctx, `SELECT `+codeCols+` FROM billing_codes WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.MapError("billing_code.get_by_code", err)
	}
	return bc, nil
}

func (r *repoPG) Update(ctx context.Context, bc *BillingCode) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE billing_codes
		SET description = $2, category = $3, default_price = $4, tax_rate = $5, active = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		bc.ID, bc.Description, bc.Category, bc.DefaultPrice, bc.TaxRate, bc.Active,
	).Scan(&bc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("billing_code.update", "billing code", bc.ID)
	}
	return db.MapError("billing_code.update", err)
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*BillingCode, error) {
	var where []string
	var args []interface{}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, "category = $"+strconv.Itoa(len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "active")
	}
	query := `SELECT ` + codeCols + ` FROM billing_codes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY category, code`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, db.MapError("billing_code.list", err)
	}
	defer rows.Close()

	var codes []*BillingCode
	for rows.Next() {
		bc, err := scanCode(rows)
		if err != nil {
			return nil, db.MapError("billing_code.list", err)
		}
		codes = append(codes, bc)
	}
	return codes, db.MapError("billing_code.list", rows.Err())
}
