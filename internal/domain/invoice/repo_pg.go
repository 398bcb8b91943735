package invoice

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinic/ledger/internal/platform/apperr"
	"github.com/clinic/ledger/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const invoiceCols = `id, patient_id, appointment_id, invoice_number, subtotal, tax_amount, total_amount,
	due_date, payment_date, payment_method, status, notes, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.PatientID, &inv.AppointmentID, &inv.InvoiceNumber,
		&inv.Subtotal, &inv.TaxAmount, &inv.TotalAmount,
		&inv.DueDate, &inv.PaymentDate, &inv.PaymentMethod, &inv.Status, &inv.Notes,
		&inv.CreatedAt, &inv.UpdatedAt)
	return &inv, err
}

const itemCols = `id, invoice_id, billing_code_id, sequence, description, quantity, unit_price, tax_rate, line_total`

func scanItem(row pgx.Row) (*LineItem, error) {
	var it LineItem
	err := row.Scan(&it.ID, &it.InvoiceID, &it.BillingCodeID, &it.Sequence, &it.Description,
		&it.Quantity, &it.UnitPrice, &it.TaxRate, &it.LineTotal)
	return &it, err
}

const paymentCols = `id, invoice_id, amount, payment_date, method, reference, notes, idempotency_key, created_by, created_at`

// ScanPayment reads one payments row selected with PaymentColumns.
func ScanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.PaymentDate, &p.Method,
		&p.Reference, &p.Notes, &p.IdempotencyKey, &p.CreatedBy, &p.CreatedAt)
	return &p, err
}

// PaymentColumns is the select list matching ScanPayment.
const PaymentColumns = paymentCols

func (r *repoPG) Create(ctx context.Context, inv *Invoice, items []*LineItem) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoices (id, patient_id, appointment_id, invoice_number, subtotal, tax_amount,
			total_amount, due_date, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		inv.ID, inv.PatientID, inv.AppointmentID, inv.InvoiceNumber, inv.Subtotal, inv.TaxAmount,
		inv.TotalAmount, inv.DueDate, inv.Status, inv.Notes,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if db.IsUniqueViolation(err, "invoices_invoice_number_key") {
		return apperr.Conflict("invoice.create", "invoice number %s already issued, retry", inv.InvoiceNumber)
	}
	if err != nil {
		return db.MapError("invoice.create", err)
	}
	return r.insertItems(ctx, items)
}

func (r *repoPG) insertItems(ctx context.Context, items []*LineItem) error {
	if len(items) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, it := range items {
		b.Queue(`
			INSERT INTO invoice_line_items (id, invoice_id, billing_code_id, sequence, description,
				quantity, unit_price, tax_rate, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			it.ID, it.InvoiceID, it.BillingCodeID, it.Sequence, it.Description,
			it.Quantity, it.UnitPrice, it.TaxRate, it.LineTotal)
	}
	br := r.conn(ctx).SendBatch(ctx, b)
	for range items {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return db.MapError("invoice.insert_items", err)
		}
	}
	return db.MapError("invoice.insert_items", br.Close())
}

func (r *repoPG) get(ctx context.Context, op, query string, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(op, "invoice", id)
	}
	if err != nil {
		return nil, db.MapError(op, err)
	}
	return inv, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.get(ctx, "invoice.get", `SELECT `+invoiceCols+` FROM invoices WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.get(ctx, "invoice.lock", `SELECT `+invoiceCols+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) Update(ctx context.Context, inv *Invoice) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE invoices
		SET subtotal = $2, tax_amount = $3, total_amount = $4, due_date = $5,
			payment_date = $6, payment_method = $7, status = $8, notes = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		inv.ID, inv.Subtotal, inv.TaxAmount, inv.TotalAmount, inv.DueDate,
		inv.PaymentDate, inv.PaymentMethod, inv.Status, inv.Notes,
	).Scan(&inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("invoice.update", "invoice", inv.ID)
	}
	return db.MapError("invoice.update", err)
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Invoice, int, error) {
	var where []string
	var args []interface{}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, "patient_id = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = ` WHERE ` + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+clause, args...).Scan(&total); err != nil {
		return nil, 0, db.MapError("invoice.list", err)
	}

	query := `SELECT ` + invoiceCols + ` FROM invoices` + clause +
		` ORDER BY created_at DESC, invoice_number DESC LIMIT $` + strconv.Itoa(len(args)+1) +
		` OFFSET $` + strconv.Itoa(len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, db.MapError("invoice.list", err)
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, db.MapError("invoice.list", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, total, db.MapError("invoice.list", rows.Err())
}

func (r *repoPG) ListOpenIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id FROM invoices WHERE status IN ('unpaid', 'partial', 'overdue') ORDER BY due_date, id`)
	if err != nil {
		return nil, db.MapError("invoice.list_open", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	return ids, db.MapError("invoice.list_open", err)
}

func (r *repoPG) ReplaceItems(ctx context.Context, invoiceID uuid.UUID, items []*LineItem) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM invoice_line_items WHERE invoice_id = $1`, invoiceID); err != nil {
		return db.MapError("invoice.replace_items", err)
	}
	return r.insertItems(ctx, items)
}

func (r *repoPG) Items(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM invoice_line_items WHERE invoice_id = $1 ORDER BY sequence`, invoiceID)
	if err != nil {
		return nil, db.MapError("invoice.items", err)
	}
	defer rows.Close()

	var items []*LineItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, db.MapError("invoice.items", err)
		}
		items = append(items, it)
	}
	return items, db.MapError("invoice.items", rows.Err())
}

func (r *repoPG) Payments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE invoice_id = $1 ORDER BY payment_date, created_at`, invoiceID)
	if err != nil {
		return nil, db.MapError("invoice.payments", err)
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		p, err := ScanPayment(rows)
		if err != nil {
			return nil, db.MapError("invoice.payments", err)
		}
		payments = append(payments, p)
	}
	return payments, db.MapError("invoice.payments", rows.Err())
}

func (r *repoPG) PaidSum(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE invoice_id = $1`, invoiceID).Scan(&sum)
	return sum, db.MapError("invoice.paid_sum", err)
}

func (r *repoPG) Aggregates(ctx context.Context) (Aggregates, error) {
	var a Aggregates
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COALESCE(SUM(i.total_amount) FILTER (WHERE i.status = 'paid'), 0),
			COALESCE(SUM(GREATEST(i.total_amount - COALESCE(p.paid, 0), 0))
				FILTER (WHERE i.status IN ('unpaid', 'partial', 'overdue')), 0)
		FROM invoices i
		LEFT JOIN (
			SELECT invoice_id, SUM(amount) AS paid FROM payments GROUP BY invoice_id
		) p ON p.invoice_id = i.id`,
	).Scan(&a.TotalRevenue, &a.PendingRevenue)
	return a, db.MapError("invoice.aggregates", err)
}

func (r *repoPG) RevenueBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(total_amount), 0) FROM invoices
		WHERE status = 'paid' AND payment_date >= $1 AND payment_date < $2`,
		from, to).Scan(&sum)
	return sum, db.MapError("invoice.revenue_between", err)
}
