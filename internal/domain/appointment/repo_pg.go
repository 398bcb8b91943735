package appointment

import (
	"context"
	"errors"

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

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const itemCols = `id, appointment_id, billing_code_id, quantity, unit_price, tax_rate, line_total,
	billed, invoice_id, created_at`

func scanItem(row pgx.Row) (*BillingItem, error) {
	var it BillingItem
	err := row.Scan(&it.ID, &it.AppointmentID, &it.BillingCodeID, &it.Quantity, &it.UnitPrice,
		&it.TaxRate, &it.LineTotal, &it.Billed, &it.InvoiceID, &it.CreatedAt)
	return &it, err
}

func (r *repoPG) Create(ctx context.Context, it *BillingItem) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment_billing_items (id, appointment_id, billing_code_id, quantity,
			unit_price, tax_rate, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		it.ID, it.AppointmentID, it.BillingCodeID, it.Quantity, it.UnitPrice, it.TaxRate, it.LineTotal,
	).Scan(&it.CreatedAt)
	return db.MapError("appointment_item.create", err)
}

func (r *repoPG) list(ctx context.Context, op, query string, appointmentID uuid.UUID) ([]*BillingItem, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, query, appointmentID)
	if err != nil {
		return nil, db.MapError(op, err)
	}
	defer rows.Close()

	var items []*BillingItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, db.MapError(op, err)
		}
		items = append(items, it)
	}
	return items, db.MapError(op, rows.Err())
}

func (r *repoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*BillingItem, error) {
	return r.list(ctx, "appointment_item.list",
		`SELECT `+itemCols+` FROM appointment_billing_items
		WHERE appointment_id = $1 ORDER BY created_at, id`, appointmentID)
}

func (r *repoPG) LockUnbilled(ctx context.Context, appointmentID uuid.UUID) ([]*BillingItem, error) {
	return r.list(ctx, "appointment_item.lock_unbilled",
		`SELECT `+itemCols+` FROM appointment_billing_items
		WHERE appointment_id = $1 AND NOT billed ORDER BY created_at, id FOR UPDATE`, appointmentID)
}

func (r *repoPG) MarkBilled(ctx context.Context, ids []uuid.UUID, invoiceID uuid.UUID) (int64, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE appointment_billing_items SET billed = TRUE, invoice_id = $2
		WHERE id = ANY($1::uuid[]) AND NOT billed`, keys, invoiceID)
	if err != nil {
		return 0, db.MapError("appointment_item.mark_billed", err)
	}
	return tag.RowsAffected(), nil
}

// DirectoryPG reads the host application's appointments table.
type DirectoryPG struct{ pool *pgxpool.Pool }

func NewDirectoryPG(pool *pgxpool.Pool) *DirectoryPG { return &DirectoryPG{pool: pool} }

func (d *DirectoryPG) Appointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var a Appointment
	err := connFor(ctx, d.pool).QueryRow(ctx, `
		SELECT id, patient_id, appointment_type, appointment_date
		FROM appointments WHERE id = $1`, id,
	).Scan(&a.ID, &a.PatientID, &a.Type, &a.Date)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("appointment.get", "appointment", id)
	}
	if err != nil {
		return nil, db.MapError("appointment.get", err)
	}
	return &a, nil
}
