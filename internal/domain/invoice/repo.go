package invoice

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Repository interface {
	// Create writes the header and its items. Callers run it inside a unit
	// of work so both commit together.
	Create(ctx context.Context, inv *Invoice, items []*LineItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetForUpdate reads the header and row-locks it until the unit of work
	// ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Invoice, int, error)
	ListOpenIDs(ctx context.Context) ([]uuid.UUID, error)

	ReplaceItems(ctx context.Context, invoiceID uuid.UUID, items []*LineItem) error
	Items(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error)

	Payments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
	PaidSum(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error)

	Aggregates(ctx context.Context) (Aggregates, error)
	// RevenueBetween sums paid invoices whose payment date falls in
	// [from, to).
	RevenueBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
}
