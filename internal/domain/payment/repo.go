package payment

import (
	"context"

	"github.com/clinic/ledger/internal/domain/invoice"
)

type Repository interface {
	// Create appends p. A reused idempotency key fails with a conflict.
	Create(ctx context.Context, p *invoice.Payment) error
	GetByIdempotencyKey(ctx context.Context, key string) (*invoice.Payment, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*invoice.Payment, int, error)
}
