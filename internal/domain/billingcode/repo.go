package billingcode

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, bc *BillingCode) error
	GetByID(ctx context.Context, id uuid.UUID) (*BillingCode, error)
	// GetByCode returns nil, nil when no code matches.
	GetByCode(ctx context.Context, code string) (*BillingCode, error)
	Update(ctx context.Context, bc *BillingCode) error
	List(ctx context.Context, f Filter) ([]*BillingCode, error)
}
