package appointment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, it *BillingItem) error
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*BillingItem, error)
	// LockUnbilled returns the appointment's unbilled items, row-locked until
	// the unit of work ends.
	LockUnbilled(ctx context.Context, appointmentID uuid.UUID) ([]*BillingItem, error)
	// MarkBilled flags the still-unbilled items among ids as rolled into
	// invoiceID and reports how many rows changed.
	MarkBilled(ctx context.Context, ids []uuid.UUID, invoiceID uuid.UUID) (int64, error)
}

// Directory resolves appointments owned by the host application.
type Directory interface {
	Appointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
}
