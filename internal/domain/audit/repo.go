package audit

import (
	"context"

	"github.com/google/uuid"
)

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*Entry, error)
}
