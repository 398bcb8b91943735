package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/ledger/internal/platform/db"
)

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

// Entries are written after the mutation commits, outside its transaction,
// so the store always uses the pool.
func (s *storePG) Insert(ctx context.Context, e *Entry) error {
	var actor *uuid.UUID
	if e.ActorID != uuid.Nil {
		actor = &e.ActorID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, action, entity_type, entity_id, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, actor, e.Action, e.EntityType, e.EntityID, nullJSON(e.OldValue), nullJSON(e.NewValue), e.CreatedAt)
	return db.MapError("audit.insert", err)
}

func (s *storePG) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, actor_id, action, entity_type, entity_id, old_value, new_value, created_at
		FROM audit_log WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at`, entityType, entityID)
	if err != nil {
		return nil, db.MapError("audit.list", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var actor *uuid.UUID
		var oldV, newV []byte
		if err := rows.Scan(&e.ID, &actor, &e.Action, &e.EntityType, &e.EntityID, &oldV, &newV, &e.CreatedAt); err != nil {
			return nil, db.MapError("audit.list", err)
		}
		if actor != nil {
			e.ActorID = *actor
		}
		e.OldValue, e.NewValue = oldV, newV
		entries = append(entries, &e)
	}
	return entries, db.MapError("audit.list", rows.Err())
}

func nullJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
