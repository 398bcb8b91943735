package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/ledger/internal/platform/db"
)

// Recorder receives audit entries. Every mutating component gets one
// injected.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Trail is the Recorder backed by a Store. A failing store never fails the
// mutation being audited: the entry is logged at warn for reconciliation and
// Record returns nil.
type Trail struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewTrail(store Store, logger zerolog.Logger) *Trail {
	return &Trail{store: store, logger: logger.With().Str("component", "audit").Logger(), now: time.Now}
}

func (t *Trail) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now().UTC()
	}
	if err := t.store.Insert(ctx, &e); err != nil {
		evt := t.logger.Warn().Err(err).
			Str("audit_id", e.ID.String()).
			Str("action", e.Action).
			Str("entity_type", e.EntityType).
			Str("entity_id", e.EntityID.String()).
			Time("at", e.CreatedAt)
		if !e.IsSystem() {
			evt = evt.Str("actor_id", e.ActorID.String())
		}
		if len(e.OldValue) > 0 {
			evt = evt.RawJSON("old_value", e.OldValue)
		}
		if len(e.NewValue) > 0 {
			evt = evt.RawJSON("new_value", e.NewValue)
		}
		evt.Msg("audit entry not persisted")
	}
	return nil
}

// Log queues an audit entry to be recorded once the unit of work in ctx
// commits. A rolled-back mutation leaves no entry. Snapshots are marshalled
// immediately so later mutation of before or after does not leak into the entry.
func Log(ctx context.Context, rec Recorder, actor uuid.UUID, action, entityType string, entityID uuid.UUID, before, after interface{}) {
	e := Entry{
		ID:         uuid.New(),
		ActorID:    actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		OldValue:   snapshot(before),
		NewValue:   snapshot(after),
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		if err := rec.Record(ctx, e); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("action", action).Msg("audit recorder failed")
		}
	})
}

func snapshot(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	if string(raw) == "null" {
		return nil
	}
	return raw
}
