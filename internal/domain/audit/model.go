package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action verbs written to the audit log.
const (
	ActionCreate        = "create"
	ActionUpdate        = "update"
	ActionCancel        = "cancel"
	ActionStatusChange  = "status_change"
	ActionRecordPayment = "record_payment"
	ActionMarkBilled    = "mark_billed"
)

// Entity types.
const (
	EntityBillingCode     = "billing_code"
	EntityInvoice         = "invoice"
	EntityPayment         = "payment"
	EntityAppointmentItem = "appointment_billing_item"
	EntityAppointment     = "appointment"
)

// Entry is one append-only audit record. A nil ActorID marks a system
// action.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	ActorID    uuid.UUID       `json:"actor_id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	OldValue   json.RawMessage `json:"old_value,omitempty"`
	NewValue   json.RawMessage `json:"new_value,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// IsSystem reports whether the entry was written without a human actor.
func (e *Entry) IsSystem() bool { return e.ActorID == uuid.Nil }
