package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Appointment is the host application's appointment record, read-only here.
type Appointment struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	Type      string    `json:"type"`
	Date      time.Time `json:"date"`
}

// BillingItem is a charge raised against an appointment before it is rolled
// into an invoice. Price and rate are copied from the billing code when the
// item is created.
type BillingItem struct {
	ID            uuid.UUID       `json:"id"`
	AppointmentID uuid.UUID       `json:"appointment_id"`
	BillingCodeID uuid.UUID       `json:"billing_code_id"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	LineTotal     decimal.Decimal `json:"line_total"`
	Billed        bool            `json:"billed"`
	InvoiceID     *uuid.UUID      `json:"invoice_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type CreateItemInput struct {
	BillingCodeID uuid.UUID        `json:"billing_code_id" validate:"required"`
	Quantity      int              `json:"quantity" validate:"quantity"`
	UnitPrice     *decimal.Decimal `json:"unit_price" validate:"omitempty,money"`
}
