package invoice

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the derived payment state of an invoice.
type Status string

const (
	StatusUnpaid    Status = "unpaid"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUnpaid, StatusPartial, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// Open reports whether the invoice still expects money.
func (s Status) Open() bool {
	return s == StatusUnpaid || s == StatusPartial || s == StatusOverdue
}

type Invoice struct {
	ID            uuid.UUID       `json:"id"`
	PatientID     uuid.UUID       `json:"patient_id"`
	AppointmentID *uuid.UUID      `json:"appointment_id,omitempty"`
	InvoiceNumber string          `json:"invoice_number"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	DueDate       time.Time       `json:"due_date"`
	PaymentDate   *time.Time      `json:"payment_date,omitempty"`
	PaymentMethod *string         `json:"payment_method,omitempty"`
	Status        Status          `json:"status"`
	Notes         string          `json:"notes"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LineItem is one priced row of an invoice. Price and rate are copies taken
// when the line was written.
type LineItem struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	BillingCodeID *uuid.UUID      `json:"billing_code_id,omitempty"`
	Sequence      int             `json:"sequence"`
	Description   string          `json:"description"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	LineTotal     decimal.Decimal `json:"line_total"`
}

// Payment is an append-only amount received against an invoice.
type Payment struct {
	ID             uuid.UUID       `json:"id"`
	InvoiceID      uuid.UUID       `json:"invoice_id"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentDate    time.Time       `json:"payment_date"`
	Method         string          `json:"method"`
	Reference      *string         `json:"reference,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	CreatedBy      *uuid.UUID      `json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Details is the read aggregate of one invoice.
type Details struct {
	Invoice
	PatientName string          `json:"patient_name,omitempty"`
	Items       []*LineItem     `json:"items"`
	Payments    []*Payment      `json:"payments"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Balance     decimal.Decimal `json:"balance"`
}

// MaxDescriptionLen is the longest line description accepted, in characters.
const MaxDescriptionLen = 500

type LineInput struct {
	BillingCodeID *uuid.UUID       `json:"billing_code_id"`
	Description   string           `json:"description" validate:"max=500"`
	Quantity      int              `json:"quantity" validate:"quantity"`
	UnitPrice     *decimal.Decimal `json:"unit_price" validate:"omitempty,money"`
	// TaxRate pins the line's rate. Only internal callers set it.
	TaxRate *decimal.Decimal `json:"-" validate:"omitempty,rate"`
}

type CreateInput struct {
	PatientID     uuid.UUID   `json:"patient_id" validate:"required"`
	AppointmentID *uuid.UUID  `json:"-"`
	DueDate       string      `json:"due_date" validate:"required,datetime=2006-01-02"`
	Notes         string      `json:"notes" validate:"max=2000"`
	Items         []LineInput `json:"items" validate:"required,min=1,dive"`
}

type UpdateInput struct {
	DueDate string      `json:"due_date" validate:"required,datetime=2006-01-02"`
	Notes   string      `json:"notes" validate:"max=2000"`
	Items   []LineInput `json:"items" validate:"required,min=1,dive"`
}

type Filter struct {
	PatientID *uuid.UUID
	Status    Status
}

// Aggregates are ledger-wide money sums used by the financial summary.
type Aggregates struct {
	TotalRevenue   decimal.Decimal
	PendingRevenue decimal.Decimal
}

type Summary struct {
	Month           string          `json:"month"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	PendingRevenue  decimal.Decimal `json:"pending_revenue"`
	MonthlyRevenue  decimal.Decimal `json:"monthly_revenue"`
	TotalExpenses   decimal.Decimal `json:"total_expenses"`
	MonthlyExpenses decimal.Decimal `json:"monthly_expenses"`
	NetProfit       decimal.Decimal `json:"net_profit"`
}
