package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/ledger/internal/domain/invoice"
)

// Accepted payment methods.
const (
	MethodCash         = "cash"
	MethodCard         = "card"
	MethodBankTransfer = "bank_transfer"
	MethodInsurance    = "insurance"
	MethodCheque       = "cheque"
	MethodMobile       = "mobile"
)

type RecordInput struct {
	InvoiceID uuid.UUID       `json:"-"`
	Amount    decimal.Decimal `json:"amount" validate:"positive_money"`
	// Date is YYYY-MM-DD; empty means today.
	Date      string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Method    string  `json:"method" validate:"required,oneof=cash card bank_transfer insurance cheque mobile"`
	Reference *string `json:"reference" validate:"omitempty,max=100"`
	Notes     *string `json:"notes" validate:"omitempty,max=2000"`
	// IdempotencyKey deduplicates double submissions. It arrives in the
	// Idempotency-Key header.
	IdempotencyKey *string `json:"-" validate:"omitempty,max=100"`
}

// Receipt is a recorded payment together with the invoice state it produced.
type Receipt struct {
	Payment       *invoice.Payment `json:"payment"`
	InvoiceNumber string           `json:"invoice_number"`
	InvoiceStatus invoice.Status   `json:"invoice_status"`
	PaidAmount    decimal.Decimal  `json:"paid_amount"`
	Balance       decimal.Decimal  `json:"balance"`
}

type Filter struct {
	InvoiceID *uuid.UUID
	Method    string
	From      *time.Time
	To        *time.Time
}
