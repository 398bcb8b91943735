package billingcode

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BillingCode is a catalogued, priced, taxable service type. Codes are never
// deleted; Active=false retires one.
type BillingCode struct {
	ID           uuid.UUID       `json:"id"`
	Code         string          `json:"code"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	DefaultPrice decimal.Decimal `json:"default_price"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type CreateInput struct {
	Code         string           `json:"code" validate:"required,max=50"`
	Description  string           `json:"description" validate:"required,max=500"`
	Category     string           `json:"category" validate:"max=100"`
	DefaultPrice decimal.Decimal  `json:"default_price" validate:"money"`
	TaxRate      *decimal.Decimal `json:"tax_rate" validate:"omitempty,rate"`
	Active       *bool            `json:"active"`
}

// Patch carries the fields to change; nil fields are left untouched.
type Patch struct {
	Description  *string          `json:"description" validate:"omitempty,min=1,max=500"`
	Category     *string          `json:"category" validate:"omitempty,max=100"`
	DefaultPrice *decimal.Decimal `json:"default_price" validate:"omitempty,money"`
	TaxRate      *decimal.Decimal `json:"tax_rate" validate:"omitempty,rate"`
	Active       *bool            `json:"active"`
}

func (p Patch) IsEmpty() bool {
	return p.Description == nil && p.Category == nil && p.DefaultPrice == nil && p.TaxRate == nil && p.Active == nil
}

// Apply merges p into bc.
func (p Patch) Apply(bc *BillingCode) {
	if p.Description != nil {
		bc.Description = *p.Description
	}
	if p.Category != nil {
		bc.Category = *p.Category
	}
	if p.DefaultPrice != nil {
		bc.DefaultPrice = *p.DefaultPrice
	}
	if p.TaxRate != nil {
		bc.TaxRate = *p.TaxRate
	}
	if p.Active != nil {
		bc.Active = *p.Active
	}
}

type Filter struct {
	Category   string
	ActiveOnly bool
}
