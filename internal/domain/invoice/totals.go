package invoice

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/clinic/ledger/internal/platform/apperr"
	"github.com/clinic/ledger/internal/platform/validation"
)

// LineTotal is quantity × unit price at cent precision.
func LineTotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals sums the lines. Tax is rounded once per distinct rate, so an
// invoice with a single rate carries exactly round(subtotal × rate).
func ComputeTotals(items []*LineItem) Totals {
	byRate := make(map[string]decimal.Decimal)
	rates := make(map[string]decimal.Decimal)
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal)
		key := it.TaxRate.String()
		byRate[key] = byRate[key].Add(it.LineTotal)
		rates[key] = it.TaxRate
	}

	keys := make([]string, 0, len(byRate))
	for k := range byRate {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tax := decimal.Zero
	for _, k := range keys {
		tax = tax.Add(byRate[k].Mul(rates[k]).Round(2))
	}
	return Totals{Subtotal: subtotal, Tax: tax, Total: subtotal.Add(tax)}
}

// checkTotals rejects invoices whose line totals or grand total do not fit the
// money columns.
func checkTotals(op string, items []*LineItem, t Totals) error {
	for i, it := range items {
		if !validation.Money(it.LineTotal) {
			return apperr.Validation(op, "items[%d] line total %s exceeds %s", i, it.LineTotal, validation.MaxMoney)
		}
	}
	if !validation.Money(t.Total) {
		return apperr.Validation(op, "invoice total %s exceeds %s", t.Total, validation.MaxMoney)
	}
	return nil
}
