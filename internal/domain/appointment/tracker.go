package appointment

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/ledger/internal/domain/audit"
	"github.com/clinic/ledger/internal/domain/billingcode"
	"github.com/clinic/ledger/internal/domain/invoice"
	"github.com/clinic/ledger/internal/platform/apperr"
	"github.com/clinic/ledger/internal/platform/db"
	"github.com/clinic/ledger/internal/platform/validation"
)

// CodeLookup resolves billing codes.
type CodeLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*billingcode.BillingCode, error)
}

// Tracker records billable work against appointments.
type Tracker struct {
	repo  Repository
	appts Directory
	codes CodeLookup
	tx    db.Transactor
	audit audit.Recorder
}

func NewTracker(repo Repository, appts Directory, codes CodeLookup, tx db.Transactor, rec audit.Recorder) *Tracker {
	return &Tracker{repo: repo, appts: appts, codes: codes, tx: tx, audit: rec}
}

// CreateItem raises a charge for appointmentID. The code must be active; its
// current price is used unless in overrides it, and its rate is copied.
func (t *Tracker) CreateItem(ctx context.Context, actor, appointmentID uuid.UUID, in CreateItemInput) (*BillingItem, error) {
	if err := validation.Struct("appointment_item.create", in); err != nil {
		return nil, err
	}

	var out *BillingItem
	err := t.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := t.appts.Appointment(ctx, appointmentID); err != nil {
			return err
		}
		code, err := t.codes.Get(ctx, in.BillingCodeID)
		if err != nil {
			return err
		}
		if !code.Active {
			return apperr.Validation("appointment_item.create", "billing code %s is inactive", code.Code)
		}

		price := code.DefaultPrice
		if in.UnitPrice != nil {
			price = *in.UnitPrice
		}
		it := &BillingItem{
			ID:            uuid.New(),
			AppointmentID: appointmentID,
			BillingCodeID: code.ID,
			Quantity:      in.Quantity,
			UnitPrice:     price.Round(2),
			TaxRate:       code.TaxRate,
		}
		it.LineTotal = invoice.LineTotal(it.Quantity, it.UnitPrice)
		if !validation.Money(it.LineTotal) {
			return apperr.Validation("appointment_item.create", "line total %s exceeds %s", it.LineTotal, validation.MaxMoney)
		}
		if err := t.repo.Create(ctx, it); err != nil {
			return err
		}
		audit.Log(ctx, t.audit, actor, audit.ActionCreate, audit.EntityAppointmentItem, it.ID, nil, it)
		out = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tracker) ListItems(ctx context.Context, appointmentID uuid.UUID) ([]*BillingItem, error) {
	var items []*BillingItem
	err := t.tx.WithinReadTx(ctx, func(ctx context.Context) error {
		if _, err := t.appts.Appointment(ctx, appointmentID); err != nil {
			return err
		}
		var err error
		items, err = t.repo.ListByAppointment(ctx, appointmentID)
		return err
	})
	return items, err
}

// UnbilledTotal sums the line totals of items not yet invoiced.
func UnbilledTotal(items []*BillingItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		if !it.Billed {
			sum = sum.Add(it.LineTotal)
		}
	}
	return sum
}
