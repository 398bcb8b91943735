package invoice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/ledger/internal/domain/audit"
	"github.com/clinic/ledger/internal/domain/billingcode"
	"github.com/clinic/ledger/internal/platform/apperr"
	"github.com/clinic/ledger/internal/platform/db"
	"github.com/clinic/ledger/internal/platform/validation"
)

// CodeLookup resolves billing codes for code-backed lines.
type CodeLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*billingcode.BillingCode, error)
}

// Renderer turns an invoice aggregate into a printable document.
type Renderer interface {
	ContentType() string
	Extension() string
	Render(w io.Writer, d *Details) error
}

// Document is a rendered invoice.
type Document struct {
	Filename    string
	ContentType string
	Body        []byte
}

type Service struct {
	repo    Repository
	codes   CodeLookup
	tx      db.Transactor
	audit   audit.Recorder
	numbers NumberSource
	taxRate decimal.Decimal
	logger  zerolog.Logger
	now     func() time.Time

	patients PatientDirectory
	expenses ExpenseSource
	renderer Renderer
}

func NewService(repo Repository, codes CodeLookup, tx db.Transactor, rec audit.Recorder, numbers NumberSource, taxRate decimal.Decimal, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		codes:   codes,
		tx:      tx,
		audit:   rec,
		numbers: numbers,
		taxRate: taxRate,
		logger:  logger.With().Str("component", "invoice").Logger(),
		now:     time.Now,
	}
}

func (s *Service) SetPatientDirectory(p PatientDirectory) { s.patients = p }
func (s *Service) SetExpenseSource(e ExpenseSource)       { s.expenses = e }
func (s *Service) SetRenderer(r Renderer)                 { s.renderer = r }

// SetClock replaces the wall clock used by the status engine.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CreateInvoice validates in, then writes the header and every line in one
// unit of work. When called inside an outer unit of work it joins it.
func (s *Service) CreateInvoice(ctx context.Context, actor uuid.UUID, in CreateInput) (*Details, error) {
	in.Notes = strings.TrimSpace(in.Notes)
	if err := validation.Struct("invoice.create", in); err != nil {
		return nil, err
	}
	due, err := ParseDate(in.DueDate)
	if err != nil {
		return nil, apperr.Validation("invoice.create", "invalid due_date %q", in.DueDate)
	}

	var out *Details
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv := &Invoice{
			ID:            uuid.New(),
			PatientID:     in.PatientID,
			AppointmentID: in.AppointmentID,
			InvoiceNumber: s.numbers.Next(),
			DueDate:       due,
			Notes:         in.Notes,
		}
		items, err := s.buildLines(ctx, "invoice.create", inv.ID, in.Items)
		if err != nil {
			return err
		}
		totals := ComputeTotals(items)
		if err := checkTotals("invoice.create", items, totals); err != nil {
			return err
		}
		applyTotals(inv, totals)
		inv.Status = DeriveStatus(StatusUnpaid, inv.TotalAmount, decimal.Zero, inv.DueDate, s.now())

		if err := s.repo.Create(ctx, inv, items); err != nil {
			return err
		}
		out = newDetails(inv, items, nil)
		audit.Log(ctx, s.audit, actor, audit.ActionCreate, audit.EntityInvoice, inv.ID, nil, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateInvoice replaces the due date, notes and the full item set, then
// re-derives the status against the payments already recorded.
func (s *Service) UpdateInvoice(ctx context.Context, actor, id uuid.UUID, in UpdateInput) (*Details, error) {
	in.Notes = strings.TrimSpace(in.Notes)
	if err := validation.Struct("invoice.update", in); err != nil {
		return nil, err
	}
	due, err := ParseDate(in.DueDate)
	if err != nil {
		return nil, apperr.Validation("invoice.update", "invalid due_date %q", in.DueDate)
	}

	var out *Details
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return apperr.Validation("invoice.update", "invoice %s is cancelled", inv.InvoiceNumber)
		}
		oldItems, err := s.repo.Items(ctx, id)
		if err != nil {
			return err
		}
		payments, err := s.repo.Payments(ctx, id)
		if err != nil {
			return err
		}
		before := newDetails(inv, oldItems, payments)
		snapshot := *inv

		items, err := s.buildLines(ctx, "invoice.update", id, in.Items)
		if err != nil {
			return err
		}
		totals := ComputeTotals(items)
		if err := checkTotals("invoice.update", items, totals); err != nil {
			return err
		}
		applyTotals(inv, totals)
		inv.DueDate = due
		inv.Notes = in.Notes
		paid := sumPayments(payments)
		settle(inv, DeriveStatus(inv.Status, inv.TotalAmount, paid, inv.DueDate, s.now()), lastPayment(payments))

		if err := s.repo.ReplaceItems(ctx, id, items); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, inv); err != nil {
			return err
		}
		out = newDetails(inv, items, payments)
		audit.Log(ctx, s.audit, actor, audit.ActionUpdate, audit.EntityInvoice, id, before, out)
		if snapshot.Status != inv.Status {
			s.logger.Info().Str("invoice", inv.InvoiceNumber).
				Str("from", string(snapshot.Status)).Str("to", string(inv.Status)).
				Msg("status changed by update")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetWithDetails reads header, items and payments from one snapshot.
func (s *Service) GetWithDetails(ctx context.Context, id uuid.UUID) (*Details, error) {
	var out *Details
	err := s.tx.WithinReadTx(ctx, func(ctx context.Context) error {
		inv, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		items, err := s.repo.Items(ctx, id)
		if err != nil {
			return err
		}
		payments, err := s.repo.Payments(ctx, id)
		if err != nil {
			return err
		}
		out = newDetails(inv, items, payments)
		if s.patients != nil {
			name, err := s.patients.PatientName(ctx, inv.PatientID)
			switch apperr.KindOf(err) {
			case "":
				out.PatientName = name
			case apperr.KindNotFound:
				s.logger.Warn().Str("invoice", inv.InvoiceNumber).Str("patient_id", inv.PatientID.String()).
					Msg("invoice references unknown patient")
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Invoice, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("invoice.list", "unknown status %q", f.Status)
	}
	var (
		invoices []*Invoice
		total    int
	)
	err := s.tx.WithinReadTx(ctx, func(ctx context.Context) error {
		var err error
		invoices, total, err = s.repo.List(ctx, f, limit, offset)
		return err
	})
	return invoices, total, err
}

// CancelInvoice moves an invoice to the terminal cancelled state. Invoices
// that already carry payments cannot be cancelled; refunds are not modelled.
func (s *Service) CancelInvoice(ctx context.Context, actor, id uuid.UUID) (*Invoice, error) {
	var out *Invoice
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return apperr.Validation("invoice.cancel", "invoice %s is already cancelled", inv.InvoiceNumber)
		}
		paid, err := s.repo.PaidSum(ctx, id)
		if err != nil {
			return err
		}
		if paid.IsPositive() {
			return apperr.Validation("invoice.cancel", "invoice %s has payments recorded", inv.InvoiceNumber)
		}
		before := *inv
		inv.Status = StatusCancelled
		if err := s.repo.Update(ctx, inv); err != nil {
			return err
		}
		audit.Log(ctx, s.audit, actor, audit.ActionCancel, audit.EntityInvoice, id, before, inv)
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecomputeStatus re-runs the status engine for one invoice and persists the
// result when it differs. The bool reports whether the status changed.
func (s *Service) RecomputeStatus(ctx context.Context, actor, id uuid.UUID) (*Invoice, bool, error) {
	var (
		out     *Invoice
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		payments, err := s.repo.Payments(ctx, id)
		if err != nil {
			return err
		}
		out = inv
		status := DeriveStatus(inv.Status, inv.TotalAmount, sumPayments(payments), inv.DueDate, s.now())
		if status == inv.Status {
			return nil
		}
		before := *inv
		settle(inv, status, lastPayment(payments))
		if err := s.repo.Update(ctx, inv); err != nil {
			return err
		}
		audit.Log(ctx, s.audit, actor, audit.ActionStatusChange, audit.EntityInvoice, id, before, inv)
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

// RefreshStatuses recomputes every open invoice, each in its own unit of
// work, and returns how many changed. It stops at the first failure.
func (s *Service) RefreshStatuses(ctx context.Context, actor uuid.UUID) (int, error) {
	var ids []uuid.UUID
	err := s.tx.WithinReadTx(ctx, func(ctx context.Context) error {
		var err error
		ids, err = s.repo.ListOpenIDs(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, id := range ids {
		_, ok, err := s.RecomputeStatus(ctx, actor, id)
		if err != nil {
			return changed, fmt.Errorf("refresh invoice %s: %w", id, err)
		}
		if ok {
			changed++
		}
	}
	s.logger.Info().Int("checked", len(ids)).Int("changed", changed).Msg("invoice statuses refreshed")
	return changed, nil
}

// Summary aggregates revenue and expenses. month is YYYY-MM; empty means the
// current month.
func (s *Service) Summary(ctx context.Context, month string) (*Summary, error) {
	if month == "" {
		month = s.now().Format("2006-01")
	}
	from, err := time.Parse("2006-01", month)
	if err != nil {
		return nil, apperr.Validation("invoice.summary", "invalid month %q, want YYYY-MM", month)
	}
	to := from.AddDate(0, 1, 0)

	out := &Summary{Month: month}
	err = s.tx.WithinReadTx(ctx, func(ctx context.Context) error {
		agg, err := s.repo.Aggregates(ctx)
		if err != nil {
			return err
		}
		out.TotalRevenue = agg.TotalRevenue
		out.PendingRevenue = agg.PendingRevenue
		if out.MonthlyRevenue, err = s.repo.RevenueBetween(ctx, from, to); err != nil {
			return err
		}
		if s.expenses != nil {
			if out.TotalExpenses, err = s.expenses.TotalExpenses(ctx); err != nil {
				return err
			}
			if out.MonthlyExpenses, err = s.expenses.ExpensesBetween(ctx, from, to); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.NetProfit = out.TotalRevenue.Sub(out.TotalExpenses)
	return out, nil
}

// Render produces the printable document for one invoice.
func (s *Service) Render(ctx context.Context, id uuid.UUID) (*Document, error) {
	if s.renderer == nil {
		return nil, apperr.Validation("invoice.render", "no document renderer configured")
	}
	d, err := s.GetWithDetails(ctx, id)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := s.renderer.Render(&buf, d); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", d.InvoiceNumber, err)
	}
	return &Document{
		Filename:    d.InvoiceNumber + s.renderer.Extension(),
		ContentType: s.renderer.ContentType(),
		Body:        buf.Bytes(),
	}, nil
}

// Settlement is the outcome of re-deriving an invoice's status after a
// payment was appended.
type Settlement struct {
	Invoice  *Invoice
	Paid     decimal.Decimal
	Previous Status
}

// Lock row-locks the invoice until the caller's unit of work ends. Outside a
// unit of work it is a plain read.
func (s *Service) Lock(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.GetForUpdate(ctx, id)
}

// Resettle re-derives the status of inv, locked by Lock, from the payments
// now recorded against it and persists the result. last is the payment that
// triggered the settlement; it supplies the payment date and method when the
// invoice becomes paid. Auditing is the caller's concern.
func (s *Service) Resettle(ctx context.Context, inv *Invoice, last *Payment) (*Settlement, error) {
	paid, err := s.repo.PaidSum(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	prev := inv.Status
	settle(inv, DeriveStatus(inv.Status, inv.TotalAmount, paid, inv.DueDate, s.now()), last)
	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, err
	}
	return &Settlement{Invoice: inv, Paid: paid, Previous: prev}, nil
}

func (s *Service) buildLines(ctx context.Context, op string, invoiceID uuid.UUID, inputs []LineInput) ([]*LineItem, error) {
	items := make([]*LineItem, 0, len(inputs))
	for i, in := range inputs {
		it := &LineItem{
			ID:            uuid.New(),
			InvoiceID:     invoiceID,
			BillingCodeID: in.BillingCodeID,
			Sequence:      i + 1,
			Description:   strings.TrimSpace(in.Description),
			Quantity:      in.Quantity,
			TaxRate:       s.taxRate,
		}
		var price *decimal.Decimal
		if in.UnitPrice != nil {
			p := *in.UnitPrice
			price = &p
		}
		if in.BillingCodeID != nil {
			code, err := s.codes.Get(ctx, *in.BillingCodeID)
			if err != nil {
				return nil, err
			}
			if it.Description == "" {
				it.Description = code.Description
			}
			if price == nil {
				p := code.DefaultPrice
				price = &p
			}
			it.TaxRate = code.TaxRate
		}
		if in.TaxRate != nil {
			it.TaxRate = *in.TaxRate
		}
		if it.Description == "" {
			return nil, apperr.Validation(op, "items[%d].description is required", i)
		}
		if price == nil {
			return nil, apperr.Validation(op, "items[%d].unit_price is required", i)
		}
		it.UnitPrice = price.Round(2)
		it.LineTotal = LineTotal(it.Quantity, it.UnitPrice)
		items = append(items, it)
	}
	return items, nil
}

func applyTotals(inv *Invoice, t Totals) {
	inv.Subtotal = t.Subtotal
	inv.TaxAmount = t.Tax
	inv.TotalAmount = t.Total
}

// settle moves inv to status. Payment date and method follow the payment that
// completed the invoice and are cleared when it is no longer paid.
func settle(inv *Invoice, status Status, last *Payment) {
	wasPaid := inv.Status == StatusPaid
	inv.Status = status
	switch {
	case status != StatusPaid:
		inv.PaymentDate = nil
		inv.PaymentMethod = nil
	case !wasPaid && last != nil:
		d := last.PaymentDate
		m := last.Method
		inv.PaymentDate = &d
		inv.PaymentMethod = &m
	}
}

func sumPayments(payments []*Payment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	return sum
}

func lastPayment(payments []*Payment) *Payment {
	if len(payments) == 0 {
		return nil
	}
	return payments[len(payments)-1]
}

func newDetails(inv *Invoice, items []*LineItem, payments []*Payment) *Details {
	if items == nil {
		items = []*LineItem{}
	}
	if payments == nil {
		payments = []*Payment{}
	}
	paid := sumPayments(payments)
	balance := inv.TotalAmount.Sub(paid)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	return &Details{Invoice: *inv, Items: items, Payments: payments, PaidAmount: paid, Balance: balance}
}
