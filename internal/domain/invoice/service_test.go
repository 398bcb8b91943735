package invoice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/ledger/internal/domain/audit"
	"github.com/clinic/ledger/internal/domain/billingcode"
	"github.com/clinic/ledger/internal/platform/apperr"
	"github.com/clinic/ledger/internal/platform/db"
)

// -- Mocks --

type mockRepo struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*Invoice
	items    map[uuid.UUID][]*LineItem
	payments map[uuid.UUID][]*Payment
	creates  int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		invoices: make(map[uuid.UUID]*Invoice),
		items:    make(map[uuid.UUID][]*LineItem),
		payments: make(map[uuid.UUID][]*Payment),
	}
}

// snapshot implements db.StubTransactor.Snapshot.
func (m *mockRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := make(map[uuid.UUID]*Invoice, len(m.invoices))
	for k, v := range m.invoices {
		cp := *v
		inv[k] = &cp
	}
	items := make(map[uuid.UUID][]*LineItem, len(m.items))
	for k, v := range m.items {
		items[k] = append([]*LineItem(nil), v...)
	}
	pays := make(map[uuid.UUID][]*Payment, len(m.payments))
	for k, v := range m.payments {
		pays[k] = append([]*Payment(nil), v...)
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.invoices, m.items, m.payments = inv, items, pays
	}
}

func (m *mockRepo) Create(_ context.Context, inv *Invoice, items []*LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.invoices {
		if existing.InvoiceNumber == inv.InvoiceNumber {
			return apperr.Conflict("invoice.create", "invoice number %s already issued, retry", inv.InvoiceNumber)
		}
	}
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = inv.CreatedAt
	cp := *inv
	m.invoices[inv.ID] = &cp
	m.items[inv.ID] = append([]*LineItem(nil), items...)
	m.creates++
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, apperr.NotFound("invoice.get", "invoice", id)
	}
	cp := *inv
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.ID]; !ok {
		return apperr.NotFound("invoice.update", "invoice", inv.ID)
	}
	inv.UpdatedAt = time.Now()
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Invoice, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Invoice
	for _, inv := range m.invoices {
		if f.PatientID != nil && inv.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		cp := *inv
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceNumber < out[j].InvoiceNumber })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) ListOpenIDs(_ context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, inv := range m.invoices {
		if inv.Status.Open() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *mockRepo) ReplaceItems(_ context.Context, invoiceID uuid.UUID, items []*LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[invoiceID] = append([]*LineItem(nil), items...)
	return nil
}

func (m *mockRepo) Items(_ context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*LineItem(nil), m.items[invoiceID]...), nil
}

func (m *mockRepo) Payments(_ context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Payment(nil), m.payments[invoiceID]...), nil
}

func (m *mockRepo) PaidSum(_ context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sumPayments(m.payments[invoiceID]), nil
}

func (m *mockRepo) Aggregates(_ context.Context) (Aggregates, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var a Aggregates
	for id, inv := range m.invoices {
		switch {
		case inv.Status == StatusPaid:
			a.TotalRevenue = a.TotalRevenue.Add(inv.TotalAmount)
		case inv.Status.Open():
			a.PendingRevenue = a.PendingRevenue.Add(inv.TotalAmount.Sub(sumPayments(m.payments[id])))
		}
	}
	return a, nil
}

func (m *mockRepo) RevenueBetween(_ context.Context, from, to time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, inv := range m.invoices {
		if inv.Status == StatusPaid && inv.PaymentDate != nil &&
			!inv.PaymentDate.Before(from) && inv.PaymentDate.Before(to) {
			sum = sum.Add(inv.TotalAmount)
		}
	}
	return sum, nil
}

func (m *mockRepo) addPayment(invoiceID uuid.UUID, amount, method string, on time.Time) *Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &Payment{ID: uuid.New(), InvoiceID: invoiceID, Amount: d(amount), Method: method, PaymentDate: on}
	m.payments[invoiceID] = append(m.payments[invoiceID], p)
	return p
}

type mockCodes struct {
	codes map[uuid.UUID]*billingcode.BillingCode
}

func (m *mockCodes) Get(_ context.Context, id uuid.UUID) (*billingcode.BillingCode, error) {
	bc, ok := m.codes[id]
	if !ok {
		return nil, apperr.NotFound("billing_code.get", "billing code", id)
	}
	return bc, nil
}

type mockRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *mockRecorder) Record(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockRecorder) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

type seqNumbers struct{ n int }

func (s *seqNumbers) Next() string {
	s.n++
	return fmt.Sprintf("INV-%04d", s.n)
}

type fixedNumber string

func (f fixedNumber) Next() string { return string(f) }

type mockExpenses struct{ total, monthly decimal.Decimal }

func (m mockExpenses) TotalExpenses(context.Context) (decimal.Decimal, error) { return m.total, nil }
func (m mockExpenses) ExpensesBetween(context.Context, time.Time, time.Time) (decimal.Decimal, error) {
	return m.monthly, nil
}

type mockPatients map[uuid.UUID]string

func (m mockPatients) PatientName(_ context.Context, id uuid.UUID) (string, error) {
	name, ok := m[id]
	if !ok {
		return "", apperr.NotFound("patient.get", "patient", id)
	}
	return name, nil
}

type fakeRenderer struct{}

func (fakeRenderer) ContentType() string { return "text/plain" }
func (fakeRenderer) Extension() string   { return ".txt" }
func (fakeRenderer) Render(w io.Writer, det *Details) error {
	_, err := fmt.Fprintf(w, "%s %s", det.InvoiceNumber, det.TotalAmount)
	return err
}

// -- Fixture --

var today = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	repo  *mockRepo
	rec   *mockRecorder
	tx    *db.StubTransactor
	codes *mockCodes
	code  *billingcode.BillingCode
}

func newFixture() *fixture {
	repo := newMockRepo()
	rec := &mockRecorder{}
	tx := &db.StubTransactor{Snapshot: repo.snapshot}
	code := &billingcode.BillingCode{
		ID: uuid.New(), Code: "LAB-01", Description: "Blood panel",
		DefaultPrice: d("40"), TaxRate: d("0.05"), Active: true,
	}
	codes := &mockCodes{codes: map[uuid.UUID]*billingcode.BillingCode{code.ID: code}}
	svc := NewService(repo, codes, tx, rec, &seqNumbers{}, d("0.15"), zerolog.Nop())
	svc.SetClock(func() time.Time { return today })
	return &fixture{svc: svc, repo: repo, rec: rec, tx: tx, codes: codes, code: code}
}

func price(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func manual(desc string, qty int, p string) LineInput {
	return LineInput{Description: desc, Quantity: qty, UnitPrice: price(p)}
}

func (f *fixture) create(t *testing.T, due string, items ...LineInput) *Details {
	t.Helper()
	det, err := f.svc.CreateInvoice(context.Background(), uuid.New(), CreateInput{
		PatientID: uuid.New(), DueDate: due, Items: items,
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return det
}

// -- Tests --

func TestCreateInvoice(t *testing.T) {
	f := newFixture()
	actor := uuid.New()
	det, err := f.svc.CreateInvoice(context.Background(), actor, CreateInput{
		PatientID: uuid.New(),
		DueDate:   "2026-04-09",
		Notes:     "  follow-up  ",
		Items:     []LineInput{manual("Consultation", 1, "60"), manual("Dressing", 2, "20")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !det.Subtotal.Equal(d("100")) || !det.TaxAmount.Equal(d("15")) || !det.TotalAmount.Equal(d("115")) {
		t.Errorf("unexpected totals %s/%s/%s", det.Subtotal, det.TaxAmount, det.TotalAmount)
	}
	if det.Status != StatusUnpaid {
		t.Errorf("expected unpaid, got %s", det.Status)
	}
	if det.Notes != "follow-up" || det.InvoiceNumber != "INV-0001" {
		t.Errorf("unexpected header %+v", det.Invoice)
	}
	for i, it := range det.Items {
		if it.Sequence != i+1 || !it.LineTotal.Equal(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))) {
			t.Errorf("bad line %+v", it)
		}
	}

	got, err := f.svc.GetWithDetails(context.Background(), det.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(got.Items))
	}
	if !got.Balance.Equal(d("115")) || !got.PaidAmount.IsZero() {
		t.Errorf("unexpected balance %s paid %s", got.Balance, got.PaidAmount)
	}

	if len(f.rec.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(f.rec.entries))
	}
	e := f.rec.entries[0]
	if e.Action != audit.ActionCreate || e.EntityType != audit.EntityInvoice || e.ActorID != actor ||
		e.OldValue != nil || len(e.NewValue) == 0 {
		t.Errorf("unexpected audit entry %+v", e)
	}
}

func TestCreateInvoice_NoItems(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateInvoice(context.Background(), uuid.New(), CreateInput{
		PatientID: uuid.New(), DueDate: "2026-04-09",
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.repo.invoices) != 0 || len(f.rec.entries) != 0 || f.tx.Commits+f.tx.Rollbacks != 0 {
		t.Error("validation must fail before any write")
	}
}

func TestCreateInvoice_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   CreateInput
	}{
		{"missing patient", CreateInput{DueDate: "2026-04-09", Items: []LineInput{manual("x", 1, "1")}}},
		{"bad due date", CreateInput{PatientID: uuid.New(), DueDate: "09/04/2026", Items: []LineInput{manual("x", 1, "1")}}},
		{"zero quantity", CreateInput{PatientID: uuid.New(), DueDate: "2026-04-09", Items: []LineInput{manual("x", 0, "1")}}},
		{"negative price", CreateInput{PatientID: uuid.New(), DueDate: "2026-04-09", Items: []LineInput{manual("x", 1, "-1")}}},
		{"sub-cent price", CreateInput{PatientID: uuid.New(), DueDate: "2026-04-09", Items: []LineInput{manual("x", 1, "1.001")}}},
		{"manual line without description", CreateInput{PatientID: uuid.New(), DueDate: "2026-04-09", Items: []LineInput{manual(" ", 1, "1")}}},
		{"manual line without price", CreateInput{PatientID: uuid.New(), DueDate: "2026-04-09", Items: []LineInput{{Description: "x", Quantity: 1}}}},
		{"price above column", CreateInput{PatientID: uuid.New(), DueDate: "2026-04-09", Items: []LineInput{manual("x", 1, "99999999999999.99")}}},
		{"quantity above limit", CreateInput{PatientID: uuid.New(), DueDate: "2026-04-09", Items: []LineInput{manual("x", 3000000000, "1")}}},
		{"line total above column", CreateInput{PatientID: uuid.New(), DueDate: "2026-04-09", Items: []LineInput{manual("x", 100000, "9999999999.99")}}},
		{"taxed total above column", CreateInput{PatientID: uuid.New(), DueDate: "2026-04-09", Items: []LineInput{manual("x", 1, "9999999999.99")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if _, err := f.svc.CreateInvoice(context.Background(), uuid.New(), tt.in); !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(f.repo.invoices) != 0 || len(f.rec.entries) != 0 {
				t.Error("nothing may be persisted")
			}
		})
	}
}

func TestCreateInvoice_BillingCodeDefaults(t *testing.T) {
	f := newFixture()
	det := f.create(t, "2026-04-09",
		LineInput{BillingCodeID: &f.code.ID, Quantity: 2},
		manual("Consultation", 1, "100"),
	)
	lab := det.Items[0]
	if lab.Description != "Blood panel" || !lab.UnitPrice.Equal(d("40")) || !lab.TaxRate.Equal(d("0.05")) {
		t.Errorf("code defaults not applied: %+v", lab)
	}
	if !det.Items[1].TaxRate.Equal(d("0.15")) {
		t.Errorf("manual line must use the system rate, got %s", det.Items[1].TaxRate)
	}
	// 80 × 0.05 + 100 × 0.15
	if !det.TaxAmount.Equal(d("19")) || !det.TotalAmount.Equal(d("199")) {
		t.Errorf("unexpected tax %s total %s", det.TaxAmount, det.TotalAmount)
	}
}

func TestCreateInvoice_UnknownBillingCode(t *testing.T) {
	f := newFixture()
	missing := uuid.New()
	_, err := f.svc.CreateInvoice(context.Background(), uuid.New(), CreateInput{
		PatientID: uuid.New(), DueDate: "2026-04-09",
		Items: []LineInput{{BillingCodeID: &missing, Quantity: 1}},
	})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(f.repo.invoices) != 0 || f.tx.Rollbacks != 1 {
		t.Error("failed create must roll back")
	}
}

func TestCreateInvoice_NumberCollision(t *testing.T) {
	f := newFixture()
	f.svc.numbers = fixedNumber("INV-1")
	f.create(t, "2026-04-09", manual("x", 1, "10"))

	_, err := f.svc.CreateInvoice(context.Background(), uuid.New(), CreateInput{
		PatientID: uuid.New(), DueDate: "2026-04-09", Items: []LineInput{manual("y", 1, "10")},
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(f.repo.invoices) != 1 || len(f.rec.entries) != 1 {
		t.Error("collision must not persist or audit anything")
	}
}

func TestCreateInvoice_PastDueIsOverdue(t *testing.T) {
	f := newFixture()
	det := f.create(t, "2026-03-01", manual("x", 1, "10"))
	if det.Status != StatusOverdue {
		t.Errorf("expected overdue, got %s", det.Status)
	}
}

func TestUpdateInvoice_ReplacesItems(t *testing.T) {
	f := newFixture()
	det := f.create(t, "2026-04-09", manual("a", 1, "10"), manual("b", 1, "20"), manual("c", 1, "30"))

	updated, err := f.svc.UpdateInvoice(context.Background(), uuid.New(), det.ID, UpdateInput{
		DueDate: "2026-05-01",
		Notes:   "revised",
		Items:   []LineInput{manual("single", 1, "100")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.repo.items[det.ID]) != 1 {
		t.Fatalf("expected exactly 1 stored item, got %d", len(f.repo.items[det.ID]))
	}
	if !updated.TotalAmount.Equal(d("115")) || updated.Notes != "revised" || !updated.DueDate.Equal(date("2026-05-01")) {
		t.Errorf("header not rewritten: %+v", updated.Invoice)
	}
	if got := f.rec.actions(); len(got) != 2 || got[1] != audit.ActionUpdate {
		t.Errorf("expected create+update audit entries, got %v", got)
	}
	if e := f.rec.entries[1]; e.OldValue == nil || e.NewValue == nil {
		t.Error("update entry must carry both snapshots")
	}
}

func TestUpdateInvoice_RederivesStatusAgainstPayments(t *testing.T) {
	f := newFixture()
	det := f.create(t, "2026-04-09", manual("a", 1, "100"))
	f.repo.addPayment(det.ID, "57.50", "cash", today)

	updated, err := f.svc.UpdateInvoice(context.Background(), uuid.New(), det.ID, UpdateInput{
		DueDate: "2026-04-09",
		Items:   []LineInput{manual("a", 1, "50")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusPaid || updated.PaymentMethod == nil || *updated.PaymentMethod != "cash" {
		t.Errorf("expected paid by cash, got %s %v", updated.Status, updated.PaymentMethod)
	}
	if !updated.Balance.IsZero() {
		t.Errorf("expected zero balance, got %s", updated.Balance)
	}
}

func TestUpdateInvoice_Errors(t *testing.T) {
	f := newFixture()
	valid := UpdateInput{DueDate: "2026-04-09", Items: []LineInput{manual("a", 1, "1")}}

	if _, err := f.svc.UpdateInvoice(context.Background(), uuid.New(), uuid.New(), valid); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	det := f.create(t, "2026-04-09", manual("a", 1, "1"))
	if _, err := f.svc.UpdateInvoice(context.Background(), uuid.New(), det.ID, UpdateInput{DueDate: "2026-04-09"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for empty items, got %v", err)
	}
	if len(f.repo.items[det.ID]) != 1 {
		t.Error("rejected update must leave items untouched")
	}

	if _, err := f.svc.CancelInvoice(context.Background(), uuid.New(), det.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.UpdateInvoice(context.Background(), uuid.New(), det.ID, valid); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for cancelled invoice, got %v", err)
	}
}

func TestCancelInvoice(t *testing.T) {
	f := newFixture()
	det := f.create(t, "2026-04-09", manual("a", 1, "10"))

	inv, err := f.svc.CancelInvoice(context.Background(), uuid.New(), det.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", inv.Status)
	}
	if _, err := f.svc.CancelInvoice(context.Background(), uuid.New(), det.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("second cancel should fail validation, got %v", err)
	}
	if got := f.rec.actions(); len(got) != 2 || got[1] != audit.ActionCancel {
		t.Errorf("unexpected audit actions %v", got)
	}
}

func TestCancelInvoice_WithPayments(t *testing.T) {
	f := newFixture()
	det := f.create(t, "2026-04-09", manual("a", 1, "10"))
	f.repo.addPayment(det.ID, "5", "card", today)

	if _, err := f.svc.CancelInvoice(context.Background(), uuid.New(), det.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.repo.invoices[det.ID].Status == StatusCancelled {
		t.Error("invoice with payments must not be cancelled")
	}
}

func TestResettle_PartialThenPaid(t *testing.T) {
	f := newFixture()
	det := f.create(t, "2026-04-09", manual("Consultation", 1, "100"))
	if !det.TotalAmount.Equal(d("115")) {
		t.Fatalf("expected 115 total, got %s", det.TotalAmount)
	}

	pay := func(amount, method string) *Settlement {
		t.Helper()
		var out *Settlement
		err := f.tx.WithinTx(context.Background(), func(ctx context.Context) error {
			inv, err := f.svc.Lock(ctx, det.ID)
			if err != nil {
				return err
			}
			p := f.repo.addPayment(det.ID, amount, method, today)
			out, err = f.svc.Resettle(ctx, inv, p)
			return err
		})
		if err != nil {
			t.Fatalf("settle: %v", err)
		}
		return out
	}

	first := pay("50", "cash")
	if first.Invoice.Status != StatusPartial || first.Previous != StatusUnpaid || !first.Paid.Equal(d("50")) {
		t.Errorf("after 50: got %s (prev %s, paid %s)", first.Invoice.Status, first.Previous, first.Paid)
	}
	if first.Invoice.PaymentDate != nil {
		t.Error("partial invoice must not carry a payment date")
	}

	second := pay("65", "card")
	if second.Invoice.Status != StatusPaid {
		t.Fatalf("after 65: expected paid, got %s", second.Invoice.Status)
	}
	if second.Invoice.PaymentMethod == nil || *second.Invoice.PaymentMethod != "card" ||
		second.Invoice.PaymentDate == nil || !second.Invoice.PaymentDate.Equal(today) {
		t.Errorf("payment date/method not set from completing payment: %+v", second.Invoice)
	}

	third := pay("10", "cash")
	if third.Invoice.Status != StatusPaid || *third.Invoice.PaymentMethod != "card" {
		t.Errorf("overpayment must keep the invoice paid with its original method, got %+v", third.Invoice)
	}

	if len(f.rec.entries) != 1 {
		t.Errorf("resettle must not audit, got %v", f.rec.actions())
	}
}

func TestRecomputeStatus_Overdue(t *testing.T) {
	f := newFixture()
	det := f.create(t, "2026-04-09", manual("a", 1, "10"))

	f.svc.SetClock(func() time.Time { return date("2026-04-10") })
	inv, changed, err := f.svc.RecomputeStatus(context.Background(), uuid.Nil, det.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed || inv.Status != StatusOverdue {
		t.Errorf("expected overdue change, got %s changed=%v", inv.Status, changed)
	}
	last := f.rec.entries[len(f.rec.entries)-1]
	if last.Action != audit.ActionStatusChange || !last.IsSystem() {
		t.Errorf("expected system status_change entry, got %+v", last)
	}

	_, changed, err = f.svc.RecomputeStatus(context.Background(), uuid.Nil, det.ID)
	if err != nil || changed {
		t.Errorf("second recompute should be a no-op, changed=%v err=%v", changed, err)
	}
	if len(f.rec.entries) != 2 {
		t.Errorf("no-op recompute must not audit, got %v", f.rec.actions())
	}
}

func TestRefreshStatuses(t *testing.T) {
	f := newFixture()
	f.create(t, "2026-03-15", manual("a", 1, "10"))
	f.create(t, "2026-03-20", manual("b", 1, "10"))
	f.create(t, "2026-05-01", manual("c", 1, "10"))
	cancelled := f.create(t, "2026-03-15", manual("d", 1, "10"))
	f.svc.CancelInvoice(context.Background(), uuid.New(), cancelled.ID)

	f.svc.SetClock(func() time.Time { return date("2026-03-25") })
	changed, err := f.svc.RefreshStatuses(context.Background(), uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed != 2 {
		t.Errorf("expected 2 changed invoices, got %d", changed)
	}
	if f.repo.invoices[cancelled.ID].Status != StatusCancelled {
		t.Error("cancelled invoice must stay cancelled")
	}
}

func TestGetWithDetails(t *testing.T) {
	f := newFixture()
	patient := uuid.New()
	f.svc.SetPatientDirectory(mockPatients{patient: "Ada Lovelace"})
	det, _ := f.svc.CreateInvoice(context.Background(), uuid.New(), CreateInput{
		PatientID: patient, DueDate: "2026-04-09", Items: []LineInput{manual("a", 1, "100")},
	})
	f.repo.addPayment(det.ID, "40", "cash", today)

	got, err := f.svc.GetWithDetails(context.Background(), det.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PatientName != "Ada Lovelace" || len(got.Payments) != 1 {
		t.Errorf("unexpected details %+v", got)
	}
	if !got.PaidAmount.Equal(d("40")) || !got.Balance.Equal(d("75")) {
		t.Errorf("paid %s balance %s", got.PaidAmount, got.Balance)
	}

	if _, err := f.svc.GetWithDetails(context.Background(), uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestGetWithDetails_UnknownPatient(t *testing.T) {
	f := newFixture()
	f.svc.SetPatientDirectory(mockPatients{})
	det := f.create(t, "2026-04-09", manual("a", 1, "1"))
	got, err := f.svc.GetWithDetails(context.Background(), det.ID)
	if err != nil {
		t.Fatalf("unknown patient must not fail the read: %v", err)
	}
	if got.PatientName != "" {
		t.Errorf("expected empty name, got %q", got.PatientName)
	}
}

func TestList(t *testing.T) {
	f := newFixture()
	f.create(t, "2026-04-09", manual("a", 1, "1"))
	f.create(t, "2026-03-01", manual("b", 1, "1"))

	all, total, err := f.svc.List(context.Background(), Filter{}, 10, 0)
	if err != nil || total != 2 || len(all) != 2 {
		t.Fatalf("unexpected list %d/%d err=%v", len(all), total, err)
	}
	overdue, total, _ := f.svc.List(context.Background(), Filter{Status: StatusOverdue}, 10, 0)
	if total != 1 || len(overdue) != 1 {
		t.Errorf("expected 1 overdue invoice, got %d", total)
	}
	if _, _, err := f.svc.List(context.Background(), Filter{Status: "lost"}, 10, 0); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	f := newFixture()
	f.svc.SetExpenseSource(mockExpenses{total: d("30"), monthly: d("12.5")})
	paid := f.create(t, "2026-04-09", manual("a", 1, "100"))
	partial := f.create(t, "2026-04-09", manual("b", 1, "20"))
	f.create(t, "2026-04-09", manual("c", 1, "10"))

	for _, p := range []struct {
		id     uuid.UUID
		amount string
	}{{paid.ID, "115"}, {partial.ID, "3"}} {
		err := f.tx.WithinTx(context.Background(), func(ctx context.Context) error {
			inv, err := f.svc.Lock(ctx, p.id)
			if err != nil {
				return err
			}
			_, err = f.svc.Resettle(ctx, inv, f.repo.addPayment(p.id, p.amount, "cash", today))
			return err
		})
		if err != nil {
			t.Fatalf("pay: %v", err)
		}
	}

	sum, err := f.svc.Summary(context.Background(), "2026-03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// pending: (23 - 3) + 11.5
	if !sum.TotalRevenue.Equal(d("115")) || !sum.PendingRevenue.Equal(d("31.5")) {
		t.Errorf("revenue %s pending %s", sum.TotalRevenue, sum.PendingRevenue)
	}
	if !sum.MonthlyRevenue.Equal(d("115")) || !sum.MonthlyExpenses.Equal(d("12.5")) {
		t.Errorf("monthly revenue %s expenses %s", sum.MonthlyRevenue, sum.MonthlyExpenses)
	}
	if !sum.NetProfit.Equal(d("85")) {
		t.Errorf("net profit %s, want 85", sum.NetProfit)
	}

	if _, err := f.svc.Summary(context.Background(), "March"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if s, err := f.svc.Summary(context.Background(), ""); err != nil || s.Month != "2026-03" {
		t.Errorf("empty month should default to the current one, got %+v err=%v", s, err)
	}
}

func TestRender(t *testing.T) {
	f := newFixture()
	det := f.create(t, "2026-04-09", manual("a", 1, "100"))

	if _, err := f.svc.Render(context.Background(), det.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error without renderer, got %v", err)
	}

	f.svc.SetRenderer(fakeRenderer{})
	doc, err := f.svc.Render(context.Background(), det.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Filename != det.InvoiceNumber+".txt" || !strings.Contains(string(doc.Body), "115") {
		t.Errorf("unexpected document %+v", doc)
	}
}
