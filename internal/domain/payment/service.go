package payment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/ledger/internal/domain/audit"
	"github.com/clinic/ledger/internal/domain/invoice"
	"github.com/clinic/ledger/internal/platform/apperr"
	"github.com/clinic/ledger/internal/platform/db"
	"github.com/clinic/ledger/internal/platform/validation"
)

// Ledger is the slice of the invoice ledger the recorder settles against.
type Ledger interface {
	Lock(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error)
	Resettle(ctx context.Context, inv *invoice.Invoice, last *invoice.Payment) (*invoice.Settlement, error)
}

type Service struct {
	repo   Repository
	ledger Ledger
	tx     db.Transactor
	audit  audit.Recorder
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, ledger Ledger, tx db.Transactor, rec audit.Recorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		tx:     tx,
		audit:  rec,
		logger: logger.With().Str("component", "payment").Logger(),
		now:    time.Now,
	}
}

// paymentRecord is the audit snapshot of a payment and the status it left
// the invoice in.
type paymentRecord struct {
	*invoice.Payment
	InvoiceStatus invoice.Status `json:"invoice_status"`
}

// RecordPayment appends a payment and re-derives the invoice status in the
// same unit of work, so no reader sees the payment with a stale status.
func (s *Service) RecordPayment(ctx context.Context, actor uuid.UUID, in RecordInput) (*Receipt, error) {
	in.Method = strings.TrimSpace(in.Method)
	if in.IdempotencyKey != nil {
		k := strings.TrimSpace(*in.IdempotencyKey)
		if k == "" {
			in.IdempotencyKey = nil
		} else {
			in.IdempotencyKey = &k
		}
	}
	if in.InvoiceID == uuid.Nil {
		return nil, apperr.Validation("payment.record", "invoice id is required")
	}
	if err := validation.Struct("payment.record", in); err != nil {
		return nil, err
	}
	on := s.now()
	if in.Date != "" {
		var err error
		if on, err = invoice.ParseDate(in.Date); err != nil {
			return nil, apperr.Validation("payment.record", "invalid date %q", in.Date)
		}
	}
	y, m, d := on.Date()
	on = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	var receipt *Receipt
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := s.ledger.Lock(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status == invoice.StatusCancelled {
			return apperr.Validation("payment.record", "invoice %s is cancelled", inv.InvoiceNumber)
		}
		if in.IdempotencyKey != nil {
			dup, err := s.repo.GetByIdempotencyKey(ctx, *in.IdempotencyKey)
			if err != nil {
				return err
			}
			if dup != nil {
				return apperr.Conflict("payment.record", "payment with this idempotency key was already recorded")
			}
		}

		p := &invoice.Payment{
			ID:             uuid.New(),
			InvoiceID:      inv.ID,
			Amount:         in.Amount,
			PaymentDate:    on,
			Method:         in.Method,
			Reference:      in.Reference,
			Notes:          in.Notes,
			IdempotencyKey: in.IdempotencyKey,
		}
		if actor != uuid.Nil {
			a := actor
			p.CreatedBy = &a
		}
		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}

		st, err := s.ledger.Resettle(ctx, inv, p)
		if err != nil {
			return err
		}
		audit.Log(ctx, s.audit, actor, audit.ActionRecordPayment, audit.EntityPayment, p.ID,
			nil, paymentRecord{Payment: p, InvoiceStatus: st.Invoice.Status})

		balance := st.Invoice.TotalAmount.Sub(st.Paid)
		if balance.IsNegative() {
			s.logger.Info().Str("invoice", inv.InvoiceNumber).Str("overpaid", balance.Neg().String()).
				Msg("invoice overpaid")
			balance = decimal.Zero
		}
		receipt = &Receipt{
			Payment:       p,
			InvoiceNumber: st.Invoice.InvoiceNumber,
			InvoiceStatus: st.Invoice.Status,
			PaidAmount:    st.Paid,
			Balance:       balance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*invoice.Payment, int, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, 0, apperr.Validation("payment.list", "to is before from")
	}
	var (
		payments []*invoice.Payment
		total    int
	)
	err := s.tx.WithinReadTx(ctx, func(ctx context.Context) error {
		var err error
		payments, total, err = s.repo.List(ctx, f, limit, offset)
		return err
	})
	return payments, total, err
}
