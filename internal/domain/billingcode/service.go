package billingcode

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/ledger/internal/domain/audit"
	"github.com/clinic/ledger/internal/platform/apperr"
	"github.com/clinic/ledger/internal/platform/db"
	"github.com/clinic/ledger/internal/platform/validation"
)

type Service struct {
	repo           Repository
	tx             db.Transactor
	audit          audit.Recorder
	defaultTaxRate decimal.Decimal
}

func NewService(repo Repository, tx db.Transactor, rec audit.Recorder, defaultTaxRate decimal.Decimal) *Service {
	return &Service{repo: repo, tx: tx, audit: rec, defaultTaxRate: defaultTaxRate}
}

func (s *Service) Create(ctx context.Context, actor uuid.UUID, in CreateInput) (*BillingCode, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Description = strings.TrimSpace(in.Description)
	if err := validation.Struct("billing_code.create", in); err != nil {
		return nil, err
	}

	bc := &BillingCode{
		ID:           uuid.New(),
		Code:         in.Code,
		Description:  in.Description,
		Category:     strings.TrimSpace(in.Category),
		DefaultPrice: in.DefaultPrice.Round(2),
		TaxRate:      s.defaultTaxRate,
		Active:       true,
	}
	if in.TaxRate != nil {
		bc.TaxRate = *in.TaxRate
	}
	if in.Active != nil {
		bc.Active = *in.Active
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetByCode(ctx, bc.Code)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Validation("billing_code.create", "billing code %q already exists", bc.Code)
		}
		if err := s.repo.Create(ctx, bc); err != nil {
			return err
		}
		audit.Log(ctx, s.audit, actor, audit.ActionCreate, audit.EntityBillingCode, bc.ID, nil, bc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bc, nil
}

// Get returns the code with id. Inside a unit of work it reads through that
// unit's transaction.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*BillingCode, error) {
	var bc *BillingCode
	err := s.tx.WithinReadTx(ctx, func(ctx context.Context) error {
		var err error
		bc, err = s.repo.GetByID(ctx, id)
		return err
	})
	return bc, err
}

func (s *Service) List(ctx context.Context, f Filter) ([]*BillingCode, error) {
	var codes []*BillingCode
	err := s.tx.WithinReadTx(ctx, func(ctx context.Context) error {
		var err error
		codes, err = s.repo.List(ctx, f)
		return err
	})
	return codes, err
}

// Update merges patch into the code. Issued invoices keep their own copies of
// price and rate, so they are unaffected.
func (s *Service) Update(ctx context.Context, actor uuid.UUID, id uuid.UUID, patch Patch) (*BillingCode, error) {
	if patch.IsEmpty() {
		return nil, apperr.Validation("billing_code.update", "no fields to update")
	}
	if patch.Description != nil {
		d := strings.TrimSpace(*patch.Description)
		patch.Description = &d
	}
	if err := validation.Struct("billing_code.update", patch); err != nil {
		return nil, err
	}

	var updated *BillingCode
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		before := *current
		patch.Apply(current)
		current.DefaultPrice = current.DefaultPrice.Round(2)
		if err := s.repo.Update(ctx, current); err != nil {
			return err
		}
		audit.Log(ctx, s.audit, actor, audit.ActionUpdate, audit.EntityBillingCode, current.ID, before, current)
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
