package appointment

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/ledger/internal/domain/audit"
	"github.com/clinic/ledger/internal/domain/billingcode"
	"github.com/clinic/ledger/internal/domain/invoice"
	"github.com/clinic/ledger/internal/platform/apperr"
	"github.com/clinic/ledger/internal/platform/db"
)

// InvoiceCreator is the ledger's transactional create path.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, actor uuid.UUID, in invoice.CreateInput) (*invoice.Details, error)
}

// Converter rolls an appointment's unbilled items into one invoice.
type Converter struct {
	repo      Repository
	appts     Directory
	codes     CodeLookup
	invoices  InvoiceCreator
	tx        db.Transactor
	audit     audit.Recorder
	termsDays int
	logger    zerolog.Logger
}

func NewConverter(repo Repository, appts Directory, codes CodeLookup, invoices InvoiceCreator, tx db.Transactor, rec audit.Recorder, termsDays int, logger zerolog.Logger) *Converter {
	return &Converter{
		repo:      repo,
		appts:     appts,
		codes:     codes,
		invoices:  invoices,
		tx:        tx,
		audit:     rec,
		termsDays: termsDays,
		logger:    logger.With().Str("component", "converter").Logger(),
	}
}

type billedItems struct {
	InvoiceID     uuid.UUID   `json:"invoice_id"`
	InvoiceNumber string      `json:"invoice_number"`
	ItemIDs       []uuid.UUID `json:"item_ids"`
}

// GenerateInvoiceFromAppointment locks the appointment's unbilled items,
// creates the invoice and marks the items billed in a single unit of work.
// A retry after a failure finds the items unbilled again; a call racing a
// successful one finds none and fails with an empty error.
func (c *Converter) GenerateInvoiceFromAppointment(ctx context.Context, actor, appointmentID uuid.UUID) (*invoice.Details, error) {
	var out *invoice.Details
	err := c.tx.WithinTx(ctx, func(ctx context.Context) error {
		appt, err := c.appts.Appointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		items, err := c.repo.LockUnbilled(ctx, appointmentID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return apperr.Empty("appointment.invoice", "appointment %s has no unbilled items", appointmentID)
		}

		lines := make([]invoice.LineInput, 0, len(items))
		ids := make([]uuid.UUID, 0, len(items))
		for _, it := range items {
			code, err := c.codes.Get(ctx, it.BillingCodeID)
			if err != nil {
				return err
			}
			codeID, price, rate := it.BillingCodeID, it.UnitPrice, it.TaxRate
			lines = append(lines, invoice.LineInput{
				BillingCodeID: &codeID,
				Description:   lineDescription(code),
				Quantity:      it.Quantity,
				UnitPrice:     &price,
				TaxRate:       &rate,
			})
			ids = append(ids, it.ID)
		}

		apptID := appt.ID
		det, err := c.invoices.CreateInvoice(ctx, actor, invoice.CreateInput{
			PatientID:     appt.PatientID,
			AppointmentID: &apptID,
			DueDate:       appt.Date.AddDate(0, 0, c.termsDays).Format(invoice.DateLayout),
			Notes:         "Appointment " + appt.Type + " on " + appt.Date.Format(invoice.DateLayout),
			Items:         lines,
		})
		if err != nil {
			return err
		}

		n, err := c.repo.MarkBilled(ctx, ids, det.ID)
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			return apperr.Conflict("appointment.invoice",
				"%d of %d items for appointment %s were billed concurrently", int64(len(ids))-n, len(ids), appointmentID)
		}
		audit.Log(ctx, c.audit, actor, audit.ActionMarkBilled, audit.EntityAppointment, appointmentID, nil,
			billedItems{InvoiceID: det.ID, InvoiceNumber: det.InvoiceNumber, ItemIDs: ids})
		out = det
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("appointment_id", appointmentID.String()).Str("invoice", out.InvoiceNumber).
		Int("items", len(out.Items)).Msg("appointment invoiced")
	return out, nil
}

// lineDescription labels a converted line with its code. Long code
// descriptions are cut so the line stays within invoice.MaxDescriptionLen.
func lineDescription(code *billingcode.BillingCode) string {
	desc := []rune(code.Code + " - " + code.Description)
	if len(desc) > invoice.MaxDescriptionLen {
		desc = desc[:invoice.MaxDescriptionLen]
	}
	return strings.TrimSpace(string(desc))
}
