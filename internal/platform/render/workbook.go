// Package render turns invoice aggregates into printable documents.
package render

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/clinic/ledger/internal/domain/invoice"
)

const sheet = "Invoice"

// Workbook renders an invoice as a single-sheet xlsx file.
type Workbook struct {
	// ClinicName heads the sheet.
	ClinicName string
}

func NewWorkbook(clinicName string) *Workbook {
	return &Workbook{ClinicName: clinicName}
}

func (w *Workbook) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (w *Workbook) Extension() string { return ".xlsx" }

func (w *Workbook) Render(out io.Writer, d *invoice.Details) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return err
	}

	set := func(cell string, v interface{}) {
		if err == nil {
			err = f.SetCellValue(sheet, cell, v)
		}
	}
	setMoney := func(cell string, v interface{}) {
		set(cell, v)
		if err == nil {
			err = f.SetCellStyle(sheet, cell, cell, money)
		}
	}

	set("A1", w.ClinicName)
	set("A2", "Invoice")
	set("B2", d.InvoiceNumber)
	set("A3", "Patient")
	set("B3", d.PatientName)
	set("A4", "Due date")
	set("B4", d.DueDate.Format(invoice.DateLayout))
	set("A5", "Status")
	set("B5", string(d.Status))
	if err == nil {
		err = f.SetCellStyle(sheet, "A1", "A5", bold)
	}

	headers := []string{"#", "Description", "Quantity", "Unit price", "Tax rate", "Line total"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 7)
		set(cell, h)
	}
	if err == nil {
		err = f.SetCellStyle(sheet, "A7", "F7", bold)
	}

	row := 8
	for _, it := range d.Items {
		set(fmt.Sprintf("A%d", row), it.Sequence)
		set(fmt.Sprintf("B%d", row), it.Description)
		set(fmt.Sprintf("C%d", row), it.Quantity)
		setMoney(fmt.Sprintf("D%d", row), it.UnitPrice.InexactFloat64())
		set(fmt.Sprintf("E%d", row), it.TaxRate.String())
		setMoney(fmt.Sprintf("F%d", row), it.LineTotal.InexactFloat64())
		row++
	}

	row++
	totals := []struct {
		label string
		value float64
	}{
		{"Subtotal", d.Subtotal.InexactFloat64()},
		{"Tax", d.TaxAmount.InexactFloat64()},
		{"Total", d.TotalAmount.InexactFloat64()},
		{"Paid", d.PaidAmount.InexactFloat64()},
		{"Balance", d.Balance.InexactFloat64()},
	}
	for _, t := range totals {
		set(fmt.Sprintf("E%d", row), t.label)
		setMoney(fmt.Sprintf("F%d", row), t.value)
		row++
	}

	if len(d.Payments) > 0 {
		row++
		set(fmt.Sprintf("A%d", row), "Payments")
		row++
		for _, p := range d.Payments {
			set(fmt.Sprintf("A%d", row), p.PaymentDate.Format(invoice.DateLayout))
			set(fmt.Sprintf("B%d", row), p.Method)
			setMoney(fmt.Sprintf("F%d", row), p.Amount.InexactFloat64())
			row++
		}
	}
	if d.Notes != "" {
		row++
		set(fmt.Sprintf("A%d", row), d.Notes)
	}
	if err == nil {
		err = f.SetColWidth(sheet, "B", "B", 40)
	}
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}

	_, err = f.WriteTo(out)
	return err
}
