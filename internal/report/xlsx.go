package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/sri-receipts/internal/types"
)

// Sheet names of the workbook.
const (
	ReceiptsSheet = "Receipts"
	SummarySheet  = "Summary"
)

// Store receives the encoded workbook.
type Store interface {
	Write(ctx context.Context, name string, data []byte) error
}

// XLSXWriter writes reports as Excel workbooks.
//
// The "Receipts" sheet holds one row per record with the columns of
// types.Columns, values as extracted. The "Summary" sheet holds run totals.
type XLSXWriter struct {
	Store Store
}

// WriteTable implements TableWriter.
func (w *XLSXWriter) WriteTable(ctx context.Context, name string, rep *Report) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", ReceiptsSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := writeReceipts(f, rep); err != nil {
		return err
	}
	if err := writeSummary(f, rep); err != nil {
		return err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("failed to encode workbook: %w", err)
	}
	return w.Store.Write(ctx, name, buf.Bytes())
}

func writeReceipts(f *excelize.File, rep *Report) error {
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := setRow(f, ReceiptsSheet, 1, types.Columns); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(types.Columns), 1)
	if err := f.SetCellStyle(ReceiptsSheet, "A1", last, header); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, rec := range rep.Records {
		if err := setRow(f, ReceiptsSheet, i+2, rec.Values()); err != nil {
			return err
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(types.Columns))
	if err := f.SetColWidth(ReceiptsSheet, "A", lastCol, 18); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	return f.SetPanes(ReceiptsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

// =============================================================================
// SUMMARY
// =============================================================================

// Totals are the run totals of the header amounts, counted once per source
// document.
type Totals struct {
	Documents  int
	LineItems  int
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
	Unparsable int
}

// Summarize computes the run totals of a report.
func Summarize(rep *Report) Totals {
	totals := Totals{LineItems: len(rep.Records)}
	seen := make(map[string]bool)

	for _, rec := range rep.Records {
		if seen[rec.Source] {
			continue
		}
		seen[rec.Source] = true
		totals.Documents++

		totals.Subtotal = totals.add(totals.Subtotal, rec.Subtotal)
		totals.Tax = totals.add(totals.Tax, rec.TaxAmount)
		totals.Total = totals.add(totals.Total, rec.Total)
	}
	return totals
}

// add adds a raw amount to sum. Blank amounts are ignored; amounts that do
// not parse are counted and left out.
func (t *Totals) add(sum decimal.Decimal, raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return sum
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		t.Unparsable++
		return sum
	}
	return sum.Add(v)
}

func writeSummary(f *excelize.File, rep *Report) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	totals := Summarize(rep)
	rows := [][]string{
		{"Documents", fmt.Sprintf("%d", totals.Documents)},
		{"Line Items", fmt.Sprintf("%d", totals.LineItems)},
		{"Subtotal", totals.Subtotal.StringFixed(2)},
		{"Tax", totals.Tax.StringFixed(2)},
		{"Total", totals.Total.StringFixed(2)},
		{"Unparsable Amounts", fmt.Sprintf("%d", totals.Unparsable)},
	}
	for i, row := range rows {
		if err := setRow(f, SummarySheet, i+1, row); err != nil {
			return err
		}
	}
	return f.SetColWidth(SummarySheet, "A", "A", 22)
}
