package report

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/sri-receipts/internal/types"
)

// memStore keeps written files in memory.
type memStore map[string][]byte

func (m memStore) Write(ctx context.Context, name string, data []byte) error {
	m[name] = data
	return nil
}

// countingWriter records invocations.
type countingWriter struct {
	calls int
	last  *Report
}

func (w *countingWriter) WriteTable(ctx context.Context, name string, rep *Report) error {
	w.calls++
	w.last = rep
	return nil
}

func record(source string, line int, total string) types.ReceiptRecord {
	return types.ReceiptRecord{
		IssuerID:        "1790012345001",
		IssuerName:      "COMERCIAL ANDINA S.A.",
		IssueDate:       "15/03/2024",
		Subtotal:        "30.00",
		TaxAmount:       "4.50",
		Total:           total,
		ItemDescription: "item",
		Source:          source,
		Line:            line,
	}
}

func TestBuildPreservesOrder(t *testing.T) {
	a := []types.ReceiptRecord{record("a", 1, "1"), record("a", 2, "1")}
	b := []types.ReceiptRecord{record("b", 1, "2")}

	rep, err := Build(a, nil, b)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := append(append([]types.ReceiptRecord{}, a...), b...)
	if diff := cmp.Diff(want, rep.Records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	if rep.Documents() != 2 {
		t.Fatalf("expected 2 documents, got %d", rep.Documents())
	}
}

func TestBuildEmpty(t *testing.T) {
	if _, err := Build(); !errors.Is(err, ErrEmptyReport) {
		t.Fatalf("expected ErrEmptyReport, got %v", err)
	}
	if _, err := Build(nil, []types.ReceiptRecord{}); !errors.Is(err, ErrEmptyReport) {
		t.Fatalf("expected ErrEmptyReport, got %v", err)
	}
}

func TestPublishEmptyDoesNotInvokeWriter(t *testing.T) {
	w := &countingWriter{}
	_, err := Publish(context.Background(), w, "report.xlsx", nil, nil)
	if !errors.Is(err, ErrEmptyReport) {
		t.Fatalf("expected ErrEmptyReport, got %v", err)
	}
	if w.calls != 0 {
		t.Fatalf("expected writer not to be invoked, got %d calls", w.calls)
	}
}

func TestPublishInvokesWriterOnce(t *testing.T) {
	w := &countingWriter{}
	rep, err := Publish(context.Background(), w, "report.xlsx", []types.ReceiptRecord{record("a", 1, "1")})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if w.calls != 1 || w.last != rep {
		t.Fatalf("expected one write of the built report, got %d", w.calls)
	}
}

func TestXLSXWriter(t *testing.T) {
	ctx := context.Background()
	store := memStore{}
	rep := &Report{Records: []types.ReceiptRecord{
		record("document_a.xml", 1, "34.50"),
		record("document_a.xml", 2, "34.50"),
		record("document_b.xml", 1, "10.25"),
	}}

	if err := (&XLSXWriter{Store: store}).WriteTable(ctx, "report.xlsx", rep); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}

	data, ok := store["report.xlsx"]
	if !ok {
		t.Fatal("expected workbook in store")
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer func() { _ = f.Close() }()

	if diff := cmp.Diff([]string{ReceiptsSheet, SummarySheet}, f.GetSheetList()); diff != "" {
		t.Fatalf("sheets mismatch (-want +got):\n%s", diff)
	}

	rows, err := f.GetRows(ReceiptsSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(rows))
	}
	if diff := cmp.Diff(types.Columns, rows[0]); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
	if rows[3][7] != "10.25" || rows[1][1] != "COMERCIAL ANDINA S.A." {
		t.Fatalf("unexpected data row: %v", rows[3])
	}

	summary, err := f.GetRows(SummarySheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	want := [][]string{
		{"Documents", "2"},
		{"Line Items", "3"},
		{"Subtotal", "60.00"},
		{"Tax", "9.00"},
		{"Total", "44.75"},
		{"Unparsable Amounts", "0"},
	}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeCountsUnparsableAmounts(t *testing.T) {
	rep := &Report{Records: []types.ReceiptRecord{
		record("a", 1, "1.005"),
		record("b", 1, "12,50"),
		record("c", 1, ""),
	}}

	totals := Summarize(rep)
	if totals.Documents != 3 {
		t.Fatalf("expected 3 documents, got %d", totals.Documents)
	}
	if totals.Unparsable != 1 {
		t.Fatalf("expected 1 unparsable amount, got %d", totals.Unparsable)
	}
	if !totals.Total.Equal(decimalFromString(t, "1.005")) {
		t.Fatalf("unexpected total %s", totals.Total)
	}
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}
