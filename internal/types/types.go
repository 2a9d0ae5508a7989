// =============================================================================
// SRI Receipts - Shared Types
// =============================================================================
//
// This package contains shared types used across multiple modules to avoid
// import cycles. Types defined here are used by:
//   - extractor
//   - report
//   - harvester
//
// =============================================================================

package types

// =============================================================================
// RECEIPT RECORD
// =============================================================================

// ReceiptRecord is one flattened report row: the header fields of a receipt
// combined with the fields of a single line item.
//
// A receipt with N line items yields N records that share the same header
// values. All values are raw text as found in the document; no currency or
// locale coercion is applied.
type ReceiptRecord struct {
	// Header fields, replicated verbatim across every line item.
	IssuerID         string
	IssuerName       string
	CounterpartyName string
	CounterpartyID   string
	IssueDate        string
	Subtotal         string
	TaxAmount        string
	Total            string

	// Line item fields.
	ItemCode        string
	ItemDescription string
	Quantity        string
	UnitPrice       string
	LineSubtotal    string

	// Source is the batch file name the record was extracted from.
	// It is not written as a report column.
	Source string

	// Line is the 1-based position of the line item within its document.
	Line int
}

// =============================================================================
// REPORT COLUMNS
// =============================================================================

// Columns lists the report column headers, in output order.
var Columns = []string{
	"Issuer ID",
	"Issuer Name",
	"Counterparty Name",
	"Counterparty ID",
	"Issue Date",
	"Subtotal",
	"Tax",
	"Total",
	"Item Code",
	"Item Description",
	"Quantity",
	"Unit Price",
	"Line Subtotal",
}

// Values returns the record's column values in the same order as Columns.
func (r ReceiptRecord) Values() []string {
	return []string{
		r.IssuerID,
		r.IssuerName,
		r.CounterpartyName,
		r.CounterpartyID,
		r.IssueDate,
		r.Subtotal,
		r.TaxAmount,
		r.Total,
		r.ItemCode,
		r.ItemDescription,
		r.Quantity,
		r.UnitPrice,
		r.LineSubtotal,
	}
}
