// =============================================================================
// SRI Receipts - Result Listing
// =============================================================================
//
// A Listing is one loaded page of the portal's results table. It is
// re-fetched for every page and never persisted.
//
// PAGINATION SIGNAL:
//   The portal renders a "next" control under the table. Its state is the
//   only reliable stop condition: a page can hold fewer rows than a full
//   page while more pages remain. The control is mapped to a NextSignal:
//
//   | Control                              | Signal       |
//   |--------------------------------------|--------------|
//   | present, enabled                     | NextEnabled  |
//   | present, carries "ui-state-disabled" | NextDisabled |
//   | absent or unreadable                 | NextUnknown  |
//
//   Only NextEnabled means more pages. NextUnknown is treated as the end.
//
// =============================================================================

package portal

import (
	"regexp"
	"strings"
)

// NextSignal is the state of the listing's "next page" control.
type NextSignal int

const (
	// NextUnknown means the control was absent or ambiguous.
	NextUnknown NextSignal = iota

	// NextDisabled means the control is present and disabled.
	NextDisabled

	// NextEnabled means the control is present and enabled.
	NextEnabled
)

// String returns a readable name for logs.
func (s NextSignal) String() string {
	switch s {
	case NextEnabled:
		return "enabled"
	case NextDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Listing is one page of query results.
type Listing struct {
	// Rows are the result rows of this page, in display order.
	Rows []Row

	// Next is the state of the "next page" control.
	Next NextSignal

	// Page is the 1-based page number.
	Page int

	// Message is an informational message reported by the portal instead
	// of (or next to) the results, e.g. "no documents for the criteria".
	Message string
}

// HasNextPage reports whether the portal signalled a further page.
func (l *Listing) HasNextPage() bool {
	return l != nil && l.Next == NextEnabled
}

// Empty reports whether the page carries no rows.
func (l *Listing) Empty() bool {
	return l == nil || len(l.Rows) == 0
}

// Fingerprint summarises the page content. Two pages with the same rows have
// the same fingerprint.
func (l *Listing) Fingerprint() string {
	if l == nil {
		return ""
	}
	var b strings.Builder
	for _, row := range l.Rows {
		b.WriteString(row.Identity())
		b.WriteByte('|')
		b.WriteString(strings.Join(row.Cells, "\x1f"))
		b.WriteByte('\n')
	}
	return b.String()
}

// =============================================================================
// ROW DESCRIPTOR
// =============================================================================

// Row references one result row. It carries everything the session needs
// to request the row's document; the download pipeline only relies on
// Identity.
type Row struct {
	// Index is the 0-based position of the row on its page.
	Index int

	// LinkID is the client id of the row's XML download link.
	LinkID string

	// Href is the link target when the portal renders a plain link.
	Href string

	// Cells are the trimmed text contents of the row's cells.
	Cells []string

	// AccessKey is the 49-digit access key, when the row shows one.
	AccessKey string

	// Number is the "estab-ptoEmi-secuencial" document number, when shown.
	Number string

	// TaxID is the first 13-digit RUC shown in the row, when any.
	TaxID string

	// DocumentType is the SRI document type code ("01" invoice, "04" credit
	// note, ...) read from the row's type label, when recognised.
	DocumentType string
}

var (
	accessKeyPattern = regexp.MustCompile(`\b\d{49}\b`)
	numberPattern    = regexp.MustCompile(`\b\d{3}-\d{3}-\d{9}\b`)
	taxIDPattern     = regexp.MustCompile(`\b\d{13}\b`)
)

// documentTypeLabels maps fragments of the portal's type labels to SRI
// document type codes. Fragments avoid accented letters.
var documentTypeLabels = []struct {
	fragment string
	code     string
}{
	{"factura", "01"},
	{"liquidaci", "03"},
	{"nota de cr", "04"},
	{"nota de d", "05"},
	{"remisi", "06"},
	{"retenci", "07"},
}

// NewRow builds a row from its cell texts and detects its identity.
func NewRow(index int, cells []string, linkID, href string) Row {
	row := Row{
		Index:  index,
		LinkID: linkID,
		Href:   href,
		Cells:  cells,
	}

	text := strings.Join(cells, " ")
	row.AccessKey = accessKeyPattern.FindString(text)
	row.Number = numberPattern.FindString(text)
	row.TaxID = taxIDPattern.FindString(text)
	row.DocumentType = documentTypeCode(text)
	return row
}

func documentTypeCode(text string) string {
	text = strings.ToLower(text)
	for _, label := range documentTypeLabels {
		if strings.Contains(text, label.fragment) {
			return label.code
		}
	}
	return ""
}

// Identity returns a stable identifier for the row's document.
//
// The access key is globally unique and is used when shown. A document
// number is only unique per issuer and document type, so it identifies
// the row only together with the RUC shown next to it:
// "<ruc>_<type>_<number>", or "<ruc>_<number>" when the type label is not
// recognised. Rows offering neither return "" and are named by sequence.
func (r Row) Identity() string {
	if r.AccessKey != "" {
		return r.AccessKey
	}
	if r.Number == "" || r.TaxID == "" {
		return ""
	}
	if r.DocumentType == "" {
		return r.TaxID + "_" + r.Number
	}
	return r.TaxID + "_" + r.DocumentType + "_" + r.Number
}
