// =============================================================================
// SRI Receipts - Report Builder
// =============================================================================
//
// The report is the concatenation of the records of every extracted
// document, in document order and, within a document, in line-item order.
//
// EMPTY RESULT:
//   When no document produced a record, Build returns ErrEmptyReport and no
//   file is written. Whether that is a failure is the caller's decision.
//
// =============================================================================

package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/ginjaninja78/sri-receipts/internal/types"
)

// ErrEmptyReport is returned when there are no records to report.
var ErrEmptyReport = errors.New("report has no records")

// Report is the ordered set of records written once per run.
type Report struct {
	Records []types.ReceiptRecord
}

// Documents returns the number of distinct source documents in the report.
func (r *Report) Documents() int {
	seen := make(map[string]bool)
	for _, rec := range r.Records {
		seen[rec.Source] = true
	}
	return len(seen)
}

// TableWriter persists a report as a table.
type TableWriter interface {
	WriteTable(ctx context.Context, name string, report *Report) error
}

// Build concatenates record groups, preserving their order.
//
// RETURNS:
//   - The report.
//   - ErrEmptyReport when the groups hold no records.
func Build(groups ...[]types.ReceiptRecord) (*Report, error) {
	var records []types.ReceiptRecord
	for _, group := range groups {
		records = append(records, group...)
	}
	if len(records) == 0 {
		return nil, ErrEmptyReport
	}
	return &Report{Records: records}, nil
}

// Publish builds the report and hands it to w under name. The writer is not
// invoked for an empty report.
func Publish(ctx context.Context, w TableWriter, name string, groups ...[]types.ReceiptRecord) (*Report, error) {
	rep, err := Build(groups...)
	if err != nil {
		return nil, err
	}
	if err := w.WriteTable(ctx, name, rep); err != nil {
		return nil, fmt.Errorf("failed to write report %s: %w", name, err)
	}
	return rep, nil
}
