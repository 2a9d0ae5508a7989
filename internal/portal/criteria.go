// =============================================================================
// SRI Receipts - Query Criteria
// =============================================================================
//
// Criteria are the filters applied to a listing query. Each mode has its own
// criteria type:
//
//   issued   : issue date (dd/mm/yyyy), authorization status, document type,
//              optional establishment
//   received : year and month (day is always "all")
//
// Criteria are validated before any network activity.
//
// =============================================================================

package portal

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Mode selects which listing a run queries.
type Mode string

const (
	// ModeIssued queries documents issued by the taxpayer.
	ModeIssued Mode = "issued"

	// ModeReceived queries documents received by the taxpayer.
	ModeReceived Mode = "received"
)

// Credentials identify the taxpayer on the portal.
type Credentials struct {
	// RUC is the taxpayer identifier.
	RUC string

	// AdditionalID is the secondary identity document (C.I. adicional).
	AdditionalID string

	// Password is the portal credential secret.
	Password string
}

// Validate reports missing credential parts.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.RUC) == "" {
		return fmt.Errorf("%w: taxpayer identifier is required", ErrInvalidCriteria)
	}
	if strings.TrimSpace(c.Password) == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidCriteria)
	}
	return nil
}

// Criteria are the filters of one listing query.
type Criteria interface {
	// Mode returns the listing the criteria apply to.
	Mode() Mode

	// Validate reports missing or malformed filters.
	Validate() error

	// Values returns the filter values keyed by logical field name.
	Values() map[string]string
}

// =============================================================================
// ISSUED DOCUMENTS
// =============================================================================

// IssuedStatuses are the accepted authorization status codes.
var IssuedStatuses = map[string]string{
	"AUT": "authorized",
	"NAT": "not authorized",
	"PPR": "in process",
}

// IssuedCriteria filter the issued-documents listing.
type IssuedCriteria struct {
	// Date is the issue date, dd/mm/yyyy.
	Date string

	// Status is one of IssuedStatuses.
	Status string

	// DocumentType is the document type code, "1" to "6".
	DocumentType string

	// Establishment is the optional establishment code. Empty means all.
	Establishment string
}

// Mode implements Criteria.
func (c IssuedCriteria) Mode() Mode { return ModeIssued }

// Validate implements Criteria.
func (c IssuedCriteria) Validate() error {
	if _, err := time.Parse("02/01/2006", c.Date); err != nil {
		return fmt.Errorf("%w: date %q must be dd/mm/yyyy", ErrInvalidCriteria, c.Date)
	}
	if _, ok := IssuedStatuses[c.Status]; !ok {
		return fmt.Errorf("%w: status %q must be one of AUT, NAT, PPR", ErrInvalidCriteria, c.Status)
	}
	n, err := strconv.Atoi(c.DocumentType)
	if err != nil || n < 1 || n > 6 {
		return fmt.Errorf("%w: document type %q must be 1 to 6", ErrInvalidCriteria, c.DocumentType)
	}
	return nil
}

// Values implements Criteria.
func (c IssuedCriteria) Values() map[string]string {
	return map[string]string{
		"date":          c.Date,
		"status":        c.Status,
		"type":          c.DocumentType,
		"establishment": c.Establishment,
	}
}

// =============================================================================
// RECEIVED DOCUMENTS
// =============================================================================

// ReceivedCriteria filter the received-documents listing.
type ReceivedCriteria struct {
	// Year is the four-digit year.
	Year string

	// Month is 1 to 12.
	Month string
}

// Mode implements Criteria.
func (c ReceivedCriteria) Mode() Mode { return ModeReceived }

// Validate implements Criteria.
func (c ReceivedCriteria) Validate() error {
	year, err := strconv.Atoi(c.Year)
	if err != nil || len(c.Year) != 4 || year < 2000 {
		return fmt.Errorf("%w: year %q must be a four-digit year", ErrInvalidCriteria, c.Year)
	}
	month, err := strconv.Atoi(c.Month)
	if err != nil || month < 1 || month > 12 {
		return fmt.Errorf("%w: month %q must be 1 to 12", ErrInvalidCriteria, c.Month)
	}
	return nil
}

// Values implements Criteria. The portal expects the month without a
// leading zero and "0" for "every day".
func (c ReceivedCriteria) Values() map[string]string {
	month, _ := strconv.Atoi(c.Month)
	return map[string]string{
		"year":  c.Year,
		"month": strconv.Itoa(month),
		"day":   "0",
	}
}
