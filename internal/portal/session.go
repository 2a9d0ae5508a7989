// =============================================================================
// SRI Receipts - Portal Session
// =============================================================================
//
// The Session is the only component that talks to the tax portal. The
// download pipeline depends on this interface, never on the transport.
//
// SESSION LIFECYCLE:
//
//   StateLoggedOut ──Login──▶ StateReady ──ApplyFilters──▶ StateListing
//                                 │                           │  ▲
//                                 │                  NextPage │  │
//                                 ▼                           ▼  │
//                      StateAwaitingManualInput ─────────▶ StateListing
//                      (challenge shown; blocks on the ChallengeSolver
//                       with a bounded timeout)
//
// A session is a single stateful resource: calls must not overlap.
//
// =============================================================================

package portal

import (
	"context"
	"io"
)

// State is the session's position in its lifecycle.
type State int

const (
	StateLoggedOut State = iota
	StateReady
	StateAwaitingManualInput
	StateListing
)

// String returns a readable name for logs.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateAwaitingManualInput:
		return "awaiting-manual-input"
	case StateListing:
		return "listing"
	default:
		return "logged-out"
	}
}

// Session is an authenticated conversation with the portal.
type Session interface {
	// Login authenticates the taxpayer.
	Login(ctx context.Context, creds Credentials) error

	// ApplyFilters runs a listing query and returns its first page.
	ApplyFilters(ctx context.Context, criteria Criteria) (*Listing, error)

	// NextPage loads the page after the current one.
	NextPage(ctx context.Context) (*Listing, error)

	// RequestDownload fetches the document of one row of the current page.
	// The caller closes the returned stream.
	RequestDownload(ctx context.Context, row Row) (io.ReadCloser, error)

	// Logout ends the session. It is best effort.
	Logout(ctx context.Context) error

	// State reports the session's lifecycle state.
	State() State
}
