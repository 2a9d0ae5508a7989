// =============================================================================
// SRI Receipts - Pagination Cursor
// =============================================================================
//
// The Cursor walks a paginated results listing one page at a time.
//
// TERMINATION:
//   The cursor stops when the current page does not carry an enabled
//   "next" signal. An absent or ambiguous signal counts as "no more pages".
//   Row counts are never used: a short page may still have successors.
//
//   Two guards stop a walk that the signal alone would not end:
//     - MaxPages : an upper bound on pages visited
//     - repeats  : the portal returning the same rows as the previous page
//   MaxPages ends the walk through HasMore. A repeated page is only seen
//   once loaded: Advance then returns ErrRepeatedPage, keeps the previous
//   page current and reports no more pages. Callers treat it as the end of
//   the listing, not as a failure.
//
// =============================================================================

package pagination

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ginjaninja78/sri-receipts/internal/portal"
)

// ErrRepeatedPage is returned by Advance when the portal served the
// current page again.
var ErrRepeatedPage = errors.New("portal repeated the previous page")

// Pager loads the page after the current one.
type Pager interface {
	NextPage(ctx context.Context) (*portal.Listing, error)
}

// Cursor tracks the current page of a listing and whether more remain.
type Cursor struct {
	pager    Pager
	current  *portal.Listing
	page     int
	maxPages int
	stopped  bool
	log      zerolog.Logger
}

// Options configures a Cursor.
type Options struct {
	// MaxPages bounds the number of pages visited. Zero means no bound.
	MaxPages int

	// Logger receives guard warnings.
	Logger zerolog.Logger
}

// New creates a cursor positioned on first.
func New(pager Pager, first *portal.Listing, opts Options) *Cursor {
	return &Cursor{
		pager:    pager,
		current:  first,
		page:     1,
		maxPages: opts.MaxPages,
		log:      opts.Logger,
	}
}

// Current returns the page the cursor is positioned on.
func (c *Cursor) Current() *portal.Listing {
	return c.current
}

// Page returns the 1-based number of the current page.
func (c *Cursor) Page() int {
	return c.page
}

// HasMore reports whether Advance may be called.
func (c *Cursor) HasMore() bool {
	if c.stopped || !c.current.HasNextPage() {
		return false
	}
	if c.maxPages > 0 && c.page >= c.maxPages {
		c.log.Warn().Int("max_pages", c.maxPages).Msg("Page limit reached, stopping pagination")
		c.stopped = true
		return false
	}
	return true
}

// Advance loads the next page and makes it current.
//
// RETURNS:
//   - The new current page.
//   - An error wrapping portal.ErrNavigation if the page cannot be loaded,
//     or if HasMore is false.
//   - ErrRepeatedPage if the loaded page equals the current one.
func (c *Cursor) Advance(ctx context.Context) (*portal.Listing, error) {
	if !c.HasMore() {
		return nil, fmt.Errorf("%w: no further page after page %d", portal.ErrNavigation, c.page)
	}

	next, err := c.pager.NextPage(ctx)
	if err != nil {
		c.stopped = true
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: advance to page %d: %v", portal.ErrNavigation, c.page+1, err)
	}
	if next == nil {
		c.stopped = true
		return nil, fmt.Errorf("%w: page %d missing", portal.ErrNavigation, c.page+1)
	}

	if !next.Empty() && next.Fingerprint() == c.current.Fingerprint() {
		c.log.Warn().Int("page", c.page+1).Msg("Portal returned the previous page again, stopping pagination")
		c.stopped = true
		return nil, ErrRepeatedPage
	}

	c.page++
	c.current = next
	return next, nil
}
