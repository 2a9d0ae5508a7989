// =============================================================================
// SRI Receipts - Download Coordinator
// =============================================================================
//
// The Coordinator drains a results listing into a batch: every row of every
// page, in listing order, one download at a time.
//
// PER ROW:
//   1. Name the destination file from the row identity (or the sequence
//      number when the row has none).
//   2. If the batch already holds that file, skip the row.
//   3. Otherwise fetch the document and store it atomically.
//   4. Record the outcome and advance the sequence by one.
//
// FAILURES:
//   A row that cannot be fetched or stored is logged, recorded as failed
//   and left behind; the walk continues. Only a pagination failure or a
//   cancelled context stops the walk. Documents stored before that point
//   stay in the batch and are skipped by a resumed run.
//
// =============================================================================

package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/ginjaninja78/sri-receipts/internal/batch"
	"github.com/ginjaninja78/sri-receipts/internal/pagination"
	"github.com/ginjaninja78/sri-receipts/internal/portal"
)

// ErrEmptyDocument is recorded for a row whose download returned no bytes.
var ErrEmptyDocument = errors.New("empty document")

// =============================================================================
// OPTIONS AND STATS
// =============================================================================

// Options configures a Coordinator.
type Options struct {
	// RowDelay is the pause after each download.
	RowDelay time.Duration

	// PageDelay is the pause after each page change.
	PageDelay time.Duration

	// MaxPages bounds the pages visited. Zero means no bound.
	MaxPages int

	// Logger receives progress and per-row failures.
	Logger zerolog.Logger

	// Sleep waits between requests. Defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Stats summarises one walk.
type Stats struct {
	Pages      int
	Rows       int
	Downloaded int
	Skipped    int
	Failed     int

	// Failures lists the rows that could not be retrieved.
	Failures []Failure
}

// Failure describes one row that could not be retrieved.
type Failure struct {
	Sequence int
	Page     int
	Identity string
	File     string
	Err      error
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator walks a listing and downloads its documents.
type Coordinator struct {
	opts Options
	log  zerolog.Logger
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Coordinator{
		opts: opts,
		log:  opts.Logger.With().Str("component", "downloader").Logger(),
	}
}

// Run downloads every document listed from first onwards into b.
//
// PARAMETERS:
//   - b: The destination batch. Its sequence restarts at 1.
//   - session: The portal session positioned on first.
//   - first: The first page of the listing.
//
// RETURNS:
//   - The walk statistics, also when an error is returned.
//   - An error wrapping portal.ErrNavigation when a further page cannot be
//     loaded, or the context error when the run was cancelled.
func (c *Coordinator) Run(ctx context.Context, b *batch.Batch, session portal.Session, first *portal.Listing) (Stats, error) {
	var stats Stats
	b.Reset()

	cursor := pagination.New(session, first, pagination.Options{
		MaxPages: c.opts.MaxPages,
		Logger:   c.log,
	})

	for {
		page := cursor.Current()
		stats.Pages++
		c.log.Info().Int("page", cursor.Page()).Int("rows", len(page.Rows)).Msg("Processing page")

		for _, row := range page.Rows {
			if err := ctx.Err(); err != nil {
				c.saveManifest(ctx, b)
				return stats, err
			}
			c.processRow(ctx, b, session, row, cursor.Page(), &stats)
		}

		c.saveManifest(ctx, b)

		if !cursor.HasMore() {
			break
		}
		if _, err := cursor.Advance(ctx); err != nil {
			if errors.Is(err, pagination.ErrRepeatedPage) {
				break
			}
			return stats, err
		}
		if err := c.opts.Sleep(ctx, c.opts.PageDelay); err != nil {
			return stats, err
		}
	}

	c.log.Info().
		Int("pages", stats.Pages).
		Int("rows", stats.Rows).
		Int("downloaded", stats.Downloaded).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("Listing drained")

	return stats, nil
}

// processRow handles one row. It never fails the walk.
func (c *Coordinator) processRow(ctx context.Context, b *batch.Batch, session portal.Session, row portal.Row, page int, stats *Stats) {
	seq := b.Sequence()
	defer b.Advance()
	stats.Rows++

	entry := batch.Entry{
		Sequence: seq,
		Page:     page,
		Identity: row.Identity(),
		File:     batch.DocumentName(row.Identity(), seq),
	}
	log := c.log.With().Int("sequence", seq).Str("file", entry.File).Logger()

	exists, err := b.Exists(ctx, entry.File)
	if err == nil && exists {
		entry.Status = batch.StatusSkipped
		stats.Skipped++
		b.Record(entry)
		log.Debug().Msg("Already downloaded, skipping")
		return
	}
	if err == nil {
		err = c.fetch(ctx, b, session, row, entry.File)
	}
	if err != nil {
		entry.Status = batch.StatusFailed
		entry.Error = err.Error()
		stats.Failed++
		stats.Failures = append(stats.Failures, Failure{
			Sequence: seq,
			Page:     page,
			Identity: entry.Identity,
			File:     entry.File,
			Err:      err,
		})
		b.Record(entry)
		log.Error().Err(err).Msg("Download failed")
		return
	}

	entry.Status = batch.StatusDownloaded
	stats.Downloaded++
	b.Record(entry)
	log.Info().Msg("Downloaded")

	if err := c.opts.Sleep(ctx, c.opts.RowDelay); err != nil {
		log.Debug().Err(err).Msg("Pause interrupted")
	}
}

// fetch downloads one document and stores it. Nothing is stored unless the
// full document was read.
func (c *Coordinator) fetch(ctx context.Context, b *batch.Batch, session portal.Session, row portal.Row, name string) error {
	body, err := session.RequestDownload(ctx, row)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", portal.ErrDownload, name, err)
	}
	if len(data) == 0 {
		return ErrEmptyDocument
	}
	return b.Write(ctx, name, data)
}

func (c *Coordinator) saveManifest(ctx context.Context, b *batch.Batch) {
	if err := b.SaveManifest(context.WithoutCancel(ctx)); err != nil {
		c.log.Warn().Err(err).Msg("Failed to save manifest")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
