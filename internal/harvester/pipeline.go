// =============================================================================
// SRI Receipts - Harvest Pipeline
// =============================================================================
//
// This module orchestrates one harvest run, from portal login to the
// report file.
//
// HARVEST PIPELINE:
//   1. Validate the credentials and criteria (before any network activity)
//   2. Create (or resume) the run folder
//   3. Log in
//   4. Run the listing query
//   5. Download every listed document
//   6. Log out
//   7. Extract records from every document in the folder
//   8. Build and write the report
//   9. Write the run summary and error log
//
// FAILURE POLICY:
//   Steps 1-5 are fatal when they fail, except for single rows, which are
//   recorded and skipped. Steps 6-9 never fail the run on a single
//   document. An empty listing or an informational portal message ends
//   the download step successfully with nothing downloaded.
//
// =============================================================================

package harvester

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/rs/zerolog"
	"gocloud.dev/blob"

	"github.com/ginjaninja78/sri-receipts/internal/batch"
	"github.com/ginjaninja78/sri-receipts/internal/config"
	"github.com/ginjaninja78/sri-receipts/internal/downloader"
	"github.com/ginjaninja78/sri-receipts/internal/extractor"
	"github.com/ginjaninja78/sri-receipts/internal/portal"
	"github.com/ginjaninja78/sri-receipts/internal/report"
	"github.com/ginjaninja78/sri-receipts/pkg/utils"
)

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Result represents the outcome of a run.
type Result struct {
	// Folder is the run folder.
	Folder string

	// RunID identifies the run folder.
	RunID string

	// Message is the portal's informational message, when the listing
	// query returned one instead of results.
	Message string

	// Download and Extract hold the per-stage statistics.
	Download downloader.Stats
	Extract  extractor.Stats

	// ReportFile is the report name inside Folder, or "" when the run
	// produced no records or the report was skipped.
	ReportFile string

	// SummaryFile and ErrorFile are the log names inside Folder.
	// ErrorFile is "" when nothing failed.
	SummaryFile string
	ErrorFile   string

	// Duration is the wall time of the run.
	Duration time.Duration
}

// Request describes what to harvest.
type Request struct {
	Credentials portal.Credentials
	Criteria    portal.Criteria
}

// Options configures a Pipeline.
type Options struct {
	// Config supplies the output layout and download pacing.
	Config *config.Config

	// Logger receives progress.
	Logger zerolog.Logger

	// ResumeFolder, when set, reuses an existing run folder instead of
	// creating a new one.
	ResumeFolder string

	// SkipReport disables steps 7 and 8.
	SkipReport bool

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Bucket overrides the run folder storage.
	Bucket *blob.Bucket

	// Sleep overrides the download pacing sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline runs harvests against one portal session.
type Pipeline struct {
	session portal.Session
	opts    Options
	log     zerolog.Logger
}

// New creates a Pipeline.
func New(session portal.Session, opts Options) *Pipeline {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		session: session,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "harvester").Logger(),
	}
}

// Run executes one harvest.
//
// RETURNS:
//   - The run result. It is non-nil whenever the run folder was created,
//     also when an error is returned.
//   - An error for fatal conditions: invalid input, login or navigation
//     failure, challenge timeout.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	start := p.opts.Now()

	// =========================================================================
	// STEP 1: VALIDATE INPUT
	// =========================================================================

	if err := req.Credentials.Validate(); err != nil {
		return nil, err
	}
	if req.Criteria == nil {
		return nil, fmt.Errorf("%w: no criteria", portal.ErrInvalidCriteria)
	}
	if err := req.Criteria.Validate(); err != nil {
		return nil, err
	}
	mode := string(req.Criteria.Mode())

	// =========================================================================
	// STEP 2: RUN FOLDER
	// =========================================================================

	b, err := p.openBatch(ctx, mode, req.Credentials.RUC, req.Criteria.Values())
	if err != nil {
		return nil, err
	}
	defer b.Close()

	result := &Result{Folder: b.Folder, RunID: b.RunID}
	log := p.log.With().Str("run_id", b.RunID).Str("mode", mode).Logger()
	log.Info().Str("folder", b.Folder).Bool("resumed", b.Resumed).Msg("Run folder ready")

	// Logs are written however the run ends.
	defer func() {
		result.Duration = p.opts.Now().Sub(start)
		p.writeLogs(context.WithoutCancel(ctx), b, result, req.Criteria.Values(), start)
	}()

	// =========================================================================
	// STEP 3: LOG IN
	// =========================================================================

	if err := p.session.Login(ctx, req.Credentials); err != nil {
		return result, fmt.Errorf("login failed: %w", err)
	}
	log.Info().Msg("Logged in")

	loggedIn := true
	logout := func() {
		if !loggedIn {
			return
		}
		loggedIn = false
		if err := p.session.Logout(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("Logout failed")
		}
	}
	defer logout()

	// =========================================================================
	// STEP 4: LISTING QUERY
	// =========================================================================
	// Received-mode queries may stop here on a manual challenge; the session
	// blocks until it is solved or its timeout expires.

	listing, err := p.session.ApplyFilters(ctx, req.Criteria)
	if err != nil {
		return result, fmt.Errorf("listing query failed: %w", err)
	}
	if listing == nil {
		return result, fmt.Errorf("listing query failed: %w: no results page", portal.ErrNavigation)
	}

	// =========================================================================
	// STEP 5: DOWNLOAD
	// =========================================================================

	switch {
	case listing.Empty() && listing.Message != "":
		result.Message = listing.Message
		log.Info().Str("message", listing.Message).Msg("Portal returned a message, nothing to download")
	case listing.Empty():
		log.Info().Msg("Listing is empty, nothing to download")
	default:
		coordinator := downloader.New(downloader.Options{
			RowDelay:  p.opts.Config.Download.RowDelay,
			PageDelay: p.opts.Config.Download.PageDelay,
			MaxPages:  p.opts.Config.Download.MaxPages,
			Logger:    log,
			Sleep:     p.opts.Sleep,
		})
		result.Download, err = coordinator.Run(ctx, b, p.session, listing)
		if err != nil {
			return result, fmt.Errorf("download stopped: %w", err)
		}
	}

	// =========================================================================
	// STEP 6: LOG OUT
	// =========================================================================

	logout()

	// =========================================================================
	// STEP 7-8: EXTRACT AND REPORT
	// =========================================================================

	if p.opts.SkipReport {
		log.Info().Msg("Report skipped")
		return result, nil
	}
	if err := p.extractAndReport(ctx, b, result, log); err != nil {
		return result, err
	}
	return result, nil
}

// Rebuild re-extracts an existing run folder and rewrites its report,
// without contacting the portal.
func Rebuild(ctx context.Context, folder string, opts Options) (*Result, error) {
	p := New(nil, opts)
	start := p.opts.Now()

	b, err := batch.Open(ctx, folder, batch.Options{Bucket: opts.Bucket})
	if err != nil {
		return nil, err
	}
	defer b.Close()

	result := &Result{Folder: b.Folder, RunID: b.RunID}
	log := p.log.With().Str("run_id", b.RunID).Logger()

	err = p.extractAndReport(ctx, b, result, log)
	result.Duration = p.opts.Now().Sub(start)
	p.writeLogs(context.WithoutCancel(ctx), b, result, nil, start)
	return result, err
}

// openBatch creates the run folder, or reopens the resume folder. A folder
// is only resumed for the taxpayer and query it was listed with.
func (p *Pipeline) openBatch(ctx context.Context, mode, ruc string, criteria map[string]string) (*batch.Batch, error) {
	opts := batch.Options{
		Root:     p.opts.Config.Output.RootDir,
		Mode:     mode,
		RUC:      ruc,
		Criteria: criteria,
		Now:      p.opts.Now,
		Bucket:   p.opts.Bucket,
	}
	if p.opts.ResumeFolder == "" {
		return batch.Create(ctx, opts)
	}

	b, err := batch.Open(ctx, p.opts.ResumeFolder, opts)
	if err != nil {
		return nil, err
	}
	if b.Mode != mode || b.RUC != ruc {
		b.Close()
		return nil, fmt.Errorf("%w: folder %s belongs to %s/%s, not %s/%s",
			portal.ErrInvalidCriteria, p.opts.ResumeFolder, b.Mode, b.RUC, mode, ruc)
	}
	if b.Criteria != nil && !maps.Equal(b.Criteria, criteria) {
		b.Close()
		return nil, fmt.Errorf("%w: folder %s was listed with other criteria", portal.ErrInvalidCriteria, p.opts.ResumeFolder)
	}
	b.Criteria = criteria
	return b, nil
}

// extractAndReport runs steps 7 and 8.
func (p *Pipeline) extractAndReport(ctx context.Context, b *batch.Batch, result *Result, log zerolog.Logger) error {
	docs, err := b.Documents(ctx)
	if err != nil {
		return err
	}

	records, stats := extractor.New(b, log).ExtractAll(ctx, docs)
	result.Extract = stats

	name := utils.GenerateReportName(p.opts.Config.Output.ReportNameFormat, p.opts.Now(), map[string]string{
		"ruc":  b.RUC,
		"mode": b.Mode,
		"uuid": b.RunID,
	})

	rep, err := report.Publish(ctx, &report.XLSXWriter{Store: b}, name, records)
	if errors.Is(err, report.ErrEmptyReport) {
		log.Warn().Int("documents", len(docs)).Msg("No records extracted, report not written")
		return nil
	}
	if err != nil {
		return err
	}

	result.ReportFile = name
	log.Info().
		Str("report", b.Path(name)).
		Int("records", len(rep.Records)).
		Int("documents", rep.Documents()).
		Msg("Report written")
	return nil
}

// writeLogs runs step 9. Failures are logged only.
func (p *Pipeline) writeLogs(ctx context.Context, b *batch.Batch, result *Result, criteria map[string]string, start time.Time) {
	now := p.opts.Now()

	var entries []utils.ErrorLogEntry
	for _, f := range result.Download.Failures {
		entries = append(entries, utils.ErrorLogEntry{
			Timestamp:    now,
			Stage:        "download",
			FileName:     f.File,
			ErrorMessage: f.Err.Error(),
			Sequence:     f.Sequence,
			Page:         f.Page,
			Identity:     f.Identity,
		})
	}
	for _, f := range result.Extract.Failures {
		entries = append(entries, utils.ErrorLogEntry{
			Timestamp:    now,
			Stage:        "extract",
			FileName:     f.File,
			ErrorMessage: f.Err.Error(),
		})
	}

	name, err := utils.WriteErrorLog(ctx, b, entries, now)
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to write error log")
	}
	result.ErrorFile = name

	summary := utils.RunSummary{
		StartTime:       start,
		EndTime:         now,
		RunID:           b.RunID,
		Mode:            b.Mode,
		RUC:             b.RUC,
		Folder:          b.Folder,
		Criteria:        criteria,
		Message:         result.Message,
		Pages:           result.Download.Pages,
		Rows:            result.Download.Rows,
		Downloaded:      result.Download.Downloaded,
		Skipped:         result.Download.Skipped,
		Failed:          result.Download.Failed,
		Documents:       result.Extract.Documents,
		Parsed:          result.Extract.Parsed,
		Empty:           result.Extract.Empty,
		ExtractFailures: result.Extract.Failed,
		Records:         result.Extract.Records,
		ReportFile:      result.ReportFile,
	}
	name, err = utils.WriteSummaryLog(ctx, b, summary)
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to write summary")
	}
	result.SummaryFile = name
}
