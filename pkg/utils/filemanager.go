// =============================================================================
// SRI Receipts - File Manager Utility
// =============================================================================
//
// This module provides file utilities for a harvest run, including:
//   - Report file naming
//   - Run summary generation
//   - Error log generation
//
// Logs are written next to the retrieved documents, through the same store,
// so a run folder is self-describing:
//   summary_<timestamp>.txt   always
//   errors_<timestamp>.txt    only when a row or document failed
//
// =============================================================================

package utils

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampFormat is the layout of timestamps in generated file names.
const TimestampFormat = "20060102_150405"

// Store receives generated files.
type Store interface {
	Write(ctx context.Context, name string, data []byte) error
}

// =============================================================================
// REPORT FILE NAMING
// =============================================================================

// GenerateReportName generates the report file name.
//
// PARAMETERS:
//   - format: The format string for the file name.
//             Placeholders:
//               {uuid}      - A random UUID
//               {timestamp} - Timestamp (YYYYMMDD_HHMMSS)
//               {date}      - Date (YYYYMMDD)
//               {time}      - Time (HHMMSS)
//               {ruc}       - Taxpayer RUC
//               {mode}      - "issued" or "received"
//   - now: The time used for the time placeholders.
//   - params: A map of placeholder values.
//
// RETURNS:
//   - The generated file name, always ending in ".xlsx".
//
// EXAMPLE:
//   format: "report_{ruc}_{timestamp}.xlsx"
//   params: {"ruc": "1790012345001"}
//   output: "report_1790012345001_20240315_093005.xlsx"
func GenerateReportName(format string, now time.Time, params map[string]string) string {
	if format == "" {
		format = "report_{ruc}_{timestamp}.xlsx"
	}

	replacements := map[string]string{
		"{uuid}":      uuid.New().String(),
		"{timestamp}": now.Format(TimestampFormat),
		"{date}":      now.Format("20060102"),
		"{time}":      now.Format("150405"),
	}
	for key, value := range params {
		replacements["{"+key+"}"] = value
	}

	result := format
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}

	if !strings.HasSuffix(strings.ToLower(result), ".xlsx") {
		result += ".xlsx"
	}
	return result
}

// =============================================================================
// ERROR LOG GENERATION
// =============================================================================

// ErrorLogEntry represents a single error log entry.
type ErrorLogEntry struct {
	Timestamp    time.Time
	Stage        string // "download" or "extract"
	FileName     string
	ErrorMessage string
	Sequence     int
	Page         int
	Identity     string
}

// WriteErrorLog writes error entries to errors_<timestamp>.txt.
//
// RETURNS:
//   - The name of the error log, or "" when there were no entries.
//   - An error if writing fails.
func WriteErrorLog(ctx context.Context, store Store, entries []ErrorLogEntry, now time.Time) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "SRI Receipts - Error Log\n"+
		"Generated: %s\n"+
		"Total Errors: %d\n"+
		"================================================================================\n\n",
		now.Format("2006-01-02 15:04:05"),
		len(entries))

	for i, entry := range entries {
		fmt.Fprintf(&b, "Error #%d\n"+
			"  Timestamp:  %s\n"+
			"  Stage:      %s\n"+
			"  File:       %s\n"+
			"  Message:    %s\n",
			i+1,
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			entry.Stage,
			entry.FileName,
			entry.ErrorMessage)

		if entry.Sequence > 0 {
			fmt.Fprintf(&b, "  Sequence:   %d\n", entry.Sequence)
		}
		if entry.Page > 0 {
			fmt.Fprintf(&b, "  Page:       %d\n", entry.Page)
		}
		if entry.Identity != "" {
			fmt.Fprintf(&b, "  Identity:   %s\n", entry.Identity)
		}
		b.WriteString("\n")
	}

	b.WriteString("================================================================================\n" +
		"End of Error Log\n")

	name := fmt.Sprintf("errors_%s.txt", now.Format(TimestampFormat))
	if err := store.Write(ctx, name, b.Bytes()); err != nil {
		return "", fmt.Errorf("failed to write error log: %w", err)
	}
	return name, nil
}

// =============================================================================
// RUN SUMMARY
// =============================================================================

// RunSummary contains summary information about a harvest run.
type RunSummary struct {
	StartTime time.Time
	EndTime   time.Time
	RunID     string
	Mode      string
	RUC       string
	Folder    string
	Criteria  map[string]string
	Message   string

	// Download statistics.
	Pages      int
	Rows       int
	Downloaded int
	Skipped    int
	Failed     int

	// Extraction statistics.
	Documents       int
	Parsed          int
	Empty           int
	ExtractFailures int
	Records         int

	// ReportFile is the report name, or "" when no report was written.
	ReportFile string
}

// WriteSummaryLog writes a run summary to summary_<timestamp>.txt.
//
// RETURNS:
//   - The name of the summary file.
//   - An error if writing fails.
func WriteSummaryLog(ctx context.Context, store Store, summary RunSummary) (string, error) {
	var b bytes.Buffer

	duration := summary.EndTime.Sub(summary.StartTime)
	fmt.Fprintf(&b, "SRI Receipts - Run Summary\n"+
		"================================================================================\n\n"+
		"Run Information:\n"+
		"  Run ID:         %s\n"+
		"  Mode:           %s\n"+
		"  RUC:            %s\n"+
		"  Folder:         %s\n"+
		"  Start Time:     %s\n"+
		"  End Time:       %s\n"+
		"  Duration:       %s\n\n",
		summary.RunID,
		summary.Mode,
		summary.RUC,
		summary.Folder,
		summary.StartTime.Format("2006-01-02 15:04:05"),
		summary.EndTime.Format("2006-01-02 15:04:05"),
		duration.String())

	if len(summary.Criteria) > 0 {
		b.WriteString("Criteria:\n")
		for _, key := range sortedKeys(summary.Criteria) {
			fmt.Fprintf(&b, "  %-15s %s\n", key+":", summary.Criteria[key])
		}
		b.WriteString("\n")
	}
	if summary.Message != "" {
		fmt.Fprintf(&b, "Portal Message:\n  %s\n\n", summary.Message)
	}

	fmt.Fprintf(&b, "Download:\n"+
		"  Pages:          %d\n"+
		"  Rows:           %d\n"+
		"  Downloaded:     %d\n"+
		"  Skipped:        %d\n"+
		"  Failed:         %d\n\n"+
		"Extraction:\n"+
		"  Documents:      %d\n"+
		"  Parsed:         %d\n"+
		"  No Line Items:  %d\n"+
		"  Failed:         %d\n"+
		"  Records:        %d\n\n",
		summary.Pages,
		summary.Rows,
		summary.Downloaded,
		summary.Skipped,
		summary.Failed,
		summary.Documents,
		summary.Parsed,
		summary.Empty,
		summary.ExtractFailures,
		summary.Records)

	if summary.ReportFile != "" {
		fmt.Fprintf(&b, "Report:\n  %s\n\n", summary.ReportFile)
	} else {
		b.WriteString("Report:\n  (none, no records)\n\n")
	}

	b.WriteString("================================================================================\n" +
		"End of Summary\n")

	name := fmt.Sprintf("summary_%s.txt", summary.EndTime.Format(TimestampFormat))
	if err := store.Write(ctx, name, b.Bytes()); err != nil {
		return "", fmt.Errorf("failed to write summary: %w", err)
	}
	return name, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// FileExists checks if a file or folder exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
