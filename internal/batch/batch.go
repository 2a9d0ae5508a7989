// =============================================================================
// SRI Receipts - Download Batch
// =============================================================================
//
// A Batch is the destination of one download run: a folder holding the
// retrieved documents, the run manifest and the derived report.
//
// FOLDER LAYOUT:
//   <root>/<mode>/<mode>_<ruc>_<YYYYMMDD_HHMMSS>/
//     document_<identity>.xml   one file per retrieved receipt
//     document_<sequence>.xml   receipts listed without a stable identity
//     manifest.yaml             per-row outcome of the last walk
//
// STORAGE:
//   Files are stored through a gocloud.dev blob bucket rooted at the folder
//   (fileblob on disk). Blob writes are atomic: a failed or interrupted
//   write never leaves a partial document behind, so "file exists" always
//   means "document fully retrieved".
//
// SEQUENCE:
//   The sequence counter starts at 1 for every walk and advances by exactly
//   one per listed row, whatever happened to the row.
//
// =============================================================================

package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"

	"github.com/ginjaninja78/sri-receipts/pkg/utils"
)

// ManifestName is the key of the run manifest inside the batch.
const ManifestName = "manifest.yaml"

// TimestampFormat is the layout of the run folder timestamp.
const TimestampFormat = "20060102_150405"

// ErrNotFound is returned when a batch file does not exist.
var ErrNotFound = errors.New("batch file not found")

// =============================================================================
// BATCH
// =============================================================================

// Batch is an open run folder.
type Batch struct {
	// Folder is the run folder path.
	Folder string

	// RunID identifies the run that created the folder.
	RunID string

	// RUC is the taxpayer the documents belong to.
	RUC string

	// Mode is "issued" or "received".
	Mode string

	// Criteria are the query filters of the run. Nil when unknown.
	Criteria map[string]string

	// Created is when the folder was created.
	Created time.Time

	// Resumed is true when the batch was reopened from an earlier run.
	Resumed bool

	bucket   *blob.Bucket
	owned    bool
	sequence int
	entries  []Entry
	known    map[string]bool
}

// Options configures Create and Open.
type Options struct {
	// Root is the output root. Create places the run folder below it.
	Root string

	// Mode and RUC name the run folder.
	Mode string
	RUC  string

	// Criteria are recorded in the manifest of a new batch.
	Criteria map[string]string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Bucket overrides the storage. When nil a fileblob bucket is opened
	// on the folder.
	Bucket *blob.Bucket
}

// Create starts a new batch in a fresh timestamped folder.
//
// RETURNS:
//   - The open batch.
//   - An error if the folder or its storage cannot be created.
func Create(ctx context.Context, opts Options) (*Batch, error) {
	if opts.Mode == "" || opts.RUC == "" {
		return nil, fmt.Errorf("batch mode and RUC are required")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	created := now()

	base := filepath.Join(opts.Root, opts.Mode,
		fmt.Sprintf("%s_%s_%s", opts.Mode, opts.RUC, created.Format(TimestampFormat)))
	folder := base

	bucket, owned := opts.Bucket, false
	if bucket == nil {
		// Two runs started in the same second get distinct folders.
		for n := 2; utils.FileExists(folder); n++ {
			folder = fmt.Sprintf("%s_%d", base, n)
		}
		var err error
		bucket, err = openFolder(folder)
		if err != nil {
			return nil, err
		}
		owned = true
	}

	b := &Batch{
		Folder:   folder,
		RunID:    uuid.New().String(),
		RUC:      opts.RUC,
		Mode:     opts.Mode,
		Criteria: opts.Criteria,
		Created:  created,
		bucket:   bucket,
		owned:    owned,
		known:    make(map[string]bool),
	}
	b.Reset()

	if err := b.SaveManifest(ctx); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// Open reopens an existing run folder, e.g. to resume an interrupted run or
// to rebuild its report.
//
// The manifest is optional: a folder without one is opened with the mode
// and RUC taken from opts, or else from the folder name.
func Open(ctx context.Context, folder string, opts Options) (*Batch, error) {
	bucket, owned := opts.Bucket, false
	if bucket == nil {
		info, err := os.Stat(folder)
		if err != nil {
			return nil, fmt.Errorf("failed to open batch folder: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("batch folder %s is not a directory", folder)
		}
		bucket, err = openFolder(folder)
		if err != nil {
			return nil, err
		}
		owned = true
	}

	b := &Batch{
		Folder:  folder,
		Resumed: true,
		bucket:  bucket,
		owned:   owned,
		known:   make(map[string]bool),
	}

	manifest, err := b.loadManifest(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		mode, ruc := parseFolderName(folder)
		b.Mode = firstNonEmpty(opts.Mode, mode)
		b.RUC = firstNonEmpty(opts.RUC, ruc)
		b.RunID = uuid.New().String()
	case err != nil:
		b.Close()
		return nil, err
	default:
		b.RunID = manifest.RunID
		b.RUC = manifest.RUC
		b.Mode = manifest.Mode
		b.Criteria = manifest.Criteria
		b.Created = manifest.Created
		b.entries = manifest.Entries
	}

	b.sequence = 1
	return b, nil
}

func openFolder(folder string) (*blob.Bucket, error) {
	bucket, err := fileblob.OpenBucket(folder, &fileblob.Options{
		CreateDir: true,
		NoTempDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open batch folder %s: %w", folder, err)
	}
	return bucket, nil
}

// Close releases the storage. A bucket passed in Options is left open.
func (b *Batch) Close() error {
	if b.bucket == nil || !b.owned {
		return nil
	}
	return b.bucket.Close()
}

// =============================================================================
// SEQUENCE
// =============================================================================

// Reset starts a new walk: the sequence returns to 1 and the manifest
// entries of any earlier walk are discarded. Files are kept.
func (b *Batch) Reset() {
	b.sequence = 1
	b.entries = nil
}

// Sequence returns the sequence number of the next row.
func (b *Batch) Sequence() int {
	return b.sequence
}

// Advance moves the sequence to the next row.
func (b *Batch) Advance() {
	b.sequence++
}

// =============================================================================
// FILES
// =============================================================================

var unsafeNameChars = regexp.MustCompile(`[^0-9A-Za-z_-]+`)

// DocumentName returns the file name for a row: document_<identity>.xml when
// the row has a stable identity, else document_<sequence>.xml.
func DocumentName(identity string, sequence int) string {
	identity = unsafeNameChars.ReplaceAllString(strings.TrimSpace(identity), "")
	if identity == "" {
		return fmt.Sprintf("document_%d.xml", sequence)
	}
	return "document_" + identity + ".xml"
}

// IsDocument reports whether name is a retrieved document of a batch.
func IsDocument(name string) bool {
	return strings.HasPrefix(name, "document_") && strings.HasSuffix(name, ".xml")
}

// Path returns the on-disk path of a batch file.
func (b *Batch) Path(name string) string {
	return filepath.Join(b.Folder, name)
}

// Exists reports whether the batch holds a file.
func (b *Batch) Exists(ctx context.Context, name string) (bool, error) {
	if b.known[name] {
		return true, nil
	}
	ok, err := b.bucket.Exists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", name, err)
	}
	return ok, nil
}

// Write stores a file. The write is atomic.
func (b *Batch) Write(ctx context.Context, name string, data []byte) error {
	opts := &blob.WriterOptions{ContentType: contentType(name)}
	if err := b.bucket.WriteAll(ctx, name, data, opts); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	b.known[name] = true
	return nil
}

// Read returns the content of a file.
func (b *Batch) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := b.bucket.ReadAll(ctx, name)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// List returns the names of all files in the batch, sorted.
func (b *Batch) List(ctx context.Context) ([]string, error) {
	var names []string
	iter := b.bucket.List(nil)
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list batch: %w", err)
		}
		if obj.IsDir {
			continue
		}
		names = append(names, obj.Key)
	}
	sort.Strings(names)
	return names, nil
}

// Documents returns the retrieved documents of the batch: first the ones
// the manifest records, in listing order, then any other document files
// found in the folder, sorted by name.
func (b *Batch) Documents(ctx context.Context) ([]string, error) {
	names, err := b.List(ctx)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(names))
	for _, name := range names {
		if IsDocument(name) {
			present[name] = true
		}
	}

	var docs []string
	seen := make(map[string]bool)
	for _, entry := range b.entries {
		if entry.File == "" || seen[entry.File] || !present[entry.File] {
			continue
		}
		seen[entry.File] = true
		docs = append(docs, entry.File)
	}
	for _, name := range names {
		if present[name] && !seen[name] {
			docs = append(docs, name)
		}
	}
	return docs, nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xml":
		return "application/xml"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/plain; charset=utf-8"
	}
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// parseFolderName splits "<mode>_<ruc>_<date>_<time>" into mode and RUC.
func parseFolderName(folder string) (string, string) {
	parts := strings.Split(filepath.Base(filepath.Clean(folder)), "_")
	if len(parts) < 3 {
		return "", ""
	}
	return parts[0], parts[1]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
