package batch

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Status is the outcome of one listed row.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Entry records what happened to one listed row.
type Entry struct {
	Sequence int       `yaml:"sequence"`
	Page     int       `yaml:"page"`
	Identity string    `yaml:"identity,omitempty"`
	File     string    `yaml:"file"`
	Status   Status    `yaml:"status"`
	Error    string    `yaml:"error,omitempty"`
	Time     time.Time `yaml:"time"`
}

// Manifest is the persisted form of a batch.
type Manifest struct {
	RunID   string    `yaml:"run_id"`
	RUC     string    `yaml:"ruc"`
	Mode    string    `yaml:"mode"`

	// Criteria are the query filters the documents were listed with.
	Criteria map[string]string `yaml:"criteria,omitempty"`

	Created time.Time `yaml:"created"`
	Updated time.Time `yaml:"updated"`
	Entries []Entry   `yaml:"entries"`
}

// Record appends a row outcome to the manifest.
func (b *Batch) Record(entry Entry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	b.entries = append(b.entries, entry)
}

// Entries returns the recorded row outcomes, in listing order.
func (b *Batch) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// SaveManifest writes manifest.yaml.
func (b *Batch) SaveManifest(ctx context.Context) error {
	manifest := Manifest{
		RunID:    b.RunID,
		RUC:      b.RUC,
		Mode:     b.Mode,
		Criteria: b.Criteria,
		Created:  b.Created,
		Updated:  time.Now(),
		Entries:  b.entries,
	}
	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return b.Write(ctx, ManifestName, data)
}

func (b *Batch) loadManifest(ctx context.Context) (*Manifest, error) {
	data, err := b.Read(ctx, ManifestName)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ManifestName, err)
	}
	return &manifest, nil
}
