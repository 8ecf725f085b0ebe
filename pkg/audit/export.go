package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptySessionID is returned when an export names no session.
	ErrEmptySessionID = errors.New("audit: session_id must not be empty")
	// ErrInvalidTimeRange is returned when the export window is inverted.
	ErrInvalidTimeRange = errors.New("audit: after must precede before")
)

// ExportRequest defines what to export.
type ExportRequest struct {
	SessionID string    `json:"session_id"`
	After     time.Time `json:"after"`
	Before    time.Time `json:"before"`
}

// PackManifest is the manifest.json inside an evidence pack. ChainHead ties
// the pack to the state of the chain at generation time.
type PackManifest struct {
	SessionID   string    `json:"session_id"`
	GeneratedAt time.Time `json:"generated_at"`
	EntryCount  int       `json:"entry_count"`
	ChainHead   string    `json:"chain_head"`
	After       time.Time `json:"after,omitempty"`
	Before      time.Time `json:"before,omitempty"`
}

// Exporter assembles evidence packs from a transition log.
type Exporter struct {
	log   *Log
	clock func() time.Time
}

// ExporterOption customizes an Exporter.
type ExporterOption func(*Exporter)

// WithExporterClock overrides the exporter's time source.
func WithExporterClock(clock func() time.Time) ExporterOption {
	return func(e *Exporter) { e.clock = clock }
}

// NewExporter wraps a transition log.
func NewExporter(l *Log, opts ...ExporterOption) *Exporter {
	e := &Exporter{log: l, clock: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GeneratePack builds a zip containing a session's transition entries and a
// manifest, and returns the archive bytes with their SHA-256 checksum.
func (e *Exporter) GeneratePack(_ context.Context, req ExportRequest) ([]byte, string, error) {
	if req.SessionID == "" {
		return nil, "", ErrEmptySessionID
	}
	if !req.After.IsZero() && !req.Before.IsZero() && req.After.After(req.Before) {
		return nil, "", ErrInvalidTimeRange
	}

	entries := e.log.Query(Filter{
		SessionID: req.SessionID,
		After:     req.After,
		Before:    req.Before,
	})
	entriesJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, "", err
	}

	manifest := PackManifest{
		SessionID:   req.SessionID,
		GeneratedAt: e.clock().UTC(),
		EntryCount:  len(entries),
		ChainHead:   e.log.Head(),
		After:       req.After,
		Before:      req.Before,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("entries.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(entriesJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	_, _ = fmt.Fprintf(f, "Transition evidence pack for session %s\nGenerated at %s\n", req.SessionID, manifest.GeneratedAt)

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	sum := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(sum[:]), nil
}
