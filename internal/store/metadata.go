// Package store persists per-recording enrichment state as a single JSON
// document colocated with the recordings. The whole document is read,
// modified, and rewritten under one lock; the document is bounded by event
// scale, not continuous growth, so this stays cheap. The web layer reads the
// same file from its own process.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DocumentName is the metadata file written next to the recordings.
const DocumentName = "recordings_metadata.json"

const documentVersion = "1.0"

// Status is the enrichment lifecycle state of a recording. It only advances
// pending→processing→{completed|failed}, or pending→skipped; a manual
// re-enqueue resets it to pending.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Enrichment holds the AI-derived metadata for one recording.
type Enrichment struct {
	Status        Status     `json:"processing_status"`
	Transcription string     `json:"transcription,omitempty"`
	SpeakerNames  []string   `json:"speaker_names,omitempty"`
	Category      string     `json:"category,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	Confidence    float64    `json:"confidence,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Record is one recording's metadata entry, keyed by filename.
type Record struct {
	Filename        string     `json:"filename"`
	CreatedAt       time.Time  `json:"created_at"`
	DurationSeconds float64    `json:"duration_seconds"`
	FileSizeBytes   int64      `json:"file_size_bytes"`
	Enrichment      Enrichment `json:"ai_metadata"`
}

type document struct {
	Version    string            `json:"version"`
	Recordings map[string]Record `json:"recordings"`
}

// Store is a thread-safe filename → Record repository backed by one on-disk
// JSON document.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a store whose document lives in dir. The file is created on
// first write.
func New(dir string) *Store {
	return &Store{path: filepath.Join(dir, DocumentName)}
}

// Path returns the on-disk document location.
func (s *Store) Path() string {
	return s.path
}

// Initialize creates a pending entry for a freshly captured recording.
// Calling it again for the same filename resets the entry.
func (s *Store) Initialize(filename string, sizeBytes int64, duration time.Duration, createdAt time.Time) error {
	return s.update(func(doc *document) {
		doc.Recordings[filename] = Record{
			Filename:        filename,
			CreatedAt:       createdAt.UTC(),
			DurationSeconds: duration.Seconds(),
			FileSizeBytes:   sizeBytes,
			Enrichment:      Enrichment{Status: StatusPending},
		}
	})
}

// Get returns the record for filename, reporting whether it exists.
func (s *Store) Get(filename string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.read()
	rec, ok := doc.Recordings[filename]
	return rec, ok, nil
}

// ListAll returns every record, newest first.
func (s *Store) ListAll() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.read()
	records := make([]Record, 0, len(doc.Recordings))
	for _, rec := range doc.Recordings {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// ListByStatus returns records in the given enrichment state, oldest first
// so re-enqueued work preserves FIFO order.
func (s *Store) ListByStatus(status Status) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.read()
	records := make([]Record, 0, len(doc.Recordings))
	for _, rec := range doc.Recordings {
		if rec.Enrichment.Status == status {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// MarkProcessing advances filename to the processing state.
func (s *Store) MarkProcessing(filename string) error {
	return s.setStatus(filename, func(e *Enrichment) {
		e.Status = StatusProcessing
	})
}

// MarkCompleted stores the enrichment result and advances to completed.
func (s *Store) MarkCompleted(filename string, result Enrichment) error {
	now := time.Now().UTC()
	return s.setStatus(filename, func(e *Enrichment) {
		*e = result
		e.Status = StatusCompleted
		e.ProcessedAt = &now
		e.LastError = ""
	})
}

// MarkFailed advances to failed, preserving the last error for the web UI.
func (s *Store) MarkFailed(filename, lastError string) error {
	now := time.Now().UTC()
	return s.setStatus(filename, func(e *Enrichment) {
		e.Status = StatusFailed
		e.ProcessedAt = &now
		e.LastError = lastError
	})
}

// MarkSkipped marks a recording that enrichment will not touch.
func (s *Store) MarkSkipped(filename string) error {
	return s.setStatus(filename, func(e *Enrichment) {
		e.Status = StatusSkipped
	})
}

// MarkPending resets a record for re-processing (external re-enqueue).
func (s *Store) MarkPending(filename string) error {
	return s.setStatus(filename, func(e *Enrichment) {
		e.Status = StatusPending
		e.LastError = ""
	})
}

// Remove deletes the entry for a recording removed from disk.
func (s *Store) Remove(filename string) error {
	return s.update(func(doc *document) {
		delete(doc.Recordings, filename)
	})
}

func (s *Store) setStatus(filename string, mutate func(*Enrichment)) error {
	return s.update(func(doc *document) {
		rec, ok := doc.Recordings[filename]
		if !ok {
			rec = Record{Filename: filename}
		}
		mutate(&rec.Enrichment)
		doc.Recordings[filename] = rec
	})
}

func (s *Store) update(mutate func(*document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.read()
	mutate(&doc)
	return s.write(doc)
}

// read loads the document, treating a missing or corrupt file as empty so
// the phone-facing path never crashes on bad metadata.
func (s *Store) read() document {
	empty := document{Version: documentVersion, Recordings: map[string]Record{}}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("store: read metadata document failed, treating as empty", "path", s.path, "error", err)
		}
		return empty
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Error("store: metadata document corrupt, treating as empty", "path", s.path, "error", err)
		return empty
	}
	if doc.Recordings == nil {
		doc.Recordings = map[string]Record{}
	}
	if doc.Version == "" {
		doc.Version = documentVersion
	}
	return doc
}

// write replaces the document atomically so the web layer never observes a
// torn file.
func (s *Store) write(doc document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata document: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write metadata document: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace metadata document: %w", err)
	}
	return nil
}
