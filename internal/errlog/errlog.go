// Package errlog collects structured per-book error reports and persists
// them as JSON next to the pipeline's other artifacts, so a failed book
// can be diagnosed after the run.
package errlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/narroapp/narro/internal/state"
)

// Category classifies where in the pipeline an error happened.
type Category string

const (
	CategoryEpubParsing   Category = "epub_parsing"
	CategoryEpubInvalid   Category = "epub_invalid"
	CategoryEpubMetadata  Category = "epub_metadata"
	CategoryTextCleaning  Category = "text_cleaning"
	CategorySegmentation  Category = "text_segmentation"
	CategoryModelLoad     Category = "tts_model_load"
	CategoryTTSInput      Category = "tts_input"
	CategoryTTSSize       Category = "tts_size"
	CategoryTTSTransient  Category = "tts_transient"
	CategorySynthesis     Category = "tts_synthesis"
	CategorySilence       Category = "audio_silence"
	CategoryNormalization Category = "audio_normalization"
	CategoryStitching     Category = "audio_stitching"
	CategoryPackaging     Category = "packaging"
	CategoryFileIO        Category = "file_io"
	CategoryUnknown       Category = "unknown"
)

// Severity grades an entry.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Entry is one recorded error.
type Entry struct {
	Timestamp    string            `json:"timestamp"`
	Category     Category          `json:"category"`
	Severity     Severity          `json:"severity"`
	Step         string            `json:"step,omitempty"`
	ChapterIndex *int              `json:"chapter_index,omitempty"`
	Message      string            `json:"message"`
	Details      map[string]string `json:"details,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// EntryOptions carries the optional fields of an entry. ChapterIndex is a
// pointer so chapter zero is distinguishable from "not chapter-scoped".
type EntryOptions struct {
	Step         string
	ChapterIndex *int
	Details      map[string]string
	Err          error
}

// Chapter is a convenience for EntryOptions.ChapterIndex.
func Chapter(index int) *int {
	return &index
}

// Log accumulates entries for one book run. Safe for concurrent use by
// chapter workers.
type Log struct {
	BookSlug string
	BookID   string
	RunID    string

	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

func NewLog(bookSlug, bookID, runID string) *Log {
	return &Log{BookSlug: bookSlug, BookID: bookID, RunID: runID, now: time.Now}
}

// Add records an entry and returns it.
func (l *Log) Add(category Category, severity Severity, message string, opts EntryOptions) Entry {
	entry := Entry{
		Timestamp:    l.now().UTC().Format(time.RFC3339),
		Category:     category,
		Severity:     severity,
		Step:         opts.Step,
		ChapterIndex: opts.ChapterIndex,
		Message:      message,
		Details:      opts.Details,
	}
	if opts.Err != nil {
		entry.Error = opts.Err.Error()
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return entry
}

// Entries returns a copy of the recorded entries.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the number of recorded entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

type logFile struct {
	BookSlug   string  `json:"book_slug"`
	BookID     string  `json:"book_id"`
	RunID      string  `json:"run_id"`
	ErrorCount int     `json:"error_count"`
	Errors     []Entry `json:"errors"`
}

// Store persists error logs under a root directory, one JSON file per
// book slug.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create error log dir: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) pathFor(bookSlug string) string {
	return filepath.Join(s.root, state.Slugify(bookSlug)+".json")
}

// Load reads a stored log. A missing or corrupt file yields ok=false; a
// broken error log must never fail the pipeline it is diagnosing.
func (s *Store) Load(bookSlug string) (*Log, bool) {
	raw, err := os.ReadFile(s.pathFor(bookSlug))
	if err != nil {
		return nil, false
	}
	var f logFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false
	}

	log := NewLog(f.BookSlug, f.BookID, f.RunID)
	log.entries = f.Errors
	return log, true
}

// Save writes the log atomically.
func (s *Store) Save(log *Log) error {
	f := logFile{
		BookSlug:   log.BookSlug,
		BookID:     log.BookID,
		RunID:      log.RunID,
		ErrorCount: log.Len(),
		Errors:     log.Entries(),
	}
	payload, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode error log: %w", err)
	}

	path := s.pathFor(log.BookSlug)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write error log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit error log: %w", err)
	}
	return nil
}

// Logger returns the stored log when it belongs to the same run, or a
// fresh one otherwise.
func (s *Store) Logger(bookSlug, bookID, runID string) *Log {
	if existing, ok := s.Load(bookSlug); ok && existing.RunID == runID {
		return existing
	}
	return NewLog(bookSlug, bookID, runID)
}
