// Package state persists per-book pipeline progress so interrupted runs
// resume where they left off.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// State is the resumable progress record for one book. Values are
// immutable; use the With helpers to derive updates.
type State struct {
	BookID    string            `json:"book_id"`
	Steps     map[string]bool   `json:"steps"`
	Artifacts map[string]string `json:"artifacts"`
}

// NewState returns an empty state for a book.
func NewState(bookID string) State {
	return State{
		BookID:    bookID,
		Steps:     map[string]bool{},
		Artifacts: map[string]string{},
	}
}

// StepDone reports whether a named step completed.
func (s State) StepDone(step string) bool {
	return s.Steps[step]
}

// WithStep returns a copy with the step marked done (or undone).
func (s State) WithStep(step string, done bool) State {
	return s.with(func(c *State) { c.Steps[step] = done })
}

// WithArtifact returns a copy recording an artifact path.
func (s State) WithArtifact(name, path string) State {
	return s.with(func(c *State) { c.Artifacts[name] = path })
}

func (s State) with(mutate func(*State)) State {
	c := State{
		BookID:    s.BookID,
		Steps:     make(map[string]bool, len(s.Steps)+1),
		Artifacts: make(map[string]string, len(s.Artifacts)+1),
	}
	for k, v := range s.Steps {
		c.Steps[k] = v
	}
	for k, v := range s.Artifacts {
		c.Artifacts[k] = v
	}
	mutate(&c)
	return c
}

type stateFile struct {
	Version   int               `json:"version"`
	BookID    string            `json:"book_id"`
	UpdatedAt string            `json:"updated_at"`
	Steps     map[string]bool   `json:"steps"`
	Artifacts map[string]string `json:"artifacts"`
}

// Store reads and writes state files under a root directory, one JSON
// file per book keyed by the slugified book id.
type Store struct {
	root string

	// now is the clock, swapped in tests.
	now func() time.Time
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{root: root, now: time.Now}, nil
}

func (s *Store) pathFor(bookID string) string {
	return filepath.Join(s.root, Slugify(bookID)+".json")
}

// Load returns the stored state for a book, or ok=false when none
// exists. Unknown fields are ignored so newer files still load.
func (s *Store) Load(bookID string) (State, bool, error) {
	raw, err := os.ReadFile(s.pathFor(bookID))
	if os.IsNotExist(err) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("read state: %w", err)
	}

	var f stateFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return State{}, false, fmt.Errorf("parse state %s: %w", s.pathFor(bookID), err)
	}

	state := NewState(bookID)
	for k, v := range f.Steps {
		state.Steps[k] = v
	}
	for k, v := range f.Artifacts {
		state.Artifacts[k] = v
	}
	return state, true, nil
}

// Save writes the state atomically: temp file in the same directory,
// then rename.
func (s *Store) Save(state State) error {
	f := stateFile{
		Version:   1,
		BookID:    state.BookID,
		UpdatedAt: s.now().UTC().Format(time.RFC3339),
		Steps:     state.Steps,
		Artifacts: state.Artifacts,
	}
	payload, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	path := s.pathFor(state.BookID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

var slugRE = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases value and collapses every non-alphanumeric run to a
// single hyphen. Empty results become "book" so a slug is always usable
// as a filename.
func Slugify(value string) string {
	cleaned := slugRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "-")
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		return "book"
	}
	return cleaned
}
