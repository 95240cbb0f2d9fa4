package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// StorageKey is the single key the draft list lives under.
const StorageKey = "trainBookings"

// DraftSource is the read side of the draft store the sequencer needs.
type DraftSource interface {
	Find(id string) (*BookingDraft, error)
}

// Store keeps the draft list in one JSON file. Every write replaces the
// whole list; other top-level keys in the file are preserved.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load() ([]BookingDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, drafts, err := s.read()
	return drafts, err
}

func (s *Store) Find(id string) (*BookingDraft, error) {
	drafts, err := s.Load()
	if err != nil {
		return nil, err
	}
	return FindDraft(drafts, id)
}

// Add validates and appends a draft, assigning an identifier if it has none.
func (s *Store) Add(d BookingDraft) (BookingDraft, error) {
	if err := d.Validate(); err != nil {
		return BookingDraft{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob, drafts, err := s.read()
	if err != nil {
		return BookingDraft{}, err
	}

	for i := range drafts {
		if drafts[i].sameTrip(&d) {
			return BookingDraft{}, fmt.Errorf("%w: %s -> %s on %s", ErrDuplicateDraft, d.Origin, d.Destination, d.Date)
		}
	}

	if d.Grouped() {
		if d.GroupID == "" {
			d.GroupID = uuid.NewString()
		}
		for i := range d.Passengers {
			if d.Passengers[i].ID == "" {
				d.Passengers[i].ID = uuid.NewString()
			}
		}
	} else if d.ID == "" {
		d.ID = uuid.NewString()
	}

	for i := range drafts {
		if drafts[i].MatchesIdentifier(d.Identifier()) {
			return BookingDraft{}, fmt.Errorf("%w: identifier %q in use", ErrDuplicateDraft, d.Identifier())
		}
	}

	drafts = append(drafts, d)
	if err := s.write(blob, drafts); err != nil {
		return BookingDraft{}, err
	}
	return d, nil
}

// Delete removes the draft with the given id or group id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, drafts, err := s.read()
	if err != nil {
		return err
	}

	kept := drafts[:0]
	removed := false
	for _, d := range drafts {
		if d.MatchesIdentifier(id) {
			removed = true
			continue
		}
		kept = append(kept, d)
	}
	if !removed {
		return fmt.Errorf("%w: %q", ErrDraftNotFound, id)
	}
	return s.write(blob, kept)
}

func (s *Store) read() (map[string]json.RawMessage, []BookingDraft, error) {
	blob := map[string]json.RawMessage{}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return blob, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read draft store: %w", err)
	}
	if len(data) == 0 {
		return blob, nil, nil
	}

	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, nil, fmt.Errorf("failed to parse draft store %s: %w", s.path, err)
	}

	var drafts []BookingDraft
	if raw, ok := blob[StorageKey]; ok {
		if err := json.Unmarshal(raw, &drafts); err != nil {
			return nil, nil, fmt.Errorf("failed to parse %s in %s: %w", StorageKey, s.path, err)
		}
	}
	return blob, drafts, nil
}

func (s *Store) write(blob map[string]json.RawMessage, drafts []BookingDraft) error {
	if drafts == nil {
		drafts = []BookingDraft{}
	}
	raw, err := json.Marshal(drafts)
	if err != nil {
		return err
	}
	blob[StorageKey] = raw

	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
