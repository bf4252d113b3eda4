// Package calendar holds the in-memory event collection behind the
// calendar view. Nothing is persisted beyond the process.
package calendar

import (
	"encoding/json"
	"io"
	"slices"
	"sync"
	"time"

	"apptcal/internal/model"
)

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries []model.Entry
}

func NewStore() *Store {
	return &Store{}
}

// Add appends entries to the collection.
func (s *Store) Add(entries ...model.Entry) {
	if len(entries) == 0 {
		return
	}
	s.mu.Lock()
	s.entries = append(s.entries, entries...)
	s.mu.Unlock()
}

// Replace drops every entry from source and adds entries in their place.
// Feed refreshes use it so that a re-imported feed never duplicates.
func (s *Store) Replace(source string, entries []model.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = slices.DeleteFunc(s.entries, func(e model.Entry) bool { return e.Source == source })
	s.entries = append(s.entries, entries...)
}

// Remove deletes all entries of a series and reports how many were removed.
func (s *Store) Remove(seriesID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.entries)
	s.entries = slices.DeleteFunc(s.entries, func(e model.Entry) bool { return e.SeriesID == seriesID })
	return before - len(s.entries)
}

// List returns entries overlapping [from, to], ordered by start. A zero
// from or to leaves that side open.
func (s *Store) List(from, to time.Time) []model.Entry {
	s.mu.RLock()
	out := make([]model.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !from.IsZero() && e.End.Before(from) {
			continue
		}
		if !to.IsZero() && e.Start.After(to) {
			continue
		}
		out = append(out, e)
	}
	s.mu.RUnlock()

	sortEntries(out)
	return out
}

// All returns a sorted copy of the collection.
func (s *Store) All() []model.Entry {
	return s.List(time.Time{}, time.Time{})
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func sortEntries(es []model.Entry) {
	slices.SortStableFunc(es, func(a, b model.Entry) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.End.Compare(b.End)
	})
}

// ExportedEntry is the JSON shape of the collection export. Start and End
// are ISO-8601 with the entry's offset.
type ExportedEntry struct {
	Series string `json:"series"`
	Source string `json:"source"`
	Title  string `json:"title"`
	Start  string `json:"start"`
	End    string `json:"end"`
}

// WriteJSON serializes entries as a JSON array.
func WriteJSON(w io.Writer, entries []model.Entry) error {
	out := make([]ExportedEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, ExportedEntry{
			Series: e.SeriesID,
			Source: e.Source,
			Title:  e.Title,
			Start:  e.Start.Format(time.RFC3339),
			End:    e.End.Format(time.RFC3339),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
