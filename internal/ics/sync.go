package ics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"apptcal/internal/appointment"
	"apptcal/internal/calendar"
	appLog "apptcal/internal/log"
	"apptcal/internal/model"
)

// Syncer pulls every configured feed into the calendar store. Each refresh
// replaces the entries of a feed wholesale, so removed upstream events
// disappear. A feed that fails to fetch keeps its previous entries.
type Syncer struct {
	Fetcher      *Fetcher
	Store        *calendar.Store
	Sources      []Source
	Location     *time.Location
	Materializer appointment.Materializer

	// Backfill and Horizon bound the expansion window around now.
	Backfill time.Duration
	Horizon  time.Duration

	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time
}

// Refresh runs one fetch/parse/expand pass over all sources and returns
// the per-source errors joined.
func (s *Syncer) Refresh(ctx context.Context) error {
	if len(s.Sources) == 0 {
		return nil
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	current := now().In(loc)
	cfg := ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      current.Add(-s.Backfill),
		RangeEnd:        current.Add(s.Horizon),
		Materializer:    s.Materializer,
	}

	results, errs := s.Fetcher.FetchAll(ctx, s.Sources)
	for _, res := range results {
		if res.Source.ID == model.SourceManual {
			errs = append(errs, fmt.Errorf("feed %q: source id is reserved", res.Source.ID))
			continue
		}
		events, err := ParseICS(res.Source, res.Body)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		expanded, err := ExpandEvents(events, cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.Store.Replace(res.Source.ID, expanded.Entries)
		appLog.Info("feed synced",
			"id", res.Source.ID,
			"events", len(events),
			"entries", len(expanded.Entries),
			"skipped", len(expanded.SkippedUIDs),
			"from_cache", res.FromCache,
		)
	}

	return errors.Join(errs...)
}
