package ics

import (
	"errors"
	"time"

	"apptcal/internal/appointment"
	appLog "apptcal/internal/log"
	"apptcal/internal/model"
)

// ExpandConfig controls how imported events are materialized.
type ExpandConfig struct {
	// DisplayLocation is the zone every entry is converted to. Nil means
	// time.Local.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive window for entry starts.
	RangeStart time.Time
	RangeEnd   time.Time

	Materializer appointment.Materializer
}

// ExpandResult wraps the materialized entries and the UIDs left out.
type ExpandResult struct {
	Entries []model.Entry
	// SkippedUIDs lists events whose rule could not be expanded
	// (unsupported frequency, too many occurrences) and overrides without
	// a base event.
	SkippedUIDs []string
}

// ExpandEvents materializes parsed feed events inside the window. Each
// event repeats in its own zone, so a 09:00 New York meeting stays at
// 09:00 New York across either side's daylight-saving change, and is then
// converted to the display zone.
//
// EXDATE removes instances. An override (RECURRENCE-ID) replaces the
// instance it names with its own start, end and summary, or removes it
// when cancelled.
func ExpandEvents(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}

	overridesByUID := make(map[string][]ParsedEvent)
	bases := make(map[string]bool)
	for _, ev := range events {
		if ev.IsOverride {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			bases[ev.UID] = true
		}
	}
	for uid := range overridesByUID {
		if !bases[uid] {
			appLog.Debug("expand: override without base event", "uid", uid)
			result.SkippedUIDs = append(result.SkippedUIDs, uid)
		}
	}

	result.Entries = make([]model.Entry, 0)
	for _, ev := range events {
		if ev.IsOverride {
			continue
		}

		a, err := ev.Appointment()
		if err != nil {
			appLog.Warn("expand: unsupported event", "err", err, "uid", ev.UID, "source", ev.Source.ID, "rrule", ev.RawRRule)
			result.SkippedUIDs = append(result.SkippedUIDs, ev.UID)
			continue
		}

		rangeStart := cfg.RangeStart.In(ev.Start.Location())
		rangeEnd := cfg.RangeEnd.In(ev.Start.Location())
		entries, err := cfg.Materializer.MaterializeBetween(a, rangeStart, rangeEnd)
		if err != nil {
			appLog.Error("expand: materialize failed", err, "uid", ev.UID, "source", ev.Source.ID)
			result.SkippedUIDs = append(result.SkippedUIDs, ev.UID)
			continue
		}

		for _, e := range entries {
			if isExcluded(ev.ExDates, e.Start) {
				continue
			}
			if o, ok := findOverrideForStart(overridesByUID[ev.UID], e.Start); ok {
				if o.Cancelled {
					continue
				}
				e = applyOverride(e, o)
				if e.Start.Before(cfg.RangeStart) || e.Start.After(cfg.RangeEnd) {
					continue
				}
			}
			e.Start = e.Start.In(cfg.DisplayLocation)
			e.End = e.End.In(cfg.DisplayLocation)
			result.Entries = append(result.Entries, e)
		}
	}

	return result, nil
}

func isExcluded(exdates []time.Time, start time.Time) bool {
	for _, ex := range exdates {
		if ex.Equal(start) {
			return true
		}
	}
	return false
}

// findOverrideForStart finds the override whose RECURRENCE-ID names the
// instance starting at start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if rid, ok := ov.Recurrence.Get(); ok && rid.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// applyOverride moves e to the override's times. A missing DTEND keeps the
// instance's length.
func applyOverride(e model.Entry, o ParsedEvent) model.Entry {
	length := e.End.Sub(e.Start)
	e.Start = o.Start
	e.End = o.Start.Add(length)
	if !o.End.IsZero() && !o.End.Before(o.Start) {
		e.End = o.End
	}
	if o.Summary != "" {
		e.Title = o.Summary
	}
	return e
}
