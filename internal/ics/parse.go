package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/samber/mo"
	"github.com/teambition/rrule-go"

	appLog "apptcal/internal/log"
	"apptcal/internal/model"
	"apptcal/internal/recurrence"
)

// ParsedEvent is the normalized representation of a VEVENT before it is
// turned into an appointment.
type ParsedEvent struct {
	Source Source

	UID     string
	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time

	// Recurrence is the RECURRENCE-ID of an override: the original start
	// of the series instance this VEVENT replaces.
	Recurrence mo.Option[time.Time]
	IsOverride bool
	// Cancelled is STATUS:CANCELLED. A cancelled override removes its
	// instance.
	Cancelled bool
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
// Timezone handling (TZID/VTIMEZONE) is left to the library; DTSTART
// values without a time part mark the event as all-day. RRULE is kept
// raw and only interpreted by Appointment.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStartProp == nil {
		return out, fmt.Errorf("event %s: missing DTSTART", out.UID)
	}
	if vs, ok := dtStartProp.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		out.AllDay = true
	}
	if !strings.Contains(dtStartProp.Value, "T") {
		out.AllDay = true
	}

	var err error
	if out.AllDay {
		out.Start, err = ve.GetAllDayStartAt()
	} else {
		out.Start, err = ve.GetStartAt()
	}
	if err != nil {
		return out, fmt.Errorf("event %s: DTSTART: %w", out.UID, err)
	}

	// DTEND is optional; a missing one leaves End zero and the
	// materializer falls back to its default duration.
	if ve.GetProperty(ical.ComponentPropertyDtEnd) != nil {
		if out.AllDay {
			out.End, _ = ve.GetAllDayEndAt()
		} else {
			out.End, _ = ve.GetEndAt()
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		out.Cancelled = true
	}

	// EXDATE may repeat and each may carry a comma-separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		ts, err := propertyTimes(p, out.Start.Location())
		if err != nil {
			appLog.Warn("ics: ignoring bad EXDATE", "uid", out.UID, "value", p.Value, "err", err)
			continue
		}
		out.ExDates = append(out.ExDates, ts...)
	}

	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		ts, err := propertyTimes(p, out.Start.Location())
		if err != nil || len(ts) != 1 {
			return out, fmt.Errorf("event %s: bad RECURRENCE-ID %q", out.UID, p.Value)
		}
		out.Recurrence = mo.Some(ts[0])
		out.IsOverride = true
	}

	return out, nil
}

// propertyTimes reads the DATE or DATE-TIME values of p. A trailing Z means
// UTC, a TZID parameter names the zone, and floating values are read in
// floating (the event's own zone).
func propertyTimes(p *ical.IANAProperty, floating *time.Location) ([]time.Time, error) {
	loc := floating
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
		l, err := time.LoadLocation(tz[0])
		if err != nil {
			return nil, fmt.Errorf("TZID %q: %w", tz[0], err)
		}
		loc = l
	}

	var out []time.Time
	for _, part := range strings.Split(p.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var (
			t   time.Time
			err error
		)
		switch {
		case strings.HasSuffix(part, "Z"):
			t, err = time.Parse("20060102T150405Z", part)
		case strings.Contains(part, "T"):
			t, err = time.ParseInLocation("20060102T150405", part, loc)
		default:
			t, err = time.ParseInLocation("20060102", part, loc)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Appointment converts the event into an appointment anchored in the
// event's own zone. Only DAILY and WEEKLY rules are supported; anything
// else fails with recurrence.ErrInvalidSpec.
func (ev ParsedEvent) Appointment() (model.Appointment, error) {
	a := model.Appointment{
		Title:  ev.Summary,
		Start:  ev.Start,
		Source: ev.Source.ID,
		UID:    ev.UID,
	}
	if !ev.End.IsZero() && ev.End.After(ev.Start) {
		a.DurationHours = mo.Some(ev.End.Sub(ev.Start).Hours())
	} else if ev.AllDay {
		a.DurationHours = mo.Some(24.0)
	}

	if ev.RawRRule == "" {
		return a, nil
	}

	opt, err := rrule.StrToROption(ev.RawRRule)
	if err != nil {
		return a, &recurrence.InvalidSpecError{Reason: fmt.Sprintf("RRULE %q: %v", ev.RawRRule, err)}
	}
	spec, err := recurrence.FromROption(*opt, ev.Start)
	if err != nil {
		return a, err
	}
	a.Recurrence = mo.Some(spec)
	return a, nil
}
