package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"

	"apptcal/internal/model"
	"apptcal/internal/recurrence"
)

// appointmentRequest is the body the appointment dialog submits.
type appointmentRequest struct {
	Title string `json:"title"`
	Start string `json:"start"`
	// Duration is hours; numbers and numeric strings are accepted and
	// anything else counts as unset.
	Duration json.RawMessage `json:"duration"`
	Repeat   *repeatRequest  `json:"repeat"`
}

type repeatRequest struct {
	Frequency string `json:"frequency"`
	// Interval omitted means 1; an explicit value below 1 is rejected.
	Interval *int `json:"interval"`
	// Weekdays omitted means the start's weekday; an explicit empty list
	// is rejected for weekly rules.
	Weekdays []string `json:"weekdays"`
	Count    *int     `json:"count"`
	Until    string   `json:"until"`
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseLocalTime reads s as a wall-clock time in loc. Values carrying an
// explicit offset (RFC 3339) are converted into loc instead.
func parseLocalTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date-time %q", s)
}

// parseDuration never fails: the form may send "", "abc" or null, all of
// which leave the duration unset.
func parseDuration(raw json.RawMessage) mo.Option[float64] {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return mo.None[float64]()
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return mo.Some(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsNaN(f) {
			return mo.Some(f)
		}
	}
	return mo.None[float64]()
}

func (req appointmentRequest) toAppointment(loc *time.Location, ws recurrence.WeekStart) (model.Appointment, error) {
	if strings.TrimSpace(req.Start) == "" {
		return model.Appointment{}, errors.New("start is required")
	}
	start, err := parseLocalTime(req.Start, loc)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("start: %w", err)
	}

	a := model.Appointment{
		Title:         req.Title,
		Start:         start,
		DurationHours: parseDuration(req.Duration),
		Source:        model.SourceManual,
	}
	if req.Repeat == nil {
		return a, nil
	}

	spec, err := req.Repeat.toSpec(loc, ws)
	if err != nil {
		return model.Appointment{}, err
	}
	if spec.Frequency != recurrence.None {
		a.Recurrence = mo.Some(spec)
	}
	return a, nil
}

func (rr repeatRequest) toSpec(loc *time.Location, ws recurrence.WeekStart) (recurrence.Spec, error) {
	freq, err := recurrence.ParseFrequency(rr.Frequency)
	if err != nil {
		return recurrence.Spec{}, err
	}

	spec := recurrence.Spec{
		Frequency: freq,
		WeekStart: ws,
	}
	if rr.Interval != nil {
		spec.Interval = mo.Some(*rr.Interval)
	}
	if rr.Weekdays != nil {
		set, err := recurrence.ParseWeekdaySet(rr.Weekdays)
		if err != nil {
			return recurrence.Spec{}, err
		}
		spec.Weekdays = mo.Some(set)
	}
	if rr.Count != nil {
		spec.Count = mo.Some(*rr.Count)
	}
	if rr.Until != "" {
		until, err := parseLocalTime(rr.Until, loc)
		if err != nil {
			return recurrence.Spec{}, fmt.Errorf("until: %w", err)
		}
		spec.Until = mo.Some(until)
	}
	return spec, nil
}
