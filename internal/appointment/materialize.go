// Package appointment turns submitted appointments into calendar entries.
package appointment

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"apptcal/internal/model"
	"apptcal/internal/recurrence"
)

// DefaultDurationHours applies when an appointment has no usable duration.
const DefaultDurationHours = 1.0

// Materializer expands appointments into entries. The zero value uses
// DefaultDurationHours and the engine's default occurrence cap.
type Materializer struct {
	Expander recurrence.Expander

	// DefaultDuration overrides DefaultDurationHours when positive.
	DefaultDuration float64

	// NewID generates series IDs; nil means uuid.NewString.
	NewID func() string
}

// Materialize is Materializer{}.Materialize.
func Materialize(a model.Appointment) ([]model.Entry, error) {
	return Materializer{}.Materialize(a)
}

// Materialize returns one entry per occurrence of a, in ascending start
// order. Errors come only from expanding an attached recurrence.
func (m Materializer) Materialize(a model.Appointment) ([]model.Entry, error) {
	starts, err := m.Expander.Expand(m.spec(a))
	if err != nil {
		return nil, err
	}
	return m.entries(a, starts), nil
}

// MaterializeBetween is Materialize restricted to occurrences starting
// inside [from, to]. Repeat rules without count or until are allowed.
func (m Materializer) MaterializeBetween(a model.Appointment, from, to time.Time) ([]model.Entry, error) {
	starts, err := m.Expander.Between(m.spec(a), from, to)
	if err != nil {
		return nil, err
	}
	return m.entries(a, starts), nil
}

func (m Materializer) spec(a model.Appointment) recurrence.Spec {
	spec, ok := a.Recurrence.Get()
	if !ok {
		return recurrence.Single(a.Start)
	}
	spec.Start = a.Start
	return spec
}

func (m Materializer) entries(a model.Appointment, starts []time.Time) []model.Entry {
	length := hoursToDuration(m.duration(a.DurationHours))
	source := a.Source
	if source == "" {
		source = model.SourceManual
	}
	series := m.newID()

	out := make([]model.Entry, 0, len(starts))
	for _, start := range starts {
		out = append(out, model.Entry{
			SeriesID: series,
			Source:   source,
			UID:      a.UID,
			Title:    a.Title,
			Start:    start,
			End:      start.Add(length),
		})
	}
	return out
}

func (m Materializer) duration(opt mo.Option[float64]) float64 {
	if hours, ok := opt.Get(); ok && hours >= 0 && !math.IsInf(hours, 0) {
		return hours
	}
	if m.DefaultDuration > 0 && !math.IsInf(m.DefaultDuration, 0) {
		return m.DefaultDuration
	}
	return DefaultDurationHours
}

func (m Materializer) newID() string {
	if m.NewID != nil {
		return m.NewID()
	}
	return uuid.NewString()
}

// hoursToDuration rounds to whole seconds.
func hoursToDuration(h float64) time.Duration {
	return time.Duration(math.Round(h*3600)) * time.Second
}
