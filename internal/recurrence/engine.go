package recurrence

import (
	"fmt"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	"apptcal/internal/wallclock"
)

// DefaultMaxOccurrences caps a single expansion when Expander.MaxOccurrences
// is zero.
const DefaultMaxOccurrences = 10000

// Expander turns Specs into occurrence lists. The zero value is ready to
// use and safe for concurrent calls; it holds no state between calls.
type Expander struct {
	// MaxOccurrences rejects any expansion that would produce more
	// occurrences. Zero means DefaultMaxOccurrences.
	MaxOccurrences int
}

// Expand is Expander{}.Expand.
func Expand(spec Spec) ([]time.Time, error) {
	return Expander{}.Expand(spec)
}

// Between is Expander{}.Between.
func Between(spec Spec, from, to time.Time) ([]time.Time, error) {
	return Expander{}.Between(spec, from, to)
}

func (x Expander) limit() int {
	if x.MaxOccurrences <= 0 {
		return DefaultMaxOccurrences
	}
	return x.MaxOccurrences
}

// Validate checks the invariants that hold for every use of a Spec. An
// unbounded recurring spec passes here; Expand rejects it separately.
func (s Spec) Validate() error {
	switch s.Frequency {
	case None, Daily:
	case Weekly:
		if set, ok := s.Weekdays.Get(); ok && set.Empty() {
			return invalid("weekly rule has an empty weekday set")
		}
		if set, ok := s.Weekdays.Get(); ok && set&^allWeekdays != 0 {
			return invalid(fmt.Sprintf("weekday set %#x has unknown days", uint8(set)))
		}
	default:
		return invalid(fmt.Sprintf("unknown frequency %d", int(s.Frequency)))
	}

	if n, ok := s.Interval.Get(); ok && n < 1 {
		return invalid(fmt.Sprintf("interval must be at least 1, got %d", n))
	}
	if s.Start.IsZero() {
		return invalid("start is required")
	}
	if s.Count.IsPresent() && s.Until.IsPresent() {
		return invalid("count and until are mutually exclusive")
	}
	if c, ok := s.Count.Get(); ok && c < 1 {
		return invalid(fmt.Sprintf("count must be at least 1, got %d", c))
	}
	return nil
}

// Expand returns every occurrence of spec in ascending order, in the
// location of spec.Start. A spec whose Until precedes its Start yields an
// empty result.
func (x Expander) Expand(spec Spec) ([]time.Time, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if !spec.Bounded() {
		return nil, invalid(fmt.Sprintf("%s rule needs a count or an until bound", spec.Frequency))
	}
	if c, ok := spec.Count.Get(); ok && spec.Frequency != None && c > x.limit() {
		return nil, invalid(fmt.Sprintf("count %d exceeds the limit of %d occurrences", c, x.limit()))
	}
	return x.run(spec, time.Time{}, time.Time{}, false)
}

// Between returns the occurrences of spec that fall inside [from, to],
// both ends inclusive. The window bounds the expansion, so recurring
// specs without count or until are accepted here.
func (x Expander) Between(spec Spec, from, to time.Time) ([]time.Time, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, ErrInvalidRange
	}
	return x.run(spec, wallclock.RelabelUTC(from), wallclock.RelabelUTC(to), true)
}

func (x Expander) run(spec Spec, from, to time.Time, windowed bool) ([]time.Time, error) {
	loc := spec.Start.Location()

	var next func() (time.Time, bool)
	switch spec.Frequency {
	case None:
		next = single(spec)
	case Daily, Weekly:
		opt := spec.ROption()
		rule, err := rrule.NewRRule(opt)
		if err != nil {
			return nil, invalid(err.Error())
		}
		next = rule.Iterator()
	default:
		return nil, invalid(fmt.Sprintf("unknown frequency %d", int(spec.Frequency)))
	}

	limit := x.limit()
	out := make([]time.Time, 0)
	for {
		enc, ok := next()
		if !ok {
			break
		}
		if windowed {
			if enc.Before(from) {
				continue
			}
			if enc.After(to) {
				break
			}
		}
		if len(out) == limit {
			return nil, invalid(fmt.Sprintf("expansion exceeds the limit of %d occurrences", limit))
		}
		out = append(out, wallclock.RelabelIn(enc, loc))
	}

	return normalize(out), nil
}

// single yields the encoded start once, unless Until already excludes it.
func single(spec Spec) func() (time.Time, bool) {
	start := wallclock.RelabelUTC(spec.Start)
	done := false
	if until, ok := spec.Until.Get(); ok && start.After(wallclock.RelabelUTC(until)) {
		done = true
	}
	return func() (time.Time, bool) {
		if done {
			return time.Time{}, false
		}
		done = true
		return start, true
	}
}

// normalize sorts ascending and drops exact duplicates in place.
func normalize(ts []time.Time) []time.Time {
	slices.SortFunc(ts, func(a, b time.Time) int { return a.Compare(b) })
	return slices.CompactFunc(ts, func(a, b time.Time) bool { return a.Equal(b) })
}
