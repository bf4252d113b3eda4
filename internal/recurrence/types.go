package recurrence

import (
	"fmt"
	"math/bits"
	"strings"
	"time"

	"github.com/samber/mo"
)

// Frequency is the repeat unit of a Spec. The set is closed: every switch
// over Frequency handles each value explicitly.
type Frequency int

const (
	None Frequency = iota
	Daily
	Weekly
)

func (f Frequency) String() string {
	switch f {
	case None:
		return "none"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	default:
		return fmt.Sprintf("Frequency(%d)", int(f))
	}
}

// ParseFrequency accepts the repeat-option keys used by the appointment
// form ("no-repeat", "daily", "weekly") and RFC 5545 FREQ names.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "no-repeat":
		return None, nil
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	default:
		return None, &InvalidSpecError{Reason: fmt.Sprintf("unsupported frequency %q", s)}
	}
}

// WeekStart decides which day opens a week block for WEEKLY rules with an
// interval above one, and the order of days inside a block. The zero value
// is MondayFirst, matching the RFC 5545 WKST default.
type WeekStart int

const (
	MondayFirst WeekStart = iota
	SundayFirst
)

func (w WeekStart) Weekday() time.Weekday {
	if w == SundayFirst {
		return time.Sunday
	}
	return time.Monday
}

func (w WeekStart) String() string {
	if w == SundayFirst {
		return "sunday"
	}
	return "monday"
}

func ParseWeekStart(s string) (WeekStart, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "monday", "mo":
		return MondayFirst, nil
	case "sunday", "su":
		return SundayFirst, nil
	default:
		return MondayFirst, fmt.Errorf("unsupported week start %q", s)
	}
}

// WeekdaySet is a set of days of the week; bit n stands for time.Weekday(n).
type WeekdaySet uint8

const allWeekdays WeekdaySet = 1<<7 - 1

func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.With(d)
	}
	return s
}

// With returns s plus d. Days outside Sunday..Saturday are ignored.
func (s WeekdaySet) With(d time.Weekday) WeekdaySet {
	if d < time.Sunday || d > time.Saturday {
		return s
	}
	return s | 1<<uint(d)
}

func (s WeekdaySet) Has(d time.Weekday) bool {
	if d < time.Sunday || d > time.Saturday {
		return false
	}
	return s&(1<<uint(d)) != 0
}

func (s WeekdaySet) Len() int { return bits.OnesCount8(uint8(s & allWeekdays)) }

func (s WeekdaySet) Empty() bool { return s&allWeekdays == 0 }

// Days lists the members in week order starting at ws.
func (s WeekdaySet) Days(ws WeekStart) []time.Weekday {
	out := make([]time.Weekday, 0, s.Len())
	first := ws.Weekday()
	for i := 0; i < 7; i++ {
		d := (first + time.Weekday(i)) % 7
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

var weekdayCodes = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

func (s WeekdaySet) String() string {
	codes := make([]string, 0, s.Len())
	for _, d := range s.Days(MondayFirst) {
		codes = append(codes, weekdayCodes[d])
	}
	return strings.Join(codes, ",")
}

// ParseWeekday accepts two-letter RFC 5545 codes ("TU"), short names
// ("tue") and full English names ("Tuesday"), case-insensitively.
func ParseWeekday(s string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if v == name || v == name[:3] || v == strings.ToLower(weekdayCodes[d]) {
			return d, nil
		}
	}
	return time.Sunday, &InvalidSpecError{Reason: fmt.Sprintf("unknown weekday %q", s)}
}

func ParseWeekdaySet(codes []string) (WeekdaySet, error) {
	var s WeekdaySet
	for _, c := range codes {
		d, err := ParseWeekday(c)
		if err != nil {
			return 0, err
		}
		s = s.With(d)
	}
	return s, nil
}

// Spec describes a repeating appointment. Start, Until and the window
// bounds passed to Between are wall-clock values read in their own
// location; occurrences come back in Start's location.
type Spec struct {
	Frequency Frequency

	// Interval counts frequency units between repetitions. None means 1;
	// an explicit value below 1 is invalid.
	Interval mo.Option[int]

	// Weekdays is only consulted for Weekly rules. None defaults to the
	// weekday of Start; Some(empty set) is invalid.
	Weekdays mo.Option[WeekdaySet]

	Start time.Time

	// At most one of Count and Until may be set. Until is inclusive.
	Count mo.Option[int]
	Until mo.Option[time.Time]

	WeekStart WeekStart
}

// Single returns a non-repeating spec at start.
func Single(start time.Time) Spec {
	return Spec{Frequency: None, Start: start, Count: mo.Some(1)}
}

func (s Spec) interval() int {
	return s.Interval.OrElse(1)
}

// weekdays resolves the effective set for a Weekly rule.
func (s Spec) weekdays() WeekdaySet {
	if set, ok := s.Weekdays.Get(); ok {
		return set
	}
	return NewWeekdaySet(s.Start.Weekday())
}

// Bounded reports whether the spec ends on its own, without a window.
func (s Spec) Bounded() bool {
	switch s.Frequency {
	case None:
		return true
	case Daily, Weekly:
		return s.Count.IsPresent() || s.Until.IsPresent()
	default:
		return false
	}
}
