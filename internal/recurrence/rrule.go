package recurrence

import (
	"fmt"
	"time"

	"github.com/samber/mo"
	"github.com/teambition/rrule-go"

	"apptcal/internal/wallclock"
)

var rruleDays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// ROption builds the rrule-go options for a Daily or Weekly spec. Dtstart
// and Until are relabeled to UTC so the generator never sees the local
// offset.
func (s Spec) ROption() rrule.ROption {
	opt := rrule.ROption{
		Dtstart:  wallclock.RelabelUTC(s.Start),
		Interval: s.interval(),
		Wkst:     rruleDays[s.WeekStart.Weekday()],
	}

	switch s.Frequency {
	case None:
		opt.Freq = rrule.DAILY
		opt.Count = 1
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
		for _, d := range s.weekdays().Days(s.WeekStart) {
			opt.Byweekday = append(opt.Byweekday, rruleDays[d])
		}
	}

	if c, ok := s.Count.Get(); ok && s.Frequency != None {
		opt.Count = c
	}
	if u, ok := s.Until.Get(); ok {
		opt.Until = wallclock.RelabelUTC(u)
	}
	return opt
}

// String renders the rule in RFC 5545 form, e.g.
// "FREQ=WEEKLY;INTERVAL=1;WKST=MO;COUNT=3;BYDAY=TU". Until is printed from
// its wall-clock fields.
func (s Spec) String() string {
	if s.Frequency == None {
		return "FREQ=NONE"
	}
	opt := s.ROption()
	return opt.RRuleString()
}

// FromROption converts a parsed RRULE into a Spec anchored at start, a
// wall-clock value in the event's zone. Only DAILY and WEEKLY rules with
// INTERVAL, BYDAY (without ordinals), COUNT, UNTIL and WKST are supported.
// A real UNTIL instant is moved into start's location first.
func FromROption(opt rrule.ROption, start time.Time) (Spec, error) {
	spec := Spec{Start: start}
	if opt.Interval > 0 {
		spec.Interval = mo.Some(opt.Interval)
	}

	switch opt.Freq {
	case rrule.DAILY:
		spec.Frequency = Daily
	case rrule.WEEKLY:
		spec.Frequency = Weekly
	default:
		return Spec{}, invalid(fmt.Sprintf("unsupported FREQ %v", opt.Freq))
	}

	if len(opt.Bymonth) > 0 || len(opt.Bymonthday) > 0 || len(opt.Bysetpos) > 0 ||
		len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 || len(opt.Byhour) > 0 ||
		len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0 {
		return Spec{}, invalid("only FREQ, INTERVAL, BYDAY, COUNT, UNTIL and WKST are supported")
	}

	if len(opt.Byweekday) > 0 {
		if spec.Frequency != Weekly {
			return Spec{}, invalid("BYDAY is only supported for WEEKLY rules")
		}
		var set WeekdaySet
		for _, wd := range opt.Byweekday {
			if wd.N() != 0 {
				return Spec{}, invalid(fmt.Sprintf("ordinal weekday %d%s is not supported", wd.N(), weekdayCodes[(wd.Day()+1)%7]))
			}
			set = set.With(time.Weekday((wd.Day() + 1) % 7))
		}
		spec.Weekdays = mo.Some(set)
	}

	if opt.Wkst.Day() == rrule.SU.Day() {
		spec.WeekStart = SundayFirst
	}
	if opt.Count > 0 {
		spec.Count = mo.Some(opt.Count)
	}
	if !opt.Until.IsZero() {
		spec.Until = mo.Some(opt.Until.In(start.Location()))
	}

	return spec, spec.Validate()
}
