// Package wallclock moves date-times between a local zone and a UTC-tagged
// encoding by copying calendar fields.
//
// This is NOT timezone conversion. RelabelUTC(10:00 Pacific/Auckland) is
// 10:00 UTC, not 21:00 UTC the previous day. Recurrence arithmetic runs on
// the relabeled values so that daylight-saving transitions in the local
// zone never shift an occurrence's wall-clock time.
package wallclock

import "time"

// RelabelUTC returns a UTC instant carrying the same year, month, day,
// hour, minute and second as t reads in its own location. Sub-second
// precision is dropped.
func RelabelUTC(t time.Time) time.Time {
	return relabel(t, time.UTC)
}

// RelabelIn is the inverse of RelabelUTC: the fields of t, read in t's own
// location (UTC for encoded values), are rebuilt in loc. A nil loc means
// time.Local.
//
// Wall-clock times that do not exist in loc (the hour skipped by a
// daylight-saving transition) are normalized by time.Date.
func RelabelIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return relabel(t, loc)
}

func relabel(t time.Time, loc *time.Location) time.Time {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	return time.Date(y, mo, d, h, mi, s, 0, loc)
}
