package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"apptcal/internal/model"
)

const productID = "-//apptcal//appointments//EN"

// Export renders entries as a VCALENDAR document, one VEVENT per entry.
// UIDs are derived from the series ID and start so re-exports are stable.
func Export(entries []model.Entry, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)

	for _, e := range entries {
		ev := cal.AddEvent(entryUID(e))
		ev.SetSummary(e.Title)
		ev.SetStartAt(e.Start)
		ev.SetEndAt(e.End)
		ev.SetDtStampTime(now)
	}

	return cal.Serialize()
}

func entryUID(e model.Entry) string {
	stamp := e.Start.UTC().Format("20060102T150405Z")
	if e.UID != "" {
		return fmt.Sprintf("%s-%s", e.UID, stamp)
	}
	return fmt.Sprintf("%s-%s@apptcal", e.SeriesID, stamp)
}
