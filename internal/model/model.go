package model

import (
	"time"

	"github.com/samber/mo"

	"apptcal/internal/recurrence"
)

// SourceManual marks entries created through the appointment form rather
// than imported from an ICS feed.
const SourceManual = "manual"

// Appointment is what the appointment form submits: a title, a wall-clock
// start in the user's zone, a duration and an optional repeat rule.
type Appointment struct {
	Title string
	Start time.Time

	// DurationHours is the length of every occurrence. Zero gives an
	// instant. None, negative, NaN and infinite values fall back to the
	// materializer default.
	DurationHours mo.Option[float64]

	// Recurrence, when present, is expanded from Start. Its own Start is
	// overwritten with the appointment's Start.
	Recurrence mo.Option[recurrence.Spec]

	// Source is SourceManual or an ICS feed ID. Empty means SourceManual.
	Source string
	// UID is the upstream iCalendar UID for imported events.
	UID string
}

// Entry is a single concrete calendar item handed to the calendar view.
type Entry struct {
	// SeriesID is shared by every entry materialized from one Appointment.
	SeriesID string
	Source   string
	UID      string

	Title string
	Start time.Time
	End   time.Time
}
