package model

import (
	"fmt"
	"time"
)

// SessionRecord is one row of the parsed list-view timetable: a class session
// that recurs on a fixed weekday and time slot during a set of term weeks.
type SessionRecord struct {
	ModuleCode string
	ModuleName string
	// Type is the session kind as printed by the timetabling site
	// (e.g. "Lecture", "Computing", "Tutorial").
	Type string
	// Size is the planned class size column, kept verbatim for the
	// event description.
	Size  string
	Staff string

	Day time.Weekday

	// StartMinute / EndMinute are wall-clock minutes from midnight in the
	// timetable's local zone. Invariant: StartMinute < EndMinute.
	StartMinute int
	EndMinute   int

	Location string

	// Weeks are the term week numbers (1-based, relative to the anchor
	// Monday) during which the session runs. Sorted ascending, no
	// duplicates, never empty for a valid record.
	Weeks []int
}

// Key returns the stable identity of a session used for selection state and
// event UIDs: module, type, weekday and time slot. Two physical rows with the
// same key describe the same session (e.g. a wrapped row) and are merged by
// the parser.
func (r SessionRecord) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s-%s",
		r.ModuleCode, r.Type, r.Day, minuteClock(r.StartMinute), minuteClock(r.EndMinute))
}

// Summary returns the calendar event title, "Module Name (Type)".
func (r SessionRecord) Summary() string {
	return r.ModuleName + " (" + r.Type + ")"
}

// Label returns the human-facing selection label, "CODE - Module Name".
func (r SessionRecord) Label() string {
	return r.ModuleCode + " - " + r.ModuleName
}

func minuteClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ResolvedOccurrence is a SessionRecord bound to its concrete dates within
// one academic term, all in a single fixed zone.
type ResolvedOccurrence struct {
	Record SessionRecord

	// Dates holds the start timestamp of every occurrence, ascending and
	// duplicate-free. The end of each occurrence is Dates[i] plus the
	// session duration.
	Dates []time.Time

	// Location is the zone all Dates are expressed in.
	Location *time.Location
}

// Duration returns the length of a single occurrence.
func (o ResolvedOccurrence) Duration() time.Duration {
	return time.Duration(o.Record.EndMinute-o.Record.StartMinute) * time.Minute
}

// End returns the end timestamp for the occurrence starting at the given date.
func (o ResolvedOccurrence) End(start time.Time) time.Time {
	return start.Add(o.Duration())
}
