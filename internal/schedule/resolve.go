// Package schedule turns a session's week pattern into concrete dates within
// one academic term.
package schedule

import (
	"fmt"
	"time"

	appLog "unmcal/internal/log"
	"unmcal/internal/model"
)

// ResolutionError reports an anchor or week pattern that cannot produce a
// valid date set.
type ResolutionError struct {
	Msg string
}

func (e *ResolutionError) Error() string {
	return "schedule: " + e.Msg
}

// ParseAnchor parses a "YYYY-MM-DD" anchor date in the given zone and
// verifies it is a Monday. Week numbers in the timetable are offsets from
// this date.
func ParseAnchor(s string, loc *time.Location) (time.Time, error) {
	anchor, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, &ResolutionError{Msg: fmt.Sprintf("bad anchor date %q: expected YYYY-MM-DD", s)}
	}
	if anchor.Weekday() != time.Monday {
		return time.Time{}, &ResolutionError{Msg: fmt.Sprintf("anchor date %s is a %s, not a Monday", s, anchor.Weekday())}
	}
	return anchor, nil
}

// Resolve binds a session record to its occurrence dates: for each week w in
// the record's pattern, anchor + 7*(w-1) days shifted to the session's
// weekday, at the session's start time in loc. Dates come out ascending with
// no duplicates.
func Resolve(rec model.SessionRecord, anchor time.Time, loc *time.Location) (model.ResolvedOccurrence, error) {
	occ := model.ResolvedOccurrence{Record: rec, Location: loc}

	if anchor.Weekday() != time.Monday {
		return occ, &ResolutionError{Msg: fmt.Sprintf("anchor %s is a %s, not a Monday",
			anchor.Format("2006-01-02"), anchor.Weekday())}
	}
	if len(rec.Weeks) == 0 {
		return occ, &ResolutionError{Msg: "session " + rec.Key() + " has an empty week pattern"}
	}

	// Monday-based offset; time.Weekday counts Sunday as 0.
	dayOffset := (int(rec.Day) - int(time.Monday) + 7) % 7

	dates := make([]time.Time, 0, len(rec.Weeks))
	var prev time.Time
	for _, w := range rec.Weeks {
		day := anchor.AddDate(0, 0, (w-1)*7+dayOffset)
		start := time.Date(day.Year(), day.Month(), day.Day(),
			rec.StartMinute/60, rec.StartMinute%60, 0, 0, loc)
		if !prev.IsZero() && !start.After(prev) {
			// Weeks are sorted by the parser; a non-increasing date
			// here means the record was built by hand and is broken.
			return occ, &ResolutionError{Msg: "session " + rec.Key() + " produced out-of-order dates"}
		}
		dates = append(dates, start)
		prev = start
	}

	occ.Dates = dates
	return occ, nil
}

// ResolveAll resolves every record against the same anchor. It fails on the
// first bad record; the anchor has already been validated once, so in
// practice this only trips on empty week patterns.
func ResolveAll(records []model.SessionRecord, anchor time.Time, loc *time.Location) ([]model.ResolvedOccurrence, error) {
	out := make([]model.ResolvedOccurrence, 0, len(records))
	for _, rec := range records {
		occ, err := Resolve(rec, anchor, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, occ)
	}
	appLog.Debug("schedule resolved", "sessions", len(out), "anchor", anchor.Format("2006-01-02"))
	return out, nil
}
