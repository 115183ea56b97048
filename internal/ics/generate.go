// Package ics renders resolved timetable sessions as an iCalendar document.
//
// Each session becomes one VEVENT anchored at its first occurrence. A week
// pattern that is a single contiguous run compresses to a weekly RRULE with a
// COUNT; a gapped pattern carries the remaining occurrences as an explicit
// RDATE list instead, since a plain weekly rule cannot express holes.
package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "unmcal/internal/log"
	"unmcal/internal/model"
)

const (
	uidSuffix = "@unmcal"

	// icsUTCLayout is the RFC 5545 UTC date-time form used for RDATE
	// values, matching how the library serializes DTSTART/DTEND.
	icsUTCLayout = "20060102T150405Z"
)

// propertyRdate is not exposed as a constant by the library version we pin.
var propertyRdate = ical.ComponentProperty("RDATE")

// GenerationError reports that no calendar could be produced. It is a
// user-level condition ("no sessions selected"), not a crash.
type GenerationError struct {
	Msg string
}

func (e *GenerationError) Error() string {
	return "ics: " + e.Msg
}

// Options controls calendar generation.
type Options struct {
	// ProdID is the PRODID property of the emitted calendar.
	ProdID string
}

// Generate builds a calendar document from the filtered occurrences. The
// input order is preserved in the output. An empty input yields a
// *GenerationError so the caller can tell the student nothing was selected.
func Generate(occurrences []model.ResolvedOccurrence, opts Options) (*ical.Calendar, error) {
	if len(occurrences) == 0 {
		return nil, &GenerationError{Msg: "no sessions selected"}
	}
	if opts.ProdID == "" {
		opts.ProdID = "-//UNMC Timetable//EN"
	}

	cal := ical.NewCalendar()
	cal.SetProductId(opts.ProdID)

	now := time.Now().UTC()
	for _, occ := range occurrences {
		if len(occ.Dates) == 0 {
			return nil, &GenerationError{Msg: "session " + occ.Record.Key() + " resolved to no dates"}
		}
		addSessionEvent(cal, occ, now)
	}

	appLog.Debug("calendar generated", "events", len(occurrences))
	return cal, nil
}

func addSessionEvent(cal *ical.Calendar, occ model.ResolvedOccurrence, stamp time.Time) {
	rec := occ.Record
	first := occ.Dates[0]

	event := cal.AddEvent(eventUID(rec, first))
	event.SetDtStampTime(stamp)
	event.SetSummary(rec.Summary())
	event.SetStartAt(first)
	event.SetEndAt(occ.End(first))
	if rec.Location != "" {
		event.SetLocation(rec.Location)
	}
	event.SetDescription(fmt.Sprintf("Module: %s\nStaff: %s\nSize: %s", rec.ModuleCode, rec.Staff, rec.Size))

	if len(occ.Dates) == 1 {
		return
	}

	if weeklyRun(occ.Dates) {
		// BYDAY must match the serialized DTSTART, which the library
		// writes in UTC; early-morning slots can land on the previous
		// UTC weekday.
		r, err := rrule.NewRRule(rrule.ROption{
			Freq:      rrule.WEEKLY,
			Count:     len(occ.Dates),
			Byweekday: []rrule.Weekday{rruleWeekday(first.UTC().Weekday())},
		})
		if err == nil {
			event.AddRrule(r.String())
			return
		}
		appLog.Error("rrule construction failed; falling back to RDATE list", err, "session", rec.Key())
	}

	for _, d := range occ.Dates[1:] {
		event.AddProperty(propertyRdate, d.UTC().Format(icsUTCLayout))
	}
}

// eventUID derives a stable, collision-free identifier from the session
// identity and its first occurrence.
func eventUID(rec model.SessionRecord, first time.Time) string {
	sum := sha256.Sum256([]byte(rec.Key() + "|" + first.UTC().Format(icsUTCLayout)))
	return hex.EncodeToString(sum[:12]) + uidSuffix
}

// weeklyRun reports whether the dates form one unbroken weekly sequence.
// Occurrence zones are fixed-offset (no DST), so exactly 168h apart means
// consecutive weeks.
func weeklyRun(dates []time.Time) bool {
	for i := 1; i < len(dates); i++ {
		if dates[i].Sub(dates[i-1]) != 7*24*time.Hour {
			return false
		}
	}
	return true
}

func rruleWeekday(d time.Weekday) rrule.Weekday {
	switch d {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}
