package ics

import (
	"errors"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

// ExpandEventDates re-expands a generated VEVENT into its concrete start
// times in loc: DTSTART plus either the weekly RRULE occurrences or the
// RDATE list. It is the inverse of Generate's compression and backs the
// round-trip guarantee that no occurrence is gained or lost on the way into
// the calendar file.
func ExpandEventDates(event *ical.VEvent, loc *time.Location) ([]time.Time, error) {
	start, err := event.GetStartAt()
	if err != nil {
		return nil, err
	}

	dates := []time.Time{start}

	if prop := event.GetProperty(ical.ComponentPropertyRrule); prop != nil && prop.Value != "" {
		r, err := rrule.StrToRRule(prop.Value)
		if err != nil {
			return nil, err
		}
		r.DTStart(start)
		dates = r.All()
		if len(dates) == 0 {
			return nil, errors.New("rrule expanded to no occurrences")
		}
	}

	for _, prop := range event.GetProperties(propertyRdate) {
		for _, part := range strings.Split(prop.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := time.Parse(icsUTCLayout, part)
			if err != nil {
				return nil, err
			}
			dates = append(dates, t)
		}
	}

	for i := range dates {
		dates[i] = dates[i].In(loc)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}
