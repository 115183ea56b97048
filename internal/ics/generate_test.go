package ics

import (
	"errors"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"unmcal/internal/model"
)

var myt = time.FixedZone("+08", 8*60*60)

func resolved(code, typ string, day time.Weekday, weeks []int) model.ResolvedOccurrence {
	rec := model.SessionRecord{
		ModuleCode:  code,
		ModuleName:  code + " Name",
		Type:        typ,
		Day:         day,
		StartMinute: 9 * 60,
		EndMinute:   10 * 60,
		Location:    "BB80",
		Staff:       "Smith A",
		Size:        "120",
		Weeks:       weeks,
	}

	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, myt) // a Monday
	dayOffset := (int(day) - int(time.Monday) + 7) % 7
	dates := make([]time.Time, 0, len(weeks))
	for _, w := range weeks {
		d := anchor.AddDate(0, 0, (w-1)*7+dayOffset)
		dates = append(dates, time.Date(d.Year(), d.Month(), d.Day(), 9, 0, 0, 0, myt))
	}
	return model.ResolvedOccurrence{Record: rec, Dates: dates, Location: myt}
}

func reparse(t *testing.T, cal *ical.Calendar) []*ical.VEvent {
	t.Helper()
	parsed, err := ical.ParseCalendar(strings.NewReader(cal.Serialize()))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	return parsed.Events()
}

func TestGenerateEmptyInput(t *testing.T) {
	_, err := Generate(nil, Options{})
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if !strings.Contains(genErr.Error(), "no sessions selected") {
		t.Errorf("unexpected message: %v", genErr)
	}
}

func TestGenerateContiguousWeeksUsesRrule(t *testing.T) {
	occ := resolved("COMP1048", "Lecture", time.Wednesday, []int{1, 2, 3})

	cal, err := Generate([]model.ResolvedOccurrence{occ}, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	out := cal.Serialize()
	if !strings.Contains(out, "RRULE:") {
		t.Errorf("contiguous weeks should compress to an RRULE:\n%s", out)
	}
	if strings.Contains(out, "RDATE") {
		t.Errorf("contiguous weeks should not emit RDATE:\n%s", out)
	}
	if !strings.Contains(out, "SUMMARY:COMP1048 Name (Lecture)") {
		t.Errorf("missing summary:\n%s", out)
	}
	if !strings.Contains(out, "LOCATION:BB80") {
		t.Errorf("missing location:\n%s", out)
	}
}

func TestGenerateGappedWeeksUsesRdate(t *testing.T) {
	occ := resolved("COMP1048", "Lecture", time.Wednesday, []int{1, 2, 5})

	cal, err := Generate([]model.ResolvedOccurrence{occ}, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	out := cal.Serialize()
	if strings.Contains(out, "RRULE:") {
		t.Errorf("gapped weeks must not use a weekly rule:\n%s", out)
	}
	if !strings.Contains(out, "RDATE:") {
		t.Errorf("gapped weeks should carry RDATE entries:\n%s", out)
	}
}

func TestRoundTripReproducesResolvedDates(t *testing.T) {
	cases := []struct {
		name  string
		weeks []int
	}{
		{name: "contiguous", weeks: []int{1, 2, 3, 4}},
		{name: "gapped", weeks: []int{1, 3, 4, 7}},
		{name: "single", weeks: []int{2}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			occ := resolved("COMP1048", "Lecture", time.Thursday, tc.weeks)

			cal, err := Generate([]model.ResolvedOccurrence{occ}, Options{})
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}

			events := reparse(t, cal)
			if len(events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(events))
			}

			dates, err := ExpandEventDates(events[0], myt)
			if err != nil {
				t.Fatalf("ExpandEventDates: %v", err)
			}
			if len(dates) != len(occ.Dates) {
				t.Fatalf("round trip produced %d dates, want %d", len(dates), len(occ.Dates))
			}
			for i := range dates {
				if !dates[i].Equal(occ.Dates[i]) {
					t.Errorf("date[%d] = %s, want %s", i, dates[i], occ.Dates[i])
				}
			}
		})
	}
}

func TestRoundTripEarlyMorningSession(t *testing.T) {
	// A 07:00 +08:00 session serializes its DTSTART on the previous UTC
	// weekday, so the weekly rule must be built from the UTC day or the
	// expansion drifts by a day.
	rec := model.SessionRecord{
		ModuleCode:  "COMP1048",
		ModuleName:  "COMP1048 Name",
		Type:        "Lecture",
		Day:         time.Thursday,
		StartMinute: 7 * 60,
		EndMinute:   8 * 60,
		Weeks:       []int{1, 2, 3},
	}
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, myt) // a Monday
	dates := make([]time.Time, 0, len(rec.Weeks))
	for _, w := range rec.Weeks {
		d := anchor.AddDate(0, 0, (w-1)*7+3) // Thursday
		dates = append(dates, time.Date(d.Year(), d.Month(), d.Day(), 7, 0, 0, 0, myt))
	}
	occ := model.ResolvedOccurrence{Record: rec, Dates: dates, Location: myt}

	cal, err := Generate([]model.ResolvedOccurrence{occ}, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	out := cal.Serialize()
	if !strings.Contains(out, "BYDAY=WE") {
		t.Errorf("07:00 +08:00 Thursday is 23:00 UTC Wednesday; rule should carry BYDAY=WE:\n%s", out)
	}

	events := reparse(t, cal)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got, err := ExpandEventDates(events[0], myt)
	if err != nil {
		t.Fatalf("ExpandEventDates: %v", err)
	}
	if len(got) != len(dates) {
		t.Fatalf("round trip produced %d dates, want %d", len(got), len(dates))
	}
	for i := range got {
		if !got[i].Equal(dates[i]) {
			t.Errorf("date[%d] = %s, want %s", i, got[i], dates[i])
		}
	}
}

func TestGenerateUIDsAreUniqueAndStable(t *testing.T) {
	a := resolved("COMP1048", "Lecture", time.Monday, []int{1, 2})
	b := resolved("COMP1048", "Tutorial", time.Monday, []int{1, 2})
	c := resolved("MATH1030", "Lecture", time.Friday, []int{3})

	cal, err := Generate([]model.ResolvedOccurrence{a, b, c}, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	uids := make(map[string]bool)
	for _, ev := range reparse(t, cal) {
		uid := ev.GetProperty(ical.ComponentPropertyUniqueId).Value
		if uids[uid] {
			t.Errorf("duplicate UID %q", uid)
		}
		uids[uid] = true
	}
	if len(uids) != 3 {
		t.Fatalf("expected 3 UIDs, got %d", len(uids))
	}

	// Same input must produce the same UIDs on a second run.
	cal2, err := Generate([]model.ResolvedOccurrence{a, b, c}, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for _, ev := range reparse(t, cal2) {
		uid := ev.GetProperty(ical.ComponentPropertyUniqueId).Value
		if !uids[uid] {
			t.Errorf("UID %q not stable across runs", uid)
		}
	}
}
