// Package timetable parses the timetabling site's "list view" page into
// session records. Only the list view is supported: the page is a series of
// weekday headers, each followed by a table with one row per class session.
// The grid/calendar view renders sessions as positioned cells and carries no
// per-row structure, so it is rejected outright.
package timetable

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	appLog "unmcal/internal/log"
	"unmcal/internal/model"
)

// The list view prints exactly 13 columns per session row. Only a subset is
// meaningful for calendar generation; the rest (activity id, duration, ...)
// are ignored by position.
const (
	listViewColumns = 13

	colModuleCode = 0
	colModuleName = 1
	colType       = 2
	colSize       = 3
	colStart      = 5
	colEnd        = 6
	colLocation   = 8
	colStaff      = 11
	colWeeks      = 12
)

// ParseError reports input that does not match the expected list-view
// structure. UserMessage is safe to surface directly to the student.
type ParseError struct {
	// Msg describes what was wrong.
	Msg string
	// Day and Row locate the offending row when known (Row is 1-based
	// within the day's table, 0 when the error is document-level).
	Day string
	Row int
}

func (e *ParseError) Error() string {
	if e.Day != "" {
		return fmt.Sprintf("timetable: %s (%s, row %d)", e.Msg, e.Day, e.Row)
	}
	return "timetable: " + e.Msg
}

// UserMessage returns the message shown to the student for this error.
func (e *ParseError) UserMessage() string {
	if e.Day == "" {
		return "The page could not be read as a timetable. Make sure the timetable is switched to list view before copying the URL."
	}
	return fmt.Sprintf("The timetable could not be read: %s (%s, row %d).", e.Msg, e.Day, e.Row)
}

var dayNames = map[string]time.Weekday{
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
	"Sunday":    time.Sunday,
}

// Parse reads a list-view timetable page and returns its session records in
// document order. Physical rows that repeat an existing session key (wrapped
// rows, or the same slot listed under two week ranges) are merged into one
// record with the union of their week sets.
func Parse(r io.Reader) ([]model.SessionRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, &ParseError{Msg: "invalid HTML: " + err.Error()}
	}

	records := make([]model.SessionRecord, 0)
	index := make(map[string]int) // session key -> position in records
	daysSeen := 0

	var rowErr *ParseError
	doc.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		day, ok := dayNames[strings.TrimSpace(p.Text())]
		if !ok {
			return true
		}

		table := p.NextAllFiltered("table").First()
		if table.Length() == 0 {
			// A trailing day header with no table is tolerated; the
			// site prints empty days this way.
			return true
		}
		daysSeen++

		dayName := strings.TrimSpace(p.Text())
		rows := table.Find("tr")
		rows.EachWithBreak(func(i int, row *goquery.Selection) bool {
			if i == 0 {
				return true // header row
			}
			cells := cellTexts(row)
			rec, err := parseRow(cells, day)
			if err != nil {
				err.Day = dayName
				err.Row = i
				rowErr = err
				return false
			}

			key := rec.Key()
			if at, dup := index[key]; dup {
				records[at] = mergeRecords(records[at], rec)
			} else {
				index[key] = len(records)
				records = append(records, rec)
			}
			return true
		})
		return rowErr == nil
	})

	if rowErr != nil {
		return nil, rowErr
	}
	if daysSeen == 0 {
		return nil, &ParseError{Msg: "no weekday sections found; the page is not a list-view timetable"}
	}

	appLog.Debug("timetable parsed", "days", daysSeen, "sessions", len(records))
	return records, nil
}

func cellTexts(row *goquery.Selection) []string {
	cells := make([]string, 0, listViewColumns)
	row.Find("td, th").Each(func(_ int, c *goquery.Selection) {
		cells = append(cells, strings.TrimSpace(c.Text()))
	})
	return cells
}

func parseRow(cells []string, day time.Weekday) (model.SessionRecord, *ParseError) {
	var rec model.SessionRecord

	if len(cells) != listViewColumns {
		return rec, &ParseError{Msg: fmt.Sprintf("expected %d columns, found %d", listViewColumns, len(cells))}
	}

	rec.ModuleCode = cells[colModuleCode]
	rec.ModuleName = cells[colModuleName]
	rec.Type = cells[colType]
	rec.Size = cells[colSize]
	rec.Staff = cells[colStaff]
	rec.Location = cells[colLocation]
	rec.Day = day

	if rec.ModuleCode == "" || rec.ModuleName == "" {
		return rec, &ParseError{Msg: "missing module code or name"}
	}
	if rec.Type == "" {
		return rec, &ParseError{Msg: "missing session type"}
	}

	start, err := parseClock(cells[colStart])
	if err != nil {
		return rec, &ParseError{Msg: "bad start time " + strconv.Quote(cells[colStart])}
	}
	end, err := parseClock(cells[colEnd])
	if err != nil {
		return rec, &ParseError{Msg: "bad end time " + strconv.Quote(cells[colEnd])}
	}
	if start >= end {
		return rec, &ParseError{Msg: fmt.Sprintf("end time %s is not after start time %s", cells[colEnd], cells[colStart])}
	}
	rec.StartMinute = start
	rec.EndMinute = end

	weeks, werr := ParseWeeks(cells[colWeeks])
	if werr != nil {
		return rec, &ParseError{Msg: werr.Error()}
	}
	rec.Weeks = weeks

	return rec, nil
}

// parseClock converts "9:00" / "14:30" into minutes from midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		// The site drops the leading zero for morning slots.
		t, err = time.Parse("3:04", s)
		if err != nil {
			return 0, err
		}
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ParseWeeks parses a week-pattern cell such as "23-30, 32-35" or "5" into a
// sorted, duplicate-free set of week numbers. The grammar is a comma list of
// positive integers and inclusive ranges; anything else is rejected rather
// than guessed at.
func ParseWeeks(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty week pattern")
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty entry in week pattern %q", s)
		}

		lo, hi := part, part
		if i := strings.IndexAny(part, "-–"); i >= 0 {
			lo = strings.TrimSpace(part[:i])
			hi = strings.TrimSpace(strings.TrimLeft(part[i:], "-–"))
		}

		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("bad week number %q in pattern %q", lo, s)
		}
		end, err := strconv.Atoi(hi)
		if err != nil {
			return nil, fmt.Errorf("bad week number %q in pattern %q", hi, s)
		}
		if start < 1 || end < start {
			return nil, fmt.Errorf("bad week range %q in pattern %q", part, s)
		}
		for w := start; w <= end; w++ {
			seen[w] = true
		}
	}

	weeks := make([]int, 0, len(seen))
	for w := range seen {
		weeks = append(weeks, w)
	}
	sort.Ints(weeks)
	return weeks, nil
}

// mergeRecords folds a duplicate physical row into the record already emitted
// for the same session key: week sets union, locations joined when they
// differ, longer staff/size strings win (wrapped rows leave them blank).
func mergeRecords(dst, src model.SessionRecord) model.SessionRecord {
	seen := make(map[int]bool, len(dst.Weeks))
	for _, w := range dst.Weeks {
		seen[w] = true
	}
	for _, w := range src.Weeks {
		if !seen[w] {
			dst.Weeks = append(dst.Weeks, w)
			seen[w] = true
		}
	}
	sort.Ints(dst.Weeks)

	if src.Location != "" && src.Location != dst.Location {
		if dst.Location == "" {
			dst.Location = src.Location
		} else {
			dst.Location += "; " + src.Location
		}
	}
	if len(src.Staff) > len(dst.Staff) {
		dst.Staff = src.Staff
	}
	if len(src.Size) > len(dst.Size) {
		dst.Size = src.Size
	}
	return dst
}
