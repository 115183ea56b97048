package timetable

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

const headerRow = `<tr><td>Module</td><td>Name</td><td>Type</td><td>Size</td><td>Period</td>` +
	`<td>Start</td><td>End</td><td>Duration</td><td>Room</td><td>Campus</td><td>Dept</td>` +
	`<td>Staff</td><td>Weeks</td></tr>`

func sessionRow(code, name, typ, start, end, room, staff, weeks string) string {
	return `<tr><td>` + code + `</td><td>` + name + `</td><td>` + typ + `</td><td>120</td><td></td>` +
		`<td>` + start + `</td><td>` + end + `</td><td>1:00</td><td>` + room + `</td><td></td><td></td>` +
		`<td>` + staff + `</td><td>` + weeks + `</td></tr>`
}

func dayTable(day string, rows ...string) string {
	return `<p>` + day + `</p><table>` + headerRow + strings.Join(rows, "") + `</table>`
}

func page(parts ...string) string {
	return `<html><body><p>Programme of Study</p>` + strings.Join(parts, "") + `</body></html>`
}

func TestParseSessionCount(t *testing.T) {
	html := page(
		dayTable("Monday",
			sessionRow("COMP1048", "Databases", "Lecture", "9:00", "10:00", "BB80", "Smith A", "23-30, 32-35"),
			sessionRow("COMP1049", "Algorithms", "Tutorial", "14:00", "15:00", "F1A04", "Lee B", "24-30"),
		),
		dayTable("Wednesday",
			sessionRow("MATH1030", "Calculus", "Lecture", "10:00", "12:00", "TCR1", "Tan C", "23-35"),
		),
	)

	records, err := Parse(strings.NewReader(html))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(records))
	}

	first := records[0]
	if first.ModuleCode != "COMP1048" || first.Type != "Lecture" || first.Day != time.Monday {
		t.Errorf("unexpected first record: %+v", first)
	}
	if first.StartMinute != 9*60 || first.EndMinute != 10*60 {
		t.Errorf("unexpected times: %d-%d", first.StartMinute, first.EndMinute)
	}
	if first.Location != "BB80" || first.Staff != "Smith A" {
		t.Errorf("unexpected location/staff: %q %q", first.Location, first.Staff)
	}
	wantWeeks := []int{23, 24, 25, 26, 27, 28, 29, 30, 32, 33, 34, 35}
	if !reflect.DeepEqual(first.Weeks, wantWeeks) {
		t.Errorf("weeks = %v, want %v", first.Weeks, wantWeeks)
	}

	if records[2].Day != time.Wednesday {
		t.Errorf("third record day = %s, want Wednesday", records[2].Day)
	}
}

func TestParseMergesWrappedRows(t *testing.T) {
	// The same session listed twice (wrapped over two physical rows with
	// split week ranges) must come out as one record with the union of
	// the week sets.
	html := page(dayTable("Friday",
		sessionRow("COMP2001", "Operating Systems", "Lecture", "11:00", "12:00", "BB80", "Ng D", "23-26"),
		sessionRow("COMP2001", "Operating Systems", "Lecture", "11:00", "12:00", "", "", "29-31"),
	))

	records, err := Parse(strings.NewReader(html))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected wrapped rows to merge into 1 session, got %d", len(records))
	}
	want := []int{23, 24, 25, 26, 29, 30, 31}
	if !reflect.DeepEqual(records[0].Weeks, want) {
		t.Errorf("merged weeks = %v, want %v", records[0].Weeks, want)
	}
	if records[0].Location != "BB80" || records[0].Staff != "Ng D" {
		t.Errorf("merge lost fields: %+v", records[0])
	}
}

func TestParseRejectsGridView(t *testing.T) {
	// Grid view has tables but no weekday headers preceding them.
	html := `<html><body><table><tr><td>08:00</td><td>09:00</td></tr></table></body></html>`

	_, err := Parse(strings.NewReader(html))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if parseErr.Day != "" {
		t.Errorf("grid-view rejection should be document-level, got day %q", parseErr.Day)
	}
	if !strings.Contains(parseErr.UserMessage(), "list view") {
		t.Errorf("user message should mention list view: %q", parseErr.UserMessage())
	}
}

func TestParseRejectsBadTimeRange(t *testing.T) {
	html := page(dayTable("Tuesday",
		sessionRow("COMP1048", "Databases", "Lecture", "10:00", "9:00", "BB80", "Smith A", "23-30"),
	))

	_, err := Parse(strings.NewReader(html))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if parseErr.Day != "Tuesday" || parseErr.Row != 1 {
		t.Errorf("error location = %q row %d, want Tuesday row 1", parseErr.Day, parseErr.Row)
	}
}

func TestParseRejectsMissingColumns(t *testing.T) {
	html := page(`<p>Monday</p><table>` + headerRow +
		`<tr><td>COMP1048</td><td>Databases</td></tr></table>`)

	_, err := Parse(strings.NewReader(html))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestParseWeeks(t *testing.T) {
	cases := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "23-30, 32-35", want: []int{23, 24, 25, 26, 27, 28, 29, 30, 32, 33, 34, 35}},
		{in: "5", want: []int{5}},
		{in: "1-3", want: []int{1, 2, 3}},
		{in: "3, 1-2, 3", want: []int{1, 2, 3}}, // duplicates collapse
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "5-3", wantErr: true},
		{in: "0-2", wantErr: true},
		{in: "4,", wantErr: true},
	}

	for _, tc := range cases {
		got, err := ParseWeeks(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseWeeks(%q): expected error, got %v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseWeeks(%q): %v", tc.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ParseWeeks(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
