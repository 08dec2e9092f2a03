package calendar

import (
	"math"
	"strings"
	"testing"
	"time"
)

func mustLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func TestFormatLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{
			name: "all fields",
			ev:   Event{Name: "CPI m/m", Forecast: "0.3%", Previous: "0.2%", Actual: "0.4%"},
			want: "CPI m/m — Forecast: 0.3% | Previous: 0.2% | Actual: 0.4%",
		},
		{
			name: "missing fields",
			ev:   Event{Name: "Initial Jobless Claims", Previous: "231K"},
			want: "Initial Jobless Claims — Forecast: N/A | Previous: 231K | Actual: N/A",
		},
		{
			name: "whitespace counts as missing",
			ev:   Event{Name: "X", Forecast: "  "},
			want: "X — Forecast: N/A | Previous: N/A | Actual: N/A",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatLine(tt.ev); got != tt.want {
				t.Fatalf("FormatLine = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyNormalization(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t)
	a := NewKey("CPI m/m", time.Date(2025, 10, 15, 8, 30, 0, 0, loc))
	b := NewKey(" CPI m/m ", time.Date(2025, 10, 15, 12, 30, 0, 400, time.UTC))
	if a != b {
		t.Fatalf("keys differ: %v vs %v", a, b)
	}
	got, ok := ParseKey(a.String())
	if !ok || got != a {
		t.Fatalf("ParseKey(%q) = %v, %v", a.String(), got, ok)
	}
	if _, ok := ParseKey("no-separator"); ok {
		t.Fatal("ParseKey accepted malformed key")
	}
}

func TestWeekBounds(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t)
	tests := []struct {
		now   time.Time
		start time.Time
	}{
		{time.Date(2025, 10, 15, 9, 0, 0, 0, loc), time.Date(2025, 10, 13, 0, 0, 0, 0, loc)},
		{time.Date(2025, 10, 13, 0, 0, 0, 0, loc), time.Date(2025, 10, 13, 0, 0, 0, 0, loc)},
		{time.Date(2025, 10, 19, 23, 59, 0, 0, loc), time.Date(2025, 10, 13, 0, 0, 0, 0, loc)},
		// Sunday evening in New York is already Monday in UTC.
		{time.Date(2025, 10, 20, 2, 0, 0, 0, time.UTC), time.Date(2025, 10, 13, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		start, end := WeekBounds(tt.now, loc)
		if !start.Equal(tt.start) {
			t.Fatalf("WeekBounds(%v) start = %v, want %v", tt.now, start, tt.start)
		}
		if !end.Equal(tt.start.AddDate(0, 0, 7)) {
			t.Fatalf("WeekBounds(%v) end = %v", tt.now, end)
		}
	}
}

func TestDigestWeek(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t)
	sunday := time.Date(2025, 10, 19, 18, 0, 0, 0, loc)
	start, _ := DigestWeek(sunday, loc)
	if want := time.Date(2025, 10, 20, 0, 0, 0, 0, loc); !start.Equal(want) {
		t.Fatalf("DigestWeek(sunday) = %v, want %v", start, want)
	}
	wed := time.Date(2025, 10, 15, 18, 0, 0, 0, loc)
	start, _ = DigestWeek(wed, loc)
	if want := time.Date(2025, 10, 13, 0, 0, 0, 0, loc); !start.Equal(want) {
		t.Fatalf("DigestWeek(wednesday) = %v, want %v", start, want)
	}
}

func TestFormatWeek(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t)
	start := time.Date(2025, 10, 13, 0, 0, 0, 0, loc)

	if got := FormatWeek(nil, start, loc); got != "No events scheduled for the week of Oct 13, 2025." {
		t.Fatalf("empty week = %q", got)
	}

	evs := []Event{
		{Name: "Initial Jobless Claims", ScheduledTime: time.Date(2025, 10, 16, 8, 30, 0, 0, loc), Previous: "231K"},
		{Name: "CPI m/m", ScheduledTime: time.Date(2025, 10, 15, 8, 30, 0, 0, loc), Actual: "0.3%"},
	}
	got := FormatWeek(evs, start, loc)
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3: %q", len(lines), got)
	}
	if lines[0] != "Economic calendar: week of Mon Oct 13, 2025" {
		t.Fatalf("header = %q", lines[0])
	}
	if want := "Wed 10/15 08:30 CPI m/m — Forecast: N/A | Previous: N/A | Actual: 0.3%"; lines[1] != want {
		t.Fatalf("line 1 = %q, want %q", lines[1], want)
	}
	if !strings.HasPrefix(lines[2], "Thu 10/16 08:30 Initial Jobless Claims") {
		t.Fatalf("line 2 = %q", lines[2])
	}
}

func TestDedupeKeepsLast(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 10, 15, 12, 30, 0, 0, time.UTC)
	got := Dedupe([]Event{
		{Name: "A", ScheduledTime: at, Actual: "1"},
		{Name: "B", ScheduledTime: at},
		{Name: "A", ScheduledTime: at, Actual: "2"},
	})
	if len(got) != 2 || got[0].Actual != "2" || got[1].Name != "B" {
		t.Fatalf("Dedupe = %+v", got)
	}
}

func TestNumberFormats(t *testing.T) {
	t.Parallel()
	tests := []struct{ got, want string }{
		{Percent(0.3), "0.3%"},
		{Percent(-0.06), "-0.1%"},
		{Percent(-0.04), "0.0%"},
		{Percent(math.Copysign(0, -1)), "0.0%"},
		{Thousands(231), "231K"},
		{Thousands(1234), "1,234K"},
		{Millions(7227), "7.23M"},
		{PercentRange(4.25, 4.5), "4.25-4.50%"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("got %q, want %q", tt.got, tt.want)
		}
	}
}
