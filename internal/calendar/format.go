package calendar

import (
	"math"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Missing is rendered for any empty value field.
const Missing = "N/A"

// Delayed stands in for an actual value that never arrived.
const Delayed = "not found / delayed"

// FormatLine renders the notification template for one event.
func FormatLine(e Event) string {
	return e.Name + " — Forecast: " + orMissing(e.Forecast) +
		" | Previous: " + orMissing(e.Previous) +
		" | Actual: " + orMissing(e.Actual)
}

func orMissing(s string) string {
	if strings.TrimSpace(s) == "" {
		return Missing
	}
	return s
}

// WeekBounds returns [Monday 00:00, next Monday 00:00) in loc for the week
// containing now.
func WeekBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	start := time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 7)
}

// DigestWeek picks the week a digest posted at now should cover: the coming
// week on weekends, the current one otherwise.
func DigestWeek(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		start, _ := WeekBounds(t, loc)
		next := start.AddDate(0, 0, 7)
		return next, next.AddDate(0, 0, 7)
	}
	return WeekBounds(t, loc)
}

// FormatWeek renders the weekly listing. events must already be limited to
// the week starting at weekStart.
func FormatWeek(events []Event, weekStart time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	start := weekStart.In(loc)
	if len(events) == 0 {
		return "No events scheduled for the week of " + start.Format("Jan 2, 2006") + "."
	}

	evs := append([]Event(nil), events...)
	Sort(evs)

	var b strings.Builder
	b.WriteString("Economic calendar: week of ")
	b.WriteString(start.Format("Mon Jan 2, 2006"))
	for _, ev := range evs {
		b.WriteString("\n")
		b.WriteString(ev.ScheduledTime.In(loc).Format("Mon 01/02 15:04"))
		b.WriteString(" ")
		b.WriteString(FormatLine(ev))
	}
	return b.String()
}

var printer = message.NewPrinter(language.English)

// Percent formats v with one decimal and a percent sign ("0.3%"). Values
// that round to zero print as "0.0%", never "-0.0%".
func Percent(v float64) string {
	r := math.Round(v*10) / 10
	if r == 0 {
		r = 0 // drops the sign of -0
	}
	return printer.Sprintf("%.1f%%", r)
}

// Thousands formats a count already expressed in thousands ("231K", "1,234K").
func Thousands(v float64) string { return printer.Sprintf("%.0fK", v) }

// Millions formats a count expressed in thousands as millions ("7.23M").
func Millions(thousands float64) string { return printer.Sprintf("%.2fM", thousands/1000) }

// PercentRange formats an interest-rate target range ("4.25-4.50%").
func PercentRange(lo, hi float64) string { return printer.Sprintf("%.2f-%.2f%%", lo, hi) }
