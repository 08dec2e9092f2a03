package sources

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var months = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

func parseMonth(s string) (time.Month, bool) {
	m, ok := months[strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "."))]
	return m, ok
}

var (
	// "Oct. 15, 2025", "October 15, 2025"
	dateRe = regexp.MustCompile(`([A-Za-z]{3,9}\.?)\s+(\d{1,2}),\s*(\d{4})`)
	// "08:30 AM", "8:30 a.m.", "2:00 PM ET"
	clockRe = regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})\s*(a\.?m\.?|p\.?m\.?)`)
	// "September 2025"
	monthYearRe = regexp.MustCompile(`^([A-Za-z]{3,9}\.?)\s+(\d{4})\b`)
)

// findDate returns the first "Mon DD, YYYY" date in s.
func findDate(s string) (y int, m time.Month, d int, ok bool) {
	g := dateRe.FindStringSubmatch(s)
	if g == nil {
		return 0, 0, 0, false
	}
	m, ok = parseMonth(g[1])
	if !ok {
		return 0, 0, 0, false
	}
	d, _ = strconv.Atoi(g[2])
	y, _ = strconv.Atoi(g[3])
	return y, m, d, d >= 1 && d <= 31
}

// findClock returns the first 12-hour clock time in s as 24-hour values.
func findClock(s string) (hh, mm int, ok bool) {
	g := clockRe.FindStringSubmatch(s)
	if g == nil {
		return 0, 0, false
	}
	hh, _ = strconv.Atoi(g[1])
	mm, _ = strconv.Atoi(g[2])
	if hh < 1 || hh > 12 || mm > 59 {
		return 0, 0, false
	}
	pm := strings.HasPrefix(strings.ToLower(g[3]), "p")
	switch {
	case pm && hh != 12:
		hh += 12
	case !pm && hh == 12:
		hh = 0
	}
	return hh, mm, true
}

// findMonthYear parses a leading "September 2025" into a period key.
func findMonthYear(s string) (string, bool) {
	g := monthYearRe.FindStringSubmatch(strings.TrimSpace(s))
	if g == nil {
		return "", false
	}
	m, ok := parseMonth(g[1])
	if !ok {
		return "", false
	}
	y, _ := strconv.Atoi(g[2])
	return monthKey(y, m), true
}

func monthKey(y int, m time.Month) string {
	return strconv.Itoa(y) + "-" + twoDigits(int(m))
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// parseMonthKey is the inverse of monthKey.
func parseMonthKey(s string) (int, time.Month, bool) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, false
	}
	return t.Year(), t.Month(), true
}

// addMonths shifts a "YYYY-MM" key by delta months.
func addMonths(key string, delta int) string {
	y, m, ok := parseMonthKey(key)
	if !ok {
		return ""
	}
	t := time.Date(y, m+time.Month(delta), 1, 0, 0, 0, 0, time.UTC)
	return monthKey(t.Year(), t.Month())
}

// monthBefore is the reference month of a monthly release published at t.
func monthBefore(t time.Time, loc *time.Location) string {
	lt := t.In(loc)
	return addMonths(monthKey(lt.Year(), lt.Month()), -1)
}

// quarterBefore is the reference quarter ("2025Q2") of a quarterly release
// published at t.
func quarterBefore(t time.Time, loc *time.Location) string {
	lt := t.In(loc)
	q := (int(lt.Month())-1)/3 + 1
	y := lt.Year()
	q--
	if q == 0 {
		q, y = 4, y-1
	}
	return quarterKey(y, q)
}

func quarterKey(y, q int) string { return strconv.Itoa(y) + "Q" + strconv.Itoa(q) }

// addQuarters shifts a "YYYYQn" key by delta quarters.
func addQuarters(key string, delta int) string {
	i := strings.IndexByte(key, 'Q')
	if i <= 0 {
		return ""
	}
	y, err1 := strconv.Atoi(key[:i])
	q, err2 := strconv.Atoi(key[i+1:])
	if err1 != nil || err2 != nil || q < 1 || q > 4 {
		return ""
	}
	n := y*4 + (q - 1) + delta
	return quarterKey(n/4, n%4+1)
}

// nearestYear picks the year for a month/day given without one, preferring
// the occurrence inside [from, to).
func nearestYear(m time.Month, d, hh, mm int, from, to time.Time, loc *time.Location) (time.Time, bool) {
	for _, y := range []int{from.In(loc).Year(), from.In(loc).Year() + 1} {
		t := time.Date(y, m, d, hh, mm, 0, 0, loc)
		if inWindow(t, from, to) {
			return t, true
		}
	}
	return time.Time{}, false
}

// collapse squeezes runs of whitespace into single spaces.
func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

// lines splits page text into trimmed non-empty lines.
func lines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, ln := range raw {
		if ln = collapse(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
