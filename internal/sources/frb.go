package sources

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"econbot/internal/calendar"
	"econbot/internal/config"

	"github.com/PuerkitoBio/goquery"
)

const frbHolidays = "https://www.frbservices.org/about/holiday-schedules"

var (
	yearCellRe  = regexp.MustCompile(`^\d{4}$`)
	monthDayRe  = regexp.MustCompile(`([A-Za-z]{3,9}\.?)\s+(\d{1,2})\b`)
	holidayLine = regexp.MustCompile(`^([A-Za-z]{3,9}\.?\s+\d{1,2},\s*\d{4})\s*[—–-]\s*(.+)$`)
)

// FRB lists Federal Reserve bank holidays as calendar placeholders.
type FRB struct{ base }

func NewFRB(sc config.SourceConfig, o Options) *FRB {
	return &FRB{newBase("frb", sc, o, frbHolidays, "")}
}

func (f *FRB) Schedule(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
	doc, err := f.client.Document(ctx, f.scheduleURL)
	if err != nil {
		return nil, f.fail("schedule", f.scheduleURL, err)
	}
	var out []calendar.Event
	add := func(name string, y int, m time.Month, d int) {
		at := time.Date(y, m, d, 0, 0, 0, 0, f.loc)
		if !inWindow(at, from, to) {
			return
		}
		ev := f.event("Bank Holiday: "+cleanHoliday(name), "FRB Holidays", at)
		ev.Kind = calendar.KindPlaceholder
		out = append(out, ev.Normalize())
	}

	// Table layout: header row of years, one row per holiday.
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		years := map[int]int{}
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := cellTexts(tr)
			if len(years) == 0 {
				for i, c := range cells {
					if yearCellRe.MatchString(strings.Trim(c, "* ")) {
						y, _ := strconv.Atoi(strings.Trim(c, "* "))
						years[i] = y
					}
				}
				return
			}
			if len(cells) < 2 || cells[0] == "" {
				return
			}
			for i, c := range cells {
				y, ok := years[i]
				if !ok {
					continue
				}
				g := monthDayRe.FindStringSubmatch(c)
				if g == nil {
					continue
				}
				m, ok := parseMonth(g[1])
				if !ok {
					continue
				}
				d, _ := strconv.Atoi(g[2])
				add(cells[0], y, m, d)
			}
		})
	})

	// Fallback for pages without a table: "January 1, 2026 - New Year's Day" lines.
	if len(out) == 0 {
		for _, ln := range pageLines(doc.Selection) {
			g := holidayLine.FindStringSubmatch(ln)
			if g == nil {
				continue
			}
			if y, m, d, ok := findDate(g[1]); ok {
				add(g[2], y, m, d)
			}
		}
	}
	out = calendar.Dedupe(out)
	calendar.Sort(out)
	return out, nil
}

// cleanHoliday drops footnote markers and trailing parentheticals.
func cleanHoliday(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), "*† ")
	if i := strings.Index(s, " ("); i > 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
