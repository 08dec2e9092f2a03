package sources

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"econbot/internal/calendar"
	"econbot/internal/config"
	"econbot/pkg/logx"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const (
	fomcCalendar = "https://www.federalreserve.gov/monetarypolicy/fomccalendars.htm"
	fedPressFeed = "https://www.federalreserve.gov/feeds/press_monetary.xml"
	fomcDecision = "FOMC Rate Decision"
)

var (
	fomcYearRe  = regexp.MustCompile(`(\d{4})\s+FOMC Meetings`)
	fomcDayRe   = regexp.MustCompile(`(\d{1,2})\D*$`)
	fomcRangeRe = regexp.MustCompile(`(?i)target range for the federal funds rate\b[^.]*?\b(?:at|to)\s+(\d[\d\-/]*)\s+to\s+(\d[\d\-/]*)\s+percent`)
)

// Fed schedules FOMC rate decisions (14:00 on the last meeting day) and reads
// the target range from the statement linked in the monetary press feed.
type Fed struct{ base }

func NewFed(sc config.SourceConfig, o Options) *Fed {
	return &Fed{newBase("fed", sc, o, fomcCalendar, fedPressFeed)}
}

func (f *Fed) Schedule(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
	doc, err := f.client.Document(ctx, f.scheduleURL)
	if err != nil {
		return nil, f.fail("schedule", f.scheduleURL, err)
	}
	var out []calendar.Event
	doc.Find(".panel").Each(func(_ int, panel *goquery.Selection) {
		g := fomcYearRe.FindStringSubmatch(collapse(panel.Find(".panel-heading").Text()))
		if g == nil {
			return
		}
		year, _ := strconv.Atoi(g[1])
		panel.Find(".fomc-meeting").Each(func(_ int, m *goquery.Selection) {
			at, ok := f.meetingEnd(year,
				collapse(m.Find(".fomc-meeting__month").First().Text()),
				collapse(m.Find(".fomc-meeting__date").First().Text()))
			if !ok || !inWindow(at, from, to) {
				return
			}
			ev := f.event(fomcDecision, "FOMC", at)
			ev.Period = at.In(f.loc).Format(time.DateOnly)
			out = append(out, ev.Normalize())
		})
	})
	out = calendar.Dedupe(out)
	calendar.Sort(out)
	return out, nil
}

// meetingEnd turns "Apr/May" + "30-1*" into May 1 14:00. Notation votes are
// not meetings and are skipped.
func (f *Fed) meetingEnd(year int, month, days string) (time.Time, bool) {
	if strings.Contains(strings.ToLower(days), "notation") {
		return time.Time{}, false
	}
	if i := strings.LastIndexByte(month, '/'); i >= 0 {
		month = month[i+1:]
	}
	m, ok := parseMonth(month)
	if !ok {
		return time.Time{}, false
	}
	days = strings.TrimSpace(strings.Split(days, "(")[0])
	g := fomcDayRe.FindStringSubmatch(days)
	if g == nil {
		return time.Time{}, false
	}
	d, _ := strconv.Atoi(g[1])
	if d < 1 || d > 31 {
		return time.Time{}, false
	}
	return time.Date(year, m, d, 14, 0, 0, 0, f.loc), true
}

type fedStatement struct {
	day  string
	link string
}

func (f *Fed) FetchValues(ctx context.Context, events []calendar.Event) ([]calendar.Event, error) {
	var todo []calendar.Event
	for _, ev := range events {
		if ev.Name == fomcDecision {
			todo = append(todo, ev)
		}
	}
	if len(todo) == 0 {
		return nil, nil
	}
	feed, err := f.client.Feed(ctx, f.apiURL)
	if err != nil {
		return nil, f.fail("values", f.apiURL, err)
	}
	stmts := f.statements(feed)
	if len(stmts) == 0 {
		return nil, ErrNotAvailable
	}

	ranges := map[string]string{}
	rangeOf := func(s fedStatement) string {
		if r, ok := ranges[s.link]; ok {
			return r
		}
		r, err := f.targetRange(ctx, s.link)
		if err != nil {
			f.log.Debug("statement unreadable", logx.String("url", s.link), logx.Err(err))
		}
		ranges[s.link] = r
		return r
	}

	var out []calendar.Event
	for _, ev := range todo {
		day := ev.ScheduledTime.In(f.loc).Format(time.DateOnly)
		changed := false
		if ev.Previous == "" {
			// Most recent statement before the meeting.
			for i := len(stmts) - 1; i >= 0; i-- {
				if stmts[i].day < day {
					if r := rangeOf(stmts[i]); r != "" {
						ev.Previous, changed = r, true
					}
					break
				}
			}
		}
		if f.released(ev) {
			for _, s := range stmts {
				if s.day != day {
					continue
				}
				if r := rangeOf(s); r != "" && r != ev.Actual {
					ev.Actual, changed = r, true
				}
				break
			}
		}
		if changed {
			out = append(out, ev)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotAvailable
	}
	return out, nil
}

// statements lists FOMC statement items oldest first.
func (f *Fed) statements(feed *gofeed.Feed) []fedStatement {
	var out []fedStatement
	for _, it := range feed.Items {
		if it == nil || it.PublishedParsed == nil || it.Link == "" {
			continue
		}
		if !strings.Contains(strings.ToLower(it.Title), "fomc statement") {
			continue
		}
		out = append(out, fedStatement{
			day:  it.PublishedParsed.In(f.loc).Format(time.DateOnly),
			link: it.Link,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].day < out[j].day })
	return out
}

func (f *Fed) targetRange(ctx context.Context, link string) (string, error) {
	doc, err := f.client.Document(ctx, link)
	if err != nil {
		return "", err
	}
	text := collapse(doc.Find("body").Text())
	g := fomcRangeRe.FindStringSubmatch(text)
	if g == nil {
		return "", ErrNotAvailable
	}
	lo, ok1 := parseFracRate(g[1])
	hi, ok2 := parseFracRate(g[2])
	if !ok1 || !ok2 {
		return "", ErrNotAvailable
	}
	return calendar.PercentRange(lo, hi), nil
}

// parseFracRate reads statement rates such as "4", "4-1/4" or "3/4".
func parseFracRate(s string) (float64, bool) {
	s = strings.Trim(s, "- ")
	whole, frac := s, ""
	if i := strings.IndexByte(s, '-'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	} else if strings.Contains(s, "/") {
		whole, frac = "0", s
	}
	w, err := strconv.Atoi(whole)
	if err != nil {
		return 0, false
	}
	v := float64(w)
	if frac != "" {
		num, den, ok := strings.Cut(frac, "/")
		n, err1 := strconv.Atoi(num)
		dn, err2 := strconv.Atoi(den)
		if !ok || err1 != nil || err2 != nil || dn == 0 {
			return 0, false
		}
		v += float64(n) / float64(dn)
	}
	return v, true
}
