package sources

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"econbot/internal/calendar"
	"econbot/internal/config"

	"github.com/PuerkitoBio/goquery"
)

const (
	beaSchedule = "https://www.bea.gov/news/schedule"
	beaAPI      = "https://apps.bea.gov/api/data"
)

const (
	beaGDP = "GDP q/q"
	beaPCE = "Core PCE Price Index m/m"
)

// BEA covers GDP and Personal Income and Outlays. Values need an API key and
// are only available for GDP.
type BEA struct{ base }

func NewBEA(sc config.SourceConfig, o Options) *BEA {
	return &BEA{newBase("bea", sc, o, beaSchedule, beaAPI)}
}

type beaTitle struct {
	match string
	name  string
	group string
}

var beaTitles = []beaTitle{
	{"Gross Domestic Product", beaGDP, "GDP"},
	{"GDP (", beaGDP, "GDP"},
	{"Personal Income and Outlays", beaPCE, "Personal Income and Outlays"},
}

func beaTitleOf(s string) (beaTitle, bool) {
	for _, t := range beaTitles {
		if strings.Contains(s, t.match) {
			return t, true
		}
	}
	return beaTitle{}, false
}

func (b *BEA) Schedule(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
	doc, err := b.client.Document(ctx, b.scheduleURL)
	if err != nil {
		return nil, b.fail("schedule", b.scheduleURL, err)
	}
	var out []calendar.Event
	add := func(t beaTitle, at time.Time) {
		ev := b.event(t.name, t.group, at)
		if t.name == beaGDP {
			ev.Period = quarterBefore(at, b.loc)
		} else {
			ev.Period = monthBefore(at, b.loc)
		}
		out = append(out, ev.Normalize())
	}

	// Table layout: date cell, time cell, release title.
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		cells := cellTexts(tr)
		if len(cells) < 2 {
			return
		}
		joined := strings.Join(cells, " | ")
		t, ok := beaTitleOf(joined)
		if !ok {
			return
		}
		if at, ok := b.when(joined, from, to); ok {
			add(t, at)
		}
	})

	// Text layout: a "Month D" line followed by the release title.
	if len(out) == 0 {
		ls := pageLines(doc.Selection)
		for i, ln := range ls {
			t, ok := beaTitleOf(ln)
			if !ok || i == 0 {
				continue
			}
			text := ls[i-1] + " " + ln
			if i+1 < len(ls) {
				text += " " + ls[i+1]
			}
			if at, ok := b.when(text, from, to); ok {
				add(t, at)
			}
		}
	}
	out = calendar.Dedupe(out)
	calendar.Sort(out)
	return out, nil
}

// when parses "Month D[, YYYY]" plus an optional clock time; 08:30 is the
// default release time.
func (b *BEA) when(text string, from, to time.Time) (time.Time, bool) {
	hh, mm, ok := findClock(text)
	if !ok {
		hh, mm = 8, 30
	}
	if y, m, d, ok := findDate(text); ok {
		t := time.Date(y, m, d, hh, mm, 0, 0, b.loc)
		return t, inWindow(t, from, to)
	}
	for _, f := range strings.Fields(text) {
		m, ok := parseMonth(f)
		if !ok {
			continue
		}
		rest := text[strings.Index(text, f)+len(f):]
		fs := strings.Fields(rest)
		if len(fs) == 0 {
			return time.Time{}, false
		}
		d, err := strconv.Atoi(strings.Trim(fs[0], ",."))
		if err != nil || d < 1 || d > 31 {
			return time.Time{}, false
		}
		return nearestYear(m, d, hh, mm, from, to, b.loc)
	}
	return time.Time{}, false
}

type beaResponse struct {
	BEAAPI struct {
		Results struct {
			Data []struct {
				LineNumber string `json:"LineNumber"`
				TimePeriod string `json:"TimePeriod"`
				DataValue  string `json:"DataValue"`
			} `json:"Data"`
			Error *struct {
				Description string `json:"APIErrorDescription"`
			} `json:"Error"`
		} `json:"Results"`
	} `json:"BEAAPI"`
}

// FetchValues fills GDP (NIPA table T10101 line 1, percent change SAAR).
func (b *BEA) FetchValues(ctx context.Context, events []calendar.Event) ([]calendar.Event, error) {
	var todo []calendar.Event
	years := map[int]bool{}
	for _, ev := range events {
		if ev.Name != beaGDP {
			continue
		}
		if ev.Period == "" {
			ev.Period = quarterBefore(ev.ScheduledTime, b.loc)
		}
		if y, err := strconv.Atoi(strings.SplitN(ev.Period, "Q", 2)[0]); err == nil {
			years[y] = true
			years[y-1] = true
		}
		todo = append(todo, ev)
	}
	if len(todo) == 0 {
		return nil, nil
	}
	if b.apiKey == "" {
		return nil, ErrNotAvailable
	}

	ys := make([]string, 0, len(years))
	for y := range years {
		ys = append(ys, strconv.Itoa(y))
	}
	sort.Strings(ys)
	q := url.Values{}
	q.Set("UserID", b.apiKey)
	q.Set("method", "GetData")
	q.Set("DataSetName", "NIPA")
	q.Set("TableName", "T10101")
	q.Set("Frequency", "Q")
	q.Set("Year", strings.Join(ys, ","))
	q.Set("ResultFormat", "JSON")
	u := b.apiURL + "?" + q.Encode()

	var resp beaResponse
	if err := b.client.GetJSON(ctx, u, &resp); err != nil {
		return nil, b.fail("values", b.apiURL, err)
	}
	if e := resp.BEAAPI.Results.Error; e != nil {
		return nil, b.fail("values", b.apiURL, &apiError{msg: e.Description})
	}
	vals := map[string]float64{}
	for _, d := range resp.BEAAPI.Results.Data {
		if d.LineNumber != "1" {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(d.DataValue, ",", ""), 64)
		if err == nil {
			vals[d.TimePeriod] = v
		}
	}

	var out []calendar.Event
	for _, ev := range todo {
		changed := false
		if ev.Previous == "" {
			if v, ok := vals[addQuarters(ev.Period, -1)]; ok {
				ev.Previous = calendar.Percent(v)
				changed = true
			}
		}
		if b.released(ev) {
			if v, ok := vals[ev.Period]; ok && calendar.Percent(v) != ev.Actual {
				ev.Actual = calendar.Percent(v)
				changed = true
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

type apiError struct{ msg string }

func (e *apiError) Error() string { return "api error: " + e.msg }
