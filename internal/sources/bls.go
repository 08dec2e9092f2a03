package sources

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"econbot/internal/calendar"
	"econbot/internal/config"
	"econbot/pkg/logx"

	"github.com/PuerkitoBio/goquery"
)

const (
	blsScheduleBase = "https://www.bls.gov/schedule/news_release/"
	blsAPI          = "https://api.bls.gov/publicAPI/v2/timeseries/data/"
)

type blsCalc int

const (
	calcMoM blsCalc = iota + 1
	calcYoY
	calcLevelPct
	calcChangeK
	calcLevelM
)

type blsMetric struct {
	name   string
	series string
	calc   blsCalc
}

type blsRelease struct {
	page    string
	group   string
	metrics []blsMetric
}

var blsReleases = []blsRelease{
	{page: "empsit.htm", group: "Employment Situation", metrics: []blsMetric{
		{"Nonfarm Payrolls", "CES0000000001", calcChangeK},
		{"Unemployment Rate", "LNS14000000", calcLevelPct},
		{"Average Hourly Earnings m/m", "CES0500000003", calcMoM},
	}},
	{page: "cpi.htm", group: "CPI", metrics: []blsMetric{
		{"CPI m/m", "CUSR0000SA0", calcMoM},
		{"CPI y/y", "CUUR0000SA0", calcYoY},
		{"Core CPI m/m", "CUSR0000SA0L1E", calcMoM},
	}},
	{page: "ppi.htm", group: "PPI", metrics: []blsMetric{
		{"PPI m/m", "WPUFD4", calcMoM},
		{"Core PPI m/m", "WPUFD49104", calcMoM},
	}},
	{page: "jolts.htm", group: "JOLTS", metrics: []blsMetric{
		{"JOLTS Job Openings", "JTS000000000000000JOL", calcLevelM},
	}},
}

func blsMetricFor(name string) (blsMetric, bool) {
	for _, r := range blsReleases {
		for _, m := range r.metrics {
			if m.name == name {
				return m, true
			}
		}
	}
	return blsMetric{}, false
}

// BLS covers the Employment Situation, CPI, PPI and JOLTS releases.
type BLS struct{ base }

func NewBLS(sc config.SourceConfig, o Options) *BLS {
	return &BLS{newBase("bls", sc, o, blsScheduleBase, blsAPI)}
}

type blsRow struct {
	at     time.Time
	period string
}

func (b *BLS) Schedule(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
	var (
		out  []calendar.Event
		errs []error
	)
	prefix := strings.TrimRight(b.scheduleURL, "/") + "/"
	for _, rel := range blsReleases {
		url := prefix + rel.page
		doc, err := b.client.Document(ctx, url)
		if err != nil {
			errs = append(errs, b.fail("schedule", url, err))
			continue
		}
		rows := b.parseSchedule(doc)
		if len(rows) == 0 {
			b.log.Warn("no schedule rows found", logx.String("url", url))
			continue
		}
		for _, r := range rows {
			if !inWindow(r.at, from, to) {
				continue
			}
			for _, m := range rel.metrics {
				ev := b.event(m.name, rel.group, r.at)
				ev.Period = r.period
				if ev.Period == "" {
					ev.Period = monthBefore(r.at, b.loc)
				}
				out = append(out, ev.Normalize())
			}
		}
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		b.log.Warn("schedule page failed", logx.Err(err))
	}
	calendar.Sort(out)
	return out, nil
}

// parseSchedule reads release rows from the schedule table, falling back to
// the plain text listing under the "Reference Month" header.
func (b *BLS) parseSchedule(doc *goquery.Document) []blsRow {
	seen := map[time.Time]bool{}
	var rows []blsRow
	add := func(r blsRow) {
		if seen[r.at] {
			return
		}
		seen[r.at] = true
		rows = append(rows, r)
	}

	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		cells := cellTexts(tr)
		if len(cells) < 2 {
			return
		}
		joined := strings.Join(cells, " | ")
		if r, ok := b.row(joined); ok {
			if p, ok := findMonthYear(cells[0]); ok {
				r.period = p
			}
			add(r)
		}
	})
	if len(rows) > 0 {
		return rows
	}

	ls := pageLines(doc.Selection)
	start := -1
	for i, ln := range ls {
		if strings.Contains(ln, "Reference Month") && strings.Contains(ln, "Release Date") && strings.Contains(ln, "Release Time") {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil
	}
	for _, ln := range ls[start:] {
		if strings.HasPrefix(strings.ToLower(ln), "subscribe to the bls online calendar") {
			break
		}
		if r, ok := b.row(ln); ok {
			if p, ok := findMonthYear(ln); ok {
				r.period = p
			}
			add(r)
		}
	}
	return rows
}

func (b *BLS) row(text string) (blsRow, bool) {
	y, m, d, ok := findDate(text)
	if !ok {
		return blsRow{}, false
	}
	hh, mm, ok := findClock(text)
	if !ok {
		return blsRow{}, false
	}
	return blsRow{at: time.Date(y, m, d, hh, mm, 0, 0, b.loc)}, true
}

type blsRequest struct {
	SeriesID        []string `json:"seriesid"`
	StartYear       string   `json:"startyear"`
	EndYear         string   `json:"endyear"`
	RegistrationKey string   `json:"registrationkey,omitempty"`
}

type blsResponse struct {
	Status  string   `json:"status"`
	Message []string `json:"message"`
	Results struct {
		Series []struct {
			SeriesID string `json:"seriesID"`
			Data     []struct {
				Year   string `json:"year"`
				Period string `json:"period"`
				Value  string `json:"value"`
			} `json:"data"`
		} `json:"series"`
	} `json:"Results"`
}

// monthly maps "YYYY-MM" to a series value.
type monthly map[string]float64

func (b *BLS) FetchValues(ctx context.Context, events []calendar.Event) ([]calendar.Event, error) {
	seriesSet := map[string]bool{}
	minYear := b.now().In(b.loc).Year()
	var todo []calendar.Event
	for _, ev := range events {
		m, ok := blsMetricFor(ev.Name)
		if !ok {
			continue
		}
		if ev.Period == "" {
			ev.Period = monthBefore(ev.ScheduledTime, b.loc)
		}
		seriesSet[m.series] = true
		if y, _, ok := parseMonthKey(ev.Period); ok && y-2 < minYear {
			minYear = y - 2
		}
		todo = append(todo, ev)
	}
	if len(todo) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(seriesSet))
	for id := range seriesSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := b.series(ctx, ids, minYear, b.now().In(b.loc).Year())
	if err != nil {
		return nil, err
	}

	var out []calendar.Event
	for _, ev := range todo {
		m, _ := blsMetricFor(ev.Name)
		vals := data[m.series]
		changed := false
		if ev.Previous == "" {
			if s, ok := blsCompute(m.calc, vals, addMonths(ev.Period, -1)); ok {
				ev.Previous = s
				changed = true
			}
		}
		if b.released(ev) {
			if s, ok := blsCompute(m.calc, vals, ev.Period); ok && s != ev.Actual {
				ev.Actual = s
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

func (b *BLS) series(ctx context.Context, ids []string, startYear, endYear int) (map[string]monthly, error) {
	req := blsRequest{
		SeriesID:        ids,
		StartYear:       strconv.Itoa(startYear),
		EndYear:         strconv.Itoa(endYear),
		RegistrationKey: b.apiKey,
	}
	var resp blsResponse
	if err := b.client.PostJSON(ctx, b.apiURL, req, &resp); err != nil {
		return nil, b.fail("values", b.apiURL, err)
	}
	if resp.Status != "" && resp.Status != "REQUEST_SUCCEEDED" {
		return nil, b.fail("values", b.apiURL, fmt.Errorf("api status %s: %s", resp.Status, strings.Join(resp.Message, "; ")))
	}
	out := make(map[string]monthly, len(resp.Results.Series))
	for _, s := range resp.Results.Series {
		vals := monthly{}
		for _, p := range s.Data {
			if len(p.Period) != 3 || p.Period[0] != 'M' || p.Period == "M13" {
				continue
			}
			mon, err := strconv.Atoi(p.Period[1:])
			if err != nil || mon < 1 || mon > 12 {
				continue
			}
			y, err := strconv.Atoi(p.Year)
			if err != nil {
				continue
			}
			v, err := strconv.ParseFloat(strings.ReplaceAll(p.Value, ",", ""), 64)
			if err != nil {
				continue
			}
			vals[monthKey(y, time.Month(mon))] = v
		}
		out[s.SeriesID] = vals
	}
	return out, nil
}

func blsCompute(c blsCalc, vals monthly, period string) (string, bool) {
	cur, ok := vals[period]
	if !ok || period == "" {
		return "", false
	}
	switch c {
	case calcMoM, calcYoY:
		back := -1
		if c == calcYoY {
			back = -12
		}
		prev, ok := vals[addMonths(period, back)]
		if !ok || prev == 0 {
			return "", false
		}
		return calendar.Percent((cur/prev - 1) * 100), true
	case calcLevelPct:
		return calendar.Percent(cur), true
	case calcChangeK:
		prev, ok := vals[addMonths(period, -1)]
		if !ok {
			return "", false
		}
		return calendar.Thousands(cur - prev), true
	case calcLevelM:
		return calendar.Millions(cur), true
	}
	return "", false
}
