package sources

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"econbot/internal/calendar"
	"econbot/internal/config"

	"github.com/PuerkitoBio/goquery"
)

const (
	censusSchedule = "https://www.census.gov/economic-indicators/calendar-listview.html"
	censusAPI      = "https://api.census.gov/data/timeseries/eits/mrtsadv"

	censusIndicator = "advance monthly sales for retail and food services"
	censusTotal     = "44X72"
	censusAutos     = "441"

	retailSales     = "Retail Sales m/m"
	coreRetailSales = "Core Retail Sales m/m"
)

var (
	// A202510161000 encodes the release as YYYYMMDDHHMM.
	censusCodeRe = regexp.MustCompile(`\bA(\d{12})\b`)
	tbdRe        = regexp.MustCompile(`(?i)\bTBD\b`)
)

// Census covers the advance retail sales report.
type Census struct{ base }

func NewCensus(sc config.SourceConfig, o Options) *Census {
	return &Census{newBase("census", sc, o, censusSchedule, censusAPI)}
}

func (c *Census) Schedule(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
	doc, err := c.client.Document(ctx, c.scheduleURL)
	if err != nil {
		return nil, c.fail("schedule", c.scheduleURL, err)
	}
	seen := map[time.Time]bool{}
	var out []calendar.Event
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		text := collapse(tr.Text())
		if !strings.Contains(strings.ToLower(text), censusIndicator) || tbdRe.MatchString(text) {
			return
		}
		at, ok := c.codeTime(text)
		if !ok {
			tr.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
				at, ok = c.codeTime(a.AttrOr("href", ""))
				return !ok
			})
		}
		if !ok || !inWindow(at, from, to) || seen[at] {
			return
		}
		seen[at] = true
		period := monthBefore(at, c.loc)
		for _, name := range []string{retailSales, coreRetailSales} {
			ev := c.event(name, "Retail Sales", at)
			ev.Period = period
			out = append(out, ev.Normalize())
		}
	})
	calendar.Sort(out)
	return out, nil
}

func (c *Census) codeTime(s string) (time.Time, bool) {
	g := censusCodeRe.FindStringSubmatch(s)
	if g == nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("200601021504", g[1], c.loc)
	return t, err == nil
}

// censusRows is one year of mrtsadv rows keyed by "category|YYYY-MM".
type censusRows map[string]float64

func (c *Census) FetchValues(ctx context.Context, events []calendar.Event) ([]calendar.Event, error) {
	years := map[int]censusRows{}
	load := func(month string) (censusRows, error) {
		y, _, ok := parseMonthKey(month)
		if !ok {
			return nil, fmt.Errorf("bad period %q", month)
		}
		if r, ok := years[y]; ok {
			return r, nil
		}
		r, err := c.year(ctx, y)
		if err != nil && !errors.Is(err, ErrNotAvailable) {
			return nil, err
		}
		years[y] = r
		return r, nil
	}
	value := func(cat, month string) (float64, bool, error) {
		r, err := load(month)
		if err != nil {
			return 0, false, err
		}
		v, ok := r[cat+"|"+month]
		return v, ok, nil
	}
	change := func(name, month string) (string, bool, error) {
		prev := addMonths(month, -1)
		tc, ok1, err := value(censusTotal, month)
		if err != nil {
			return "", false, err
		}
		tp, ok2, err := value(censusTotal, prev)
		if err != nil || !ok1 || !ok2 {
			return "", false, err
		}
		if name == coreRetailSales {
			ac, ok3, err := value(censusAutos, month)
			if err != nil {
				return "", false, err
			}
			ap, ok4, err := value(censusAutos, prev)
			if err != nil || !ok3 || !ok4 {
				return "", false, err
			}
			tc, tp = tc-ac, tp-ap
		}
		if tp == 0 {
			return "", false, nil
		}
		return calendar.Percent((tc - tp) / tp * 100), true, nil
	}

	var out []calendar.Event
	for _, ev := range events {
		if ev.Name != retailSales && ev.Name != coreRetailSales {
			continue
		}
		if ev.Period == "" {
			ev.Period = monthBefore(ev.ScheduledTime, c.loc)
		}
		changed := false
		if ev.Previous == "" {
			s, ok, err := change(ev.Name, addMonths(ev.Period, -1))
			if err != nil {
				return out, err
			}
			if ok {
				ev.Previous, changed = s, true
			}
		}
		if c.released(ev) {
			s, ok, err := change(ev.Name, ev.Period)
			if err != nil {
				return out, err
			}
			if ok && s != ev.Actual {
				ev.Actual, changed = s, true
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

func (c *Census) year(ctx context.Context, y int) (censusRows, error) {
	q := url.Values{}
	q.Set("get", "cell_value,seasonally_adj,data_type_code,category_code,time_slot_id,time")
	q.Set("for", "us:*")
	q.Set("time", strconv.Itoa(y))
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	u := c.apiURL + "?" + q.Encode()

	var raw [][]string
	if err := c.client.GetJSON(ctx, u, &raw); err != nil {
		if errors.Is(err, ErrNotAvailable) {
			return censusRows{}, err
		}
		return nil, c.fail("values", c.apiURL, err)
	}
	return parseCensusRows(raw), nil
}

// parseCensusRows keeps monthly sales rows, preferring seasonally adjusted
// values over unadjusted ones.
func parseCensusRows(raw [][]string) censusRows {
	out := censusRows{}
	if len(raw) < 2 {
		return out
	}
	col := map[string]int{}
	for i, h := range raw[0] {
		col[h] = i
	}
	need := []string{"cell_value", "seasonally_adj", "data_type_code", "category_code", "time_slot_id", "time"}
	for _, n := range need {
		if _, ok := col[n]; !ok {
			return out
		}
	}
	sa := map[string]bool{}
	for _, r := range raw[1:] {
		if len(r) < len(raw[0]) {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(r[col["time_slot_id"]]), "M") ||
			!strings.EqualFold(strings.TrimSpace(r[col["data_type_code"]]), "SM") {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(r[col["cell_value"]]), ",", ""), 64)
		if err != nil {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(r[col["category_code"]])) + "|" + strings.TrimSpace(r[col["time"]])
		isSA := truthySA(r[col["seasonally_adj"]])
		if _, seen := out[key]; seen && (sa[key] || !isSA) {
			continue
		}
		out[key] = v
		sa[key] = isSA
	}
	return out
}

func truthySA(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "y", "yes", "true", "t", "sa", "s":
		return true
	}
	return false
}
