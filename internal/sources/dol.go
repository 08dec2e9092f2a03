package sources

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"econbot/internal/calendar"
	"econbot/internal/config"
)

const (
	fredObservations = "https://api.stlouisfed.org/fred/series/observations"
	joblessClaims    = "Initial Jobless Claims"
	claimsSeries     = "ICSA"
)

// DOL schedules the weekly jobless claims report (Thursdays 08:30) and reads
// the values from FRED.
type DOL struct{ base }

func NewDOL(sc config.SourceConfig, o Options) *DOL {
	return &DOL{newBase("dol", sc, o, "", fredObservations)}
}

func (d *DOL) Schedule(_ context.Context, from, to time.Time) ([]calendar.Event, error) {
	var out []calendar.Event
	f := from.In(d.loc)
	day := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, d.loc)
	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		if day.Weekday() != time.Thursday {
			continue
		}
		at := time.Date(day.Year(), day.Month(), day.Day(), 8, 30, 0, 0, d.loc)
		if !inWindow(at, from, to) {
			continue
		}
		ev := d.event(joblessClaims, "Unemployment Insurance Weekly Claims", at)
		ev.Period = weekEnding(at, d.loc).Format(time.DateOnly)
		out = append(out, ev.Normalize())
	}
	return out, nil
}

// weekEnding is the Saturday that closes the reference week of a Thursday
// release.
func weekEnding(release time.Time, loc *time.Location) time.Time {
	r := release.In(loc)
	day := time.Date(r.Year(), r.Month(), r.Day(), 0, 0, 0, 0, loc)
	if r.Weekday() == time.Thursday {
		return day.AddDate(0, 0, -5)
	}
	back := (int(r.Weekday()) - int(time.Saturday) + 7) % 7
	return day.AddDate(0, 0, -back)
}

type fredResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

func (d *DOL) FetchValues(ctx context.Context, events []calendar.Event) ([]calendar.Event, error) {
	var todo []calendar.Event
	var start, end time.Time
	for _, ev := range events {
		if ev.Name != joblessClaims {
			continue
		}
		we := weekEnding(ev.ScheduledTime, d.loc)
		ev.Period = we.Format(time.DateOnly)
		if start.IsZero() || we.AddDate(0, 0, -7).Before(start) {
			start = we.AddDate(0, 0, -7)
		}
		if we.After(end) {
			end = we
		}
		todo = append(todo, ev)
	}
	if len(todo) == 0 {
		return nil, nil
	}
	if d.apiKey == "" {
		return nil, ErrNotAvailable
	}

	q := url.Values{}
	q.Set("series_id", claimsSeries)
	q.Set("api_key", d.apiKey)
	q.Set("file_type", "json")
	q.Set("observation_start", start.Format(time.DateOnly))
	q.Set("observation_end", end.Format(time.DateOnly))
	u := d.apiURL + "?" + q.Encode()

	var resp fredResponse
	if err := d.client.GetJSON(ctx, u, &resp); err != nil {
		return nil, d.fail("values", d.apiURL, err)
	}
	obs := map[string]float64{}
	for _, o := range resp.Observations {
		v, err := strconv.ParseFloat(strings.TrimSpace(o.Value), 64)
		if err != nil {
			// FRED marks missing observations with ".".
			continue
		}
		obs[o.Date] = v
	}

	var out []calendar.Event
	for _, ev := range todo {
		we, _ := time.ParseInLocation(time.DateOnly, ev.Period, d.loc)
		changed := false
		if ev.Previous == "" {
			if v, ok := obs[we.AddDate(0, 0, -7).Format(time.DateOnly)]; ok {
				ev.Previous, changed = calendar.Thousands(v/1000), true
			}
		}
		if d.released(ev) {
			if v, ok := obs[ev.Period]; ok && calendar.Thousands(v/1000) != ev.Actual {
				ev.Actual, changed = calendar.Thousands(v/1000), true
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
