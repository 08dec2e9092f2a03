package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"econbot/internal/calendar"
	"econbot/internal/config"

	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func byName(evs []calendar.Event, name string) []calendar.Event {
	var out []calendar.Event
	for _, ev := range evs {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

const blsCPIPage = `<html><body><table>
<tr><th>Reference Month</th><th>Release Date</th><th>Release Time</th></tr>
<tr><td>September 2025</td><td>Oct. 24, 2025</td><td>08:30 AM</td></tr>
<tr><td>October 2025</td><td>Nov. 13, 2025</td><td>08:30 AM</td></tr>
<tr><td>November 2025</td><td>Dec. 10, 2025</td><td>08:30 AM</td></tr>
</table></body></html>`

const blsEmpsitText = `<html><body>
<p>Schedule of Releases for the Employment Situation</p>
<p>Reference Month Release Date Release Time</p>
<p>September 2025 Oct. 03, 2025 08:30 AM</p>
<p>Subscribe to the BLS online calendar</p>
<p>October 2025 Nov. 07, 2025 08:30 AM</p>
</body></html>`

func TestBLSSchedule(t *testing.T) {
	t.Parallel()
	loc := newYork(t)
	srv := serve(t, map[string]string{"/cpi.htm": blsCPIPage, "/empsit.htm": blsEmpsitText})
	b := NewBLS(config.SourceConfig{ScheduleURL: srv.URL}, testOptions(loc, time.Now()))

	from := time.Date(2025, 10, 1, 0, 0, 0, 0, loc)
	to := time.Date(2025, 12, 1, 0, 0, 0, 0, loc)
	evs, err := b.Schedule(context.Background(), from, to)
	require.NoError(t, err, "missing ppi/jolts pages must not fail the adapter")

	cpi := byName(evs, "CPI m/m")
	require.Len(t, cpi, 2)
	require.True(t, cpi[0].ScheduledTime.Equal(time.Date(2025, 10, 24, 8, 30, 0, 0, loc)))
	require.Equal(t, "2025-09", cpi[0].Period)
	require.Equal(t, "CPI", cpi[0].Group)
	require.Equal(t, "bls", cpi[0].Source)
	require.Len(t, byName(evs, "Core CPI m/m"), 2)

	nfp := byName(evs, "Nonfarm Payrolls")
	require.Len(t, nfp, 1, "rows after the subscribe footer are ignored")
	require.True(t, nfp[0].ScheduledTime.Equal(time.Date(2025, 10, 3, 8, 30, 0, 0, loc)))
	require.Equal(t, "2025-09", nfp[0].Period)
	require.Len(t, evs, 9)
}

func TestBLSScheduleAllPagesFailing(t *testing.T) {
	t.Parallel()
	srv := serve(t, nil)
	b := NewBLS(config.SourceConfig{ScheduleURL: srv.URL}, testOptions(time.UTC, time.Now()))
	_, err := b.Schedule(context.Background(), time.Now(), time.Now().Add(time.Hour))
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
}

func TestBLSFetchValues(t *testing.T) {
	t.Parallel()
	loc := newYork(t)
	var gotReq blsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{"status":"REQUEST_SUCCEEDED","Results":{"series":[
{"seriesID":"CUSR0000SA0","data":[
 {"year":"2025","period":"M09","value":"324.368"},
 {"year":"2025","period":"M08","value":"323.364"},
 {"year":"2025","period":"M07","value":"322.132"}]},
{"seriesID":"CES0000000001","data":[
 {"year":"2025","period":"M09","value":"159540"},
 {"year":"2025","period":"M08","value":"159421"},
 {"year":"2025","period":"M07","value":"159400"}]},
{"seriesID":"JTS000000000000000JOL","data":[
 {"year":"2025","period":"M08","value":"7227"},
 {"year":"2025","period":"M07","value":"7208"}]}
]}}`))
	}))
	defer srv.Close()

	now := time.Date(2025, 10, 24, 9, 0, 0, 0, loc)
	b := NewBLS(config.SourceConfig{APIURL: srv.URL, APIKey: "k"}, testOptions(loc, now))
	released := calendar.Event{Name: "CPI m/m", ScheduledTime: time.Date(2025, 10, 24, 8, 30, 0, 0, loc), Period: "2025-09", Kind: calendar.KindRelease}
	upcoming := calendar.Event{Name: "Nonfarm Payrolls", ScheduledTime: time.Date(2025, 11, 7, 8, 30, 0, 0, loc), Period: "2025-10", Kind: calendar.KindRelease}
	jolts := calendar.Event{Name: "JOLTS Job Openings", ScheduledTime: time.Date(2025, 10, 24, 8, 0, 0, 0, loc), Period: "2025-08", Kind: calendar.KindRelease}
	other := calendar.Event{Name: "GDP q/q", ScheduledTime: released.ScheduledTime}

	out, err := b.FetchValues(context.Background(), []calendar.Event{released, upcoming, jolts, other})
	require.NoError(t, err)
	require.Equal(t, "k", gotReq.RegistrationKey)
	require.Equal(t, []string{"CES0000000001", "CUSR0000SA0", "JTS000000000000000JOL"}, gotReq.SeriesID)
	require.Len(t, out, 3)

	cpi := byName(out, "CPI m/m")[0]
	require.Equal(t, "0.3%", cpi.Actual)
	require.Equal(t, "0.4%", cpi.Previous)

	nfp := byName(out, "Nonfarm Payrolls")[0]
	require.Empty(t, nfp.Actual, "actual is never filled before the release time")
	require.Equal(t, "119K", nfp.Previous)

	j := byName(out, "JOLTS Job Openings")[0]
	require.Equal(t, "7.23M", j.Actual)
	require.Equal(t, "7.21M", j.Previous)
}

func TestBLSFetchValuesAPIFailureStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"REQUEST_NOT_PROCESSED","message":["daily threshold"]}`))
	}))
	defer srv.Close()
	b := NewBLS(config.SourceConfig{APIURL: srv.URL}, testOptions(time.UTC, time.Now()))
	_, err := b.FetchValues(context.Background(), []calendar.Event{{Name: "CPI m/m", ScheduledTime: time.Now(), Period: "2025-09"}})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Contains(t, err.Error(), "daily threshold")
}

func TestBEAScheduleAndValues(t *testing.T) {
	t.Parallel()
	loc := newYork(t)
	page := `<html><body><div>
<p>October 30</p><p>Gross Domestic Product, 3rd Quarter 2025 (Advance Estimate)</p><p>8:30 AM</p>
<p>October 31</p><p>Personal Income and Outlays, September 2025</p>
<p>December 19</p><p>Trade in Goods and Services</p>
</div></body></html>`
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/schedule" {
			_, _ = w.Write([]byte(page))
			return
		}
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"BEAAPI":{"Results":{"Data":[
{"LineNumber":"1","TimePeriod":"2025Q3","DataValue":"4.3"},
{"LineNumber":"1","TimePeriod":"2025Q2","DataValue":"3.8"},
{"LineNumber":"2","TimePeriod":"2025Q3","DataValue":"9.9"}]}}}`))
	}))
	defer srv.Close()

	now := time.Date(2025, 10, 30, 9, 0, 0, 0, loc)
	b := NewBEA(config.SourceConfig{ScheduleURL: srv.URL + "/schedule", APIURL: srv.URL + "/api", APIKey: "key"}, testOptions(loc, now))
	evs, err := b.Schedule(context.Background(), time.Date(2025, 10, 27, 0, 0, 0, 0, loc), time.Date(2025, 11, 3, 0, 0, 0, 0, loc))
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, beaGDP, evs[0].Name)
	require.True(t, evs[0].ScheduledTime.Equal(time.Date(2025, 10, 30, 8, 30, 0, 0, loc)))
	require.Equal(t, "2025Q3", evs[0].Period)
	require.Equal(t, beaPCE, evs[1].Name)

	out, err := b.FetchValues(context.Background(), evs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "4.3%", out[0].Actual)
	require.Equal(t, "3.8%", out[0].Previous)
	require.Contains(t, gotQuery, "TableName=T10101")

	noKey := NewBEA(config.SourceConfig{APIURL: srv.URL + "/api"}, testOptions(loc, now))
	_, err = noKey.FetchValues(context.Background(), evs)
	require.ErrorIs(t, err, ErrNotAvailable)
}

func TestCensusScheduleAndValues(t *testing.T) {
	t.Parallel()
	loc := newYork(t)
	page := `<html><body><table>
<tr><td>Advance Monthly Sales for Retail and Food Services</td><td><a href="/retail/A202510161000.html">October 16</a></td></tr>
<tr><td>Advance Monthly Sales for Retail and Food Services</td><td>TBD</td></tr>
<tr><td>Construction Spending A202510011000</td></tr>
</table></body></html>`
	rows := [][]string{
		{"cell_value", "seasonally_adj", "data_type_code", "category_code", "time_slot_id", "time", "us"},
		{"732,000", "yes", "SM", "44X72", "M", "2025-09", "1"},
		{"700000", "no", "SM", "44X72", "M", "2025-09", "1"},
		{"727000", "yes", "SM", "44X72", "M", "2025-08", "1"},
		{"720000", "yes", "SM", "44X72", "M", "2025-07", "1"},
		{"145000", "yes", "SM", "441", "M", "2025-09", "1"},
		{"139000", "yes", "SM", "441", "M", "2025-08", "1"},
		{"138000", "yes", "SM", "441", "M", "2025-07", "1"},
		{"0.5", "yes", "MPCSM", "44X72", "M", "2025-09", "1"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/calendar" {
			_, _ = w.Write([]byte(page))
			return
		}
		require.Equal(t, "2025", r.URL.Query().Get("time"))
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	now := time.Date(2025, 10, 16, 10, 5, 0, 0, loc)
	c := NewCensus(config.SourceConfig{ScheduleURL: srv.URL + "/calendar", APIURL: srv.URL + "/api"}, testOptions(loc, now))
	evs, err := c.Schedule(context.Background(), time.Date(2025, 10, 13, 0, 0, 0, 0, loc), time.Date(2025, 10, 20, 0, 0, 0, 0, loc))
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.True(t, evs[0].ScheduledTime.Equal(time.Date(2025, 10, 16, 10, 0, 0, 0, loc)))
	require.Equal(t, "2025-09", evs[0].Period)

	out, err := c.FetchValues(context.Background(), evs)
	require.NoError(t, err)
	require.Len(t, out, 2)
	total := byName(out, retailSales)[0]
	require.Equal(t, "0.7%", total.Actual, "seasonally adjusted row wins")
	require.Equal(t, "1.0%", total.Previous)
	core := byName(out, coreRetailSales)[0]
	require.Equal(t, "-0.2%", core.Actual)
	require.Equal(t, "1.0%", core.Previous)
}

func TestDOLScheduleAndValues(t *testing.T) {
	t.Parallel()
	loc := newYork(t)
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"observations":[
{"date":"2025-09-27","value":"224000"},
{"date":"2025-10-04","value":"219000"},
{"date":"2025-10-11","value":"."}]}`))
	}))
	defer srv.Close()

	now := time.Date(2025, 10, 9, 8, 31, 0, 0, loc)
	d := NewDOL(config.SourceConfig{APIURL: srv.URL, APIKey: "fred"}, testOptions(loc, now))
	evs, err := d.Schedule(context.Background(), time.Date(2025, 10, 6, 0, 0, 0, 0, loc), time.Date(2025, 10, 20, 0, 0, 0, 0, loc))
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, time.Thursday, evs[0].ScheduledTime.Weekday())
	require.Equal(t, "2025-10-04", evs[0].Period)

	out, err := d.FetchValues(context.Background(), evs)
	require.NoError(t, err)
	require.True(t, strings.Contains(gotQuery, "series_id=ICSA"))
	require.Len(t, out, 2)
	require.Equal(t, "219K", out[0].Actual)
	require.Equal(t, "224K", out[0].Previous)
	require.Empty(t, out[1].Actual)
	require.Equal(t, "219K", out[1].Previous)

	noKey := NewDOL(config.SourceConfig{APIURL: srv.URL}, testOptions(loc, now))
	_, err = noKey.FetchValues(context.Background(), evs)
	require.ErrorIs(t, err, ErrNotAvailable)
}

const fomcPage = `<html><body>
<div class="panel panel-default"><div class="panel-heading"><h4><a>2025 FOMC Meetings</a></h4></div>
<div class="row fomc-meeting"><div class="fomc-meeting__month"><strong>September</strong></div><div class="fomc-meeting__date">16-17*</div></div>
<div class="row fomc-meeting"><div class="fomc-meeting__month"><strong>October</strong></div><div class="fomc-meeting__date">28-29</div></div>
<div class="row fomc-meeting"><div class="fomc-meeting__month"><strong>December</strong></div><div class="fomc-meeting__date">9-10*</div></div>
</div>
<div class="panel panel-default"><div class="panel-heading"><h4><a>Notes</a></h4></div></div>
</body></html>`

func TestFedScheduleAndValues(t *testing.T) {
	t.Parallel()
	loc := newYork(t)
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/calendar":
			_, _ = w.Write([]byte(fomcPage))
		case "/feed":
			w.Header().Set("Content-Type", "application/rss+xml")
			_, _ = w.Write([]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>Monetary</title>
<item><title>Federal Reserve issues FOMC statement</title><link>` + srv.URL + `/oct</link><pubDate>Wed, 29 Oct 2025 18:00:00 GMT</pubDate></item>
<item><title>Minutes of the Federal Open Market Committee</title><link>` + srv.URL + `/min</link><pubDate>Wed, 08 Oct 2025 18:00:00 GMT</pubDate></item>
<item><title>Federal Reserve issues FOMC statement</title><link>` + srv.URL + `/sep</link><pubDate>Wed, 17 Sep 2025 18:00:00 GMT</pubDate></item>
</channel></rss>`))
		case "/oct":
			_, _ = w.Write([]byte(`<html><body><p>In support of its goals, the Committee decided to lower the target range for the federal funds rate by 1/4 percentage point to 3-3/4 to 4 percent.</p></body></html>`))
		case "/sep":
			_, _ = w.Write([]byte(`<html><body><p>The Committee decided to lower the target range for the federal funds rate by 1/4 percentage point to 4 to 4-1/4 percent.</p></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	now := time.Date(2025, 10, 29, 14, 5, 0, 0, loc)
	f := NewFed(config.SourceConfig{ScheduleURL: srv.URL + "/calendar", APIURL: srv.URL + "/feed"}, testOptions(loc, now))
	evs, err := f.Schedule(context.Background(), time.Date(2025, 10, 1, 0, 0, 0, 0, loc), time.Date(2025, 12, 31, 0, 0, 0, 0, loc))
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.True(t, evs[0].ScheduledTime.Equal(time.Date(2025, 10, 29, 14, 0, 0, 0, loc)))
	require.Equal(t, "2025-10-29", evs[0].Period)
	require.True(t, evs[1].ScheduledTime.Equal(time.Date(2025, 12, 10, 14, 0, 0, 0, loc)))

	at, ok := f.meetingEnd(2026, "Apr/May", "30-1*")
	require.True(t, ok)
	require.True(t, at.Equal(time.Date(2026, 5, 1, 14, 0, 0, 0, loc)))
	_, ok = f.meetingEnd(2026, "March", "18 (notation vote)")
	require.False(t, ok)

	meeting := calendar.Event{Name: fomcDecision, ScheduledTime: time.Date(2025, 10, 29, 14, 0, 0, 0, loc), Kind: calendar.KindRelease}
	out, err := f.FetchValues(context.Background(), []calendar.Event{meeting})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "3.75-4.00%", out[0].Actual)
	require.Equal(t, "4.00-4.25%", out[0].Previous)
}

func TestFRBHolidays(t *testing.T) {
	t.Parallel()
	loc := newYork(t)
	page := `<html><body><table>
<tr><th>Holiday</th><th>2025</th><th>2026</th></tr>
<tr><td>Veterans Day</td><td>November 11</td><td>November 11</td></tr>
<tr><td>Thanksgiving Day</td><td>November 27</td><td>November 26</td></tr>
<tr><td>Christmas Day**</td><td>December 25</td><td>December 25</td></tr>
</table></body></html>`
	srv := serve(t, map[string]string{"/h": page})
	f := NewFRB(config.SourceConfig{ScheduleURL: srv.URL + "/h"}, testOptions(loc, time.Now()))
	evs, err := f.Schedule(context.Background(), time.Date(2025, 11, 1, 0, 0, 0, 0, loc), time.Date(2026, 1, 1, 0, 0, 0, 0, loc))
	require.NoError(t, err)
	require.Len(t, evs, 3)
	require.Equal(t, "Bank Holiday: Veterans Day", evs[0].Name)
	require.Equal(t, calendar.KindPlaceholder, evs[0].Kind)
	require.True(t, evs[0].ScheduledTime.Equal(time.Date(2025, 11, 11, 0, 0, 0, 0, loc)))
	require.Equal(t, "Bank Holiday: Christmas Day", evs[2].Name)
	_, isFetcher := any(f).(ValueFetcher)
	require.False(t, isFetcher)
}

func TestFRBHolidayTextFallback(t *testing.T) {
	t.Parallel()
	page := `<html><body><ul><li>January 1, 2026 — New Year's Day</li><li>January 19, 2026 — Birthday of Martin Luther King, Jr.</li></ul></body></html>`
	srv := serve(t, map[string]string{"/h": page})
	f := NewFRB(config.SourceConfig{ScheduleURL: srv.URL + "/h"}, testOptions(time.UTC, time.Now()))
	evs, err := f.Schedule(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "Bank Holiday: New Year's Day", evs[0].Name)
}
