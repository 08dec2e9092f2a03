package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"econbot/internal/calendar"
	"econbot/internal/eventbus"
	"econbot/internal/notifier"
	"econbot/internal/sources"
	"econbot/internal/storage"
	"econbot/pkg/logx"

	"github.com/stretchr/testify/require"
)

var cpiAt = time.Date(2025, 10, 15, 12, 30, 0, 0, time.UTC)

type fakeSource struct {
	name     string
	sched    []calendar.Event
	schedErr error

	mu    sync.Mutex
	calls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Schedule(context.Context, time.Time, time.Time) ([]calendar.Event, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.schedErr != nil {
		return nil, f.schedErr
	}
	return append([]calendar.Event(nil), f.sched...), nil
}

type fakeFetcher struct {
	*fakeSource
	values func(evs []calendar.Event) ([]calendar.Event, error)
}

func (f *fakeFetcher) FetchValues(_ context.Context, evs []calendar.Event) ([]calendar.Event, error) {
	return f.values(evs)
}

type fakeNotifier struct {
	mu    sync.Mutex
	fail  int
	texts []string
	kinds []notifier.Kind
}

func (f *fakeNotifier) Send(_ context.Context, n notifier.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("chat unreachable")
	}
	f.texts = append(f.texts, n.Text)
	f.kinds = append(f.kinds, n.Kind)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func testConfig() Config {
	return Config{
		Location:      time.UTC,
		Horizon:       30 * time.Minute,
		Lookback:      24 * time.Hour,
		Lookahead:     14 * 24 * time.Hour,
		RefreshEvery:  6 * time.Hour,
		ValueWindow:   48 * time.Hour,
		SourceTimeout: time.Second,
	}
}

func cpiEvent() calendar.Event {
	return calendar.Event{Name: "CPI m/m", ScheduledTime: cpiAt, Source: "bls", Group: "CPI", Kind: calendar.KindRelease, Period: "2025-09"}
}

func TestCycleUpcomingThenRelease(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	n := &fakeNotifier{}
	clk := &clock{t: cpiAt.Add(-10 * time.Minute)}

	bls := &fakeFetcher{fakeSource: &fakeSource{name: "bls", sched: []calendar.Event{cpiEvent()}}}
	bls.values = func(evs []calendar.Event) ([]calendar.Event, error) {
		var out []calendar.Event
		for _, ev := range evs {
			ev.Previous = "0.2%"
			if !clk.t.Before(ev.ScheduledTime) {
				ev.Actual = "0.4%"
			}
			out = append(out, ev)
		}
		return out, nil
	}
	cfg := testConfig()
	cfg.Forecasts = map[string]string{"CPI m/m": "0.3%"}
	tr := New(cfg, []sources.Adapter{bls}, st, n, eventbus.New(), logx.Nop(), WithClock(clk.now))

	rep, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Inserted)
	require.Equal(t, 1, rep.Sent)
	require.Equal(t, []string{"CPI m/m — Forecast: 0.3% | Previous: 0.2% | Actual: N/A"}, n.texts)

	// Still before release: nothing new.
	rep, err = tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, rep.Sent)

	clk.t = cpiAt.Add(time.Minute)
	rep, err = tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Sent)
	require.Equal(t, "CPI m/m — Forecast: 0.3% | Previous: 0.2% | Actual: 0.4%", n.texts[1])
	require.Equal(t, []notifier.Kind{notifier.KindUpcoming, notifier.KindRelease}, n.kinds)

	ev, ok, err := st.Get(context.Background(), cpiEvent().Key())
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, ev.Posted)
	require.Equal(t, "0.4%", ev.PostedActual)

	// Exactly one release message.
	clk.t = cpiAt.Add(10 * time.Minute)
	rep, err = tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, rep.Sent)
	require.Len(t, n.texts, 2)

	// Schedule fetched once; refresh_every not elapsed.
	require.Equal(t, 1, bls.calls)
	last, ok := tr.LastReport()
	require.True(t, ok)
	require.Equal(t, rep.ID, last.ID)
}

func TestFailedSendRetriedNextCycle(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	ev := cpiEvent()
	ev.Actual = "0.4%"
	n := &fakeNotifier{fail: 1}
	clk := &clock{t: cpiAt.Add(time.Minute)}
	src := &fakeSource{name: "bls", sched: []calendar.Event{ev}}
	tr := New(testConfig(), []sources.Adapter{src}, st, n, nil, logx.Nop(), WithClock(clk.now))

	rep, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Failed)
	got, _, _ := st.Get(context.Background(), ev.Key())
	require.False(t, got.Posted)

	rep, err = tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Sent)
	require.Equal(t, 0, rep.Failed)
	got, _, _ = st.Get(context.Background(), ev.Key())
	require.True(t, got.Posted)
	require.Len(t, n.texts, 1)
}

func TestSourceFailureDoesNotAbortCycle(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	clk := &clock{t: cpiAt.Add(-time.Hour)}
	bad := &fakeSource{name: "bea", schedErr: errors.New("boom")}
	good := &fakeSource{name: "bls", sched: []calendar.Event{cpiEvent()}}
	quiet := &fakeSource{name: "census", schedErr: sources.ErrNotAvailable}

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()
	tr := New(testConfig(), []sources.Adapter{bad, good, quiet}, st, &fakeNotifier{}, bus, logx.Nop(), WithClock(clk.now))

	rep, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Contains(t, rep.SourceErrors, "bea")
	require.NotContains(t, rep.SourceErrors, "census")
	require.Equal(t, 1, rep.Inserted)

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	require.Contains(t, types, eventbus.TypeSourceFailed)
	require.Contains(t, types, eventbus.TypeCycleCompleted)

	// The failed adapter is retried; the healthy ones wait for refresh_every.
	_, err = tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, bad.calls)
	require.Equal(t, 1, good.calls)
	require.Equal(t, 1, quiet.calls)
}

func TestSameCycleLastAdapterWins(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	a := cpiEvent()
	a.Previous = "0.1%"
	b := cpiEvent()
	b.Previous = "0.2%"
	clk := &clock{t: cpiAt.Add(-2 * time.Hour)}
	tr := New(testConfig(), []sources.Adapter{
		&fakeSource{name: "first", sched: []calendar.Event{a}},
		&fakeSource{name: "second", sched: []calendar.Event{b}},
	}, st, &fakeNotifier{}, nil, logx.Nop(), WithClock(clk.now))

	_, err := tr.Run(context.Background())
	require.NoError(t, err)
	got, ok, err := st.Get(context.Background(), a.Key())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0.2%", got.Previous)
	require.Equal(t, "bls", got.Source)
}

func TestPlaceholderPostedOnce(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	hol := calendar.Event{Name: "Bank Holiday: Veterans Day", ScheduledTime: time.Date(2025, 11, 11, 0, 0, 0, 0, time.UTC), Kind: calendar.KindPlaceholder}
	n := &fakeNotifier{}
	clk := &clock{t: hol.ScheduledTime.Add(-5 * time.Minute)}
	tr := New(testConfig(), []sources.Adapter{&fakeSource{name: "frb", sched: []calendar.Event{hol}}}, st, n, nil, logx.Nop(), WithClock(clk.now))

	for i := 0; i < 3; i++ {
		_, err := tr.Run(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, []string{"Bank Holiday: Veterans Day — Forecast: N/A | Previous: N/A | Actual: N/A"}, n.texts)
	got, _, _ := st.Get(context.Background(), hol.Key())
	require.True(t, got.Posted)
	require.True(t, got.Announced)
}

func TestMergeIdempotentAndKeepsFlags(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	now := cpiAt

	ev := cpiEvent()
	ev.Previous = "0.2%"
	_, stats, err := merge(ctx, st, []calendar.Event{ev}, now)
	require.NoError(t, err)
	require.Equal(t, mergeStats{Merged: 1, Inserted: 1}, stats)

	touched, stats, err := merge(ctx, st, []calendar.Event{ev}, now)
	require.NoError(t, err)
	require.Zero(t, stats.Merged)
	require.Empty(t, touched)

	// Mark posted, then merge a revision and a record with empty fields.
	stored, _, _ := st.Get(ctx, ev.Key())
	stored = markSent(stored, ActionRelease)
	require.NoError(t, st.Put(ctx, stored))

	rev := cpiEvent()
	rev.Actual = "0.5%"
	rev.Posted = false
	_, _, err = merge(ctx, st, []calendar.Event{rev, cpiEvent()}, now)
	require.NoError(t, err)

	got, _, _ := st.Get(ctx, ev.Key())
	require.True(t, got.Posted)
	require.Equal(t, "0.5%", got.Actual)
	require.Equal(t, "0.2%", got.Previous)
	require.Equal(t, ActionNone, Decide(got, now, Windows{Horizon: time.Hour}))
}

func TestDecide(t *testing.T) {
	t.Parallel()
	at := cpiAt
	w := Windows{Horizon: 30 * time.Minute}
	h := w.Horizon
	tests := []struct {
		name string
		ev   calendar.Event
		now  time.Time
		want Action
	}{
		{"posted", calendar.Event{ScheduledTime: at, Actual: "1", Posted: true}, at, ActionNone},
		{"actual", calendar.Event{ScheduledTime: at, Actual: "1"}, at, ActionRelease},
		{"actual after announce", calendar.Event{ScheduledTime: at, Actual: "1", Announced: true}, at, ActionRelease},
		{"horizon start", calendar.Event{ScheduledTime: at}, at.Add(-h), ActionUpcoming},
		{"before horizon", calendar.Event{ScheduledTime: at}, at.Add(-h - time.Second), ActionNone},
		{"at release without actual", calendar.Event{ScheduledTime: at}, at, ActionNone},
		{"announced", calendar.Event{ScheduledTime: at, Announced: true}, at.Add(-time.Minute), ActionNone},
		{"placeholder ignores actual", calendar.Event{ScheduledTime: at, Kind: calendar.KindPlaceholder, Actual: "x"}, at.Add(time.Hour), ActionNone},
	}
	for _, tt := range tests {
		if got := Decide(tt.ev, tt.now, w); got != tt.want {
			t.Fatalf("%s: Decide() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDecideExpired(t *testing.T) {
	t.Parallel()
	at := cpiAt
	vw := 48 * time.Hour
	release := calendar.Event{ScheduledTime: at, Kind: calendar.KindRelease}
	placeholder := calendar.Event{ScheduledTime: at, Kind: calendar.KindPlaceholder}
	posted := release
	posted.Posted = true
	tests := []struct {
		name  string
		ev    calendar.Event
		now   time.Time
		since time.Time
		want  Action
	}{
		{"inside value window", release, at.Add(vw - time.Second), at, ActionNone},
		{"window closed", release, at.Add(vw), at, ActionExpired},
		{"window closed long ago", release, at.Add(3 * vw), at, ActionExpired},
		{"closed before start", release, at.Add(3 * vw), at.Add(vw + time.Second), ActionNone},
		{"closed at start", release, at.Add(vw), at.Add(vw), ActionExpired},
		{"not started", release, at.Add(vw), time.Time{}, ActionNone},
		{"already posted", posted, at.Add(vw), at, ActionNone},
		{"placeholder", placeholder, at.Add(vw), at, ActionNone},
	}
	for _, tt := range tests {
		w := Windows{Horizon: 30 * time.Minute, ValueWindow: vw, Since: tt.since}
		if got := Decide(tt.ev, tt.now, w); got != tt.want {
			t.Fatalf("%s: Decide() = %v, want %v", tt.name, got, tt.want)
		}
	}
	if got := Decide(release, at.Add(vw), Windows{Since: at}); got != ActionNone {
		t.Fatalf("zero value window: Decide() = %v, want %v", got, ActionNone)
	}
}

func TestExpiredReleasePostedOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	n := &fakeNotifier{}
	clk := &clock{t: cpiAt.Add(time.Minute)}

	bls := &fakeFetcher{fakeSource: &fakeSource{name: "bls", sched: []calendar.Event{cpiEvent()}}}
	bls.values = func([]calendar.Event) ([]calendar.Event, error) {
		return nil, sources.ErrNotAvailable
	}
	tr := New(testConfig(), []sources.Adapter{bls}, st, n, eventbus.New(), logx.Nop(), WithClock(clk.now))

	for _, d := range []time.Duration{time.Minute, 24 * time.Hour} {
		clk.t = cpiAt.Add(d)
		_, err := tr.Run(ctx)
		require.NoError(t, err)
	}
	require.Empty(t, n.texts)

	clk.t = cpiAt.Add(49 * time.Hour)
	rep, err := tr.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Sent)
	require.Equal(t, []string{"CPI m/m — Forecast: N/A | Previous: N/A | Actual: not found / delayed"}, n.texts)
	require.Equal(t, []notifier.Kind{notifier.KindRelease}, n.kinds)

	ev, ok, err := st.Get(ctx, cpiEvent().Key())
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, ev.Posted)
	require.Empty(t, ev.Actual)

	clk.t = cpiAt.Add(72 * time.Hour)
	rep, err = tr.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, rep.Sent)
	require.Len(t, n.texts, 1)
}

func TestExpiredBacklogNotPostedOnStart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	require.NoError(t, st.Put(ctx, cpiEvent()))
	n := &fakeNotifier{}
	clk := &clock{t: cpiAt.Add(49 * time.Hour)}

	bls := &fakeFetcher{fakeSource: &fakeSource{name: "bls", sched: []calendar.Event{cpiEvent()}}}
	bls.values = func([]calendar.Event) ([]calendar.Event, error) {
		return nil, sources.ErrNotAvailable
	}
	tr := New(testConfig(), []sources.Adapter{bls}, st, n, eventbus.New(), logx.Nop(), WithClock(clk.now))

	rep, err := tr.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, rep.Sent)
	require.Empty(t, n.texts)
}

func TestPruneKeepsPostedEventsInLiveWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	n := &fakeNotifier{}
	clk := &clock{t: cpiAt.Add(time.Minute)}

	bls := &fakeFetcher{fakeSource: &fakeSource{name: "bls", sched: []calendar.Event{cpiEvent()}}}
	bls.values = func(evs []calendar.Event) ([]calendar.Event, error) {
		var out []calendar.Event
		for _, ev := range evs {
			ev.Actual = "0.4%"
			out = append(out, ev)
		}
		return out, nil
	}
	tr := New(testConfig(), []sources.Adapter{bls}, st, n, eventbus.New(), logx.Nop(), WithClock(clk.now))

	rep, err := tr.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Sent)

	clk.t = cpiAt.Add(7 * time.Hour)
	pruned, err := tr.Prune(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, pruned)
	ev, ok, err := st.Get(ctx, cpiEvent().Key())
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, ev.Posted)

	// The schedule refresh brings CPI back; it must not post again.
	rep, err = tr.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, rep.Sent)
	require.Len(t, n.texts, 1)
}

func TestPruneCutoff(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	now := cpiAt // Wednesday; week starts Monday 2025-10-13
	live := time.Date(2025, 10, 13, 0, 0, 0, 0, time.UTC).Add(-cfg.Lookback - cfg.ValueWindow)
	tests := []struct {
		retention time.Duration
		want      time.Time
	}{
		{time.Hour, live},
		{7 * 24 * time.Hour, live},
		{90 * 24 * time.Hour, now.Add(-90 * 24 * time.Hour)},
	}
	for _, tt := range tests {
		if got := PruneCutoff(cfg, now, tt.retention); !got.Equal(tt.want) {
			t.Fatalf("PruneCutoff(%s) = %v, want %v", tt.retention, got, tt.want)
		}
	}
}

func TestValueCandidates(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	due := cpiEvent()
	soon := cpiEvent()
	soon.Name = "Core CPI m/m"
	soon.ScheduledTime = cpiAt.Add(20 * time.Minute)
	done := cpiEvent()
	done.Name = "CPI y/y"
	done.Actual = "3.0%"
	stale := cpiEvent()
	stale.Name = "PPI m/m"
	stale.ScheduledTime = cpiAt.Add(-72 * time.Hour)
	other := cpiEvent()
	other.Source = "bea"

	got := valueCandidates([]calendar.Event{due, soon, done, stale, other}, "bls", cpiAt.Add(time.Minute), cfg)
	require.Len(t, got, 2)
	require.Equal(t, "CPI m/m", got[0].Name)
	require.Equal(t, "Core CPI m/m", got[1].Name)
}
