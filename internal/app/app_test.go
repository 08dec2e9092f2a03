package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"econbot/internal/calendar"
	"econbot/internal/config"
	"econbot/internal/sources"
	"econbot/internal/storage"
	kit "econbot/internal/transport"

	"github.com/stretchr/testify/require"
)

const testYAML = `
telegram:
  token: "123:abc"
  channel_id: -1001234
  owner_user_ids: [42]
tracker:
  timezone: UTC
  poll_interval: 5m
store:
  driver: memory
notifier:
  retry_max: 1
  retry_base: 1ms
digest:
  enabled: true
logging:
  level: error
`

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

type staticSource struct{ evs []calendar.Event }

func (s staticSource) Name() string { return "bls" }
func (s staticSource) Schedule(context.Context, time.Time, time.Time) ([]calendar.Event, error) {
	return s.evs, nil
}

// Wednesday, ten minutes before an 08:30 release.
var testNow = time.Date(2025, 10, 15, 8, 20, 0, 0, time.UTC)

func newTestApp(t *testing.T, body string) (*App, *fakeAdapter) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))

	ad := &fakeAdapter{}
	src := staticSource{evs: []calendar.Event{{
		Name:          "CPI m/m",
		ScheduledTime: time.Date(2025, 10, 15, 8, 30, 0, 0, time.UTC),
		Source:        "bls",
		Forecast:      "0.3%",
		Previous:      "0.2%",
	}}}
	a, err := New(context.Background(), p,
		WithAdapter(ad),
		WithStore(storage.NewMemory()),
		WithSources([]sources.Adapter{src}),
		WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.store.Close() })
	return a, ad
}

func TestRunCyclePostsToChannel(t *testing.T) {
	t.Parallel()
	a, ad := newTestApp(t, testYAML)

	rep, err := a.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Sent)
	require.Equal(t, []string{"CPI m/m — Forecast: 0.3% | Previous: 0.2% | Actual: N/A"}, ad.texts())
	require.Equal(t, int64(-1001234), ad.sent[0].to.ChatID)
}

func TestCalendarCommandRepliesWithWeek(t *testing.T) {
	t.Parallel()
	a, ad := newTestApp(t, testYAML)
	_, err := a.RunCycle(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 1)
	done := make(chan struct{})
	go func() {
		_ = a.router.Run(ctx, updates)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	updates <- kit.Update{Message: &kit.Message{ID: 7, ChatID: -1001234, Text: "!calendar", IsChannel: true}}

	deadline := time.Now().Add(2 * time.Second)
	for len(ad.texts()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	texts := ad.texts()
	require.Len(t, texts, 2)
	require.True(t, strings.HasPrefix(texts[1], "Economic calendar: week of Mon Oct 13, 2025"), texts[1])
	require.Contains(t, texts[1], "Wed 10/15 08:30 CPI m/m — Forecast: 0.3%")
}

func TestStatusText(t *testing.T) {
	t.Parallel()
	a, _ := newTestApp(t, testYAML)
	require.Contains(t, a.statusText(), "no cycle completed yet")

	_, err := a.RunCycle(context.Background())
	require.NoError(t, err)
	s := a.statusText()
	for _, want := range []string{"fetched 1", jobCycle, jobDigest, "store: memory", "sources: bls", "last post:"} {
		require.Contains(t, s, want)
	}
}

func TestRegisterJobsFollowsConfig(t *testing.T) {
	t.Parallel()
	a, _ := newTestApp(t, testYAML)

	names := func() []string {
		var out []string
		for _, info := range a.sched.Snapshot() {
			out = append(out, info.Name)
		}
		return out
	}
	require.ElementsMatch(t, []string{jobCycle, jobDigest}, names())

	cfg := *a.cfgm.Get()
	cfg.Digest.Enabled = false
	cfg.Store.Retention = "720h"
	require.NoError(t, a.registerJobs(&cfg))
	require.ElementsMatch(t, []string{jobCycle, jobPrune}, names())
}

func TestDigestJobPostsWeek(t *testing.T) {
	t.Parallel()
	a, ad := newTestApp(t, testYAML)
	_, err := a.RunCycle(context.Background())
	require.NoError(t, err)

	require.NoError(t, a.digestJob(context.Background()))
	texts := ad.texts()
	require.Len(t, texts, 2)
	require.Contains(t, texts[1], "week of Mon Oct 13, 2025")
	require.Equal(t, "digest|2025-10-13", a.notif.History(1)[0].Key)
}

func TestValidateSchedules(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
	}{
		{"defaults", func(*config.Config) {}, false},
		{"cron poll", func(c *config.Config) { c.Tracker.PollInterval = "*/5 * * * *" }, false},
		{"bad poll", func(c *config.Config) { c.Tracker.PollInterval = "often" }, true},
		{"bad digest", func(c *config.Config) { c.Digest.Enabled, c.Digest.Schedule = true, "sunday" }, true},
		{"disabled digest ignored", func(c *config.Config) { c.Digest.Schedule = "sunday" }, false},
		{"sqlite without path", func(c *config.Config) { c.Store.Driver, c.Store.Path = "sqlite", "" }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			tc.mutate(cfg)
			err := validateSchedules(context.Background(), cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("validateSchedules = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      config.StoreConfig
		want    storage.Config
		wantErr bool
	}{
		{in: config.StoreConfig{Driver: "file", Path: "./data/events"}, want: storage.Config{Driver: "file", Path: "./data/events"}},
		{in: config.StoreConfig{Driver: "sqlite3", Path: "a.db"}, want: storage.Config{Driver: "sqlite", Path: "a.db", BusyTimeout: 5 * time.Second}},
		{in: config.StoreConfig{Driver: "sqlite", Path: "a.db", BusyTimeout: "2s"}, want: storage.Config{Driver: "sqlite", Path: "a.db", BusyTimeout: 2 * time.Second}},
		{in: config.StoreConfig{Driver: "redis", DSN: "redis://localhost:6379/0"}, want: storage.Config{Driver: "redis", DSN: "redis://localhost:6379/0"}},
		{in: config.StoreConfig{Driver: "postgres"}, wantErr: true},
		{in: config.StoreConfig{Driver: "mongo"}, wantErr: true},
	}
	for _, tc := range tests {
		got, err := mapStorageConfig(&config.Config{Store: tc.in})
		if (err != nil) != tc.wantErr {
			t.Fatalf("mapStorageConfig(%+v) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if err == nil && got != tc.want {
			t.Fatalf("mapStorageConfig(%+v) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}
