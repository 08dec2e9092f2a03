// Package tracker runs the poll cycle: refresh schedules, fetch values, merge
// into the Event Store and post whatever became newsworthy.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"econbot/internal/calendar"
	"econbot/internal/config"
	"econbot/internal/eventbus"
	"econbot/internal/notifier"
	"econbot/internal/sources"
	"econbot/internal/storage"
	"econbot/pkg/logx"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Notifier delivers one message and reports whether it went out.
type Notifier interface {
	Send(ctx context.Context, n notifier.Notification) error
}

type Config struct {
	Location      *time.Location
	Horizon       time.Duration
	Lookback      time.Duration
	Lookahead     time.Duration
	RefreshEvery  time.Duration
	ValueWindow   time.Duration
	SourceTimeout time.Duration
	CycleTimeout  time.Duration
	// Forecasts fills Forecast by event name when no source provides one.
	Forecasts map[string]string
}

func FromConfig(c config.Config) Config {
	t := c.Tracker
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		loc = time.UTC
	}
	fc := make(map[string]string, len(c.Forecasts))
	for k, v := range c.Forecasts {
		fc[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return Config{
		Location:      loc,
		Horizon:       config.MustDuration(t.Horizon, 30*time.Minute),
		Lookback:      config.MustDuration(t.Lookback, 24*time.Hour),
		Lookahead:     config.MustDuration(t.Lookahead, 14*24*time.Hour),
		RefreshEvery:  config.MustDuration(t.RefreshEvery, 6*time.Hour),
		ValueWindow:   config.MustDuration(t.ValueWindow, 48*time.Hour),
		SourceTimeout: config.MustDuration(t.SourceTimeout, 45*time.Second),
		CycleTimeout:  config.MustDuration(t.CycleTimeout, 4*time.Minute),
		Forecasts:     fc,
	}
}

// Report summarizes one cycle.
type Report struct {
	ID           string            `json:"id"`
	Started      time.Time         `json:"started"`
	Took         time.Duration     `json:"took"`
	Fetched      int               `json:"fetched"`
	Merged       int               `json:"merged"`
	Inserted     int               `json:"inserted"`
	Sent         int               `json:"sent"`
	Failed       int               `json:"failed"`
	SourceErrors map[string]string `json:"source_errors,omitempty"`
}

func (r Report) Summary() string {
	s := fmt.Sprintf("cycle %s: fetched %d, merged %d (%d new), sent %d, failed %d in %s",
		shortID(r.ID), r.Fetched, r.Merged, r.Inserted, r.Sent, r.Failed, r.Took.Round(time.Millisecond))
	if len(r.SourceErrors) > 0 {
		names := make([]string, 0, len(r.SourceErrors))
		for n := range r.SourceErrors {
			names = append(names, n)
		}
		sort.Strings(names)
		s += "; source errors: " + strings.Join(names, ", ")
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// SourceFailure is the payload of source.failed bus events.
type SourceFailure struct {
	Cycle  string `json:"cycle"`
	Source string `json:"source"`
	Op     string `json:"op"`
	Error  string `json:"error"`
}

type Tracker struct {
	store  storage.Store
	notify Notifier
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	// run serializes cycles.
	run sync.Mutex

	mu          sync.RWMutex
	cfg         Config
	adapters    []sources.Adapter
	lastRefresh map[string]time.Time
	since       time.Time
	last        Report
	hasLast     bool
}

type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

func New(cfg Config, adapters []sources.Adapter, st storage.Store, n Notifier, bus eventbus.Bus, log logx.Logger, opts ...Option) *Tracker {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	t := &Tracker{
		store:       st,
		notify:      n,
		bus:         bus,
		log:         log.Component("tracker"),
		now:         time.Now,
		lastRefresh: map[string]time.Time{},
	}
	for _, o := range opts {
		o(t)
	}
	t.SetConfig(cfg)
	t.SetAdapters(adapters)
	return t
}

func (t *Tracker) SetConfig(cfg Config) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
}

// SetAdapters swaps the source list. Refresh times survive for adapters that
// keep their name.
func (t *Tracker) SetAdapters(as []sources.Adapter) {
	t.mu.Lock()
	t.adapters = append([]sources.Adapter(nil), as...)
	t.mu.Unlock()
}

func (t *Tracker) Config() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// Sources lists the active adapter names in priority order.
func (t *Tracker) Sources() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.adapters))
	for i, a := range t.adapters {
		out[i] = a.Name()
	}
	return out
}

// LastReport returns the most recent cycle report.
func (t *Tracker) LastReport() (Report, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, t.hasLast
}

// Week returns the stored events of the week containing at, with its start.
func (t *Tracker) Week(ctx context.Context, at time.Time) ([]calendar.Event, time.Time, error) {
	loc := t.Config().Location
	from, to := calendar.WeekBounds(at, loc)
	evs, err := t.store.Range(ctx, from, to)
	return evs, from, err
}

// Prune drops events scheduled before now-retention. The cutoff never
// reaches into the window a cycle still reads (current week minus lookback
// and value window); events there carry the posted flags that stop a
// refreshed schedule from being announced again.
func (t *Tracker) Prune(ctx context.Context, retention time.Duration) (int, error) {
	t.run.Lock()
	defer t.run.Unlock()
	return t.store.Prune(ctx, PruneCutoff(t.Config(), t.now(), retention))
}

// PruneCutoff is the earlier of now-retention and the start of the live
// window.
func PruneCutoff(cfg Config, now time.Time, retention time.Duration) time.Time {
	weekStart, _ := calendar.WeekBounds(now, cfg.Location)
	live := weekStart.Add(-cfg.Lookback - cfg.ValueWindow)
	cutoff := now.Add(-retention)
	if live.Before(cutoff) {
		return live
	}
	return cutoff
}

type fetchResult struct {
	events []calendar.Event
	err    error
}

// Run executes one cycle. Source failures are reported, not returned; the
// error covers the store only.
func (t *Tracker) Run(ctx context.Context) (Report, error) {
	t.run.Lock()
	defer t.run.Unlock()

	t.mu.RLock()
	cfg := t.cfg
	adapters := append([]sources.Adapter(nil), t.adapters...)
	t.mu.RUnlock()

	if cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.CycleTimeout)
		defer cancel()
	}

	now := t.now()
	t.mu.Lock()
	if t.since.IsZero() {
		t.since = now
	}
	since := t.since
	t.mu.Unlock()
	rep := Report{ID: uuid.NewString(), Started: now, SourceErrors: map[string]string{}}
	log := t.log.With(logx.String("cycle", shortID(rep.ID)))
	weekStart, _ := calendar.WeekBounds(now, cfg.Location)
	from, to := weekStart.Add(-cfg.Lookback), now.Add(cfg.Lookahead)

	touched := map[calendar.Key]struct{}{}
	var runErr error
	mergeAll := func(records []calendar.Event) error {
		keys, st, err := merge(ctx, t.store, t.withForecasts(cfg, records), now)
		for k := range keys {
			touched[k] = struct{}{}
		}
		rep.Merged += st.Merged
		rep.Inserted += st.Inserted
		return err
	}

	// Schedules.
	sched := t.refreshSchedules(ctx, log, cfg, adapters, now, from, to, &rep)
	var records []calendar.Event
	for _, evs := range sched {
		records = append(records, evs...)
	}
	if err := mergeAll(records); err != nil {
		runErr = err
	}

	// Values.
	if runErr == nil {
		stored, err := t.store.Range(ctx, from, to)
		if err != nil {
			runErr = fmt.Errorf("range: %w", err)
		} else {
			vals := t.fetchValues(ctx, log, cfg, adapters, now, stored, &rep)
			records = records[:0]
			for _, evs := range vals {
				records = append(records, evs...)
			}
			// Manual forecasts for stored events no record mentioned.
			for _, ev := range stored {
				if ev.Forecast == "" && cfg.Forecasts[ev.Name] != "" {
					records = append(records, calendar.Event{Name: ev.Name, ScheduledTime: ev.ScheduledTime})
				}
			}
			if err := mergeAll(records); err != nil {
				runErr = err
			}
		}
	}

	if runErr == nil {
		// Releases from before the window may still be waiting to expire.
		if err := t.post(ctx, log, cfg, now, since, from.Add(-cfg.ValueWindow), to, touched, &rep); err != nil {
			runErr = err
		}
	}

	rep.Took = t.now().Sub(now)
	if rep.Took < 0 {
		rep.Took = 0
	}
	t.mu.Lock()
	t.last, t.hasLast = rep, true
	t.mu.Unlock()

	fields := []logx.Field{
		logx.Int("fetched", rep.Fetched),
		logx.Int("merged", rep.Merged),
		logx.Int("inserted", rep.Inserted),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Int("source_errors", len(rep.SourceErrors)),
		logx.Duration("took", rep.Took),
	}
	if runErr != nil {
		log.Error("cycle aborted", append(fields, logx.Err(runErr))...)
	} else {
		log.Info("cycle done", fields...)
	}
	t.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleCompleted, Time: time.Now(), Data: rep})
	return rep, runErr
}

func (t *Tracker) withForecasts(cfg Config, records []calendar.Event) []calendar.Event {
	if len(cfg.Forecasts) == 0 {
		return records
	}
	for i := range records {
		if records[i].Forecast == "" {
			records[i].Forecast = cfg.Forecasts[strings.TrimSpace(records[i].Name)]
		}
	}
	return records
}

// refreshSchedules fetches schedules from adapters due for a refresh. Results
// come back in adapter order.
func (t *Tracker) refreshSchedules(ctx context.Context, log logx.Logger, cfg Config, adapters []sources.Adapter, now, from, to time.Time, rep *Report) [][]calendar.Event {
	t.mu.RLock()
	due := make([]bool, len(adapters))
	for i, a := range adapters {
		last, ok := t.lastRefresh[a.Name()]
		due[i] = !ok || cfg.RefreshEvery <= 0 || now.Sub(last) >= cfg.RefreshEvery
	}
	t.mu.RUnlock()

	results := make([]fetchResult, len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		if !due[i] {
			continue
		}
		g.Go(func() error {
			sctx, cancel := t.sourceContext(ctx, cfg)
			defer cancel()
			evs, err := a.Schedule(sctx, from, to)
			results[i] = fetchResult{events: evs, err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := make([][]calendar.Event, len(adapters))
	for i, a := range adapters {
		if !due[i] {
			continue
		}
		r := results[i]
		if r.err != nil && !errors.Is(r.err, sources.ErrNotAvailable) {
			t.sourceFailed(log, rep, a.Name(), "schedule", r.err)
			continue
		}
		t.mu.Lock()
		t.lastRefresh[a.Name()] = now
		t.mu.Unlock()
		for _, ev := range r.events {
			if ev.Source == "" {
				ev.Source = a.Name()
			}
			out[i] = append(out[i], ev)
		}
		rep.Fetched += len(r.events)
		log.Debug("schedule refreshed", logx.String("source", a.Name()), logx.Int("events", len(r.events)))
	}
	return out
}

// valueCandidates picks stored events that may gain values this cycle.
func valueCandidates(stored []calendar.Event, source string, now time.Time, cfg Config) []calendar.Event {
	var out []calendar.Event
	for _, ev := range stored {
		if ev.Source != source || ev.Kind != calendar.KindRelease || ev.Actual != "" {
			continue
		}
		at := ev.ScheduledTime
		due := !now.Before(at) && now.Before(at.Add(cfg.ValueWindow))
		upcoming := ev.Previous == "" && now.Before(at) && !now.Before(at.Add(-cfg.Horizon))
		if due || upcoming {
			out = append(out, ev)
		}
	}
	return out
}

func (t *Tracker) fetchValues(ctx context.Context, log logx.Logger, cfg Config, adapters []sources.Adapter, now time.Time, stored []calendar.Event, rep *Report) [][]calendar.Event {
	results := make([]fetchResult, len(adapters))
	asked := make([]bool, len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		vf, ok := a.(sources.ValueFetcher)
		if !ok {
			continue
		}
		cands := valueCandidates(stored, a.Name(), now, cfg)
		if len(cands) == 0 {
			continue
		}
		asked[i] = true
		g.Go(func() error {
			sctx, cancel := t.sourceContext(ctx, cfg)
			defer cancel()
			evs, err := vf.FetchValues(sctx, cands)
			results[i] = fetchResult{events: evs, err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := make([][]calendar.Event, len(adapters))
	for i, a := range adapters {
		if !asked[i] {
			continue
		}
		r := results[i]
		if errors.Is(r.err, sources.ErrNotAvailable) {
			continue
		}
		if r.err != nil {
			t.sourceFailed(log, rep, a.Name(), "values", r.err)
			continue
		}
		out[i] = r.events
		rep.Fetched += len(r.events)
	}
	return out
}

func (t *Tracker) sourceContext(ctx context.Context, cfg Config) (context.Context, context.CancelFunc) {
	if cfg.SourceTimeout > 0 {
		return context.WithTimeout(ctx, cfg.SourceTimeout)
	}
	return context.WithCancel(ctx)
}

func (t *Tracker) sourceFailed(log logx.Logger, rep *Report, name, op string, err error) {
	msg := err.Error()
	if prev, ok := rep.SourceErrors[name]; ok {
		msg = prev + "; " + msg
	}
	rep.SourceErrors[name] = msg
	log.Warn("source failed", logx.String("source", name), logx.String("op", op), logx.Err(err))
	t.bus.Publish(eventbus.Event{Type: eventbus.TypeSourceFailed, Time: time.Now(), Data: SourceFailure{
		Cycle: rep.ID, Source: name, Op: op, Error: err.Error(),
	}})
}

// post sends notifications for touched and unposted events in the window.
func (t *Tracker) post(ctx context.Context, log logx.Logger, cfg Config, now, since, from, to time.Time, touched map[calendar.Key]struct{}, rep *Report) error {
	window, err := t.store.Range(ctx, from, to)
	if err != nil {
		return fmt.Errorf("range: %w", err)
	}
	seen := map[calendar.Key]struct{}{}
	var cands []calendar.Event
	for _, ev := range window {
		seen[ev.Key()] = struct{}{}
		if _, ok := touched[ev.Key()]; ok || !ev.Posted {
			cands = append(cands, ev)
		}
	}
	for k := range touched {
		if _, ok := seen[k]; ok {
			continue
		}
		ev, ok, err := t.store.Get(ctx, k)
		if err != nil {
			return fmt.Errorf("get %s: %w", k, err)
		}
		if ok {
			cands = append(cands, ev)
		}
	}
	calendar.Sort(cands)

	w := Windows{Horizon: cfg.Horizon, ValueWindow: cfg.ValueWindow, Since: since}
	var errs []error
	for _, ev := range cands {
		action := Decide(ev, now, w)
		if action == ActionNone {
			continue
		}
		n := notifier.Notification{
			Key:  ev.Key().String(),
			Kind: notifier.KindRelease,
			Text: messageText(ev, action),
		}
		if action == ActionUpcoming {
			n.Kind = notifier.KindUpcoming
		}
		if err := t.notify.Send(ctx, n); err != nil {
			rep.Failed++
			log.Warn("notification not sent; will retry next cycle",
				logx.String("event", ev.Name),
				logx.String("action", action.String()),
				logx.Err(err),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		rep.Sent++
		ev = markSent(ev, action)
		ev.UpdatedAt = now
		if err := t.store.Put(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("mark %s: %w", ev.Key(), err))
		}
	}
	return errors.Join(errs...)
}
