// Package scheduler triggers named jobs on cron or interval schedules.
//
// Jobs run on the cron goroutine pool with a per-job timeout. A job that is
// still running when its next tick fires is skipped, not queued.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"econbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Job is the unit of scheduled work.
type Job func(ctx context.Context) error

type def struct {
	name    string
	raw     string
	spec    ParsedSpec
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	running atomic.Bool
	runs    atomic.Uint64
	skipped atomic.Uint64

	mu      sync.Mutex
	lastRun time.Time
	lastDur time.Duration
	lastErr string
}

// Info describes one registered schedule.
type Info struct {
	Name    string
	Spec    string
	Human   string
	Next    time.Time
	Prev    time.Time
	Running bool
	Runs    uint64
	Skipped uint64
	LastRun time.Time
	LastDur time.Duration
	LastErr string
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
	defs   map[string]*def
}

func New(loc *time.Location, log logx.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		log: log,
		loc: loc,
		// SecondOptional accepts both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		ctx:    context.Background(),
		defs:   map[string]*def{},
	}
}

// Validate checks that raw parses as a schedule without registering it.
func (s *Service) Validate(raw string) error {
	p, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	_, err = s.parser.Parse(p.CronSpec())
	return err
}

// AddSchedule registers or replaces the job called name.
func (s *Service) AddSchedule(name, raw string, timeout time.Duration, job Job) error {
	if name == "" || job == nil {
		return fmt.Errorf("schedule name and job required")
	}
	p, err := ParseSchedule(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if _, err := s.parser.Parse(p.CronSpec()); err != nil {
		return fmt.Errorf("%s: invalid cron %q: %w", name, p.CronSpec(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.defs[name]; old != nil && s.c != nil {
		s.c.Remove(old.entryID)
	}
	d := &def{name: name, raw: raw, spec: p, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c != nil {
		if err := s.addCronLocked(d); err != nil {
			delete(s.defs, name)
			return err
		}
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", p.CronSpec()))
	return nil
}

// Remove unregisters name. It reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.defs[name]
	if d == nil {
		return false
	}
	if s.c != nil {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) addCronLocked(d *def) error {
	id, err := s.c.AddFunc(d.spec.CronSpec(), func() { s.fire(d) })
	if err != nil {
		return fmt.Errorf("%s: %w", d.name, err)
	}
	d.entryID = id
	return nil
}

// Start begins triggering. Jobs receive contexts derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) startLocked() {
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Warn("schedule register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
}

// SetLocation changes the trigger timezone, restarting cron if running.
func (s *Service) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc.String() == loc.String() {
		return
	}
	s.loc = loc
	if s.c == nil {
		return
	}
	s.c.Stop()
	s.startLocked()
	s.log.Info("scheduler timezone changed", logx.String("tz", loc.String()))
}

// Stop halts triggering and waits for running jobs until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) fire(d *def) {
	if !d.running.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		s.log.Debug("job still running; tick skipped", logx.String("name", d.name))
		return
	}
	defer d.running.Store(false)

	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()
	ctx := base
	var cancel context.CancelFunc = func() {}
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(base, d.timeout)
	}
	defer cancel()

	start := time.Now()
	err := runJob(ctx, d.job)
	took := time.Since(start)
	d.runs.Add(1)

	d.mu.Lock()
	d.lastRun, d.lastDur, d.lastErr = start, took, ""
	if err != nil {
		d.lastErr = err.Error()
	}
	d.mu.Unlock()

	if err != nil {
		s.log.Warn("job failed", logx.String("name", d.name), logx.Duration("took", took), logx.Err(err))
		return
	}
	s.log.Debug("job done", logx.String("name", d.name), logx.Duration("took", took))
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return job(ctx)
}

// Snapshot lists registered schedules ordered by next run.
func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.defs))
	for _, d := range s.defs {
		info := Info{
			Name:    d.name,
			Spec:    d.spec.CronSpec(),
			Human:   d.spec.Describe(),
			Running: d.running.Load(),
			Runs:    d.runs.Load(),
			Skipped: d.skipped.Load(),
		}
		d.mu.Lock()
		info.LastRun, info.LastDur, info.LastErr = d.lastRun, d.lastDur, d.lastErr
		d.mu.Unlock()
		if s.c != nil {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Next.Equal(out[j].Next) {
			if out[i].Next.IsZero() {
				return false
			}
			if out[j].Next.IsZero() {
				return true
			}
			return out[i].Next.Before(out[j].Next)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// NextRuns previews the next n trigger times of raw in the service timezone.
func (s *Service) NextRuns(raw string, from time.Time, n int) ([]time.Time, error) {
	p, err := ParseSchedule(raw)
	if err != nil {
		return nil, err
	}
	sched, err := s.parser.Parse(p.CronSpec())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	out := make([]time.Time, 0, n)
	t := from.In(loc)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
