// Package sources fetches economic-calendar schedules and release values
// from government publishers and normalizes them into calendar events.
package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"econbot/internal/calendar"
	"econbot/internal/config"
	"econbot/pkg/logx"
)

// ErrNotAvailable reports that the upstream has no data for the request yet.
var ErrNotAvailable = errors.New("data not available")

// Adapter discovers scheduled releases in [from, to).
type Adapter interface {
	Name() string
	Schedule(ctx context.Context, from, to time.Time) ([]calendar.Event, error)
}

// ValueFetcher is implemented by adapters that can fill forecast, previous
// and actual values. It returns updated copies of the events it could fill;
// events it knows nothing about are omitted.
type ValueFetcher interface {
	FetchValues(ctx context.Context, events []calendar.Event) ([]calendar.Event, error)
}

// FetchError wraps a network or parse failure of one adapter request.
type FetchError struct {
	Source string
	Op     string
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Source, e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options carries what every adapter shares.
type Options struct {
	Client   *Client
	Location *time.Location
	Log      logx.Logger
	// Now is the clock used to gate actual values; nil means time.Now.
	Now func() time.Time
}

type base struct {
	name        string
	client      *Client
	loc         *time.Location
	log         logx.Logger
	now         func() time.Time
	apiKey      string
	scheduleURL string
	apiURL      string
}

func newBase(name string, sc config.SourceConfig, o Options, defSchedule, defAPI string) base {
	b := base{
		name:        name,
		client:      o.Client,
		loc:         o.Location,
		log:         o.Log.Component("source." + name),
		now:         o.Now,
		apiKey:      sc.APIKey,
		scheduleURL: sc.ScheduleURL,
		apiURL:      sc.APIURL,
	}
	if b.loc == nil {
		b.loc = time.UTC
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.scheduleURL == "" {
		b.scheduleURL = defSchedule
	}
	if b.apiURL == "" {
		b.apiURL = defAPI
	}
	return b
}

func (b base) Name() string { return b.name }

func (b base) fail(op, url string, err error) error {
	if err == nil || errors.Is(err, ErrNotAvailable) {
		return err
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Source: b.name, Op: op, URL: url, Err: err}
}

func (b base) event(name, group string, at time.Time) calendar.Event {
	return calendar.Event{
		Name:          name,
		ScheduledTime: at,
		Source:        b.name,
		Group:         group,
		Kind:          calendar.KindRelease,
	}
}

// released reports whether the event's actual value may be filled.
func (b base) released(ev calendar.Event) bool {
	return !b.now().Before(ev.ScheduledTime)
}

// Build returns the enabled adapters in priority order.
func Build(cfg config.SourcesConfig, o Options) ([]Adapter, error) {
	if o.Client == nil {
		o.Client = NewClient(ClientOptions{
			UserAgent:  cfg.UserAgent,
			Timeout:    config.MustDuration(cfg.Timeout, 20*time.Second),
			RatePerSec: cfg.RatePerSec,
			RetryMax:   cfg.RetryMax,
			Log:        o.Log,
		})
	}
	order := cfg.Order
	if len(order) == 0 {
		order = config.DefaultSourceOrder
	}
	out := make([]Adapter, 0, len(order))
	for _, name := range order {
		sc := cfg.Source(name)
		if sc.Disabled {
			continue
		}
		a, err := newAdapter(name, sc, o)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func newAdapter(name string, sc config.SourceConfig, o Options) (Adapter, error) {
	switch name {
	case "bls":
		return NewBLS(sc, o), nil
	case "bea":
		return NewBEA(sc, o), nil
	case "census":
		return NewCensus(sc, o), nil
	case "dol":
		return NewDOL(sc, o), nil
	case "fed":
		return NewFed(sc, o), nil
	case "frb":
		return NewFRB(sc, o), nil
	default:
		return nil, fmt.Errorf("unknown source: %s", name)
	}
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
