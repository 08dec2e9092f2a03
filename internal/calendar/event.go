// Package calendar holds the economic-calendar domain model: events, their
// identity key, week windows and the notification text format.
package calendar

import (
	"sort"
	"strings"
	"time"
)

type Kind string

const (
	// KindRelease is a data release that eventually carries an actual value.
	KindRelease Kind = "release"
	// KindPlaceholder is a calendar-only entry such as a bank holiday.
	KindPlaceholder Kind = "placeholder"
)

// Event is one scheduled release.
type Event struct {
	Name          string    `json:"name"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Source        string    `json:"source,omitempty"`
	Group         string    `json:"group,omitempty"`
	Kind          Kind      `json:"kind,omitempty"`
	Period        string    `json:"period,omitempty"`

	Forecast string `json:"forecast,omitempty"`
	Previous string `json:"previous,omitempty"`
	Actual   string `json:"actual,omitempty"`

	// Posted is set once the release notification went out (for placeholders,
	// once the upcoming notice went out).
	Posted bool `json:"posted"`
	// Announced is set once the upcoming notice went out.
	Announced    bool      `json:"announced,omitempty"`
	PostedActual string    `json:"posted_actual,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Key identifies an event across fetches and restarts.
type Key struct {
	Name string
	At   time.Time
}

func (e Event) Key() Key { return NewKey(e.Name, e.ScheduledTime) }

// NewKey normalizes the time to UTC at second precision so the same release
// seen in different zones or with sub-second noise maps to one key.
func NewKey(name string, at time.Time) Key {
	return Key{Name: strings.TrimSpace(name), At: at.UTC().Truncate(time.Second)}
}

func (k Key) String() string { return k.Name + "|" + k.At.Format(time.RFC3339) }

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, bool) {
	i := strings.LastIndexByte(s, '|')
	if i <= 0 {
		return Key{}, false
	}
	at, err := time.Parse(time.RFC3339, s[i+1:])
	if err != nil {
		return Key{}, false
	}
	return NewKey(s[:i], at), true
}

func (e Event) IsPlaceholder() bool { return e.Kind == KindPlaceholder }

// Normalize fills defaults and trims text fields. Adapters call it before
// returning events.
func (e Event) Normalize() Event {
	e.Name = strings.TrimSpace(e.Name)
	e.Forecast = strings.TrimSpace(e.Forecast)
	e.Previous = strings.TrimSpace(e.Previous)
	e.Actual = strings.TrimSpace(e.Actual)
	if e.Kind == "" {
		e.Kind = KindRelease
	}
	return e
}

// Sort orders events by scheduled time, then name.
func Sort(evs []Event) {
	sort.SliceStable(evs, func(i, j int) bool {
		a, b := evs[i], evs[j]
		if !a.ScheduledTime.Equal(b.ScheduledTime) {
			return a.ScheduledTime.Before(b.ScheduledTime)
		}
		return a.Name < b.Name
	})
}

// Dedupe keeps the last occurrence of every key, preserving first-seen order.
func Dedupe(evs []Event) []Event {
	idx := make(map[Key]int, len(evs))
	out := make([]Event, 0, len(evs))
	for _, ev := range evs {
		k := ev.Key()
		if i, ok := idx[k]; ok {
			out[i] = ev
			continue
		}
		idx[k] = len(out)
		out = append(out, ev)
	}
	return out
}
