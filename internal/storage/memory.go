package storage

import (
	"context"
	"sync"
	"time"

	"econbot/internal/calendar"
)

// memIndex is the in-memory event map shared by the memory and file drivers.
type memIndex struct {
	events map[calendar.Key]calendar.Event
}

func newMemIndex() memIndex { return memIndex{events: map[calendar.Key]calendar.Event{}} }

func (m memIndex) get(key calendar.Key) (calendar.Event, bool) {
	ev, ok := m.events[calendar.NewKey(key.Name, key.At)]
	return ev, ok
}

func (m memIndex) put(ev calendar.Event) { m.events[ev.Key()] = ev }

func (m memIndex) rangeOf(from, to time.Time) []calendar.Event {
	out := make([]calendar.Event, 0, 16)
	for _, ev := range m.events {
		if inRange(ev.ScheduledTime, from, to) {
			out = append(out, ev)
		}
	}
	calendar.Sort(out)
	return out
}

func (m memIndex) prune(before time.Time) int {
	n := 0
	for k, ev := range m.events {
		if ev.ScheduledTime.Before(before) {
			delete(m.events, k)
			n++
		}
	}
	return n
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

// Memory is an ephemeral Store.
type Memory struct {
	mu     sync.RWMutex
	idx    memIndex
	closed bool
}

func NewMemory() *Memory { return &Memory{idx: newMemIndex()} }

func (m *Memory) Get(_ context.Context, key calendar.Key) (calendar.Event, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return calendar.Event{}, false, ErrClosed
	}
	ev, ok := m.idx.get(key)
	return ev, ok, nil
}

func (m *Memory) Put(_ context.Context, ev calendar.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.idx.put(ev)
	return nil
}

func (m *Memory) Range(_ context.Context, from, to time.Time) ([]calendar.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.idx.rangeOf(from, to), nil
}

func (m *Memory) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.idx.prune(before), nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
