package storage

import (
	"context"
	"errors"
	"time"

	"econbot/internal/calendar"
)

var ErrClosed = errors.New("storage closed")

// Config selects and configures a driver.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres, redis
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

// Store is the Event Store.
type Store interface {
	// Get returns the stored event for key; ok is false when absent.
	Get(ctx context.Context, key calendar.Key) (ev calendar.Event, ok bool, err error)
	// Put inserts or replaces the event under ev.Key().
	Put(ctx context.Context, ev calendar.Event) error
	// Range returns events scheduled in [from, to), ordered by time then name.
	Range(ctx context.Context, from, to time.Time) ([]calendar.Event, error)
	// Prune deletes events scheduled before the cutoff and reports how many.
	Prune(ctx context.Context, before time.Time) (int, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}
