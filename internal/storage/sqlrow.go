package storage

import (
	"fmt"
	"strings"
	"time"

	"econbot/internal/calendar"
)

// Column layout shared by the sqlite and postgres drivers. Times are unix
// seconds (UTC) so both engines sort and compare them the same way.
var eventColumns = []string{
	"key", "name", "scheduled_at", "source", "grp", "kind", "period",
	"forecast", "previous", "actual", "posted", "announced", "posted_actual", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc rowScanner) (calendar.Event, error) {
	var (
		ev        calendar.Event
		key, kind string
		at, upd   int64
	)
	err := sc.Scan(&key, &ev.Name, &at, &ev.Source, &ev.Group, &kind, &ev.Period,
		&ev.Forecast, &ev.Previous, &ev.Actual, &ev.Posted, &ev.Announced, &ev.PostedActual, &upd)
	if err != nil {
		return calendar.Event{}, err
	}
	ev.Kind = calendar.Kind(kind)
	ev.ScheduledTime = time.Unix(at, 0).UTC()
	if upd > 0 {
		ev.UpdatedAt = time.Unix(upd, 0).UTC()
	}
	return ev, nil
}

func eventArgs(ev calendar.Event) []any {
	k := ev.Key()
	var upd int64
	if !ev.UpdatedAt.IsZero() {
		upd = ev.UpdatedAt.Unix()
	}
	kind := string(ev.Kind)
	if kind == "" {
		kind = string(calendar.KindRelease)
	}
	return []any{
		k.String(), k.Name, k.At.Unix(), ev.Source, ev.Group, kind, ev.Period,
		ev.Forecast, ev.Previous, ev.Actual, ev.Posted, ev.Announced, ev.PostedActual, upd,
	}
}

// upsertSQL builds an INSERT ... ON CONFLICT(key) DO UPDATE statement; both
// sqlite (3.24+) and postgres accept this form. ph renders the n-th
// placeholder (1-based).
func upsertSQL(ph func(n int) string) string {
	vals := make([]string, len(eventColumns))
	sets := make([]string, 0, len(eventColumns)-1)
	for i, c := range eventColumns {
		vals[i] = ph(i + 1)
		if c != "key" {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	return fmt.Sprintf("INSERT INTO events (%s) VALUES (%s) ON CONFLICT (key) DO UPDATE SET %s",
		strings.Join(eventColumns, ", "), strings.Join(vals, ", "), strings.Join(sets, ", "))
}

func selectSQL(where string) string {
	return "SELECT " + strings.Join(eventColumns, ", ") + " FROM events WHERE " + where
}

// splitStatements splits a migration file on semicolons. Migrations contain
// no string literals with semicolons.
func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
