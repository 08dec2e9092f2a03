package tracker

import (
	"context"
	"fmt"
	"time"

	"econbot/internal/calendar"
	"econbot/internal/storage"
)

type mergeStats struct {
	Merged   int // records that changed the store
	Inserted int // of which were new keys
}

// apply folds in into stored. Value fields are overwritten only by a
// non-empty different value; descriptive fields are only filled when empty.
// Delivery flags are never touched.
func apply(stored, in calendar.Event) (calendar.Event, bool) {
	out := stored
	changed := false
	set := func(dst *string, v string, overwrite bool) {
		if v == "" || *dst == v {
			return
		}
		if *dst != "" && !overwrite {
			return
		}
		*dst = v
		changed = true
	}
	set(&out.Forecast, in.Forecast, true)
	set(&out.Previous, in.Previous, true)
	set(&out.Actual, in.Actual, true)
	set(&out.Source, in.Source, false)
	set(&out.Group, in.Group, false)
	set(&out.Period, in.Period, false)
	if out.Kind == "" && in.Kind != "" {
		out.Kind = in.Kind
		changed = true
	}
	return out, changed
}

// merge writes records into the store in order and returns the keys it
// changed.
func merge(ctx context.Context, st storage.Store, records []calendar.Event, now time.Time) (map[calendar.Key]struct{}, mergeStats, error) {
	touched := map[calendar.Key]struct{}{}
	var stats mergeStats
	for _, rec := range records {
		rec = rec.Normalize()
		if rec.Name == "" || rec.ScheduledTime.IsZero() {
			continue
		}
		key := rec.Key()
		stored, ok, err := st.Get(ctx, key)
		if err != nil {
			return touched, stats, fmt.Errorf("get %s: %w", key, err)
		}
		var next calendar.Event
		if !ok {
			next = rec
			next.ScheduledTime = key.At
			next.Posted, next.Announced, next.PostedActual = false, false, ""
			stats.Inserted++
		} else {
			var changed bool
			next, changed = apply(stored, rec)
			if !changed {
				continue
			}
		}
		next.UpdatedAt = now
		if err := st.Put(ctx, next); err != nil {
			return touched, stats, fmt.Errorf("put %s: %w", key, err)
		}
		stats.Merged++
		touched[key] = struct{}{}
	}
	return touched, stats, nil
}
