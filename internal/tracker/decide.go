package tracker

import (
	"time"

	"econbot/internal/calendar"
)

type Action int

const (
	ActionNone Action = iota
	// ActionRelease posts the event with its actual value.
	ActionRelease
	// ActionUpcoming posts the event ahead of its release.
	ActionUpcoming
	// ActionExpired posts a release whose value never arrived.
	ActionExpired
)

func (a Action) String() string {
	switch a {
	case ActionRelease:
		return "release"
	case ActionUpcoming:
		return "upcoming"
	case ActionExpired:
		return "expired"
	}
	return "none"
}

// Windows bounds the time-driven actions of Decide.
type Windows struct {
	Horizon     time.Duration
	ValueWindow time.Duration
	// Since is when the tracker started watching. Value windows that closed
	// before it are left alone so a fresh start does not post a backlog.
	Since time.Time
}

// Decide returns what, if anything, should be posted for ev at now.
func Decide(ev calendar.Event, now time.Time, w Windows) Action {
	if ev.Posted {
		return ActionNone
	}
	if ev.Kind != calendar.KindPlaceholder && ev.Actual != "" {
		return ActionRelease
	}
	at := ev.ScheduledTime
	if ev.Kind == calendar.KindRelease && w.ValueWindow > 0 && !w.Since.IsZero() {
		expiry := at.Add(w.ValueWindow)
		if !now.Before(expiry) && !expiry.Before(w.Since) {
			return ActionExpired
		}
	}
	if !ev.Announced && w.Horizon > 0 {
		if !now.Before(at.Add(-w.Horizon)) && now.Before(at) {
			return ActionUpcoming
		}
	}
	return ActionNone
}

// messageText renders the post for action on ev.
func messageText(ev calendar.Event, action Action) string {
	if action == ActionExpired {
		ev.Actual = calendar.Delayed
	}
	return calendar.FormatLine(ev)
}

// markSent records a successful send of action on ev.
func markSent(ev calendar.Event, action Action) calendar.Event {
	switch action {
	case ActionRelease:
		ev.Posted = true
		ev.Announced = true
		ev.PostedActual = ev.Actual
	case ActionExpired:
		ev.Posted = true
		ev.Announced = true
	case ActionUpcoming:
		ev.Announced = true
		if ev.IsPlaceholder() {
			ev.Posted = true
		}
	}
	return ev
}
