package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"econbot/internal/calendar"
	"econbot/internal/transport/telegram/router"
	"econbot/pkg/logx"
)

func (a *App) commands() []router.Command {
	return []router.Command{
		{
			Name:        "calendar",
			Aliases:     []string{"cal", "week"},
			Description: "economic releases for this week",
			Usage:       "calendar [next]",
			Handle:      a.cmdCalendar,
		},
		{
			Name:        "poll",
			Description: "fetch all sources now",
			Access:      router.AccessOwnerOnly,
			Timeout:     a.tracker.Config().CycleTimeout + 10*time.Second,
			Handle:      a.cmdPoll,
		},
		{
			Name:        "status",
			Description: "last cycle and next runs",
			Handle:      a.cmdStatus,
		},
	}
}

func (a *App) cmdCalendar(ctx context.Context, req *router.Request) error {
	at := a.now()
	if len(req.Args) > 0 {
		switch strings.ToLower(req.Args[0]) {
		case "next":
			at = at.AddDate(0, 0, 7)
		case "this", "current":
		default:
			return req.Reply(ctx, "usage: calendar [next]")
		}
	}
	evs, weekStart, err := a.tracker.Week(ctx, at)
	if err != nil {
		req.Logger.Warn("calendar read failed", logx.Err(err))
		return req.Reply(ctx, "calendar is unavailable right now, try again later")
	}
	return req.Reply(ctx, calendar.FormatWeek(evs, weekStart, a.tracker.Config().Location))
}

func (a *App) cmdPoll(ctx context.Context, req *router.Request) error {
	rep, err := a.tracker.Run(ctx)
	if err != nil {
		return req.Reply(ctx, "cycle failed: "+err.Error())
	}
	return req.Reply(ctx, rep.Summary())
}

func (a *App) cmdStatus(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, a.statusText())
}

func (a *App) statusText() string {
	loc := a.tracker.Config().Location
	var b strings.Builder

	if rep, ok := a.tracker.LastReport(); ok {
		fmt.Fprintf(&b, "last %s (%s)\n", rep.Summary(), rep.Started.In(loc).Format("Mon 15:04 MST"))
	} else {
		b.WriteString("no cycle completed yet\n")
	}

	for _, info := range a.sched.Snapshot() {
		next := "-"
		if !info.Next.IsZero() {
			next = info.Next.In(loc).Format("Mon 15:04 MST")
		}
		fmt.Fprintf(&b, "%s (%s): next %s, runs %d", info.Name, info.Human, next, info.Runs)
		if info.Skipped > 0 {
			fmt.Fprintf(&b, ", skipped %d", info.Skipped)
		}
		if info.LastErr != "" {
			fmt.Fprintf(&b, ", last error: %s", info.LastErr)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "store: %s\n", a.storeDriver)
	fmt.Fprintf(&b, "sources: %s", strings.Join(a.tracker.Sources(), ", "))
	if h := a.notif.History(1); len(h) > 0 {
		fmt.Fprintf(&b, "\nlast post: %s (%s)", h[0].At.In(loc).Format("Mon 15:04 MST"), h[0].Kind)
	}
	if a.sup != nil {
		for _, st := range a.sup.Snapshot() {
			if st.Restarts == 0 && st.Panics == 0 {
				continue
			}
			fmt.Fprintf(&b, "\n%s: restarts %d, panics %d", st.Name, st.Restarts, st.Panics)
			if st.LastErr != "" {
				fmt.Fprintf(&b, ", last error: %s", st.LastErr)
			}
		}
	}
	return b.String()
}
