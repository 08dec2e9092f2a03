package app

import (
	"context"
	"fmt"

	"econbot/internal/calendar"
	"econbot/internal/config"
	"econbot/internal/notifier"
	"econbot/pkg/logx"
)

const (
	jobCycle  = "tracker.cycle"
	jobDigest = "calendar.digest"
	jobPrune  = "store.prune"

	pruneSchedule = "30 3 * * *"
)

// registerJobs (re)registers every schedule from cfg. AddSchedule replaces
// existing entries by name, so it is safe to call on reload.
func (a *App) registerJobs(cfg *config.Config) error {
	tcfg := a.tracker.Config()
	if err := a.sched.AddSchedule(jobCycle, cfg.Tracker.PollInterval, tcfg.CycleTimeout, a.cycleJob); err != nil {
		return err
	}

	if cfg.Digest.Enabled {
		if err := a.sched.AddSchedule(jobDigest, cfg.Digest.Schedule, tcfg.CycleTimeout, a.digestJob); err != nil {
			return err
		}
	} else {
		a.sched.Remove(jobDigest)
	}

	if retention(cfg) > 0 {
		if err := a.sched.AddSchedule(jobPrune, pruneSchedule, 0, a.pruneJob); err != nil {
			return err
		}
	} else {
		a.sched.Remove(jobPrune)
	}
	return nil
}

func (a *App) cycleJob(ctx context.Context) error {
	rep, err := a.tracker.Run(ctx)
	if err != nil {
		return err
	}
	if rep.Failed > 0 {
		return fmt.Errorf("%d notification(s) failed", rep.Failed)
	}
	return nil
}

// digestJob posts the week overview to the channel.
func (a *App) digestJob(ctx context.Context) error {
	loc := a.tracker.Config().Location
	start, _ := calendar.DigestWeek(a.now(), loc)
	evs, weekStart, err := a.tracker.Week(ctx, start)
	if err != nil {
		return err
	}
	return a.notif.Send(ctx, notifier.Notification{
		Key:  "digest|" + weekStart.Format("2006-01-02"),
		Kind: notifier.KindDigest,
		Text: calendar.FormatWeek(evs, weekStart, loc),
	})
}

func (a *App) pruneJob(ctx context.Context) error {
	n, err := a.tracker.Prune(ctx, retention(a.cfgm.Get()))
	if err != nil {
		return err
	}
	if n > 0 {
		a.log.Info("pruned old events", logx.Int("count", n))
	}
	return nil
}
