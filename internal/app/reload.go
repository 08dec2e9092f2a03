package app

import (
	"context"
	"strings"
	"time"

	"econbot/internal/config"
	"econbot/internal/eventbus"
	"econbot/internal/notifier"
	"econbot/internal/observability/health"
	"econbot/internal/sources"
	"econbot/internal/tracker"
	"econbot/pkg/logx"
	"econbot/pkg/systemd"
)

// startReload fans validated config updates out to every live component.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// keep only the latest of a burst
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", restart))
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.notif.Apply(notifier.FromConfig(*newCfg))

	tcfg := tracker.FromConfig(*newCfg)
	a.tracker.SetConfig(tcfg)
	if changed(sections, "sources") {
		adapters, err := sources.Build(newCfg.Sources, sources.Options{
			Location: tcfg.Location,
			Log:      a.root,
			Now:      a.now,
		})
		if err != nil {
			a.log.Warn("invalid sources config; keeping previous adapters", logx.Err(err))
		} else {
			a.tracker.SetAdapters(adapters)
		}
	}

	a.sched.SetLocation(tcfg.Location)
	if err := a.registerJobs(newCfg); err != nil {
		a.log.Warn("schedule update failed; keeping previous", logx.Err(err))
	}

	// ctx parents a restarted server, so it must be the long-lived one
	a.health.Reconfigure(ctx, health.FromConfig(newCfg.Health))

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: sections})
	a.log.Info("config reloaded", fields...)
}

func changed(sections []string, name string) bool {
	for _, s := range sections {
		if s == name {
			return true
		}
	}
	return false
}
