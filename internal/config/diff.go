package config

import (
	"reflect"
	"sort"
	"strings"

	"econbot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections, safe log fields (no
// tokens or keys), and the sections whose change only takes effect after a
// restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	restart := make([]string, 0, 2)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.ChannelID != nt.ChannelID || ot.ChannelThreadID != nt.ChannelThreadID ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) || ot.CommandWorkers != nt.CommandWorkers {
		changed = append(changed, "telegram")
		restart = append(restart, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int64("telegram.channel_id", nt.ChannelID),
		)
	}
	if !reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) {
		changed = append(changed, "owners")
		attrs = append(attrs, logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Tracker != newCfg.Tracker {
		changed = append(changed, "tracker")
		attrs = append(attrs,
			logx.String("tracker.poll_interval", newCfg.Tracker.PollInterval),
			logx.String("tracker.horizon", newCfg.Tracker.Horizon),
			logx.String("tracker.timezone", newCfg.Tracker.Timezone),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
		attrs = append(attrs, logx.Strings("sources.order", newCfg.Sources.Order))
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Float64("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Int("notifier.retry_max", newCfg.Notifier.RetryMax),
		)
	}

	oSt, nSt := oldCfg.Store, newCfg.Store
	if oSt.Driver != nSt.Driver || oSt.Path != nSt.Path || oSt.DSN != nSt.DSN || oSt.BusyTimeout != nSt.BusyTimeout {
		changed = append(changed, "store")
		restart = append(restart, "store")
		attrs = append(attrs, logx.String("store.driver", nSt.Driver))
	} else if oSt.Retention != nSt.Retention {
		changed = append(changed, "store")
		attrs = append(attrs, logx.String("store.retention", nSt.Retention))
	}

	if oldCfg.Digest != newCfg.Digest {
		changed = append(changed, "digest")
		attrs = append(attrs,
			logx.Bool("digest.enabled", newCfg.Digest.Enabled),
			logx.String("digest.schedule", newCfg.Digest.Schedule),
		)
	}

	oh, nh := oldCfg.Health, newCfg.Health
	if oh.Enabled != nh.Enabled || oh.Addr != nh.Addr || oh.Pprof != nh.Pprof || oh.AllowInsecure != nh.AllowInsecure ||
		oh.RatePerMinute != nh.RatePerMinute || oh.Token != nh.Token {
		changed = append(changed, "health")
		attrs = append(attrs,
			logx.Bool("health.enabled", nh.Enabled),
			logx.String("health.addr", nh.Addr),
			logx.Bool("health.token_set", nh.Token != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Forecasts, newCfg.Forecasts) {
		changed = append(changed, "forecasts")
		attrs = append(attrs, logx.Int("forecasts.count", len(newCfg.Forecasts)))
	}

	sort.Strings(changed)
	return changed, attrs, restart
}
