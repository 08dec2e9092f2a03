package config

import "strings"

// DefaultSourceOrder is the adapter priority order when none is configured.
var DefaultSourceOrder = []string{"bls", "bea", "census", "dol", "fed", "frb"}

const (
	DefaultTimezone     = "America/New_York"
	DefaultPollInterval = "5m"
	DefaultUserAgent    = "econbot/1.0"
)

// ApplyDefaults fills every empty field that has a documented default.
func ApplyDefaults(cfg *Config) {
	def := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = v
		}
	}

	def(&cfg.Telegram.PollTimeout, "10s")
	if cfg.Telegram.CommandWorkers == 0 {
		cfg.Telegram.CommandWorkers = 4
	}

	def(&cfg.Logging.Level, "info")
	if !cfg.Logging.Console && !cfg.Logging.File.Enabled && !cfg.Logging.Telegram.Enabled {
		cfg.Logging.Console = true
	}
	def(&cfg.Logging.Telegram.MinLevel, "warn")
	if cfg.Logging.Telegram.RatePerSec == 0 {
		cfg.Logging.Telegram.RatePerSec = 1
	}

	t := &cfg.Tracker
	def(&t.Timezone, DefaultTimezone)
	def(&t.PollInterval, DefaultPollInterval)
	def(&t.Horizon, "30m")
	def(&t.Lookback, "24h")
	def(&t.Lookahead, "336h")
	def(&t.RefreshEvery, "6h")
	def(&t.ValueWindow, "48h")
	def(&t.SourceTimeout, "45s")
	def(&t.CycleTimeout, "4m")

	s := &cfg.Sources
	if len(s.Order) == 0 {
		s.Order = append([]string(nil), DefaultSourceOrder...)
	}
	def(&s.UserAgent, DefaultUserAgent)
	def(&s.Timeout, "20s")
	if s.RatePerSec == 0 {
		s.RatePerSec = 2
	}
	if s.RetryMax == 0 {
		s.RetryMax = 2
	}

	n := &cfg.Notifier
	if n.RatePerSec == 0 {
		n.RatePerSec = 1
	}
	if n.Burst == 0 {
		n.Burst = 3
	}
	if n.RetryMax == 0 {
		n.RetryMax = 3
	}
	def(&n.RetryBase, "1s")
	def(&n.RetryMaxDelay, "20s")
	def(&n.SendTimeout, "10s")
	if n.HistorySize == 0 {
		n.HistorySize = 200
	}

	st := &cfg.Store
	def(&st.Driver, "file")
	switch st.Driver {
	case "file":
		def(&st.Path, "./data/events")
	case "sqlite":
		def(&st.Path, "./data/events.db")
	}
	def(&st.BusyTimeout, "5s")

	def(&cfg.Digest.Schedule, "0 18 * * 0")

	h := &cfg.Health
	def(&h.Addr, "127.0.0.1:8080")
	if h.RatePerMinute == 0 {
		h.RatePerMinute = 120
	}
}
