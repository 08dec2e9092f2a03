package config

// Config is the full bot configuration. It is read from an optional YAML or
// JSON file, overlaid with ECONBOT_* environment variables, then defaulted.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Tracker  TrackerConfig  `json:"tracker"`
	Sources  SourcesConfig  `json:"sources"`
	Notifier NotifierConfig `json:"notifier"`
	Store    StoreConfig    `json:"store"`
	Digest   DigestConfig   `json:"digest"`
	Health   HealthConfig   `json:"health"`

	// Forecasts are consensus values keyed by event name. They fill the
	// forecast field when an upstream does not provide one.
	Forecasts map[string]string `json:"forecasts,omitempty"`
}

type TelegramConfig struct {
	Token           string  `json:"token" validate:"required"`
	ChannelID       int64   `json:"channel_id" validate:"required"`
	ChannelThreadID int     `json:"channel_thread_id,omitempty" validate:"gte=0"`
	OwnerUserIDs    []int64 `json:"owner_user_ids,omitempty"`
	PollTimeout     string  `json:"poll_timeout,omitempty"`
	// CommandWorkers bounds concurrent command handlers.
	CommandWorkers int `json:"command_workers,omitempty" validate:"gte=0,lte=64"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console  bool            `json:"console"`
	JSON     bool            `json:"json,omitempty"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

// LoggingFile is a size-rotated log file. Zero limits mean 50 MB per file,
// 5 backups and no age limit.
type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" validate:"gte=0"`
	MaxBackups int    `json:"max_backups,omitempty" validate:"gte=0"`
	MaxAgeDays int    `json:"max_age_days,omitempty" validate:"gte=0"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// TrackerConfig controls the poll cycle.
//
// Defaults:
//   - timezone: America/New_York
//   - poll_interval: 5m (cron, duration, or HH:MM)
//   - horizon: 30m
//   - lookback: 24h (before the start of the current week)
//   - lookahead: 14d (day and week suffixes accepted)
//   - refresh_every: 6h
//   - value_window: 48h
//   - source_timeout: 45s
//   - cycle_timeout: 4m
type TrackerConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	PollInterval  string `json:"poll_interval,omitempty"`
	Horizon       string `json:"horizon,omitempty"`
	Lookback      string `json:"lookback,omitempty"`
	Lookahead     string `json:"lookahead,omitempty"`
	RefreshEvery  string `json:"refresh_every,omitempty"`
	ValueWindow   string `json:"value_window,omitempty"`
	SourceTimeout string `json:"source_timeout,omitempty"`
	CycleTimeout  string `json:"cycle_timeout,omitempty"`
}

// SourcesConfig lists the adapters in priority order. The last adapter in
// Order wins when two report different values for the same event in one cycle.
type SourcesConfig struct {
	Order      []string `json:"order,omitempty" validate:"dive,oneof=bls bea census dol fed frb"`
	UserAgent  string   `json:"user_agent,omitempty"`
	Timeout    string   `json:"timeout,omitempty"`
	RatePerSec float64  `json:"rate_per_sec,omitempty" validate:"gte=0"`
	RetryMax   int      `json:"retry_max,omitempty" validate:"gte=0,lte=10"`

	BLS    SourceConfig `json:"bls"`
	BEA    SourceConfig `json:"bea"`
	Census SourceConfig `json:"census"`
	DOL    SourceConfig `json:"dol"`
	Fed    SourceConfig `json:"fed"`
	FRB    SourceConfig `json:"frb"`
}

// SourceConfig tunes one adapter. URL overrides exist for mirrors and tests.
type SourceConfig struct {
	Disabled    bool   `json:"disabled,omitempty"`
	APIKey      string `json:"api_key,omitempty"`
	ScheduleURL string `json:"schedule_url,omitempty" validate:"omitempty,url"`
	APIURL      string `json:"api_url,omitempty" validate:"omitempty,url"`
}

// Source returns the per-adapter block for name.
func (s *SourcesConfig) Source(name string) SourceConfig {
	switch name {
	case "bls":
		return s.BLS
	case "bea":
		return s.BEA
	case "census":
		return s.Census
	case "dol":
		return s.DOL
	case "fed":
		return s.Fed
	case "frb":
		return s.FRB
	}
	return SourceConfig{}
}

// NotifierConfig controls outbound message pacing.
//
// Defaults: rate_per_sec 1, burst 3, retry_max 3, retry_base 1s,
// retry_max_delay 20s, send_timeout 10s, history_size 200.
type NotifierConfig struct {
	RatePerSec    float64 `json:"rate_per_sec,omitempty" validate:"gte=0"`
	Burst         int     `json:"burst,omitempty" validate:"gte=0"`
	RetryMax      int     `json:"retry_max,omitempty" validate:"gte=0,lte=10"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	SendTimeout   string  `json:"send_timeout,omitempty"`
	HistorySize   int     `json:"history_size,omitempty" validate:"gte=0"`
}

// StoreConfig selects the Event Store driver.
//
// Example:
//
//	store: { driver: sqlite, path: ./data/events.db }
type StoreConfig struct {
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=file sqlite postgres redis memory"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// Retention prunes events older than this; "0s" or empty keeps everything.
	Retention string `json:"retention,omitempty"`
}

// DigestConfig enables a weekly summary post.
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
}

// HealthConfig controls the HTTP health/metrics server.
//
// Security note: bind to loopback unless a token is set.
type HealthConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	RatePerMinute int    `json:"rate_per_minute,omitempty" validate:"gte=0"`
}
