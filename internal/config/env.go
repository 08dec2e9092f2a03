package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every variable name, e.g. ECONBOT_TELEGRAM_TOKEN.
const EnvPrefix = "ECONBOT"

// envOverlay lists the settings that can come from the environment. Pointer
// fields stay nil when the variable is unset so file values survive.
type envOverlay struct {
	TelegramToken   string  `envconfig:"TELEGRAM_TOKEN"`
	ChannelID       *int64  `envconfig:"CHANNEL_ID"`
	ChannelThreadID *int    `envconfig:"CHANNEL_THREAD_ID"`
	OwnerIDs        []int64 `envconfig:"OWNER_IDS"`

	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogChatID *int64 `envconfig:"LOG_CHAT_ID"`

	Timezone     string `envconfig:"TIMEZONE"`
	PollInterval string `envconfig:"POLL_INTERVAL"`
	Horizon      string `envconfig:"HORIZON"`

	Sources   []string `envconfig:"SOURCES"`
	UserAgent string   `envconfig:"USER_AGENT"`

	BLSAPIKey    string `envconfig:"BLS_API_KEY"`
	BEAAPIKey    string `envconfig:"BEA_API_KEY"`
	CensusAPIKey string `envconfig:"CENSUS_API_KEY"`
	FREDAPIKey   string `envconfig:"FRED_API_KEY"`

	StoreDriver string `envconfig:"STORE_DRIVER"`
	StorePath   string `envconfig:"STORE_PATH"`
	StoreDSN    string `envconfig:"STORE_DSN"`

	HealthAddr  string `envconfig:"HEALTH_ADDR"`
	HealthToken string `envconfig:"HEALTH_TOKEN"`
}

// applyEnv overlays ECONBOT_* variables onto cfg.
func applyEnv(cfg *Config) error {
	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("env: %w", err)
	}

	setStr := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}

	setStr(&cfg.Telegram.Token, env.TelegramToken)
	if env.ChannelID != nil {
		cfg.Telegram.ChannelID = *env.ChannelID
	}
	if env.ChannelThreadID != nil {
		cfg.Telegram.ChannelThreadID = *env.ChannelThreadID
	}
	if len(env.OwnerIDs) > 0 {
		cfg.Telegram.OwnerUserIDs = env.OwnerIDs
	}

	setStr(&cfg.Logging.Level, env.LogLevel)
	if env.LogChatID != nil {
		cfg.Logging.Telegram.ChatID = *env.LogChatID
		cfg.Logging.Telegram.Enabled = *env.LogChatID != 0
	}

	setStr(&cfg.Tracker.Timezone, env.Timezone)
	setStr(&cfg.Tracker.PollInterval, env.PollInterval)
	setStr(&cfg.Tracker.Horizon, env.Horizon)

	if len(env.Sources) > 0 {
		order := make([]string, 0, len(env.Sources))
		for _, s := range env.Sources {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				order = append(order, s)
			}
		}
		cfg.Sources.Order = order
	}
	setStr(&cfg.Sources.UserAgent, env.UserAgent)
	setStr(&cfg.Sources.BLS.APIKey, env.BLSAPIKey)
	setStr(&cfg.Sources.BEA.APIKey, env.BEAAPIKey)
	setStr(&cfg.Sources.Census.APIKey, env.CensusAPIKey)
	setStr(&cfg.Sources.DOL.APIKey, env.FREDAPIKey)

	setStr(&cfg.Store.Driver, env.StoreDriver)
	setStr(&cfg.Store.Path, env.StorePath)
	setStr(&cfg.Store.DSN, env.StoreDSN)

	setStr(&cfg.Health.Addr, env.HealthAddr)
	setStr(&cfg.Health.Token, env.HealthToken)
	if strings.TrimSpace(env.HealthAddr) != "" {
		cfg.Health.Enabled = true
	}
	return nil
}
