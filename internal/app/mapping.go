package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"econbot/internal/config"
	"econbot/internal/storage"
	"econbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Store
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "file"
	}
	out := storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), DSN: strings.TrimSpace(sc.DSN)}
	switch driver {
	case "memory":
	case "file":
		if out.Path == "" {
			return storage.Config{}, fmt.Errorf("store.path is required when store.driver=file")
		}
	case "sqlite", "sqlite3":
		if out.Path == "" {
			return storage.Config{}, fmt.Errorf("store.path is required when store.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("store.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.Driver, out.BusyTimeout = "sqlite", busy
	case "postgres", "redis":
		if out.DSN == "" {
			return storage.Config{}, fmt.Errorf("store.dsn is required when store.driver=%s", driver)
		}
	default:
		return storage.Config{}, fmt.Errorf("unknown store.driver: %s", sc.Driver)
	}
	return out, nil
}

// OpenStore opens the event store cfg names. It returns the normalized
// driver name alongside the store.
func OpenStore(ctx context.Context, cfg *config.Config, log logx.Logger) (storage.Store, string, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, "", err
	}
	st, err := storage.Open(ctx, sc, log)
	if err != nil {
		return nil, "", err
	}
	return st, sc.Driver, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		JSON:    l.JSON,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func retention(cfg *config.Config) time.Duration {
	return config.MustDuration(cfg.Store.Retention, 0)
}
