package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON names so messages match the config file.
		validate.RegisterTagNameFunc(jsonFieldName)
	})
	return validate
}

// Validate checks struct constraints and the semantic rules tags cannot
// express (durations, timezone, exposure of the health server).
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fieldError(fe))
			}
		} else {
			errs = append(errs, err)
		}
	}

	durations := map[string]string{
		"telegram.poll_timeout":    cfg.Telegram.PollTimeout,
		"tracker.horizon":          cfg.Tracker.Horizon,
		"tracker.lookback":         cfg.Tracker.Lookback,
		"tracker.lookahead":        cfg.Tracker.Lookahead,
		"tracker.refresh_every":    cfg.Tracker.RefreshEvery,
		"tracker.value_window":     cfg.Tracker.ValueWindow,
		"tracker.source_timeout":   cfg.Tracker.SourceTimeout,
		"tracker.cycle_timeout":    cfg.Tracker.CycleTimeout,
		"sources.timeout":          cfg.Sources.Timeout,
		"notifier.retry_base":      cfg.Notifier.RetryBase,
		"notifier.retry_max_delay": cfg.Notifier.RetryMaxDelay,
		"notifier.send_timeout":    cfg.Notifier.SendTimeout,
		"store.busy_timeout":       cfg.Store.BusyTimeout,
		"store.retention":          cfg.Store.Retention,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	// Pruning inside the live window would drop posted flags and re-post.
	if ret := MustDuration(cfg.Store.Retention, 0); ret > 0 {
		floor := 7*24*time.Hour + MustDuration(cfg.Tracker.Lookback, 24*time.Hour) +
			MustDuration(cfg.Tracker.ValueWindow, 48*time.Hour)
		if ret < floor {
			errs = append(errs, fmt.Errorf("store.retention: %s is shorter than one week plus lookback and value window (%s)", ret, floor))
		}
	}

	if _, err := time.LoadLocation(strings.TrimSpace(cfg.Tracker.Timezone)); err != nil {
		errs = append(errs, fmt.Errorf("tracker.timezone: %w", err))
	}

	seen := map[string]bool{}
	for _, name := range cfg.Sources.Order {
		if seen[name] {
			errs = append(errs, fmt.Errorf("sources.order: %q listed twice", name))
		}
		seen[name] = true
	}

	switch cfg.Store.Driver {
	case "postgres", "redis":
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			errs = append(errs, fmt.Errorf("store.dsn: required for driver %q", cfg.Store.Driver))
		}
	case "file", "sqlite":
		if strings.TrimSpace(cfg.Store.Path) == "" {
			errs = append(errs, fmt.Errorf("store.path: required for driver %q", cfg.Store.Driver))
		}
	}

	if cfg.Health.Enabled && !cfg.Health.AllowInsecure && strings.TrimSpace(cfg.Health.Token) == "" &&
		!IsLoopbackAddr(cfg.Health.Addr) {
		errs = append(errs, fmt.Errorf("health.addr: %q is not loopback; set health.token or health.allow_insecure", cfg.Health.Addr))
	}

	if cfg.Logging.Telegram.Enabled && cfg.Logging.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("logging.telegram.chat_id: required when telegram logging is enabled"))
	}

	return errors.Join(errs...)
}

func fieldError(fe validator.FieldError) error {
	path := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s: required", path)
	case "oneof":
		return fmt.Errorf("%s: %q must be one of [%s]", path, fmt.Sprint(fe.Value()), fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Errorf("%s: failed %s=%s (got %v)", path, fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("%s: failed %s (got %v)", path, fe.Tag(), fe.Value())
	}
}

// IsLoopbackAddr reports whether a host:port binds to loopback only.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
