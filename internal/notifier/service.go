package notifier

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"econbot/internal/config"
	"econbot/internal/eventbus"
	"econbot/internal/transport"
	"econbot/pkg/logx"

	"golang.org/x/time/rate"
)

// ErrNoTarget is returned when neither the notification nor the config name a
// chat.
var ErrNoTarget = errors.New("notifier: no target chat")

// Sender is the part of a transport adapter the notifier needs.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type Service struct {
	sender Sender
	log    logx.Logger
	bus    eventbus.Bus

	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter

	histMu sync.Mutex
	hist   []HistoryItem

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		sender: sender,
		log:    log.Component("notifier"),
		bus:    bus,
		sleep:  sleepCtx,
	}
	s.Apply(cfg)
	return s
}

// FromConfig maps the file config onto notifier settings.
func FromConfig(c config.Config) Config {
	n := c.Notifier
	return Config{
		Target:        transport.ChatTarget{ChatID: c.Telegram.ChannelID, ThreadID: c.Telegram.ChannelThreadID},
		RatePerSec:    n.RatePerSec,
		Burst:         n.Burst,
		RetryMax:      n.RetryMax,
		RetryBase:     config.MustDuration(n.RetryBase, time.Second),
		RetryMaxDelay: config.MustDuration(n.RetryMaxDelay, 20*time.Second),
		SendTimeout:   config.MustDuration(n.SendTimeout, 10*time.Second),
		HistorySize:   n.HistorySize,
	}
}

// Apply swaps the configuration. The limiter is rebuilt only when its
// parameters change so a reload does not refill the bucket.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	if s.limiter == nil || old.RatePerSec != cfg.RatePerSec || old.Burst != cfg.Burst {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	}
	s.mu.Unlock()

	s.histMu.Lock()
	if len(s.hist) > cfg.HistorySize {
		s.hist = append([]HistoryItem(nil), s.hist[len(s.hist)-cfg.HistorySize:]...)
	}
	s.histMu.Unlock()
}

func (s *Service) snapshot() (Config, *rate.Limiter) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.limiter
}

// Send delivers n and returns once the transport accepted it or every attempt
// failed.
func (s *Service) Send(ctx context.Context, n Notification) error {
	cfg, lim := s.snapshot()
	to := n.Target
	if to.ChatID == 0 {
		to = cfg.Target
	}
	if to.ChatID == 0 {
		return ErrNoTarget
	}
	if n.Kind == "" {
		n.Kind = KindRelease
	}
	opt := &transport.SendOptions{DisablePreview: true}

	var err error
	attempts := 0
	for attempts <= cfg.RetryMax {
		attempts++
		if werr := lim.Wait(ctx); werr != nil {
			err = werr
			break
		}
		sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err = s.sender.SendText(sctx, to, n.Text, opt)
		cancel()
		if err == nil {
			s.delivered(n, to, attempts)
			return nil
		}
		if ctx.Err() != nil || attempts > cfg.RetryMax || transport.IsPermanent(err) {
			break
		}
		d := max(retryDelay(cfg, attempts), transport.RetryAfter(err))
		s.log.Warn("send failed; retrying",
			logx.String("key", n.Key),
			logx.Int("attempt", attempts),
			logx.Duration("backoff", d),
			logx.Err(err),
		)
		if serr := s.sleep(ctx, d); serr != nil {
			break
		}
	}

	s.log.Error("send failed",
		logx.String("key", n.Key),
		logx.Int("attempts", attempts),
		logx.Err(err),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyFailed, Time: time.Now(), Data: Event{
		Key: n.Key, Kind: n.Kind, ChatID: to.ChatID, ThreadID: to.ThreadID,
		Attempts: attempts, At: time.Now(), Error: err.Error(),
	}})
	return err
}

func (s *Service) delivered(n Notification, to transport.ChatTarget, attempts int) {
	now := time.Now()
	s.log.Info("sent", logx.String("key", n.Key), logx.String("kind", string(n.Kind)), logx.Int("attempts", attempts))
	s.appendHistory(HistoryItem{At: now, Kind: n.Kind, Key: n.Key, Text: n.Text})
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySent, Time: now, Data: Event{
		Key: n.Key, Kind: n.Kind, ChatID: to.ChatID, ThreadID: to.ThreadID,
		Attempts: attempts, At: now,
	}})
}

func (s *Service) appendHistory(it HistoryItem) {
	cfg, _ := s.snapshot()
	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.hist = append(s.hist, it)
	if over := len(s.hist) - cfg.HistorySize; over > 0 {
		s.hist = append(s.hist[:0:0], s.hist[over:]...)
	}
}

// History returns up to limit recent deliveries, newest first. limit <= 0
// returns all of them.
func (s *Service) History(limit int) []HistoryItem {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	n := len(s.hist)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]HistoryItem, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.hist[i])
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1, delay is for the next attempt.
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
