package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// SendFunc delivers one log line to a chat. The app passes a closure over
// the Telegram adapter so this package stays free of transport types.
type SendFunc func(ctx context.Context, chatID int64, threadID int, text string) error

const (
	chatQueueSize = 256
	chatTextMax   = 3500
)

type chatLine struct {
	chatID   int64
	threadID int
	text     string
}

// chatSink is a zerolog.LevelWriter that mirrors records at or above a
// minimum level to a Telegram chat. Writes never block: lines over the rate
// limit or the queue capacity are dropped.
type chatSink struct {
	send  atomic.Pointer[SendFunc]
	queue chan chatLine

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter
	stop     context.CancelFunc
	done     chan struct{}
}

func newChatSink() *chatSink {
	return &chatSink{queue: make(chan chatLine, chatQueueSize), limiter: rate.NewLimiter(1, 1)}
}

func (c *chatSink) setSender(fn SendFunc) {
	if fn != nil {
		c.send.Store(&fn)
	}
}

func (c *chatSink) configure(tc TelegramConfig) {
	rps := max(1, tc.RatePerSec)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatID, c.threadID = tc.ChatID, tc.ThreadID
	c.minLevel = ParseLevel(tc.MinLevel, LevelWarn)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if tc.Enabled && c.stop == nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.stop, c.done = cancel, make(chan struct{})
		go c.run(ctx, c.done)
	}
}

func (c *chatSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-c.queue:
			if fn := c.send.Load(); fn != nil {
				_ = (*fn)(ctx, l.chatID, l.threadID, l.text)
			}
		}
	}
}

func (c *chatSink) close() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(LevelInfo, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	line := chatLine{chatID: c.chatID, threadID: c.threadID}
	pass := line.chatID != 0 && level >= c.minLevel && c.limiter.Allow()
	c.mu.Unlock()
	if !pass {
		return len(p), nil
	}
	if line.text = FormatChatLine(p); line.text != "" {
		select {
		case c.queue <- line:
		default:
		}
	}
	return len(p), nil
}

// FormatChatLine renders one zerolog JSON record as "[LEVEL] message"
// followed by "- key=value" lines in key order, with any stack last.
// Non-JSON input is returned trimmed.
func FormatChatLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return truncate(raw, chatTextMax)
	}

	var b strings.Builder
	if lvl, _ := rec["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec["message"].(string)
	b.WriteString(msg)

	stack, hasStack := rec["stack"]
	for _, k := range []string{"time", "level", "message", "stack"} {
		delete(rec, k)
	}
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(rec[k]), 600))
	}
	if hasStack {
		fmt.Fprintf(&b, "\n- stack=\n%s", truncate(fmt.Sprint(stack), 900))
	}
	return truncate(b.String(), chatTextMax)
}

func truncate(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	}
	return s[:n-3] + "..."
}
