package notifier

import (
	"time"

	"econbot/internal/transport"
)

// Config controls pacing and retries.
type Config struct {
	Target        transport.ChatTarget
	RatePerSec    float64
	Burst         int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	HistorySize   int
}

// Kind tells release messages from upcoming notices.
type Kind string

const (
	KindRelease  Kind = "release"
	KindUpcoming Kind = "upcoming"
	KindDigest   Kind = "digest"
	KindReply    Kind = "reply"
)

// Notification is one outbound message. A zero Target means Config.Target.
type Notification struct {
	Key    string
	Kind   Kind
	Text   string
	Target transport.ChatTarget
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Kind Kind      `json:"kind"`
	Key  string    `json:"key,omitempty"`
	Text string    `json:"text"`
}

// Event is the payload of notifier.sent and notifier.failed bus events.
type Event struct {
	Key      string    `json:"key"`
	Kind     Kind      `json:"kind"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
