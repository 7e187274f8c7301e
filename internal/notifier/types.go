package notifier

import (
	"time"

	kit "scriptwatch/internal/transport"
)

// Config controls the async notification pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// SendTimeout bounds one adapter call. 0 means default.
	SendTimeout time.Duration

	Target  kit.ChatTarget
	Options kit.SendOptions
}

// HistoryItem is one delivered message.
type HistoryItem struct {
	At       time.Time
	Text     string
	Attempts int
	// Latency is the time from Notify to successful delivery.
	Latency time.Duration
}

// NotificationEvent is the Data of notifier.* bus events. It carries sizes,
// never message text.
type NotificationEvent struct {
	ChatID   int64         `json:"chat_id"`
	ThreadID int           `json:"thread_id,omitempty"`
	Size     int           `json:"size"`
	Attempts int           `json:"attempts,omitempty"`
	Latency  time.Duration `json:"latency_ns"`
	At       time.Time     `json:"at"`
	Error    string        `json:"error,omitempty"`
}
