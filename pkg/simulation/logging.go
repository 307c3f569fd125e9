package simulation

import (
	"fmt"
	"sync"
	"time"

	"github.com/cpunion/heirloom/pkg/feed"
)

// EventLog is the journal record of one processed scenario event.
type EventLog struct {
	Timestamp     time.Time `json:"timestamp"`
	RunID         string    `json:"run_id"`
	Variant       string    `json:"variant"`
	Period        int       `json:"period"`
	SubStep       int       `json:"sub_step"`
	EventID       string    `json:"event_id"`
	Title         string    `json:"title"`
	Model         string    `json:"model"`
	Status        string    `json:"status"`
	PromptChars   int       `json:"prompt_chars"`
	ResponseChars int       `json:"response_chars"`
	Response      string    `json:"response,omitempty"`
	SignalSource  string    `json:"signal_source,omitempty"`
	Conflicts     int       `json:"conflicts"`
	Alliances     int       `json:"alliances"`
	TrustChanges  int       `json:"trust_changes"`
	Broadcasts    int       `json:"broadcast_trust_changes"`
	Behaviors     int       `json:"behaviors"`
	Attempts      int       `json:"attempts"`
	DurationMS    int64     `json:"duration_ms"`
	PromptTokens  int       `json:"prompt_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	Error         string    `json:"error,omitempty"`
}

// EventLogger records processed events for later analysis.
type EventLogger interface {
	LogEvent(EventLog) error
	Close() error
}

// FeedLogger writes events into a sharded feed directory.
type FeedLogger struct {
	w *feed.Writer
}

// NewFeedLogger opens or resumes the feed in dir.
func NewFeedLogger(dir string, shardSize int) (*FeedLogger, error) {
	w, err := feed.Open(feed.Config{Dir: dir, ShardSize: shardSize})
	if err != nil {
		return nil, err
	}
	return &FeedLogger{w: w}, nil
}

func (l *FeedLogger) LogEvent(ev EventLog) error {
	if err := l.w.Append(ev.Period, ev); err != nil {
		return fmt.Errorf("log event %s: %w", ev.EventID, err)
	}
	return nil
}

func (l *FeedLogger) Close() error { return l.w.Close() }

// MemoryLogger keeps events in memory.
type MemoryLogger struct {
	mu     sync.Mutex
	events []EventLog
}

func (m *MemoryLogger) LogEvent(ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryLogger) Close() error { return nil }

// Events returns a copy of the logged events.
func (m *MemoryLogger) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EventLog(nil), m.events...)
}
