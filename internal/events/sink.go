package events

import (
	"sync"
	"time"

	"github.com/poslab/catsync/internal/models"
)

// EventType identifies a sync status event.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventPageApplied  EventType = "page_applied"
	EventRunSucceeded EventType = "run_succeeded"
	EventRunFailed    EventType = "run_failed"
)

// Event is a human-readable sync status event. Message carries no raw error
// text; failure detail stays in the logs.
type Event struct {
	Type           EventType             `json:"type"`
	Timestamp      time.Time             `json:"timestamp"`
	RunID          string                `json:"run_id,omitempty"`
	Reason         models.Reason         `json:"reason,omitempty"`
	Mode           models.Mode           `json:"mode,omitempty"`
	Classification models.Classification `json:"classification,omitempty"`
	Message        string                `json:"message"`
}

// Sink receives status events from the engine. Write-only from the
// engine's perspective; implementations must not block.
type Sink interface {
	Notify(Event)
}

// LoggerSink writes status events to the structured log.
type LoggerSink struct {
	logger *Logger
}

// NewLoggerSink creates the default sink.
func NewLoggerSink(logger *Logger) *LoggerSink {
	return &LoggerSink{logger: logger.WithField("component", "status_sink")}
}

func (s *LoggerSink) Notify(ev Event) {
	log := s.logger.WithFields(map[string]interface{}{
		"event":  string(ev.Type),
		"run_id": ev.RunID,
	})
	if ev.Type == EventRunFailed {
		log.Warn(ev.Message)
		return
	}
	log.Info(ev.Message)
}

// ChannelSink buffers events for a consumer such as the CLI. Events are
// dropped, never blocked on, when the consumer falls behind.
type ChannelSink struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (s *ChannelSink) Notify(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// Events returns the consumer side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Close stops delivery and closes the channel.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Notify(ev Event) {
	for _, s := range m {
		s.Notify(ev)
	}
}
