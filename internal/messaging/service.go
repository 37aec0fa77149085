// Package messaging adapts chat transports (IRC, WhatsApp groups, Twilio) to
// the single event stream and send operation the bot host works with.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/GreetPipe/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging: service stopped")

// Messenger delivers one line attributed to a conversation partner.
type Messenger interface {
	Send(ctx context.Context, to, body string) error
}

// Service is a pluggable chat transport.
type Service interface {
	Messenger

	// Start connects and begins emitting events.
	Start(ctx context.Context) error

	// Stop disconnects and closes the event channel.
	Stop() error

	// Events returns inbound messages, roster snapshots and membership changes.
	Events() <-chan models.Event

	// Self returns the bot's own identifier on the transport.
	Self() string

	// RequestRoster asks the transport for the current member list. The answer
	// arrives as EventRoster events followed by one EventRosterEnd.
	RequestRoster(ctx context.Context) error
}

// ParseAddressed reports whether body is addressed to self ("self: text",
// case-insensitive) and returns the text with the address stripped.
// Unaddressed bodies are returned trimmed.
func ParseAddressed(self, body string) (string, bool) {
	trimmed := strings.TrimSpace(body)
	if self == "" {
		return trimmed, false
	}
	prefix := strings.ToLower(self) + ":"
	if len(trimmed) < len(prefix) || strings.ToLower(trimmed[:len(prefix)]) != prefix {
		return trimmed, false
	}
	return strings.TrimSpace(trimmed[len(prefix):]), true
}

// eventSink is the shared emit/close plumbing for services.
type eventSink struct {
	name    string
	events  chan models.Event
	mu      sync.RWMutex
	stopped bool
}

func newEventSink(name string) *eventSink {
	return &eventSink{
		name:   name,
		events: make(chan models.Event, DefaultChannelBufferSize),
	}
}

// emit forwards evt unless the sink is closed, dropping it if the consumer
// stalls for longer than DefaultChannelTimeout.
func (s *eventSink) emit(evt models.Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Debug(s.name+" dropping event after stop", "kind", evt.Kind, "from", evt.From)
		return
	}
	select {
	case s.events <- evt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(s.name+" events channel blocked, dropping event", "kind", evt.Kind, "from", evt.From, "timeout", DefaultChannelTimeout)
	}
}

// close marks the sink stopped and closes the event channel once.
// It reports whether this call did the closing.
func (s *eventSink) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.stopped = true
	close(s.events)
	return true
}

func (s *eventSink) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}
