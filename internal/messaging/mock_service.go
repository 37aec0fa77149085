package messaging

import (
	"context"
	"sync"

	"github.com/BTreeMap/GreetPipe/internal/models"
)

// SentLine is one line captured by MockService.
type SentLine struct {
	To   string
	Body string
}

// MockService is an in-memory Service for tests. Inbound traffic is injected
// with Push; outbound lines are recorded.
type MockService struct {
	self string
	sink *eventSink

	mu             sync.Mutex
	sent           []SentLine
	started        bool
	rosterRequests int

	// Roster is replayed by RequestRoster.
	Roster []string
	// SendErr, when set, fails every Send.
	SendErr error
}

// NewMockService creates a MockService whose bot identity is self.
func NewMockService(self string) *MockService {
	return &MockService{self: self, sink: newEventSink("MockService")}
}

// Start marks the service started.
func (m *MockService) Start(ctx context.Context) error {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}

// Stop closes the event channel.
func (m *MockService) Stop() error {
	m.sink.close()
	return nil
}

// Events returns injected events.
func (m *MockService) Events() <-chan models.Event { return m.sink.events }

// Self returns the configured identity.
func (m *MockService) Self() string { return m.self }

// Send records the line.
func (m *MockService) Send(ctx context.Context, to, body string) error {
	if m.sink.isStopped() {
		return ErrServiceStopped
	}
	if m.SendErr != nil {
		return m.SendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentLine{To: to, Body: body})
	return nil
}

// RequestRoster counts the request and replays Roster.
func (m *MockService) RequestRoster(ctx context.Context) error {
	if m.sink.isStopped() {
		return ErrServiceStopped
	}
	m.mu.Lock()
	m.rosterRequests++
	names := append([]string(nil), m.Roster...)
	m.mu.Unlock()
	m.sink.emit(models.Event{Kind: models.EventRoster, Names: names})
	m.sink.emit(models.Event{Kind: models.EventRosterEnd})
	return nil
}

// Push injects an inbound event.
func (m *MockService) Push(evt models.Event) {
	m.sink.emit(evt)
}

// Sent returns a copy of every recorded line.
func (m *MockService) Sent() []SentLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentLine, len(m.sent))
	copy(out, m.sent)
	return out
}

// Started reports whether Start was called.
func (m *MockService) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// RosterRequests returns how many times RequestRoster was called.
func (m *MockService) RosterRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rosterRequests
}
