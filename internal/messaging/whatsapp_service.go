package messaging

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/BTreeMap/GreetPipe/internal/models"
	"github.com/BTreeMap/GreetPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppGroup is the part of *whatsapp.Client the WhatsApp service needs.
type WhatsAppGroup interface {
	whatsapp.GroupSender
	Self() string
	Group() types.JID
	AddEventHandler(handler func(evt interface{})) uint32
	Disconnect()
}

// WhatsAppService implements Service using a WhatsApp group as the channel.
// Group membership is learned from activity.
type WhatsAppService struct {
	client WhatsAppGroup
	sink   *eventSink

	mu      sync.Mutex
	members map[string]struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given group client.
func NewWhatsAppService(client WhatsAppGroup) *WhatsAppService {
	return &WhatsAppService{
		client:  client,
		sink:    newEventSink("WhatsAppService"),
		members: make(map[string]struct{}),
	}
}

// Start registers the event handler. The client is already connected, so the
// bot is considered joined right away.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked", "group", s.client.Group().String())
	s.client.AddEventHandler(s.handleEvent)
	s.sink.emit(models.Event{Kind: models.EventJoined, From: s.client.Self()})
	return nil
}

// Stop disconnects and closes the event channel.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	if s.sink.close() {
		s.client.Disconnect()
	}
	return nil
}

// Events returns the inbound event stream.
func (s *WhatsAppService) Events() <-chan models.Event {
	return s.sink.events
}

// Self returns the bot's display name.
func (s *WhatsAppService) Self() string {
	return s.client.Self()
}

// Send posts body to the group.
func (s *WhatsAppService) Send(ctx context.Context, to, body string) error {
	if s.sink.isStopped() {
		return ErrServiceStopped
	}
	if err := s.client.SendGroupMessage(ctx, body); err != nil {
		slog.Error("WhatsAppService Send error", "error", err, "to", to)
		return err
	}
	slog.Debug("WhatsAppService line sent", "to", to, "body_length", len(body))
	return nil
}

// RequestRoster replays the members seen so far as one roster listing.
func (s *WhatsAppService) RequestRoster(ctx context.Context) error {
	if s.sink.isStopped() {
		return ErrServiceStopped
	}
	s.mu.Lock()
	names := make([]string, 0, len(s.members))
	for m := range s.members {
		names = append(names, m)
	}
	s.mu.Unlock()
	sort.Strings(names)

	s.sink.emit(models.Event{Kind: models.EventRoster, Names: names})
	s.sink.emit(models.Event{Kind: models.EventRosterEnd})
	return nil
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		s.handleIncomingMessage(v)
	case *events.Connected:
		slog.Info("WhatsAppService connected")
		s.sink.emit(models.Event{Kind: models.EventJoined, From: s.client.Self()})
	case *events.Disconnected:
		slog.Warn("WhatsAppService disconnected")
		s.sink.emit(models.Event{Kind: models.EventDisconnected})
	}
}

// handleIncomingMessage turns a group text message into a message event.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.Chat != s.client.Group() {
		return
	}
	text := whatsapp.MessageText(evt.Message)
	if text == "" {
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	from := evt.Info.PushName
	if from == "" {
		from = evt.Info.Sender.User
	}
	if from == "" {
		return
	}
	s.mu.Lock()
	s.members[from] = struct{}{}
	s.mu.Unlock()

	body, addressed := ParseAddressed(s.client.Self(), text)
	slog.Debug("WhatsAppService processing incoming message", "from", from, "addressed", addressed, "body_length", len(body))
	s.sink.emit(models.Event{
		Kind:      models.EventMessage,
		From:      from,
		Body:      body,
		Addressed: addressed,
		Time:      evt.Info.Timestamp,
	})
}
