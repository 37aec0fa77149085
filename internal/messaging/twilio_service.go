package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/GreetPipe/internal/models"
	"github.com/BTreeMap/GreetPipe/internal/twiliowhatsapp"
)

// phoneNumberRegex matches everything that is not a digit or a leading plus.
var phoneNumberRegex = regexp.MustCompile(`[^\d+]`)

// TwilioService implements Service over Twilio WhatsApp. Every participant
// talks to the bot one-to-one, so every inbound message is addressed.
type TwilioService struct {
	client twiliowhatsapp.Sender
	name   string
	sink   *eventSink

	mu      sync.Mutex
	members map[string]struct{}
}

// NewTwilioService creates a new TwilioService. name is how the bot refers to itself.
func NewTwilioService(client twiliowhatsapp.Sender, name string) *TwilioService {
	return &TwilioService{
		client:  client,
		name:    name,
		sink:    newEventSink("TwilioService"),
		members: make(map[string]struct{}),
	}
}

// CanonicalizeNumber validates a phone number and reduces it to "+digits".
func CanonicalizeNumber(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(twiliowhatsapp.Number(recipient), "")
	canonical = "+" + strings.TrimLeft(canonical, "+")
	if len(canonical) < 7 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", recipient)
	}
	return canonical, nil
}

// Start emits the joined event; inbound traffic arrives through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	s.sink.emit(models.Event{Kind: models.EventJoined, From: s.name})
	return nil
}

// Stop closes the event channel.
func (s *TwilioService) Stop() error {
	slog.Info("TwilioService Stop invoked")
	s.sink.close()
	return nil
}

// Events returns the inbound event stream.
func (s *TwilioService) Events() <-chan models.Event {
	return s.sink.events
}

// Self returns the bot's name.
func (s *TwilioService) Self() string {
	return s.name
}

// Send delivers body to the number to. The "<to>: " address prefix is
// redundant in a one-to-one chat and is dropped.
func (s *TwilioService) Send(ctx context.Context, to, body string) error {
	if s.sink.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := CanonicalizeNumber(to)
	if err != nil {
		slog.Error("TwilioService Send validation error", "error", err, "to", to)
		return err
	}
	body = strings.TrimPrefix(body, to+": ")
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}
	slog.Debug("TwilioService message sent", "to", canonicalTo)
	return nil
}

// RequestRoster replays the numbers that have written to the bot.
func (s *TwilioService) RequestRoster(ctx context.Context) error {
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

// TwilioWebhookHandler handles inbound Twilio webhook requests and emits them as message events.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from, err := CanonicalizeNumber(r.FormValue("From"))
	body := strings.TrimSpace(r.FormValue("Body"))
	if err != nil || body == "" {
		slog.Warn("Twilio webhook missing fields", "from", r.FormValue("From"), "body_length", len(body))
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	if s.sink.isStopped() {
		http.Error(w, "Service stopped", http.StatusServiceUnavailable)
		return
	}

	s.mu.Lock()
	s.members[from] = struct{}{}
	s.mu.Unlock()

	// Accept "name: text" too, so the same commands work as in a channel.
	if stripped, ok := ParseAddressed(s.name, body); ok {
		body = stripped
	}
	slog.Info("Inbound WhatsApp message from Twilio", "from", from, "body_length", len(body))
	s.sink.emit(models.Event{Kind: models.EventMessage, From: from, Body: body, Addressed: true, Time: time.Now()})

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
