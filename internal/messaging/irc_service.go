package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/GreetPipe/internal/irc"
	"github.com/BTreeMap/GreetPipe/internal/models"
	"github.com/ergochat/irc-go/ircmsg"
)

// IRCConn is the part of *irc.Client the IRC service needs.
type IRCConn interface {
	Connect(ctx context.Context) error
	Messages() <-chan ircmsg.Message
	Privmsg(target, text string) error
	Names(channel string) error
	Quit(reason string) error
	Nick() string
	Channel() string
}

// IRCService implements Service on top of a single IRC channel.
type IRCService struct {
	conn IRCConn
	sink *eventSink
}

// NewIRCService creates a new IRCService wrapping conn.
func NewIRCService(conn IRCConn) *IRCService {
	return &IRCService{
		conn: conn,
		sink: newEventSink("IRCService"),
	}
}

// Start connects and begins translating IRC traffic into events.
func (s *IRCService) Start(ctx context.Context) error {
	slog.Debug("IRCService Start invoked", "channel", s.conn.Channel())
	if err := s.conn.Connect(ctx); err != nil {
		return fmt.Errorf("irc service: %w", err)
	}
	go s.pump()
	return nil
}

// Stop quits the server. The events channel closes once the connection has ended.
func (s *IRCService) Stop() error {
	slog.Info("IRCService Stop invoked")
	if s.sink.isStopped() {
		return nil
	}
	return s.conn.Quit("GreetPipe shutting down")
}

// Quit leaves with a custom reason.
func (s *IRCService) Quit(reason string) error {
	return s.conn.Quit(reason)
}

// Events returns the inbound event stream.
func (s *IRCService) Events() <-chan models.Event {
	return s.sink.events
}

// Self returns the bot's current nickname.
func (s *IRCService) Self() string {
	return s.conn.Nick()
}

// Send posts body to the channel. Lines are already addressed by the caller,
// so to is only used for logging.
func (s *IRCService) Send(ctx context.Context, to, body string) error {
	if s.sink.isStopped() {
		return ErrServiceStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.conn.Privmsg(s.conn.Channel(), body); err != nil {
		slog.Error("IRCService Send error", "error", err, "to", to)
		return err
	}
	slog.Debug("IRCService line sent", "to", to, "body_length", len(body))
	return nil
}

// RequestRoster sends NAMES for the channel.
func (s *IRCService) RequestRoster(ctx context.Context) error {
	if s.sink.isStopped() {
		return ErrServiceStopped
	}
	return s.conn.Names(s.conn.Channel())
}

func (s *IRCService) pump() {
	defer func() {
		s.sink.emit(models.Event{Kind: models.EventDisconnected})
		s.sink.close()
		slog.Info("IRCService event pump stopped")
	}()
	for msg := range s.conn.Messages() {
		if evt, ok := s.translate(msg); ok {
			s.sink.emit(evt)
		}
	}
}

// translate maps one IRC message to an event for the configured channel.
func (s *IRCService) translate(msg ircmsg.Message) (models.Event, bool) {
	channel := s.conn.Channel()
	self := s.conn.Nick()

	switch msg.Command {
	case "PRIVMSG":
		if len(msg.Params) < 2 || !strings.EqualFold(msg.Params[0], channel) {
			return models.Event{}, false
		}
		from := msg.Nick()
		if from == "" || from == self {
			return models.Event{}, false
		}
		body, addressed := ParseAddressed(self, msg.Params[1])
		return models.Event{Kind: models.EventMessage, From: from, Body: body, Addressed: addressed}, true

	case "JOIN":
		if len(msg.Params) < 1 || !strings.EqualFold(msg.Params[0], channel) {
			return models.Event{}, false
		}
		if msg.Nick() == self {
			slog.Info("IRCService joined channel", "channel", channel, "nick", self)
			return models.Event{Kind: models.EventJoined, From: self}, true
		}
		return models.Event{Kind: models.EventRoster, Names: []string{msg.Nick()}}, true

	case irc.RplNamReply:
		// <client> <symbol> <channel> :<names>
		if len(msg.Params) < 4 || !strings.EqualFold(msg.Params[2], channel) {
			return models.Event{}, false
		}
		names := msg.Params[len(msg.Params)-1]
		raw := fmt.Sprintf(":%s %s %s :%s", msg.Source, msg.Command, strings.Join(msg.Params[:len(msg.Params)-1], " "), names)
		return models.Event{Kind: models.EventRoster, Raw: raw, Names: stripModes(strings.Fields(names))}, true

	case irc.RplEndOfNames:
		if len(msg.Params) < 2 || !strings.EqualFold(msg.Params[1], channel) {
			return models.Event{}, false
		}
		return models.Event{Kind: models.EventRosterEnd}, true
	}
	return models.Event{}, false
}

func stripModes(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimLeft(n, "@+%~&"); n != "" {
			out = append(out, n)
		}
	}
	return out
}
