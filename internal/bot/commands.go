package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/BTreeMap/GreetPipe/internal/models"
	"github.com/BTreeMap/GreetPipe/internal/trivia"
)

// Fixed command replies.
const (
	QuitReply   = "I shall!"
	QuitReason  = "goodbye"
	ForgetReply = "forgetting everything"
	// NobodyElseReply answers "users" when the bot and the requester are alone.
	NobodyElseReply = "nobody else is here"
	// ExampleQuestion closes the self description.
	ExampleQuestion = `Example question: "How many people live in Italy?"`
)

var greetingWords = map[string]bool{"hi": true, "hello": true, "hey": true}

// IsGreeting reports whether text contains hi, hello or hey as a whole word.
func IsGreeting(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if greetingWords[w] {
			return true
		}
	}
	return false
}

// AddressedToOther reports whether a chat line starts with a "<nick>:" address.
// URLs such as "http://..." do not count.
func AddressedToOther(body string) bool {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return false
	}
	first := fields[0]
	return len(first) > 1 && strings.HasSuffix(first, ":") && !strings.Contains(first, "/")
}

// handleMessage routes one chat line. Lines from the active partner go to the
// session before trivia so small talk is never answered as a question.
func (b *Bot) handleMessage(ctx context.Context, evt models.Event) error {
	from := strings.TrimSpace(evt.From)
	if from == "" || from == b.self {
		return nil
	}
	b.outreach.NoteMember(from)

	if !evt.Addressed {
		if from == b.session.Partner() && !AddressedToOther(evt.Body) {
			b.session.HandleMessage(ctx, from, evt.Body)
		}
		return nil
	}
	return b.handleCommand(ctx, from, strings.TrimSpace(evt.Body))
}

func (b *Bot) handleCommand(ctx context.Context, sender, text string) error {
	lower := strings.ToLower(text)
	slog.Debug("Bot handling addressed message", "sender", sender, "text", text)

	switch lower {
	case "die":
		b.pause()
		b.reply(ctx, sender, QuitReply)
		b.quit()
		return ErrQuit
	case "forget":
		b.pause()
		b.session.Reset()
		if f, ok := b.answerer.(trivia.Forgetter); ok {
			f.Forget()
		}
		b.outreach.ResetOnJoin(b.clock.Now())
		if err := b.service.RequestRoster(ctx); err != nil {
			slog.Warn("Bot roster request after forget failed", "error", err)
		}
		b.reply(ctx, sender, ForgetReply)
		return nil
	case "who are you", "who are you?", "usage":
		b.pause()
		for _, line := range b.describeSelf() {
			b.reply(ctx, sender, line)
		}
		b.send(ctx, sender, ExampleQuestion)
		return nil
	case "users":
		b.pause()
		b.usersPending = append(b.usersPending, sender)
		if err := b.service.RequestRoster(ctx); err != nil {
			slog.Warn("Bot users roster request failed", "error", err, "requester", sender)
			b.usersPending = b.usersPending[:len(b.usersPending)-1]
		}
		return nil
	}

	if IsGreeting(lower) {
		b.session.ReceiveGreeting(ctx, sender)
		return nil
	}
	if sender == b.session.Partner() && b.session.HandleMessage(ctx, sender, text) {
		return nil
	}
	if b.answerer != nil {
		if answer, ok := b.answerer.Answer(ctx, text); ok {
			b.pause()
			b.reply(ctx, sender, answer)
			return nil
		}
	}
	if !b.session.HandleMessage(ctx, sender, text) {
		slog.Debug("Bot had nothing to say", "sender", sender, "text", text)
	}
	return nil
}

func (b *Bot) describeSelf() []string {
	return []string{
		fmt.Sprintf("My name is %s. I greet people in this channel and answer questions about countries.", b.self),
		"I can answer questions about country stats (population, area, region, coastline, population density, " +
			"GDP, literacy, cellular subscriptions, birthrate, deathrate). Say hi and I will say hi back.",
	}
}

// answerUsers replies to every pending users request with the names seen
// since the request, minus the requester and the bot.
func (b *Bot) answerUsers(ctx context.Context) {
	if len(b.usersPending) == 0 {
		return
	}
	for _, requester := range b.usersPending {
		seen := make(map[string]bool)
		var names []string
		for _, name := range b.rosterReplies {
			if name == requester || name == b.self || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
		if len(names) == 0 {
			b.reply(ctx, requester, NobodyElseReply)
			continue
		}
		b.reply(ctx, requester, strings.Join(names, " "))
	}
	b.usersPending = nil
	b.rosterReplies = nil
}

func (b *Bot) reply(ctx context.Context, to, text string) {
	b.send(ctx, to, to+": "+text)
}

func (b *Bot) send(ctx context.Context, to, body string) {
	if err := b.messenger.Send(ctx, to, body); err != nil {
		slog.Warn("Bot failed to send reply", "error", err, "to", to)
	}
}

func (b *Bot) pause() {
	if b.commandPacing > 0 {
		b.sleeper.Sleep(b.commandPacing)
	}
}

// quit leaves with QuitReason when the transport supports it, and stops the
// service otherwise.
func (b *Bot) quit() {
	q, ok := b.service.(quitter)
	if !ok {
		b.stop()
		return
	}
	if err := q.Quit(QuitReason); err != nil {
		slog.Warn("Bot quit failed, stopping service", "error", err)
		b.stop()
		return
	}
	b.stopped = true
	b.connected = false
	b.publish()
}
