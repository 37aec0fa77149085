package greeting

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/GreetPipe/internal/models"
	"github.com/BTreeMap/GreetPipe/internal/util"
)

// Default timing for the ritual.
const (
	// DefaultTimeoutMin and DefaultTimeoutMax bound the random wait for a reply.
	DefaultTimeoutMin = 20 * time.Second
	DefaultTimeoutMax = 30 * time.Second
	// DefaultPacing separates the bot's lines so they are not perceived as simultaneous.
	DefaultPacing = 1 * time.Second
	// DefaultSelf is the transcript speaker name used for the bot's own lines.
	DefaultSelf = "self"
)

// Messenger delivers one line attributed to a conversation.
type Messenger interface {
	Send(ctx context.Context, to, body string) error
}

// Hooks receive session lifecycle notifications. Nil fields are skipped.
type Hooks struct {
	// OnTransition fires after every state change, once the deadline for the
	// new state has been armed or cleared.
	OnTransition func(from, to State)
	// OnFinish fires when a conversation completes, gives up or is abandoned.
	OnFinish func(rec models.ConversationRecord)
}

// Opts holds configuration for a Session.
type Opts struct {
	Rand       util.Rand
	Clock      util.Clock
	Sleeper    util.Sleeper
	Phrases    *Phrasebook
	Pacing     time.Duration
	TimeoutMin time.Duration
	TimeoutMax time.Duration
	Self       string
	Hooks      Hooks
}

// Option defines a configuration option for a Session.
type Option func(*Opts)

// WithRand sets the random source for phrase selection and timeout jitter.
func WithRand(r util.Rand) Option {
	return func(o *Opts) { o.Rand = r }
}

// WithClock sets the clock used to arm deadlines.
func WithClock(c util.Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

// WithSleeper sets how pacing delays are spent.
func WithSleeper(s util.Sleeper) Option {
	return func(o *Opts) { o.Sleeper = s }
}

// WithPhrasebook replaces the built-in phrase tables.
func WithPhrasebook(p Phrasebook) Option {
	return func(o *Opts) { o.Phrases = &p }
}

// WithPacing sets the delay between two lines of one turn.
func WithPacing(d time.Duration) Option {
	return func(o *Opts) { o.Pacing = d }
}

// WithTimeoutRange sets the bounds of the random reply deadline.
func WithTimeoutRange(min, max time.Duration) Option {
	return func(o *Opts) {
		o.TimeoutMin = min
		o.TimeoutMax = max
	}
}

// WithSelf names the bot in conversation transcripts.
func WithSelf(name string) Option {
	return func(o *Opts) { o.Self = name }
}

// WithHooks installs lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(o *Opts) { o.Hooks = h }
}

// Session is the greeting state machine for one bot.
type Session struct {
	messenger Messenger
	rand      util.Rand
	clock     util.Clock
	sleeper   util.Sleeper
	phrases   Phrasebook
	pacing    time.Duration
	minWait   time.Duration
	maxWait   time.Duration
	self      string
	hooks     Hooks

	state    State
	partner  string
	role     Role
	deadline time.Time
	// timeoutEscalated is set once the single inquiry reminder has been sent
	// while the initiator waits for the partner's inquiry.
	timeoutEscalated bool
	// conversationCompleted survives Reset; only ClearCompleted drops it.
	conversationCompleted bool

	conversationID string
	startedAt      time.Time
	transcript     []models.TranscriptLine
}

// NewSession creates an idle Session that talks through messenger.
// A nil messenger turns every send into a no-op.
func NewSession(messenger Messenger, opts ...Option) *Session {
	cfg := Opts{
		Pacing:     DefaultPacing,
		TimeoutMin: DefaultTimeoutMin,
		TimeoutMax: DefaultTimeoutMax,
		Self:       DefaultSelf,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Rand == nil {
		cfg.Rand = util.NewRand()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.SystemClock{}
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = util.SystemClock{}
	}
	phrases := DefaultPhrasebook()
	if cfg.Phrases != nil {
		phrases = *cfg.Phrases
	}
	slog.Debug("Creating greeting Session", "pacing", cfg.Pacing, "timeout_min", cfg.TimeoutMin, "timeout_max", cfg.TimeoutMax)
	return &Session{
		messenger: messenger,
		rand:      cfg.Rand,
		clock:     cfg.Clock,
		sleeper:   cfg.Sleeper,
		phrases:   phrases,
		pacing:    cfg.Pacing,
		minWait:   cfg.TimeoutMin,
		maxWait:   cfg.TimeoutMax,
		self:      cfg.Self,
		hooks:     cfg.Hooks,
		state:     StateStart,
	}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Partner returns the other party of the active conversation, or "".
func (s *Session) Partner() string { return s.partner }

// Role returns the side the bot is playing, RoleUnset when idle.
func (s *Session) Role() Role { return s.role }

// Deadline returns the armed timeout deadline, if any.
func (s *Session) Deadline() (time.Time, bool) {
	return s.deadline, !s.deadline.IsZero()
}

// ConversationCompleted reports whether any conversation has finished since
// the flag was last cleared.
func (s *Session) ConversationCompleted() bool { return s.conversationCompleted }

// ClearCompleted forgets that a conversation has finished.
func (s *Session) ClearCompleted() { s.conversationCompleted = false }

// Reset abandons the active conversation, if any, and returns to START.
// The completed flag is left untouched.
func (s *Session) Reset() {
	if s.state != StateStart {
		slog.Info("Session Reset abandoning conversation", "partner", s.partner, "state", s.state)
		s.notifyFinish(models.OutcomeAbandoned)
	}
	s.reset()
}

// InitiateGreeting opens a conversation with partner as Initiator.
// It returns false without side effects unless the session is idle.
func (s *Session) InitiateGreeting(ctx context.Context, partner string) bool {
	if s.state != StateStart {
		slog.Debug("Session InitiateGreeting rejected: not idle", "state", s.state, "partner", partner)
		return false
	}
	if partner == "" {
		slog.Debug("Session InitiateGreeting rejected: empty partner")
		return false
	}

	s.begin(partner, RoleInitiator)
	s.transition(StateInitiatorOutreach1)
	s.say(ctx, s.phrases.Opening)
	slog.Info("Session started outreach", "partner", partner, "conversation_id", s.conversationID)
	return true
}

// ReceiveGreeting handles sender greeting the bot.
//
// From START the bot becomes Responder. While an outreach is still pending, a
// greeting from somebody else replaces the pending partner. A greeting from
// the current partner is handled as the message "hello". Greetings from
// others during a committed conversation are ignored.
func (s *Session) ReceiveGreeting(ctx context.Context, sender string) {
	if sender == "" {
		return
	}
	if s.state != StateStart {
		switch {
		case sender == s.partner:
			s.HandleMessage(ctx, sender, "hello")
			return
		case s.state.IsPending():
			slog.Info("Session dropping pending outreach for competing greeting", "old_partner", s.partner, "new_partner", sender)
			s.Reset()
		default:
			slog.Debug("Session ignoring greeting from non-partner", "sender", sender, "partner", s.partner, "state", s.state)
			return
		}
	}

	s.begin(sender, RoleResponder)
	s.transition(StateResponderGreeted)
	s.say(ctx, s.phrases.GreetingReply)
	slog.Info("Session answered greeting", "partner", sender, "conversation_id", s.conversationID)
}

// HandleMessage feeds a line from sender into the conversation.
// It returns false when the line is not for the session (idle, or sender is
// not the partner) so the host can try other handlers.
func (s *Session) HandleMessage(ctx context.Context, sender, text string) bool {
	if s.state == StateStart || sender != s.partner {
		return false
	}
	clean := strings.TrimSpace(text)
	if clean == "" {
		return true
	}

	s.record(sender, clean)
	s.pause()
	slog.Debug("Session HandleMessage", "partner", sender, "state", s.state, "role", s.role)

	switch s.state {
	case StateInitiatorOutreach1, StateInitiatorOutreach2:
		s.transition(StateInitiatorAskStatus)
		s.say(ctx, s.phrases.StatusQuestion)

	case StateInitiatorAskStatus:
		if LooksLikeInquiry(clean) {
			s.answerAndClose(ctx)
			return true
		}
		s.timeoutEscalated = false
		s.transition(StateResponderAwaitInquiry)

	case StateResponderAwaitInquiry:
		switch {
		case LooksLikeInquiry(clean):
			s.answerAndClose(ctx)
		case s.timeoutEscalated:
			s.giveUp(ctx)
		default:
			s.remind(ctx)
		}

	case StateResponderGreeted:
		if !LooksLikeInquiry(clean) {
			s.say(ctx, s.phrases.InquiryReminder)
			s.armDeadline()
			return true
		}
		s.transition(StateResponderAwaitInquiry)
		s.say(ctx, s.phrases.ResponderAnswer)
		s.pause()
		s.transition(StateResponderAsking)
		s.say(ctx, s.phrases.FollowUpQuestion)

	case StateResponderAsking:
		s.finish(models.OutcomeCompleted)
	}
	return true
}

// CheckTimeout fires the timeout transition when now has reached the deadline.
func (s *Session) CheckTimeout(ctx context.Context, now time.Time) {
	if s.state == StateStart || s.deadline.IsZero() || now.Before(s.deadline) {
		return
	}
	slog.Debug("Session deadline reached", "partner", s.partner, "state", s.state, "deadline", s.deadline)

	switch {
	case s.state == StateInitiatorOutreach1:
		s.transition(StateInitiatorOutreach2)
		s.say(ctx, s.phrases.SecondaryOutreach)
	case s.state == StateResponderAwaitInquiry && s.role == RoleInitiator && !s.timeoutEscalated:
		s.remind(ctx)
	default:
		s.giveUp(ctx)
	}
}

// remind sends the single allowed prompt asking the partner to inquire.
func (s *Session) remind(ctx context.Context) {
	s.timeoutEscalated = true
	s.say(ctx, s.phrases.InquiryReminder)
	s.armDeadline()
}

func (s *Session) answerAndClose(ctx context.Context) {
	s.transition(StateInitiatorAwaitAck)
	s.say(ctx, s.phrases.InitiatorAnswer)
	s.finish(models.OutcomeCompleted)
}

func (s *Session) giveUp(ctx context.Context) {
	s.transition(StateGiveUp)
	s.say(ctx, s.phrases.GiveUp)
	slog.Info("Session gave up", "partner", s.partner, "conversation_id", s.conversationID)
	s.finish(models.OutcomeGaveUp)
}

// finish completes the conversation and folds back into START.
func (s *Session) finish(outcome models.ConversationOutcome) {
	s.conversationCompleted = true
	s.transition(StateEnd)
	slog.Info("Session conversation finished", "partner", s.partner, "role", s.role, "outcome", outcome, "conversation_id", s.conversationID)
	s.notifyFinish(outcome)
	s.reset()
}

func (s *Session) begin(partner string, role Role) {
	s.partner = partner
	s.role = role
	s.timeoutEscalated = false
	s.conversationID = util.GenerateConversationID()
	s.startedAt = s.clock.Now()
	s.transcript = nil
}

func (s *Session) reset() {
	s.partner = ""
	s.role = RoleUnset
	s.timeoutEscalated = false
	s.conversationID = ""
	s.startedAt = time.Time{}
	s.transcript = nil
	if s.state != StateStart {
		s.transition(StateStart)
	}
}

// transition moves to next and arms or clears the deadline to match it.
func (s *Session) transition(next State) {
	prev := s.state
	s.state = next
	if next.HoldsDeadline() {
		s.armDeadline()
	} else {
		s.deadline = time.Time{}
	}
	if s.hooks.OnTransition != nil {
		s.hooks.OnTransition(prev, next)
	}
}

func (s *Session) armDeadline() {
	s.deadline = s.clock.Now().Add(util.UniformDuration(s.rand, s.minWait, s.maxWait))
}

func (s *Session) pause() {
	if s.pacing > 0 {
		s.sleeper.Sleep(s.pacing)
	}
}

// say picks a line for the situation and sends it prefixed with the partner's name.
func (s *Session) say(ctx context.Context, options []string) {
	text := util.Choice(s.rand, options)
	if text == "" || s.partner == "" {
		return
	}
	s.record(s.self, text)
	if s.messenger == nil {
		return
	}
	if err := s.messenger.Send(ctx, s.partner, s.partner+": "+text); err != nil {
		slog.Warn("Session failed to send line", "error", err, "partner", s.partner, "state", s.state)
	}
}

func (s *Session) record(from, body string) {
	s.transcript = append(s.transcript, models.TranscriptLine{From: from, Body: body, Time: s.clock.Now()})
}

func (s *Session) notifyFinish(outcome models.ConversationOutcome) {
	if s.hooks.OnFinish == nil {
		return
	}
	transcript := make([]models.TranscriptLine, len(s.transcript))
	copy(transcript, s.transcript)
	s.hooks.OnFinish(models.ConversationRecord{
		ID:         s.conversationID,
		Partner:    s.partner,
		Role:       string(s.role),
		Outcome:    outcome,
		Transcript: transcript,
		StartedAt:  s.startedAt,
		FinishedAt: s.clock.Now(),
	})
}
