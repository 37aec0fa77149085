// Package bot hosts a GreetPipe bot: it owns the greeting session and the
// outreach scheduler, feeds them transport events and timer ticks from a
// single goroutine, and publishes status snapshots for the API.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/GreetPipe/internal/greeting"
	"github.com/BTreeMap/GreetPipe/internal/messaging"
	"github.com/BTreeMap/GreetPipe/internal/models"
	"github.com/BTreeMap/GreetPipe/internal/scheduler"
	"github.com/BTreeMap/GreetPipe/internal/store"
	"github.com/BTreeMap/GreetPipe/internal/trivia"
	"github.com/BTreeMap/GreetPipe/internal/util"
)

const (
	// DefaultTickInterval is how often timeouts and outreach are polled.
	DefaultTickInterval = 250 * time.Millisecond
	// DefaultCommandPacing is the pause before answering a command.
	DefaultCommandPacing = 1 * time.Second
)

var (
	// ErrQuit is returned by Run after the die command.
	ErrQuit = errors.New("bot: quit requested")
	// ErrDisconnected is returned by Run when the transport closes its event stream.
	ErrDisconnected = errors.New("bot: messaging service disconnected")
)

// quitter is implemented by services that can leave with a farewell reason.
type quitter interface {
	Quit(reason string) error
}

// Opts holds configuration for a Bot.
type Opts struct {
	Clock           util.Clock
	Sleeper         util.Sleeper
	Rand            util.Rand
	Store           store.Store
	Answerer        trivia.Answerer
	Phrasebook      *greeting.Phrasebook
	TickInterval    time.Duration
	CommandPacing   time.Duration
	RosterCron      string
	Transport       string
	SessionOptions  []greeting.Option
	OutreachOptions []scheduler.OutreachOption
}

// Option configures a Bot.
type Option func(*Opts)

// WithClock sets the clock driving deadlines and receipts.
func WithClock(c util.Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

// WithSleeper sets how pacing delays are spent.
func WithSleeper(s util.Sleeper) Option {
	return func(o *Opts) { o.Sleeper = s }
}

// WithRand sets the random source shared by the session and outreach.
func WithRand(r util.Rand) Option {
	return func(o *Opts) { o.Rand = r }
}

// WithStore sets where receipts and finished conversations are recorded.
func WithStore(st store.Store) Option {
	return func(o *Opts) { o.Store = st }
}

// WithAnswerer sets the trivia answerer consulted for addressed questions.
func WithAnswerer(a trivia.Answerer) Option {
	return func(o *Opts) { o.Answerer = a }
}

// WithPhrasebook replaces the session's built-in phrases.
func WithPhrasebook(p greeting.Phrasebook) Option {
	return func(o *Opts) { o.Phrasebook = &p }
}

// WithTickInterval sets the polling interval of the host loop.
func WithTickInterval(d time.Duration) Option {
	return func(o *Opts) { o.TickInterval = d }
}

// WithCommandPacing sets the pause before command replies.
func WithCommandPacing(d time.Duration) Option {
	return func(o *Opts) { o.CommandPacing = d }
}

// WithRosterCron schedules periodic roster refreshes. Empty disables them.
func WithRosterCron(expr string) Option {
	return func(o *Opts) { o.RosterCron = expr }
}

// WithTransport names the transport in status snapshots.
func WithTransport(name string) Option {
	return func(o *Opts) { o.Transport = name }
}

// WithSessionOptions passes extra options to the greeting session.
func WithSessionOptions(opts ...greeting.Option) Option {
	return func(o *Opts) { o.SessionOptions = append(o.SessionOptions, opts...) }
}

// WithOutreachOptions passes extra options to the outreach scheduler.
func WithOutreachOptions(opts ...scheduler.OutreachOption) Option {
	return func(o *Opts) { o.OutreachOptions = append(o.OutreachOptions, opts...) }
}

// Bot is one running greeter bound to a messaging service.
type Bot struct {
	service       messaging.Service
	messenger     *receiptMessenger
	session       *greeting.Session
	outreach      *scheduler.Outreach
	answerer      trivia.Answerer
	store         store.Store
	clock         util.Clock
	sleeper       util.Sleeper
	tickInterval  time.Duration
	commandPacing time.Duration
	rosterCron    string
	transport     string

	self          string
	connected     bool
	stopped       bool
	usersPending  []string
	rosterReplies []string

	statusMu sync.RWMutex
	status   models.Status
}

// New creates a Bot for service. Without a store, receipts and conversations
// are kept in memory.
func New(service messaging.Service, opts ...Option) *Bot {
	cfg := Opts{
		TickInterval:  DefaultTickInterval,
		CommandPacing: DefaultCommandPacing,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = util.SystemClock{}
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = util.SystemClock{}
	}
	if cfg.Rand == nil {
		cfg.Rand = util.NewRand()
	}
	if cfg.Store == nil {
		cfg.Store = store.NewInMemoryStore()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	b := &Bot{
		service:       service,
		answerer:      cfg.Answerer,
		store:         cfg.Store,
		clock:         cfg.Clock,
		sleeper:       cfg.Sleeper,
		tickInterval:  cfg.TickInterval,
		commandPacing: cfg.CommandPacing,
		rosterCron:    cfg.RosterCron,
		transport:     cfg.Transport,
		self:          service.Self(),
	}
	b.messenger = &receiptMessenger{service: service, store: cfg.Store, clock: cfg.Clock}

	sessionOpts := []greeting.Option{
		greeting.WithRand(cfg.Rand),
		greeting.WithClock(cfg.Clock),
		greeting.WithSleeper(cfg.Sleeper),
		greeting.WithSelf(b.self),
		greeting.WithHooks(greeting.Hooks{
			OnTransition: b.onTransition,
			OnFinish:     b.saveConversation,
		}),
	}
	if cfg.Phrasebook != nil {
		sessionOpts = append(sessionOpts, greeting.WithPhrasebook(*cfg.Phrasebook))
	}
	b.session = greeting.NewSession(b.messenger, append(sessionOpts, cfg.SessionOptions...)...)

	outreachOpts := append([]scheduler.OutreachOption{scheduler.WithOutreachRand(cfg.Rand)}, cfg.OutreachOptions...)
	b.outreach = scheduler.NewOutreach(b.session, b.self, outreachOpts...)

	b.publish()
	return b
}

// Status returns the latest snapshot. It is safe to call from any goroutine.
func (b *Bot) Status() models.Status {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	return b.status
}

// Run connects the service and drives the bot until ctx ends, the die command
// arrives (ErrQuit) or the transport goes away (ErrDisconnected).
// Cancelling ctx is a clean shutdown and returns nil.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.service.Start(ctx); err != nil {
		return fmt.Errorf("start messaging service: %w", err)
	}
	defer b.stop()

	rosterTick := make(chan struct{}, 1)
	if b.rosterCron != "" {
		cron := scheduler.NewScheduler()
		defer cron.Stop()
		if err := cron.Signal(b.rosterCron, rosterTick); err != nil {
			return fmt.Errorf("schedule roster refresh %q: %w", b.rosterCron, err)
		}
	}

	ticker := time.NewTicker(b.tickInterval)
	defer ticker.Stop()

	slog.Info("Bot running", "transport", b.transport, "self", b.self, "tick", b.tickInterval, "roster_cron", b.rosterCron)
	events := b.service.Events()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Bot stopping: context done", "reason", ctx.Err())
			return nil
		case evt, ok := <-events:
			if !ok {
				b.connected = false
				b.publish()
				return ErrDisconnected
			}
			if err := b.handleEvent(ctx, evt); err != nil {
				return err
			}
		case <-ticker.C:
		case <-rosterTick:
			if err := b.service.RequestRoster(ctx); err != nil {
				slog.Warn("Bot roster refresh failed", "error", err)
			}
		}

		now := b.clock.Now()
		b.session.CheckTimeout(ctx, now)
		b.outreach.Tick(ctx, now)
		b.publish()
	}
}

func (b *Bot) handleEvent(ctx context.Context, evt models.Event) error {
	b.refreshSelf()
	switch evt.Kind {
	case models.EventJoined:
		b.connected = true
		b.outreach.ResetOnJoin(b.clock.Now())
		slog.Info("Bot joined", "self", b.self)
		if err := b.service.RequestRoster(ctx); err != nil {
			slog.Warn("Bot roster request after join failed", "error", err)
		}
	case models.EventRoster:
		b.handleRoster(evt)
	case models.EventRosterEnd:
		b.answerUsers(ctx)
	case models.EventDisconnected:
		b.connected = false
		slog.Warn("Bot transport disconnected", "self", b.self)
	case models.EventMessage:
		return b.handleMessage(ctx, evt)
	default:
		slog.Debug("Bot ignoring event", "kind", evt.Kind)
	}
	return nil
}

func (b *Bot) handleRoster(evt models.Event) {
	if evt.Raw == "" {
		for _, name := range evt.Names {
			b.outreach.NoteMember(name)
		}
		b.collectRoster(evt.Names)
		return
	}
	b.outreach.IngestRoster(evt.Raw)
	if names, ok := scheduler.ParseRosterLine(evt.Raw); ok {
		b.collectRoster(names)
	}
}

// collectRoster keeps names for pending users requests.
func (b *Bot) collectRoster(names []string) {
	if len(b.usersPending) > 0 {
		b.rosterReplies = append(b.rosterReplies, names...)
	}
}

// refreshSelf follows nick changes made by the transport.
func (b *Bot) refreshSelf() {
	if self := b.service.Self(); self != "" && self != b.self {
		slog.Info("Bot identity changed", "old", b.self, "new", self)
		b.self = self
		b.outreach.SetSelf(self)
	}
}

func (b *Bot) onTransition(from, to greeting.State) {
	slog.Debug("Bot session transition", "from", from, "to", to, "partner", b.session.Partner())
}

func (b *Bot) saveConversation(rec models.ConversationRecord) {
	if err := b.store.SaveConversation(rec); err != nil {
		slog.Error("Bot failed to save conversation", "error", err, "conversation_id", rec.ID)
		return
	}
	slog.Debug("Bot conversation saved", "conversation_id", rec.ID, "outcome", rec.Outcome, "lines", len(rec.Transcript))
}

func (b *Bot) publish() {
	st := models.Status{
		Transport:         b.transport,
		Self:              b.self,
		Connected:         b.connected,
		State:             string(b.session.State()),
		Partner:           b.session.Partner(),
		Role:              string(b.session.Role()),
		Completed:         b.session.ConversationCompleted(),
		OutreachAttempted: b.outreach.Attempted(),
		Members:           len(b.outreach.Members()),
		UpdatedAt:         b.clock.Now(),
	}
	if deadline, ok := b.outreach.Deadline(); ok {
		st.OutreachDeadline = &deadline
	}
	b.statusMu.Lock()
	b.status = st
	b.statusMu.Unlock()
}

func (b *Bot) stop() {
	if b.stopped {
		return
	}
	b.stopped = true
	if err := b.service.Stop(); err != nil {
		slog.Warn("Bot failed to stop messaging service", "error", err)
	}
	b.connected = false
	b.publish()
}

// receiptMessenger sends through the service and records a receipt per line.
type receiptMessenger struct {
	service messaging.Service
	store   store.Store
	clock   util.Clock
}

func (m *receiptMessenger) Send(ctx context.Context, to, body string) error {
	err := m.service.Send(ctx, to, body)
	status := models.MessageStatusSent
	if err != nil {
		status = models.MessageStatusFailed
	}
	if rerr := m.store.AddReceipt(models.Receipt{To: to, Status: status, Time: m.clock.Now().Unix()}); rerr != nil {
		slog.Warn("Bot failed to record receipt", "error", rerr, "to", to)
	}
	return err
}
