package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/GreetPipe/internal/greeting"
	"github.com/BTreeMap/GreetPipe/internal/util"
)

// Default bounds of the delay between joining a channel and reaching out unprompted.
const (
	DefaultOutreachMin = 10 * time.Second
	DefaultOutreachMax = 20 * time.Second
)

// rosterModePrefixes are the channel mode sigils IRC puts in front of nicknames.
const rosterModePrefixes = "@+%~&"

// Greeter is the part of the greeting session the outreach scheduler drives.
// *greeting.Session satisfies it.
type Greeter interface {
	State() greeting.State
	ConversationCompleted() bool
	ClearCompleted()
	InitiateGreeting(ctx context.Context, partner string) bool
}

// OutreachOpts holds configuration for an Outreach.
type OutreachOpts struct {
	Rand     util.Rand
	DelayMin time.Duration
	DelayMax time.Duration
}

// OutreachOption configures an Outreach.
type OutreachOption func(*OutreachOpts)

// WithOutreachRand sets the source used for the join delay and partner choice.
func WithOutreachRand(r util.Rand) OutreachOption {
	return func(o *OutreachOpts) { o.Rand = r }
}

// WithOutreachDelay sets the bounds of the random delay after joining.
func WithOutreachDelay(min, max time.Duration) OutreachOption {
	return func(o *OutreachOpts) {
		o.DelayMin = min
		o.DelayMax = max
	}
}

// Outreach tracks channel members and, once per membership epoch, asks the
// greeting session to open a conversation with one of them.
// Like the session it is driven from the host loop and is not safe for concurrent use.
type Outreach struct {
	greeter  Greeter
	self     string
	rand     util.Rand
	delayMin time.Duration
	delayMax time.Duration

	members   map[string]struct{}
	joinTime  time.Time
	deadline  time.Time
	attempted bool
}

// NewOutreach creates an Outreach for the bot named self. No deadline is armed
// until ResetOnJoin is called.
func NewOutreach(greeter Greeter, self string, opts ...OutreachOption) *Outreach {
	cfg := OutreachOpts{
		DelayMin: DefaultOutreachMin,
		DelayMax: DefaultOutreachMax,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Rand == nil {
		cfg.Rand = util.NewRand()
	}
	return &Outreach{
		greeter:  greeter,
		self:     self,
		rand:     cfg.Rand,
		delayMin: cfg.DelayMin,
		delayMax: cfg.DelayMax,
		members:  make(map[string]struct{}),
	}
}

// SetSelf updates the bot's own identifier, e.g. after a nick change.
func (o *Outreach) SetSelf(self string) {
	o.self = self
	delete(o.members, self)
}

// ResetOnJoin starts a new membership epoch at now.
func (o *Outreach) ResetOnJoin(now time.Time) {
	o.joinTime = now
	o.deadline = now.Add(util.UniformDuration(o.rand, o.delayMin, o.delayMax))
	o.attempted = false
	o.members = make(map[string]struct{})
	o.greeter.ClearCompleted()
	slog.Debug("Outreach ResetOnJoin", "join_time", now, "deadline", o.deadline)
}

// NoteMember records id as present in the channel. The bot itself and empty ids are ignored.
func (o *Outreach) NoteMember(id string) {
	id = strings.TrimSpace(id)
	if id == "" || id == o.self {
		return
	}
	if _, ok := o.members[id]; !ok {
		slog.Debug("Outreach NoteMember", "member", id)
	}
	o.members[id] = struct{}{}
}

// IngestRoster records every name in a raw RPL_NAMREPLY line.
// Lines without a trailing name list are dropped.
func (o *Outreach) IngestRoster(raw string) {
	names, ok := ParseRosterLine(raw)
	if !ok {
		slog.Warn("Outreach IngestRoster dropped malformed roster line", "line", raw)
		return
	}
	for _, name := range names {
		o.NoteMember(name)
	}
}

// ParseRosterLine extracts nicknames from an IRC NAMES reply such as
// ":server 353 bot = #chan :@alice +bob carol", stripping channel mode prefixes.
func ParseRosterLine(raw string) ([]string, bool) {
	idx := strings.LastIndex(raw, " :")
	if idx < 0 {
		return nil, false
	}
	var names []string
	for _, field := range strings.Fields(raw[idx+2:]) {
		if name := strings.TrimLeft(field, rosterModePrefixes); name != "" {
			names = append(names, name)
		}
	}
	return names, true
}

// Tick attempts the epoch's single outreach once its deadline has passed and
// the session is idle and has not completed a conversation yet.
func (o *Outreach) Tick(ctx context.Context, now time.Time) {
	if o.attempted || o.deadline.IsZero() || now.Before(o.deadline) {
		return
	}
	if o.greeter.ConversationCompleted() || o.greeter.State() != greeting.StateStart {
		return
	}
	candidates := o.Members()
	if len(candidates) == 0 {
		return
	}

	partner := util.Choice(o.rand, candidates)
	if o.greeter.InitiateGreeting(ctx, partner) {
		o.attempted = true
		slog.Info("Outreach initiated greeting", "partner", partner, "members", len(candidates))
		return
	}
	slog.Debug("Outreach InitiateGreeting declined, will retry", "partner", partner)
}

// Members returns the known members in sorted order.
func (o *Outreach) Members() []string {
	out := make([]string, 0, len(o.members))
	for m := range o.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// HasMember reports whether id has been seen in the current epoch.
func (o *Outreach) HasMember(id string) bool {
	_, ok := o.members[id]
	return ok
}

// Deadline returns the outreach deadline of the current epoch, if armed.
func (o *Outreach) Deadline() (time.Time, bool) {
	return o.deadline, !o.deadline.IsZero()
}

// JoinTime returns when the current epoch started.
func (o *Outreach) JoinTime() time.Time { return o.joinTime }

// Attempted reports whether the epoch's outreach has already been made.
func (o *Outreach) Attempted() bool { return o.attempted }
