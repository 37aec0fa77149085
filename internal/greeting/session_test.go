package greeting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/GreetPipe/internal/models"
	"github.com/BTreeMap/GreetPipe/internal/testutil"
	"github.com/BTreeMap/GreetPipe/internal/util"
)

var testStart = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type sessionFixture struct {
	session   *Session
	messenger *testutil.RecordingMessenger
	clock     *testutil.FakeClock
	finished  []models.ConversationRecord
}

// newFixture builds a session that always picks the first phrase and the
// shortest timeout (20s).
func newFixture(t *testing.T, opts ...Option) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		messenger: &testutil.RecordingMessenger{},
		clock:     testutil.NewFakeClock(testStart),
	}
	base := []Option{
		WithRand(testutil.FixedRand{}),
		WithClock(f.clock),
		WithSleeper(f.clock),
		WithSelf("greetbot"),
		WithHooks(Hooks{OnFinish: func(rec models.ConversationRecord) {
			f.finished = append(f.finished, rec)
		}}),
	}
	f.session = NewSession(f.messenger, append(base, opts...)...)
	return f
}

func (f *sessionFixture) bodies() []string {
	var out []string
	for _, m := range f.messenger.Sent() {
		out = append(out, m.Body)
	}
	return out
}

func (f *sessionFixture) expireDeadline(t *testing.T) {
	t.Helper()
	deadline, ok := f.session.Deadline()
	if !ok {
		t.Fatalf("expected an armed deadline in state %s", f.session.State())
	}
	f.clock.Advance(deadline.Sub(f.clock.Now()))
	f.session.CheckTimeout(context.Background(), f.clock.Now())
}

func assertBodies(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d sent lines %q, got %d: %q", len(want), want, len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestInitiateGreeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if !f.session.InitiateGreeting(ctx, "bob") {
		t.Fatal("expected InitiateGreeting to succeed from START")
	}
	if f.session.State() != StateInitiatorOutreach1 {
		t.Errorf("expected state %s, got %s", StateInitiatorOutreach1, f.session.State())
	}
	if f.session.Role() != RoleInitiator || f.session.Partner() != "bob" {
		t.Errorf("unexpected role/partner: %s/%s", f.session.Role(), f.session.Partner())
	}
	deadline, ok := f.session.Deadline()
	if !ok || !deadline.Equal(testStart.Add(20*time.Second)) {
		t.Errorf("expected deadline at start+20s, got %v (armed=%v)", deadline, ok)
	}
	sent := f.messenger.Sent()
	if len(sent) != 1 || sent[0].To != "bob" || sent[0].Body != "bob: Hello!" {
		t.Errorf("unexpected outreach: %+v", sent)
	}

	if f.session.InitiateGreeting(ctx, "carol") {
		t.Error("expected second InitiateGreeting to fail")
	}
	if f.session.State() != StateInitiatorOutreach1 || f.session.Partner() != "bob" {
		t.Errorf("second InitiateGreeting changed the session: %s/%s", f.session.State(), f.session.Partner())
	}
	if len(f.messenger.Sent()) != 1 {
		t.Errorf("second InitiateGreeting sent a line")
	}
}

func TestInitiateGreetingRejectsEmptyPartner(t *testing.T) {
	f := newFixture(t)
	if f.session.InitiateGreeting(context.Background(), "") {
		t.Error("expected empty partner to be rejected")
	}
	if f.session.State() != StateStart {
		t.Errorf("expected START, got %s", f.session.State())
	}
}

func TestOutreachTimeoutEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session.InitiateGreeting(ctx, "bob")

	f.clock.Advance(19 * time.Second)
	f.session.CheckTimeout(ctx, f.clock.Now())
	if f.session.State() != StateInitiatorOutreach1 {
		t.Fatalf("timeout fired early: state %s", f.session.State())
	}

	f.clock.Advance(time.Second)
	f.session.CheckTimeout(ctx, f.clock.Now())
	if f.session.State() != StateInitiatorOutreach2 {
		t.Fatalf("expected %s, got %s", StateInitiatorOutreach2, f.session.State())
	}
	deadline, ok := f.session.Deadline()
	if !ok || !deadline.After(f.clock.Now()) {
		t.Errorf("expected a fresh deadline in the future, got %v", deadline)
	}
	assertBodies(t, f.bodies(), "bob: Hello!", "bob: I said HI!")

	f.expireDeadline(t)
	if f.session.State() != StateStart {
		t.Errorf("expected fold back to START after giving up, got %s", f.session.State())
	}
	if !f.session.ConversationCompleted() {
		t.Error("expected conversationCompleted after giving up")
	}
	assertBodies(t, f.bodies(), "bob: Hello!", "bob: I said HI!", "bob: Ok, forget you.")
	if len(f.finished) != 1 || f.finished[0].Outcome != models.OutcomeGaveUp {
		t.Errorf("expected one gave_up record, got %+v", f.finished)
	}
}

func TestCheckTimeoutNoopWhenIdle(t *testing.T) {
	f := newFixture(t)
	f.session.CheckTimeout(context.Background(), testStart.Add(time.Hour))
	if f.session.State() != StateStart || len(f.messenger.Sent()) != 0 {
		t.Error("expected CheckTimeout to do nothing while idle")
	}
}

func TestResponderAnswersInquiryAndAsksBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.session.ReceiveGreeting(ctx, "alice")
	if f.session.State() != StateResponderGreeted || f.session.Role() != RoleResponder {
		t.Fatalf("expected responder greeted, got %s/%s", f.session.State(), f.session.Role())
	}
	assertBodies(t, f.bodies(), "alice: Hello back at you!")

	if !f.session.HandleMessage(ctx, "alice", "hi! how are you?") {
		t.Fatal("expected partner message to be consumed")
	}
	if f.session.State() != StateResponderAsking {
		t.Errorf("expected %s, got %s", StateResponderAsking, f.session.State())
	}
	assertBodies(t, f.bodies(), "alice: Hello back at you!", "alice: I'm fine.", "alice: How about you?")
	if sleeps := f.clock.Sleeps(); len(sleeps) != 2 {
		t.Errorf("expected a pacing delay before the reply and between the two lines, got %v", sleeps)
	}

	f.session.HandleMessage(ctx, "alice", "doing great")
	if f.session.State() != StateStart || !f.session.ConversationCompleted() {
		t.Errorf("expected completed conversation, got state %s completed=%v", f.session.State(), f.session.ConversationCompleted())
	}
	if len(f.finished) != 1 {
		t.Fatalf("expected one finished record, got %d", len(f.finished))
	}
	rec := f.finished[0]
	if rec.Outcome != models.OutcomeCompleted || rec.Partner != "alice" || rec.Role != string(RoleResponder) {
		t.Errorf("unexpected record: %+v", rec)
	}
	if len(rec.Transcript) != 5 {
		t.Errorf("expected 5 transcript lines, got %d: %+v", len(rec.Transcript), rec.Transcript)
	}
	if rec.Transcript[0].From != "greetbot" || rec.Transcript[1].From != "alice" {
		t.Errorf("unexpected transcript speakers: %+v", rec.Transcript)
	}
}

func TestResponderRemindsWithoutInquiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session.ReceiveGreeting(ctx, "alice")

	f.session.HandleMessage(ctx, "alice", "nice weather today")
	if f.session.State() != StateResponderGreeted {
		t.Errorf("expected state unchanged, got %s", f.session.State())
	}
	assertBodies(t, f.bodies(), "alice: Hello back at you!", "alice: Feel free to ask how I'm doing!")
	deadline, _ := f.session.Deadline()
	if !deadline.Equal(f.clock.Now().Add(20 * time.Second)) {
		t.Errorf("expected deadline re-armed from now, got %v", deadline)
	}

	f.expireDeadline(t)
	if f.session.State() != StateStart || !f.session.ConversationCompleted() {
		t.Errorf("expected give up after silence, got %s", f.session.State())
	}
}

func TestInitiatorEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.session.InitiateGreeting(ctx, "bob")
	f.session.HandleMessage(ctx, "bob", "fine thanks")
	if f.session.State() != StateInitiatorAskStatus {
		t.Fatalf("expected %s, got %s", StateInitiatorAskStatus, f.session.State())
	}
	f.session.HandleMessage(ctx, "bob", "good, and you?")

	assertBodies(t, f.bodies(), "bob: Hello!", "bob: How are you?", "bob: I'm good.")
	if f.session.State() != StateStart {
		t.Errorf("expected START, got %s", f.session.State())
	}
	if !f.session.ConversationCompleted() {
		t.Error("expected conversationCompleted")
	}
	if _, ok := f.session.Deadline(); ok {
		t.Error("expected no deadline after completion")
	}
}

func TestInitiatorAwaitInquiryTimesOutTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.session.InitiateGreeting(ctx, "bob")
	f.session.HandleMessage(ctx, "bob", "hey")
	f.session.HandleMessage(ctx, "bob", "fine thanks")
	if f.session.State() != StateResponderAwaitInquiry || f.session.Role() != RoleInitiator {
		t.Fatalf("expected initiator awaiting inquiry, got %s/%s", f.session.State(), f.session.Role())
	}
	assertBodies(t, f.bodies(), "bob: Hello!", "bob: How are you?")

	f.expireDeadline(t)
	if f.session.State() != StateResponderAwaitInquiry {
		t.Fatalf("expected first timeout to keep waiting, got %s", f.session.State())
	}
	assertBodies(t, f.bodies(), "bob: Hello!", "bob: How are you?", "bob: Feel free to ask how I'm doing!")

	var transitions []State
	f.session.hooks.OnTransition = func(from, to State) { transitions = append(transitions, to) }
	f.expireDeadline(t)

	if f.session.State() != StateStart || !f.session.ConversationCompleted() {
		t.Errorf("expected give up, got %s completed=%v", f.session.State(), f.session.ConversationCompleted())
	}
	if len(transitions) == 0 || transitions[0] != StateGiveUp {
		t.Errorf("expected GIVEUP transition, got %v", transitions)
	}
	assertBodies(t, f.bodies(), "bob: Hello!", "bob: How are you?", "bob: Feel free to ask how I'm doing!", "bob: Ok, forget you.")
}

func TestInitiatorAwaitInquiryRemindsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.session.InitiateGreeting(ctx, "bob")
	f.session.HandleMessage(ctx, "bob", "hey")
	f.session.HandleMessage(ctx, "bob", "fine thanks")

	f.session.HandleMessage(ctx, "bob", "yep")
	if f.session.State() != StateResponderAwaitInquiry {
		t.Fatalf("expected to keep waiting after first non-inquiry, got %s", f.session.State())
	}
	f.session.HandleMessage(ctx, "bob", "ok")
	if f.session.State() != StateStart || !f.session.ConversationCompleted() {
		t.Errorf("expected give up on second non-inquiry, got %s", f.session.State())
	}
	assertBodies(t, f.bodies(), "bob: Hello!", "bob: How are you?", "bob: Feel free to ask how I'm doing!", "bob: Ok, forget you.")
}

func TestInitiatorReminderThenTimeoutGivesUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.session.InitiateGreeting(ctx, "bob")
	f.session.HandleMessage(ctx, "bob", "hey")
	f.session.HandleMessage(ctx, "bob", "fine thanks")
	f.session.HandleMessage(ctx, "bob", "yep")

	f.expireDeadline(t)
	if f.session.State() != StateStart {
		t.Errorf("expected timeout after reminder to give up, got %s", f.session.State())
	}
}

func TestInitiatorAwaitInquiryAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.session.InitiateGreeting(ctx, "bob")
	f.session.HandleMessage(ctx, "bob", "hey")
	f.session.HandleMessage(ctx, "bob", "fine thanks")
	f.session.HandleMessage(ctx, "bob", "what's up with you")

	if f.session.State() != StateStart || !f.session.ConversationCompleted() {
		t.Errorf("expected completion, got %s", f.session.State())
	}
	if len(f.finished) != 1 || f.finished[0].Outcome != models.OutcomeCompleted {
		t.Errorf("expected completed record, got %+v", f.finished)
	}
}

func TestCompetingGreetingReplacesPendingOutreach(t *testing.T) {
	for _, escalate := range []bool{false, true} {
		f := newFixture(t)
		ctx := context.Background()
		f.session.InitiateGreeting(ctx, "bob")
		if escalate {
			f.expireDeadline(t)
			if f.session.State() != StateInitiatorOutreach2 {
				t.Fatalf("expected %s, got %s", StateInitiatorOutreach2, f.session.State())
			}
		}

		f.session.ReceiveGreeting(ctx, "carol")

		if f.session.State() != StateResponderGreeted {
			t.Errorf("escalated=%v: expected %s, got %s", escalate, StateResponderGreeted, f.session.State())
		}
		if f.session.Partner() != "carol" || f.session.Role() != RoleResponder {
			t.Errorf("escalated=%v: expected carol as responder partner, got %s/%s", escalate, f.session.Partner(), f.session.Role())
		}
		if len(f.finished) != 1 || f.finished[0].Partner != "bob" || f.finished[0].Outcome != models.OutcomeAbandoned {
			t.Errorf("escalated=%v: expected abandoned record for bob, got %+v", escalate, f.finished)
		}
		if f.session.ConversationCompleted() {
			t.Errorf("escalated=%v: abandoning must not mark a conversation completed", escalate)
		}
		sent := f.messenger.Sent()
		if last := sent[len(sent)-1]; last.To != "carol" || last.Body != "carol: Hello back at you!" {
			t.Errorf("escalated=%v: unexpected reply %+v", escalate, last)
		}
	}
}

func TestGreetingFromPartnerIsTreatedAsHello(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session.InitiateGreeting(ctx, "bob")

	f.session.ReceiveGreeting(ctx, "bob")
	if f.session.State() != StateInitiatorAskStatus || f.session.Partner() != "bob" {
		t.Errorf("expected partner greeting to advance to %s, got %s", StateInitiatorAskStatus, f.session.State())
	}
}

func TestGreetingFromOthersIgnoredOnceCommitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session.InitiateGreeting(ctx, "bob")
	f.session.HandleMessage(ctx, "bob", "hi there")
	before := len(f.messenger.Sent())

	f.session.ReceiveGreeting(ctx, "carol")

	if f.session.Partner() != "bob" || f.session.State() != StateInitiatorAskStatus {
		t.Errorf("committed conversation was disturbed: %s/%s", f.session.Partner(), f.session.State())
	}
	if len(f.messenger.Sent()) != before {
		t.Error("expected no reply to carol")
	}
}

func TestHandleMessageRouting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if f.session.HandleMessage(ctx, "bob", "hello") {
		t.Error("expected idle session to decline messages")
	}

	f.session.InitiateGreeting(ctx, "bob")
	if f.session.HandleMessage(ctx, "carol", "hello") {
		t.Error("expected message from non-partner to be declined")
	}
	if !f.session.HandleMessage(ctx, "bob", "   ") {
		t.Error("expected whitespace from partner to be consumed")
	}
	if f.session.State() != StateInitiatorOutreach1 {
		t.Errorf("whitespace caused a transition to %s", f.session.State())
	}
	if len(f.messenger.Sent()) != 1 {
		t.Error("whitespace caused a send")
	}
}

func TestCompletedFlagSurvivesReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session.InitiateGreeting(ctx, "bob")
	f.session.HandleMessage(ctx, "bob", "hi")
	f.session.HandleMessage(ctx, "bob", "how are you?")

	f.session.Reset()
	if !f.session.ConversationCompleted() {
		t.Error("expected completed flag to survive Reset")
	}
	f.session.ClearCompleted()
	if f.session.ConversationCompleted() {
		t.Error("expected ClearCompleted to drop the flag")
	}
}

func TestResetAbandonsActiveConversation(t *testing.T) {
	f := newFixture(t)
	f.session.ReceiveGreeting(context.Background(), "alice")

	f.session.Reset()

	if f.session.State() != StateStart || f.session.Partner() != "" || f.session.Role() != RoleUnset {
		t.Errorf("expected clean START, got %s/%q/%q", f.session.State(), f.session.Partner(), f.session.Role())
	}
	if _, ok := f.session.Deadline(); ok {
		t.Error("expected deadline cleared")
	}
	if len(f.finished) != 1 || f.finished[0].Outcome != models.OutcomeAbandoned {
		t.Errorf("expected abandoned record, got %+v", f.finished)
	}
}

func TestSendFailureDoesNotStallConversation(t *testing.T) {
	f := newFixture(t)
	f.messenger.Err = errors.New("connection reset")
	ctx := context.Background()

	if !f.session.InitiateGreeting(ctx, "bob") {
		t.Fatal("expected InitiateGreeting to succeed despite send failure")
	}
	f.session.HandleMessage(ctx, "bob", "hi")
	if f.session.State() != StateInitiatorAskStatus {
		t.Errorf("expected progress despite send failures, got %s", f.session.State())
	}
}

func TestNilMessengerIsSilent(t *testing.T) {
	s := NewSession(nil, WithSleeper(testutil.NewFakeClock(testStart)))
	ctx := context.Background()
	if !s.InitiateGreeting(ctx, "bob") {
		t.Fatal("expected InitiateGreeting to succeed without a messenger")
	}
	s.HandleMessage(ctx, "bob", "hello")
	if s.State() != StateInitiatorAskStatus {
		t.Errorf("expected %s, got %s", StateInitiatorAskStatus, s.State())
	}
}

func TestCustomPhrasebook(t *testing.T) {
	book := DefaultPhrasebook()
	book.Opening = []string{"Ahoy!"}
	f := newFixture(t, WithPhrasebook(book))

	f.session.InitiateGreeting(context.Background(), "bob")
	assertBodies(t, f.bodies(), "bob: Ahoy!")
}

// TestDeadlineInvariant drives the session with random input and checks that
// a deadline is armed exactly in the non-terminal, non-idle states.
func TestDeadlineInvariant(t *testing.T) {
	clock := testutil.NewFakeClock(testStart)
	var s *Session
	checks := 0
	s = NewSession(&testutil.RecordingMessenger{},
		WithRand(util.NewSeededRand(7)),
		WithClock(clock),
		WithSleeper(clock),
		WithHooks(Hooks{OnTransition: func(from, to State) {
			checks++
			if _, ok := s.Deadline(); ok != to.HoldsDeadline() {
				t.Errorf("transition %s -> %s: deadline armed=%v", from, to, ok)
			}
		}}),
	)

	driver := util.NewSeededRand(99)
	people := []string{"alice", "bob", "carol"}
	lines := []string{"hello", "fine thanks", "how are you?", "", "ok", "and you?", "what's up"}
	ctx := context.Background()

	for i := 0; i < 5000; i++ {
		who := people[driver.IntN(len(people))]
		switch driver.IntN(5) {
		case 0:
			s.InitiateGreeting(ctx, who)
		case 1:
			s.ReceiveGreeting(ctx, who)
		case 2, 3:
			s.HandleMessage(ctx, who, lines[driver.IntN(len(lines))])
		case 4:
			clock.Advance(time.Duration(driver.IntN(35)) * time.Second)
			s.CheckTimeout(ctx, clock.Now())
		}
		if _, ok := s.Deadline(); ok != s.State().HoldsDeadline() {
			t.Fatalf("step %d: state %s with deadline armed=%v", i, s.State(), ok)
		}
	}
	if checks == 0 {
		t.Fatal("expected transitions to be observed")
	}
}

func TestResponderCloseStaysOnResponderPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.session.ReceiveGreeting(ctx, "alice")
	f.session.HandleMessage(ctx, "alice", "how are you?")

	var transitions []State
	f.session.hooks.OnTransition = func(from, to State) { transitions = append(transitions, to) }
	f.session.HandleMessage(ctx, "alice", "doing great")

	if len(transitions) != 2 || transitions[0] != StateEnd || transitions[1] != StateStart {
		t.Errorf("expected END then START when a responder conversation closes, got %v", transitions)
	}
}
