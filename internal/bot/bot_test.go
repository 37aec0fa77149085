package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/GreetPipe/internal/config"
	"github.com/BTreeMap/GreetPipe/internal/greeting"
	"github.com/BTreeMap/GreetPipe/internal/messaging"
	"github.com/BTreeMap/GreetPipe/internal/models"
	"github.com/BTreeMap/GreetPipe/internal/scheduler"
	"github.com/BTreeMap/GreetPipe/internal/store"
	"github.com/BTreeMap/GreetPipe/internal/testutil"
)

type stubAnswerer struct {
	answer    string
	asked     []string
	forgotten int
}

func (s *stubAnswerer) Answer(ctx context.Context, question string) (string, bool) {
	s.asked = append(s.asked, question)
	return s.answer, s.answer != ""
}

func (s *stubAnswerer) Forget() { s.forgotten++ }

type fixture struct {
	bot   *Bot
	svc   *messaging.MockService
	clock *testutil.FakeClock
	store *store.InMemoryStore
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	f := fixture{
		svc:   messaging.NewMockService("greetbot"),
		clock: testutil.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		store: store.NewInMemoryStore(),
	}
	base := []Option{
		WithClock(f.clock),
		WithSleeper(f.clock),
		WithRand(testutil.FixedRand{}),
		WithStore(f.store),
		WithTransport("irc"),
	}
	f.bot = New(f.svc, append(base, opts...)...)
	return f
}

func (f fixture) say(t *testing.T, from, body string, addressed bool) error {
	t.Helper()
	return f.bot.handleEvent(context.Background(), models.Event{
		Kind: models.EventMessage, From: from, Body: body, Addressed: addressed,
	})
}

// drain feeds every queued service event back into the bot.
func (f fixture) drain(t *testing.T) {
	t.Helper()
	for {
		select {
		case evt, ok := <-f.svc.Events():
			if !ok {
				return
			}
			if err := f.bot.handleEvent(context.Background(), evt); err != nil {
				t.Fatalf("handleEvent(%s): %v", evt.Kind, err)
			}
		default:
			return
		}
	}
}

func bodies(lines []messaging.SentLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Body
	}
	return out
}

func TestIsGreeting(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"hi", true},
		{"Hello there!", true},
		{"hey, how's it going", true},
		{"this is nothing", false},
		{"which country", false},
		{"they said so", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsGreeting(tt.text); got != tt.want {
			t.Errorf("IsGreeting(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestGreetingStartsResponderConversation(t *testing.T) {
	f := newFixture(t)
	if err := f.say(t, "alice", "hi", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.bot.session.State() != greeting.StateResponderGreeted || f.bot.session.Partner() != "alice" {
		t.Fatalf("expected responder conversation with alice, got %s/%q", f.bot.session.State(), f.bot.session.Partner())
	}
	sent := f.svc.Sent()
	if len(sent) != 1 || sent[0].Body != "alice: Hello back at you!" {
		t.Errorf("unexpected lines %v", bodies(sent))
	}
	if !f.bot.outreach.HasMember("alice") {
		t.Error("expected sender to be noted as member")
	}
}

func TestResponderConversationIsSaved(t *testing.T) {
	f := newFixture(t)
	for _, line := range []string{"hello", "how are you?", "good thanks"} {
		if err := f.say(t, "alice", line, true); err != nil {
			t.Fatalf("say %q: %v", line, err)
		}
	}
	if f.bot.session.State() != greeting.StateStart || !f.bot.session.ConversationCompleted() {
		t.Fatalf("expected completed conversation, state %s", f.bot.session.State())
	}
	want := []string{"alice: Hello back at you!", "alice: I'm fine.", "alice: How about you?"}
	if got := bodies(f.svc.Sent()); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, got)
	}

	records, err := f.store.ListConversations(10)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(records) != 1 || records[0].Outcome != models.OutcomeCompleted || records[0].Partner != "alice" {
		t.Fatalf("unexpected records %+v", records)
	}
	if records[0].Role != string(greeting.RoleResponder) || len(records[0].Transcript) != 5 {
		t.Errorf("unexpected record details %+v", records[0])
	}

	receipts, _ := f.store.GetReceipts()
	if len(receipts) != 3 {
		t.Errorf("expected a receipt per line, got %d", len(receipts))
	}
}

func TestPartnerSmallTalkBypassesTrivia(t *testing.T) {
	answerer := &stubAnswerer{answer: "Italy has 58 million people."}
	f := newFixture(t, WithAnswerer(answerer))
	f.say(t, "alice", "hey", true)
	f.say(t, "alice", "how are you?", true)
	if len(answerer.asked) != 0 {
		t.Errorf("partner line reached trivia: %v", answerer.asked)
	}
	if f.bot.session.State() != greeting.StateResponderAsking {
		t.Errorf("expected RESPONDER_ASKING, got %s", f.bot.session.State())
	}

	f.say(t, "bob", "How many people live in Italy?", true)
	sent := f.svc.Sent()
	if last := sent[len(sent)-1].Body; last != "bob: Italy has 58 million people." {
		t.Errorf("expected trivia answer for bob, got %q", last)
	}
}

func TestUnansweredQuestionFallsThrough(t *testing.T) {
	answerer := &stubAnswerer{}
	f := newFixture(t, WithAnswerer(answerer))
	f.say(t, "bob", "what is the meaning of life", true)
	if len(answerer.asked) != 1 {
		t.Errorf("expected trivia to be consulted once, got %v", answerer.asked)
	}
	if len(f.svc.Sent()) != 0 {
		t.Errorf("expected silence, got %v", bodies(f.svc.Sent()))
	}
}

func TestUnaddressedMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if !f.bot.session.InitiateGreeting(ctx, "alice") {
		t.Fatal("InitiateGreeting declined")
	}

	f.say(t, "bob", "hi everyone", false)
	if f.bot.session.Partner() != "alice" || !f.bot.outreach.HasMember("bob") {
		t.Fatalf("unaddressed bystander changed the conversation: partner=%q", f.bot.session.Partner())
	}

	f.say(t, "alice", "oh hey", false)
	if f.bot.session.State() != greeting.StateInitiatorAskStatus {
		t.Errorf("expected partner line to advance the session, got %s", f.bot.session.State())
	}
	sent := f.svc.Sent()
	if last := sent[len(sent)-1].Body; last != "alice: How are you?" {
		t.Errorf("unexpected reply %q", last)
	}
}

func TestDieQuits(t *testing.T) {
	f := newFixture(t)
	err := f.say(t, "alice", "DIE", true)
	if !errors.Is(err, ErrQuit) {
		t.Fatalf("expected ErrQuit, got %v", err)
	}
	sent := f.svc.Sent()
	if len(sent) != 1 || sent[0].Body != "alice: I shall!" {
		t.Errorf("unexpected lines %v", bodies(sent))
	}
	if err := f.svc.Send(context.Background(), "x", "y"); !errors.Is(err, messaging.ErrServiceStopped) {
		t.Errorf("expected service to be stopped, got %v", err)
	}
	if f.bot.Status().Connected {
		t.Error("expected status to report disconnected")
	}
}

func TestForgetResetsEverything(t *testing.T) {
	answerer := &stubAnswerer{}
	f := newFixture(t, WithAnswerer(answerer))
	f.say(t, "alice", "hi", true)
	if err := f.say(t, "alice", "forget", true); err != nil {
		t.Fatalf("forget: %v", err)
	}

	if f.bot.session.State() != greeting.StateStart {
		t.Errorf("expected START after forget, got %s", f.bot.session.State())
	}
	if answerer.forgotten != 1 {
		t.Errorf("expected trivia memory to be cleared once, got %d", answerer.forgotten)
	}
	if _, ok := f.bot.outreach.Deadline(); !ok {
		t.Error("expected a fresh outreach epoch")
	}
	records, _ := f.store.ListConversations(10)
	if len(records) != 1 || records[0].Outcome != models.OutcomeAbandoned {
		t.Errorf("expected abandoned conversation, got %+v", records)
	}
	sent := f.svc.Sent()
	if last := sent[len(sent)-1].Body; last != "alice: forgetting everything" {
		t.Errorf("unexpected reply %q", last)
	}
}

func TestWhoAreYou(t *testing.T) {
	for _, cmd := range []string{"who are you", "Who are you?", "usage"} {
		t.Run(cmd, func(t *testing.T) {
			f := newFixture(t)
			f.say(t, "alice", cmd, true)
			sent := bodies(f.svc.Sent())
			if len(sent) != 3 {
				t.Fatalf("expected three lines, got %v", sent)
			}
			if !strings.HasPrefix(sent[0], "alice: My name is greetbot.") {
				t.Errorf("unexpected first line %q", sent[0])
			}
			if sent[2] != ExampleQuestion {
				t.Errorf("expected unaddressed example question, got %q", sent[2])
			}
			if sleeps := f.clock.Sleeps(); len(sleeps) != 1 || sleeps[0] != DefaultCommandPacing {
				t.Errorf("expected one pacing pause, got %v", sleeps)
			}
		})
	}
}

func TestUsersListsOthers(t *testing.T) {
	f := newFixture(t)
	f.svc.Roster = []string{"alice", "bob", "greetbot", "carol", "bob"}
	f.say(t, "alice", "users", true)
	if f.svc.RosterRequests() != 1 {
		t.Fatalf("expected a roster request, got %d", f.svc.RosterRequests())
	}
	f.drain(t)

	sent := f.svc.Sent()
	if len(sent) != 1 || sent[0].Body != "alice: bob carol" {
		t.Errorf("unexpected users reply %v", bodies(sent))
	}
	if !f.bot.outreach.HasMember("carol") {
		t.Error("expected roster names to be noted")
	}

	f.svc.Roster = []string{"alice", "greetbot"}
	f.say(t, "alice", "users", true)
	f.drain(t)
	sent = f.svc.Sent()
	if last := sent[len(sent)-1].Body; last != "alice: "+NobodyElseReply {
		t.Errorf("unexpected lonely reply %q", last)
	}
}

func TestRosterEndWithoutRequestIsSilent(t *testing.T) {
	f := newFixture(t)
	f.bot.handleEvent(context.Background(), models.Event{Kind: models.EventRoster, Raw: ":srv 353 greetbot = #lobby :@alice +bob"})
	f.bot.handleEvent(context.Background(), models.Event{Kind: models.EventRosterEnd})
	if len(f.svc.Sent()) != 0 {
		t.Errorf("expected no reply, got %v", bodies(f.svc.Sent()))
	}
	if got := f.bot.outreach.Members(); strings.Join(got, ",") != "alice,bob" {
		t.Errorf("unexpected members %v", got)
	}
}

func TestJoinThenOutreach(t *testing.T) {
	f := newFixture(t, WithOutreachOptions(scheduler.WithOutreachDelay(10*time.Second, 10*time.Second)))
	f.svc.Roster = []string{"alice"}
	ctx := context.Background()

	f.bot.handleEvent(ctx, models.Event{Kind: models.EventJoined})
	f.drain(t)
	f.bot.publish()
	status := f.bot.Status()
	if !status.Connected || status.OutreachDeadline == nil || status.Members != 1 {
		t.Fatalf("unexpected status after join %+v", status)
	}

	f.clock.Advance(11 * time.Second)
	f.bot.outreach.Tick(ctx, f.clock.Now())
	if f.bot.session.Partner() != "alice" || f.bot.session.Role() != greeting.RoleInitiator {
		t.Fatalf("expected outreach to alice, got %q/%s", f.bot.session.Partner(), f.bot.session.Role())
	}
	sent := f.svc.Sent()
	if len(sent) != 1 || sent[0].Body != "alice: Hello!" {
		t.Errorf("unexpected outreach lines %v", bodies(sent))
	}
}

func TestForgetRefreshesRosterForOutreach(t *testing.T) {
	f := newFixture(t, WithOutreachOptions(scheduler.WithOutreachDelay(10*time.Second, 10*time.Second)))
	f.svc.Roster = []string{"alice", "bob"}
	ctx := context.Background()

	f.bot.handleEvent(ctx, models.Event{Kind: models.EventJoined})
	f.drain(t)
	if err := f.say(t, "alice", "forget", true); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if f.svc.RosterRequests() != 2 {
		t.Fatalf("expected forget to request the roster again, got %d requests", f.svc.RosterRequests())
	}
	f.drain(t)
	if got := f.bot.outreach.Members(); strings.Join(got, ",") != "alice,bob" {
		t.Fatalf("expected roster members after forget, got %v", got)
	}

	f.clock.Advance(30 * time.Second)
	f.bot.outreach.Tick(ctx, f.clock.Now())
	if f.bot.session.Partner() != "alice" || f.bot.session.Role() != greeting.RoleInitiator {
		t.Errorf("expected outreach after forget, got %q/%s", f.bot.session.Partner(), f.bot.session.Role())
	}
}

func TestPartnerAsideToOtherNickIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if !f.bot.session.InitiateGreeting(ctx, "alice") {
		t.Fatal("InitiateGreeting declined")
	}

	f.say(t, "alice", "carol: lol", false)
	if f.bot.session.State() != greeting.StateInitiatorOutreach1 {
		t.Fatalf("expected aside to another nick to leave the session alone, got %s", f.bot.session.State())
	}
	f.say(t, "alice", "https://example.com is neat", false)
	if f.bot.session.State() != greeting.StateInitiatorAskStatus {
		t.Errorf("expected a URL line to reach the session, got %s", f.bot.session.State())
	}
}

func TestAddressedToOther(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{"carol: lol", true},
		{"carol:", true},
		{"oh hey", false},
		{":", false},
		{"", false},
		{"http://example.com", false},
		{"note: this", true},
		{"   bob: hi", true},
	}
	for _, tt := range tests {
		if got := AddressedToOther(tt.body); got != tt.want {
			t.Errorf("AddressedToOther(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestUsersWithRawRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.say(t, "alice", "users", true)
	// discard the mock's own roster reply
	for len(f.svc.Events()) > 0 {
		<-f.svc.Events()
	}
	f.bot.handleEvent(ctx, models.Event{Kind: models.EventRoster, Raw: "garbage"})
	f.bot.handleEvent(ctx, models.Event{Kind: models.EventRoster, Raw: ":srv 353 greetbot = #lobby :@alice +bob dave"})
	f.bot.handleEvent(ctx, models.Event{Kind: models.EventRosterEnd})

	sent := f.svc.Sent()
	if len(sent) != 1 || sent[0].Body != "alice: bob dave" {
		t.Errorf("unexpected users reply %v", bodies(sent))
	}
	if !f.bot.outreach.HasMember("dave") {
		t.Error("expected raw roster names to be noted")
	}
}

func TestFailedSendsAreRecorded(t *testing.T) {
	f := newFixture(t)
	f.svc.SendErr = errors.New("network down")
	f.say(t, "alice", "usage", true)
	receipts, _ := f.store.GetReceipts()
	if len(receipts) != 3 {
		t.Fatalf("expected three receipts, got %d", len(receipts))
	}
	for _, r := range receipts {
		if r.Status != models.MessageStatusFailed || r.To != "alice" {
			t.Errorf("unexpected receipt %+v", r)
		}
	}
}

func TestRunQuitsOnDie(t *testing.T) {
	f := newFixture(t, WithTickInterval(time.Hour))
	f.svc.Push(models.Event{Kind: models.EventJoined})
	f.svc.Push(models.Event{Kind: models.EventMessage, From: "alice", Body: "die", Addressed: true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.bot.Run(ctx); !errors.Is(err, ErrQuit) {
		t.Fatalf("expected ErrQuit, got %v", err)
	}
	if !f.svc.Started() {
		t.Error("expected service to be started")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, WithTickInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.bot.Run(ctx); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	if _, ok := <-f.svc.Events(); ok {
		t.Error("expected event stream to be closed")
	}
}

func TestRunReportsDisconnect(t *testing.T) {
	f := newFixture(t, WithTickInterval(time.Hour))
	f.svc.Stop()
	if err := f.bot.Run(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestRunRejectsBadRosterCron(t *testing.T) {
	f := newFixture(t, WithRosterCron("not a cron"))
	err := f.bot.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "schedule roster refresh") {
		t.Fatalf("expected cron error, got %v", err)
	}
}

func TestNewAnswerer(t *testing.T) {
	a, err := NewAnswerer(config.Config{})
	if err != nil || a != nil {
		t.Fatalf("expected no answerer without sources, got %v, %v", a, err)
	}

	path := filepath.Join(t.TempDir(), "countries.csv")
	csv := "Country,Region,Population\nItaly,WESTERN EUROPE,58133509\n"
	if err := os.WriteFile(path, []byte(csv), 0644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	a, err = NewAnswerer(config.Config{CountryDataPath: path})
	if err != nil {
		t.Fatalf("NewAnswerer: %v", err)
	}
	answer, ok := a.Answer(context.Background(), "What is the population of Italy?")
	if !ok || !strings.Contains(answer, "58133509") {
		t.Errorf("unexpected answer %q, %v", answer, ok)
	}

	if _, err := NewAnswerer(config.Config{CountryDataPath: filepath.Join(t.TempDir(), "missing.csv")}); err == nil {
		t.Error("expected error for missing country data")
	}
}

func TestNewService(t *testing.T) {
	ctx := context.Background()
	svc, hook, err := NewService(ctx, config.Config{
		Transport: config.TransportIRC, IRCServer: "irc.example.org:6667", IRCChannel: "#lobby", IRCNick: "greetbot",
	})
	if err != nil {
		t.Fatalf("irc: %v", err)
	}
	if _, ok := svc.(*messaging.IRCService); !ok || hook != nil {
		t.Errorf("expected IRC service without webhook, got %T %v", svc, hook)
	}

	svc, hook, err = NewService(ctx, config.Config{
		Transport: config.TransportTwilio, TwilioAccountSID: "AC123", TwilioAuthToken: "token",
		TwilioFromNumber: "+15550001111", IRCNick: "greetbot",
	})
	if err != nil {
		t.Fatalf("twilio: %v", err)
	}
	if _, ok := svc.(*messaging.TwilioService); !ok || hook == nil {
		t.Errorf("expected Twilio service with webhook, got %T %v", svc, hook)
	}

	if _, _, err := NewService(ctx, config.Config{Transport: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown transport")
	}
}

func TestOwner(t *testing.T) {
	cfg := config.Config{Transport: config.TransportIRC, IRCNick: "greetbot", IRCChannel: "#lobby", IRCServer: "irc.example.org:6667"}
	if got := Owner(cfg); got != "irc greetbot@#lobby on irc.example.org:6667" {
		t.Errorf("unexpected owner %q", got)
	}
}
