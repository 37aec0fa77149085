// Package greeting implements the two-party greeting conversation state machine.
//
// A Session tracks at most one conversation at a time. It is driven by inbound
// messages from the tracked partner, greetings from other channel members and
// periodic timeout polling. It is not safe for concurrent use: the host loop
// owns it and calls it from a single goroutine.
package greeting

// State is a stage of the greeting ritual.
type State string

const (
	// StateStart is idle: no active conversation.
	StateStart State = "START"
	// StateInitiatorOutreach1 means the bot said hello and awaits a reply.
	StateInitiatorOutreach1 State = "INITIATOR_OUTREACH_1"
	// StateInitiatorOutreach2 means the bot repeated its hello after silence.
	StateInitiatorOutreach2 State = "INITIATOR_OUTREACH_2"
	// StateInitiatorAskStatus means the bot asked "how are you".
	StateInitiatorAskStatus State = "INITIATOR_ASK_STATUS"
	// StateInitiatorAwaitAck is entered while the bot answers the partner's
	// inquiry on its last turn; the conversation closes right after.
	StateInitiatorAwaitAck State = "INITIATOR_AWAIT_ACK"
	// StateResponderGreeted means the bot replied to an unsolicited greeting.
	StateResponderGreeted State = "RESPONDER_GREETED"
	// StateResponderAwaitInquiry is the reciprocal-inquiry phase. With
	// RoleInitiator the bot waits here for the partner to ask how it is doing.
	// A Responder only passes through it between answering the partner's
	// inquiry and asking back.
	StateResponderAwaitInquiry State = "RESPONDER_AWAIT_INQUIRY"
	// StateResponderAsking means the bot asked "how about you" and awaits the answer.
	StateResponderAsking State = "RESPONDER_ASKING"
	// StateGiveUp is terminal: the bot gave up after repeated silence.
	StateGiveUp State = "GIVEUP"
	// StateEnd is terminal: the conversation completed.
	StateEnd State = "END"
)

// IsPending reports whether the bot has offered contact without a reply yet.
// A greeting from someone else while pending replaces the partner.
func (s State) IsPending() bool {
	return s == StateInitiatorOutreach1 || s == StateInitiatorOutreach2
}

// HoldsDeadline reports whether a timeout deadline is armed in this state.
func (s State) HoldsDeadline() bool {
	switch s {
	case StateStart, StateEnd, StateGiveUp:
		return false
	default:
		return true
	}
}

// Role is the side of the dialogue the bot is playing.
type Role string

const (
	RoleUnset     Role = ""
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)
