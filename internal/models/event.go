package models

import "time"

// EventKind identifies what happened on the transport.
type EventKind string

const (
	// EventMessage is a chat line from a channel member.
	EventMessage EventKind = "message"
	// EventRoster is a membership snapshot (IRC RPL_NAMREPLY or equivalent).
	EventRoster EventKind = "roster"
	// EventRosterEnd marks the end of a roster listing.
	EventRosterEnd EventKind = "roster_end"
	// EventJoined is emitted when the bot itself has joined the channel.
	EventJoined EventKind = "joined"
	// EventDisconnected is emitted when the transport lost its connection.
	EventDisconnected EventKind = "disconnected"
)

// Event is one inbound occurrence delivered by a messaging service to the bot loop.
type Event struct {
	Kind EventKind `json:"kind"`
	From string    `json:"from,omitempty"`
	Body string    `json:"body,omitempty"`
	// Addressed is true when the line was directed at the bot ("botnick: ...").
	// Body has the address prefix already stripped.
	Addressed bool `json:"addressed,omitempty"`
	// Raw holds the unparsed roster line for EventRoster.
	Raw   string    `json:"raw,omitempty"`
	Names []string  `json:"names,omitempty"`
	Time  time.Time `json:"time"`
}
