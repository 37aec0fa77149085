package models

import "time"

// ConversationOutcome describes how a greeting conversation ended.
type ConversationOutcome string

const (
	// OutcomeCompleted means the ritual finished normally.
	OutcomeCompleted ConversationOutcome = "completed"
	// OutcomeGaveUp means the bot disengaged after repeated silence.
	OutcomeGaveUp ConversationOutcome = "gave_up"
	// OutcomeAbandoned means the conversation was discarded by a reset
	// (competing greeting or an explicit forget).
	OutcomeAbandoned ConversationOutcome = "abandoned"
)

// TranscriptLine is one line exchanged during a conversation.
type TranscriptLine struct {
	From string    `json:"from"`
	Body string    `json:"body"`
	Time time.Time `json:"time"`
}

// ConversationRecord is the persisted summary of a finished conversation.
type ConversationRecord struct {
	ID         string              `json:"id"`
	Partner    string              `json:"partner"`
	Role       string              `json:"role"`
	Outcome    ConversationOutcome `json:"outcome"`
	Transcript []TranscriptLine    `json:"transcript,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}
