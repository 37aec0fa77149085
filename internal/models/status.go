package models

import "time"

// Status is a point-in-time snapshot of the bot, published by the host loop.
type Status struct {
	Transport         string     `json:"transport"`
	Self              string     `json:"self"`
	Connected         bool       `json:"connected"`
	State             string     `json:"state"`
	Partner           string     `json:"partner,omitempty"`
	Role              string     `json:"role,omitempty"`
	Completed         bool       `json:"completed"`
	OutreachDeadline  *time.Time `json:"outreach_deadline,omitempty"`
	OutreachAttempted bool       `json:"outreach_attempted"`
	Members           int        `json:"members"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
