package models

import "strings"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a dialogue role (user or assistant).
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Utterance is one finalized speech turn of a call.
type Utterance struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// SameAs compares role and trimmed text.
func (u Utterance) SameAs(other Utterance) bool {
	return u.Role == other.Role && strings.TrimSpace(u.Text) == strings.TrimSpace(other.Text)
}
