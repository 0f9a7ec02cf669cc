package domain

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Turn is a single conversation turn. Turns are values and are never
// mutated after construction.
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// NewTurn builds a Turn stamped with the current UTC time.
func NewTurn(role Role, content string) Turn {
	return Turn{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// Message is a turn as sent to a provider, without its timestamp.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is an ordered conversation, oldest turn first.
type History []Turn

// Last returns the most recent n turns in their original order. The
// returned slice is a copy.
func (h History) Last(n int) History {
	if n <= 0 {
		return History{}
	}
	start := 0
	if len(h) > n {
		start = len(h) - n
	}
	out := make(History, len(h)-start)
	copy(out, h[start:])
	return out
}

// ConversationMeta stores aggregate conversation state for analytics.
type ConversationMeta struct {
	ConversationID string
	LastActivity   time.Time
	Turns          int
	CrisisTurns    int
}

// Exchange is one completed user/assistant round trip as persisted by the
// state stores.
type Exchange struct {
	User            Turn
	Assistant       Turn
	CrisisTriggered bool
	Issues          []string
}
