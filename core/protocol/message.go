package protocol

import (
	"slices"
	"time"
)

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a client-supplied conversation entry. Clients may send prior
// conversation alongside a request; it is advisory and never persisted.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewMessage creates a Message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// Turn is one persisted entry in a session log. Turns are append-only and
// ordered by arrival.
type Turn struct {
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Trace        []string  `json:"trace,omitempty"`
}

// NewTurn creates a Turn stamped with the current time.
func NewTurn(role Role, content string) Turn {
	return Turn{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// Clone returns a copy of t whose slices are not shared.
func (t Turn) Clone() Turn {
	t.Capabilities = slices.Clone(t.Capabilities)
	t.Trace = slices.Clone(t.Trace)
	return t
}

// CloneTurns copies a slice of turns.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}

// Messages converts turns into conversation messages, dropping the trace.
func Messages(turns []Turn) []Message {
	msgs := make([]Message, len(turns))
	for i, t := range turns {
		msgs[i] = NewMessage(t.Role, t.Content)
	}
	return msgs
}
