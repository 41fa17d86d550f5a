package dispatch

import (
	"github.com/rapp-os/brainstem/capability"
	"github.com/rapp-os/brainstem/core/protocol"
)

// Request is one inbound turn.
type Request struct {
	Input     string
	UserID    string
	SessionID string // Empty starts a new session.
	ContextID string
	// Conversation is client-supplied prior conversation. It is offered to
	// the selector and never persisted.
	Conversation []protocol.Message
}

// Result is the outcome of a successful dispatch. It is never mutated after
// Handle returns it.
type Result struct {
	Response      string               `json:"response"`
	VoiceResponse string               `json:"voice_response"`
	AgentLogs     []string             `json:"agent_logs"`
	AgentsUsed    []string             `json:"agents_used"`
	SessionID     string               `json:"session_guid"`
	ContextID     string               `json:"context_guid"`
	Outcomes      []capability.Outcome `json:"-"`
}
