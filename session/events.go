package session

import "github.com/rapp-os/brainstem/observability"

// Evictor event types.
const (
	EventEvicted     observability.EventType = "session.evicted"
	EventEvictFailed observability.EventType = "session.evict.failed"
)
