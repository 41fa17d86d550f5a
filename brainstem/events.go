package brainstem

import "github.com/rapp-os/brainstem/observability"

// Lifecycle event types.
const (
	EventStarted observability.EventType = "brainstem.started"
	EventStopped observability.EventType = "brainstem.stopped"
)
