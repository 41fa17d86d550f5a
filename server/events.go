package server

import "github.com/rapp-os/brainstem/observability"

// Endpoint event types.
const (
	EventListening observability.EventType = "server.listening"
	EventStopped   observability.EventType = "server.stopped"
	EventReload    observability.EventType = "server.reload"
	EventInternal  observability.EventType = "server.internal_error"
)
