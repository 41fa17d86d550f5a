package contexts

import "github.com/rapp-os/brainstem/observability"

// Context store event types.
const (
	EventReloadComplete observability.EventType = "contexts.reload.complete"
	EventReloadFailed   observability.EventType = "contexts.reload.failed"
	EventLoadFailure    observability.EventType = "contexts.load.failure"
	EventCreated        observability.EventType = "contexts.created"
)
