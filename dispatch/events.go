package dispatch

import "github.com/rapp-os/brainstem/observability"

// Dispatcher event types.
const (
	EventPhase            observability.EventType = "dispatch.phase"
	EventSelectionDropped observability.EventType = "dispatch.selection.dropped"
	EventMemoryFailed     observability.EventType = "dispatch.memory.failed"
	EventComplete         observability.EventType = "dispatch.complete"
	EventFailed           observability.EventType = "dispatch.failed"
)
