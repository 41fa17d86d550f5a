package capability

import "github.com/rapp-os/brainstem/observability"

// Registry event types.
const (
	EventReloadStart    observability.EventType = "capability.reload.start"
	EventReloadComplete observability.EventType = "capability.reload.complete"
	EventReloadFailed   observability.EventType = "capability.reload.failed"
	EventLoadFailure    observability.EventType = "capability.load.failure"
	EventInvokeStart    observability.EventType = "capability.invoke.start"
	EventInvokeComplete observability.EventType = "capability.invoke.complete"
)
