package watch

import "github.com/rapp-os/brainstem/observability"

const (
	EventStarted       observability.EventType = "watch.started"
	EventChange        observability.EventType = "watch.change"
	EventReloaded      observability.EventType = "watch.reloaded"
	EventReloadFailed  observability.EventType = "watch.reload.failed"
	EventWatcherFailed observability.EventType = "watch.error"
)
