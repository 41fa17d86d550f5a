package dispatch

// Phase is a state of the per-turn dispatch machine. A turn moves forward
// through the phases in declaration order or ends in PhaseFailed.
type Phase string

const (
	PhaseReceived             Phase = "received"
	PhaseContextResolved      Phase = "context_resolved"
	PhaseCapabilitiesSelected Phase = "capabilities_selected"
	PhaseCapabilitiesInvoked  Phase = "capabilities_invoked"
	PhaseResponseComposed     Phase = "response_composed"
	PhaseDone                 Phase = "done"
	PhaseFailed               Phase = "failed"
)
