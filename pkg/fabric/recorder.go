package fabric

// Recorder collects the per-switch outcome of a run. Implementations must
// be safe for concurrent use.
type Recorder interface {
	// Changed records an action that modified the switch.
	Changed(sw, summary string)
	// Unchanged records a step that found the switch already configured.
	Unchanged(sw, summary string)
	// Failed records a step that failed or was skipped (ErrSkipped).
	Failed(sw, step string, err error)
	// Unreachable marks a switch that could not be contacted at all.
	Unreachable(sw string, err error)
}
