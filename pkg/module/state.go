package module

// State is a module lifecycle phase.
type State int

// Lifecycle states in the order a successful run visits them. Aborted is
// entered only before Ready.
const (
	// Created is the state of a freshly wrapped workload.
	Created State = iota
	// SettingUp covers option validation and placement.
	SettingUp
	// Building covers binary resolution.
	Building
	// Ready means setup and build succeeded.
	Ready
	// Preparing runs right before the first tick.
	Preparing
	// Running means the tick loop is active.
	Running
	// Stopping means no further ticks are delivered.
	Stopping
	// CleaningUp covers reaping processes and closing descriptors.
	CleaningUp
	// Done is terminal after a cleanup.
	Done
	// Aborted is terminal for modules that never got ready or were aborted.
	Aborted
)

var stateNames = [...]string{
	Created:    "CREATED",
	SettingUp:  "SETUP",
	Building:   "BUILD",
	Ready:      "READY",
	Preparing:  "PREPARE",
	Running:    "RUNNING",
	Stopping:   "STOPPING",
	CleaningUp: "CLEANUP",
	Done:       "DONE",
	Aborted:    "ABORTED",
}

// String returns the upper-case state name used in logs and events.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// preReady reports whether an abort still moves the module to Aborted.
func (s State) preReady() bool {
	return s == Created || s == SettingUp || s == Building
}
