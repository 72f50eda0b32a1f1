package upload

import "fmt"

// State is a step of the per-file lifecycle.
type State int

const (
	StatePending State = iota
	StateResolving
	StateSkipped
	StateNeedsUpload
	StateReserving
	StateTransferring
	StateCommitting
	StateVerifying
	StateUploaded
	StateFailed
)

var stateNames = [...]string{
	StatePending:      "pending",
	StateResolving:    "resolving",
	StateSkipped:      "skipped",
	StateNeedsUpload:  "needs-upload",
	StateReserving:    "reserving",
	StateTransferring: "transferring",
	StateCommitting:   "committing",
	StateVerifying:    "verifying",
	StateUploaded:     "uploaded",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is expected. Failed is
// terminal for a pass; a batch retry moves it back to NeedsUpload.
func (s State) Terminal() bool {
	return s == StateSkipped || s == StateUploaded || s == StateFailed
}

// transitions lists the allowed successors of each state. Any non-terminal
// state may also fail.
var transitions = map[State][]State{
	StatePending:      {StateResolving},
	StateResolving:    {StateSkipped, StateNeedsUpload},
	StateNeedsUpload:  {StateReserving},
	StateReserving:    {StateTransferring},
	StateTransferring: {StateCommitting},
	StateCommitting:   {StateVerifying},
	StateVerifying:    {StateUploaded},
	StateFailed:       {StateNeedsUpload},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports an illegal lifecycle step.
type TransitionError struct {
	Path     string
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.Path, e.From, e.To)
}
