package cache

// State is the lifecycle state of a block or file.
type State int32

const (
	StateIncomplete State = iota
	StateComplete
	StateToBePushed
	StateObsolete
)

func (s State) String() string {
	switch s {
	case StateIncomplete:
		return "INCOMPLETE"
	case StateComplete:
		return "COMPLETE"
	case StateToBePushed:
		return "TOBEPUSHED"
	case StateObsolete:
		return "OBSOLETE"
	default:
		return "UNKNOWN"
	}
}

// Prefix returns the state-file name prefix of the state.
func (s State) Prefix() string {
	switch s {
	case StateIncomplete:
		return "INCOMPLETE$"
	case StateComplete:
		return "COMPLETE$"
	case StateToBePushed:
		return "PUSHED$"
	case StateObsolete:
		return "OBSOLETE$"
	default:
		return ""
	}
}

// Readable reports whether data in this state may be served to readers.
func (s State) Readable() bool {
	return s == StateComplete || s == StateToBePushed
}

// CanTransition reports whether s may move forward to next. OBSOLETE is
// reachable from every state because deletion may force it.
func (s State) CanTransition(next State) bool {
	if next == StateObsolete {
		return s != StateObsolete
	}
	switch s {
	case StateIncomplete:
		return next == StateComplete || next == StateToBePushed
	case StateToBePushed:
		return next == StateComplete
	default:
		return false
	}
}

var statePrefixes = []State{StateIncomplete, StateComplete, StateToBePushed, StateObsolete}
