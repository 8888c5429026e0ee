package conversation

import "fmt"

// State is the position of a conversation in its lifecycle
type State int

const (
	StateLoading State = iota
	StateIdle
	StatePresenting
	StateRecording
	StateProcessing
	StatePersisting
	StateResolving
	StateCompleting
	StateCompleted
	StateFailed
)

var stateNames = map[State]string{
	StateLoading:    "loading",
	StateIdle:       "idle",
	StatePresenting: "presenting_question",
	StateRecording:  "recording",
	StateProcessing: "processing",
	StatePersisting: "persisting",
	StateResolving:  "resolving",
	StateCompleting: "completing",
	StateCompleted:  "completed",
	StateFailed:     "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText lets states travel as strings in JSON events
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists every legal move. Anything else is a bug in the caller.
var transitions = map[State][]State{
	StateLoading:    {StateIdle, StateFailed},
	StateFailed:     {StateLoading},
	StateIdle:       {StatePresenting, StateCompleting},
	StatePresenting: {StateRecording},
	StateRecording:  {StateProcessing, StatePresenting},
	StateProcessing: {StatePersisting, StatePresenting},
	StatePersisting: {StateResolving, StatePresenting},
	StateResolving:  {StatePresenting, StateCompleting},
	StateCompleting: {StateCompleted},
}

// CanTransition reports whether from -> to is a legal move
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
