package playback

import "fmt"

// State is the sequencer's playback state.
type State int

const (
	// StateIdle means nothing is playing. A session may still be open and
	// waiting for more sentences.
	StateIdle State = iota
	// StateStalled means the head sentence is waiting on synthesis.
	StateStalled
	// StatePlaying means a sentence is audible.
	StatePlaying
	// StateAdvancing means a sentence just finished and the next is being
	// picked.
	StateAdvancing
	// StateInterrupted is passed through while a session is torn down.
	StateInterrupted
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStalled:
		return "stalled"
	case StatePlaying:
		return "playing"
	case StateAdvancing:
		return "advancing"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateInterrupted; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown playback state %q", b)
}

// stateMachine guards state transitions. It is only touched by the
// scheduler goroutine.
type stateMachine struct {
	current     State
	transitions map[State][]State
	onEnter     map[State]func(from State)
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		current: StateIdle,
		transitions: map[State][]State{
			StateIdle:        {StateStalled, StatePlaying, StateInterrupted},
			StateStalled:     {StatePlaying, StateIdle, StateInterrupted},
			StatePlaying:     {StateAdvancing, StateInterrupted},
			StateAdvancing:   {StatePlaying, StateStalled, StateIdle, StateInterrupted},
			StateInterrupted: {StateIdle},
		},
		onEnter: make(map[State]func(from State)),
	}
}

// Transition moves to the given state. Moving to the current state is a
// no-op that succeeds; an invalid transition returns false and leaves the
// state unchanged.
func (sm *stateMachine) Transition(to State) bool {
	if sm.current == to {
		return true
	}

	valid := false
	for _, st := range sm.transitions[sm.current] {
		if st == to {
			valid = true
			break
		}
	}
	if !valid {
		return false
	}

	from := sm.current
	sm.current = to
	if fn := sm.onEnter[to]; fn != nil {
		fn(from)
	}
	return true
}

// Current returns the current state.
func (sm *stateMachine) Current() State {
	return sm.current
}

// OnEnter registers a callback for entering a state.
func (sm *stateMachine) OnEnter(state State, fn func(from State)) {
	sm.onEnter[state] = fn
}
