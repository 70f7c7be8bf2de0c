// Package state holds the player lifecycle states and the store that
// publishes per-session snapshots to readers.
package state

// PlayerState is the lifecycle state of a session's player.
type PlayerState int

const (
	Stopped PlayerState = iota
	Loading
	Playing
	Paused
	Idle
	Error
)

var stateNames = map[PlayerState]string{
	Stopped: "stopped",
	Loading: "loading",
	Playing: "playing",
	Paused:  "paused",
	Idle:    "idle",
	Error:   "error",
}

func (s PlayerState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state by name for JSON payloads.
func (s PlayerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists every state change the player is expected to make.
// Stop is allowed from everywhere and is added in CanTransition.
var transitions = map[PlayerState][]PlayerState{
	Stopped: {Loading, Error},
	Loading: {Playing, Paused, Loading, Idle, Error},
	Playing: {Paused, Loading, Idle, Error},
	Paused:  {Playing, Loading, Idle, Error},
	Idle:    {Loading, Error},
	Error:   {Loading},
}

// CanTransition reports whether from -> to is a known transition. Moving to
// the same state is always allowed.
func CanTransition(from, to PlayerState) bool {
	if from == to || to == Stopped {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Active reports whether a track is loaded in the backend.
func (s PlayerState) Active() bool {
	return s == Loading || s == Playing || s == Paused
}
