package state

import (
	"time"

	"music-orchestrator/internal/track"
)

// UIState is an immutable view of one session, replaced wholesale on every
// publish. Seq is assigned by the Store and grows with every publish.
type UIState struct {
	SessionID string
	State     PlayerState
	Volume    int
	Repeat    bool
	Current   *track.Track
	Queue     []*track.Track
	History   []*track.Track
	Seq       uint64
	UpdatedAt time.Time
}

// Position is the high frequency playback position of one session.
type Position struct {
	SessionID  string
	PositionMs int64
	LengthMs   int64
	UpdatedAt  time.Time
}
