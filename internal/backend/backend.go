// Package backend defines the port to the process that actually decodes
// and streams audio. Commands go through a per-session Link; lifecycle
// notifications for all sessions come back on a single event channel.
package backend

import (
	"context"
	"time"

	"music-orchestrator/internal/track"
)

// Link controls playback of one session.
//
//go:generate mockgen -source=backend.go -destination=mock/mock_backend.go -package=mock
type Link interface {
	// Start replaces whatever the session plays with t. It returns once the
	// backend accepted the command; Started follows asynchronously.
	Start(ctx context.Context, t *track.Track, volume int) error
	// Stop ends playback. An Ended event with EndStopped follows.
	Stop(ctx context.Context) error
	// SetPaused pauses or resumes the current track.
	SetPaused(ctx context.Context, paused bool) error
	// Close releases the link. No events are emitted afterwards.
	Close(ctx context.Context) error
}

// Factory opens links for sessions.
type Factory interface {
	Link(sessionID string) (Link, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(sessionID string) (Link, error)

// Link calls f.
func (f FactoryFunc) Link(sessionID string) (Link, error) {
	return f(sessionID)
}

// Node is a backend able to serve many sessions.
type Node interface {
	Factory
	// Events delivers lifecycle events of every session. The channel is
	// closed when the node shuts down.
	Events() <-chan Event
}

// EndReason tells why a track stopped playing.
type EndReason string

const (
	EndFinished   EndReason = "FINISHED"
	EndReplaced   EndReason = "REPLACED"
	EndStopped    EndReason = "STOPPED"
	EndLoadFailed EndReason = "LOAD_FAILED"
)

// Event is a lifecycle notification of one session.
type Event interface {
	Session() string
	Type() string
}

// Started is sent once the backend begins producing audio for Track.
type Started struct {
	SessionID string
	Track     *track.Track
}

// PositionTick reports the playback position.
type PositionTick struct {
	SessionID  string
	PositionMs int64
}

// Ended is sent when Track stops playing for Reason.
type Ended struct {
	SessionID string
	Track     *track.Track
	Reason    EndReason
}

// Exception reports a playback error of Track.
type Exception struct {
	SessionID string
	Track     *track.Track
	Err       error
}

// Stuck reports that Track produced no audio for Threshold.
type Stuck struct {
	SessionID string
	Track     *track.Track
	Threshold time.Duration
}

func (e Started) Session() string      { return e.SessionID }
func (e PositionTick) Session() string { return e.SessionID }
func (e Ended) Session() string        { return e.SessionID }
func (e Exception) Session() string    { return e.SessionID }
func (e Stuck) Session() string        { return e.SessionID }

func (Started) Type() string      { return "started" }
func (PositionTick) Type() string { return "position" }
func (Ended) Type() string        { return "ended" }
func (Exception) Type() string    { return "exception" }
func (Stuck) Type() string        { return "stuck" }
