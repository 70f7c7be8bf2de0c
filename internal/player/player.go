// Package player implements the per-session playback state machine.
//
// A Player owns the session's scheduler, sends commands to the playback
// backend and publishes a fresh snapshot to the state store after every
// change. Backend lifecycle events are applied through the On* handlers in
// events.go.
//
// Commands and events for the same session may interleave; both go through
// the same mutex, so the last applied transition wins. A late event can
// therefore overwrite a newer state. Stop clears the scheduler, which makes
// most late events no-ops.
package player

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"music-orchestrator/internal/backend"
	"music-orchestrator/internal/metrics"
	"music-orchestrator/internal/scheduler"
	"music-orchestrator/internal/state"
	"music-orchestrator/internal/track"
)

var (
	// ErrBackend marks every failure reported by the playback backend.
	ErrBackend = errors.New("playback backend failure")
	// ErrClosed is returned by commands on a destroyed player.
	ErrClosed = errors.New("player closed")
)

const (
	DefaultVolume = 100
	MaxVolume     = 150
)

// Option configures a Player.
type Option func(*Player)

// WithVolume sets the initial volume.
func WithVolume(v int) Option {
	return func(p *Player) {
		p.volume = clampVolume(v)
	}
}

// Player is the state machine of one session.
type Player struct {
	id    string
	link  backend.Link
	store *state.Store
	sched *scheduler.Scheduler
	log   zerolog.Logger

	mu         sync.Mutex
	state      state.PlayerState
	repeat     bool
	volume     int
	positionMs int64
	closed     bool
}

// New creates a stopped player and publishes its first snapshot.
func New(sessionID string, link backend.Link, store *state.Store, opts ...Option) *Player {
	p := &Player{
		id:     sessionID,
		link:   link,
		store:  store,
		sched:  scheduler.New(),
		log:    log.With().Str("component", "player").Str("session", sessionID).Logger(),
		state:  state.Stopped,
		volume: DefaultVolume,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.mu.Lock()
	p.publishLocked()
	p.mu.Unlock()
	return p
}

// ID returns the session id.
func (p *Player) ID() string { return p.id }

// State returns the current lifecycle state.
func (p *Player) State() state.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Repeat reports whether repeat is enabled.
func (p *Player) Repeat() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.repeat
}

// Volume returns the volume applied on the next start.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// PositionMs returns the last known playback position.
func (p *Player) PositionMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionMs
}

// Scheduler exposes the queue for read access.
func (p *Player) Scheduler() *scheduler.Scheduler {
	return p.sched
}

// Play starts t right away when nothing is playing, otherwise appends it to
// the queue.
func (p *Player) Play(ctx context.Context, t *track.Track) (Outcome, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}

	if p.state == state.Playing || p.state == state.Loading {
		p.sched.Enqueue(t)
		p.publishLocked()
		p.mu.Unlock()
		return AddedToQueue, nil
	}

	_, hadCurrent := p.sched.Current()
	p.sched.Push(t)
	if hadCurrent {
		p.sched.Next()
	}
	p.beginLoadLocked()
	vol := p.volume
	p.mu.Unlock()

	return p.start(ctx, t, vol, PlayingNow)
}

// PlayNow inserts t after the current track and skips to it.
func (p *Player) PlayNow(ctx context.Context, t *track.Track) (Outcome, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}

	_, hadCurrent := p.sched.Current()
	p.sched.Push(t)
	if hadCurrent {
		p.sched.Next()
	}
	p.beginLoadLocked()
	vol := p.volume
	p.mu.Unlock()

	return p.start(ctx, t, vol, PlayingNow)
}

// Skip starts the next track, or stops playback when the queue is empty.
func (p *Player) Skip(ctx context.Context) (Outcome, error) {
	return p.step(ctx, p.sched.Next, Skipped, NoNext, "skip")
}

// Previous starts the previous track, or stops playback when there is no
// history.
func (p *Player) Previous(ctx context.Context) (Outcome, error) {
	return p.step(ctx, p.sched.Previous, PlayingPrev, NoPrevious, "previous")
}

func (p *Player) step(ctx context.Context, move func() (*track.Track, bool), found, exhausted Outcome, op string) (Outcome, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}

	if t, ok := move(); ok {
		p.beginLoadLocked()
		vol := p.volume
		p.mu.Unlock()
		return p.start(ctx, t, vol, found)
	}

	needStop := p.state != state.Stopped
	p.setStateLocked(state.Stopped)
	p.publishLocked()
	p.publishPositionLocked()
	p.mu.Unlock()

	if needStop {
		if err := p.link.Stop(ctx); err != nil {
			return exhausted, backendError(err, op+" stop")
		}
	}
	return exhausted, nil
}

// Pause pauses playback. The state changes before the backend is called and
// is restored if the backend rejects the command.
func (p *Player) Pause(ctx context.Context) (Outcome, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}

	switch p.state {
	case state.Paused:
		p.publishLocked()
		p.mu.Unlock()
		return AlreadyPaused, nil
	case state.Playing, state.Loading:
	default:
		p.publishLocked()
		p.mu.Unlock()
		return NotPlaying, nil
	}

	if err := p.setPausedOptimistic(ctx, true); err != nil {
		return "", err
	}
	return PausedOutcome, nil
}

// Resume continues a paused track. From stopped, idle or error states the
// current track is started again.
func (p *Player) Resume(ctx context.Context) (Outcome, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}

	switch p.state {
	case state.Playing, state.Loading:
		p.publishLocked()
		p.mu.Unlock()
		return AlreadyPlaying, nil
	case state.Paused:
		if err := p.setPausedOptimistic(ctx, false); err != nil {
			return "", err
		}
		return Resumed, nil
	}

	cur, ok := p.sched.Current()
	if !ok {
		p.publishLocked()
		p.mu.Unlock()
		return QueueEmpty, nil
	}
	p.beginLoadLocked()
	vol := p.volume
	p.mu.Unlock()

	return p.start(ctx, cur, vol, Resumed)
}

// setPausedOptimistic must be called with p.mu held and releases it.
func (p *Player) setPausedOptimistic(ctx context.Context, paused bool) error {
	prev := p.state
	next := state.Playing
	if paused {
		next = state.Paused
	}
	p.setStateLocked(next)
	p.publishLocked()
	p.mu.Unlock()

	err := p.link.SetPaused(ctx, paused)
	if err == nil {
		return nil
	}

	p.mu.Lock()
	// Only undo our own write; a newer transition stays.
	if p.state == next && !p.closed {
		p.setStateLocked(prev)
		p.publishLocked()
	}
	p.mu.Unlock()

	op := "resume"
	if paused {
		op = "pause"
	}
	p.log.Warn().Err(err).Str("op", op).Str("restored", prev.String()).Msg("Backend rejected command, state rolled back")
	return backendError(err, op)
}

// Stop clears queue and history and stops the backend.
func (p *Player) Stop(ctx context.Context) (Outcome, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}

	if p.state == state.Stopped && p.sched.IsEmpty() {
		p.publishLocked()
		p.mu.Unlock()
		return AlreadyStopped, nil
	}

	needStop := p.state != state.Stopped
	p.sched.ClearAll()
	p.setStateLocked(state.Stopped)
	p.publishLocked()
	p.publishPositionLocked()
	p.mu.Unlock()

	if needStop {
		if err := p.link.Stop(ctx); err != nil {
			return StoppedOutcome, backendError(err, "stop")
		}
	}
	return StoppedOutcome, nil
}

// JumpToTrack starts the track addressed by a jump token. Unknown targets
// leave playback untouched.
func (p *Player) JumpToTrack(ctx context.Context, token string) (Outcome, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}

	t, err := p.sched.JumpToToken(token)
	if err != nil {
		p.log.Debug().Err(err).Str("token", token).Msg("Jump target not found")
		p.publishLocked()
		p.mu.Unlock()
		return InvalidJump, nil
	}
	p.beginLoadLocked()
	vol := p.volume
	p.mu.Unlock()

	return p.start(ctx, t, vol, Jumped)
}

// Shuffle randomizes the queue.
func (p *Player) Shuffle() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sched.Shuffle()
	p.publishLocked()
	return Shuffled
}

// ToggleRepeat flips repeat of the current track.
func (p *Player) ToggleRepeat() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.repeat = !p.repeat
	p.publishLocked()
	if p.repeat {
		return RepeatOn
	}
	return RepeatOff
}

// SetVolume changes the volume used by the next start.
func (p *Player) SetVolume(v int) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.volume = clampVolume(v)
	p.publishLocked()
	return VolumeSet
}

// ClearQueue drops all upcoming tracks.
func (p *Player) ClearQueue() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.sched.ClearQueue()
	p.publishLocked()
	if n == 0 {
		return QueueEmpty
	}
	return QueueCleared
}

// UpdatePosition records the playback position of the current track.
func (p *Player) UpdatePosition(ms int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if _, ok := p.sched.Current(); !ok {
		return
	}
	p.positionMs = ms
	p.publishPositionLocked()
}

// Snapshot builds the current UI state without publishing it.
func (p *Player) Snapshot() state.UIState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Close releases the backend link. The player stops publishing.
func (p *Player) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.link.Close(ctx); err != nil {
		return backendError(err, "close")
	}
	return nil
}

// start sends t to the backend. A rejected start skips to the following
// track instead of retrying; when nothing is left the player enters Error.
func (p *Player) start(ctx context.Context, t *track.Track, vol int, outcome Outcome) (Outcome, error) {
	for {
		err := p.link.Start(ctx, t, vol)
		if err == nil {
			return outcome, nil
		}

		p.log.Warn().Err(err).Str("track", t.Identifier).Msg("Backend rejected track, advancing")
		startErr := backendError(err, "start")

		p.mu.Lock()
		cur, _ := p.sched.Current()
		if p.closed || p.state != state.Loading || cur != t {
			// another command moved the session on
			p.mu.Unlock()
			return LoadFailed, startErr
		}

		next, ok := p.sched.Next()
		if !ok {
			p.setStateLocked(state.Error)
			p.publishLocked()
			p.mu.Unlock()
			return LoadFailed, startErr
		}
		p.beginLoadLocked()
		t, vol = next, p.volume
		p.mu.Unlock()
	}
}

func (p *Player) beginLoadLocked() {
	p.setStateLocked(state.Loading)
	p.positionMs = 0
	p.publishLocked()
	p.publishPositionLocked()
}

func (p *Player) setStateLocked(to state.PlayerState) {
	from := p.state
	if !state.CanTransition(from, to) {
		metrics.UnexpectedTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
		p.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Unexpected state transition")
	}
	p.state = to
	if to == state.Stopped {
		p.positionMs = 0
	}
}

func (p *Player) snapshotLocked() state.UIState {
	v := p.sched.Snapshot()
	return state.UIState{
		SessionID: p.id,
		State:     p.state,
		Volume:    p.volume,
		Repeat:    p.repeat,
		Current:   v.Current,
		Queue:     v.Queue,
		History:   v.History,
	}
}

func (p *Player) publishLocked() {
	if p.closed {
		return
	}
	p.store.PublishUI(p.snapshotLocked())
}

func (p *Player) publishPositionLocked() {
	if p.closed {
		return
	}
	cur, _ := p.sched.Current()
	p.store.PublishPosition(state.Position{
		SessionID:  p.id,
		PositionMs: p.positionMs,
		LengthMs:   cur.LengthMs(),
	})
}

func backendError(err error, op string) error {
	metrics.BackendFailuresTotal.WithLabelValues(op).Inc()
	return errors.Mark(errors.Wrapf(err, "backend %s", op), ErrBackend)
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}
