// Package orchestrator is the command surface of the playback core. It
// resolves queries into tracks, finds the session's player and runs the
// command against it.
package orchestrator

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"music-orchestrator/internal/metrics"
	"music-orchestrator/internal/player"
	"music-orchestrator/internal/registry"
	"music-orchestrator/internal/scheduler"
	"music-orchestrator/internal/state"
	"music-orchestrator/internal/track"
)

var (
	// ErrSessionNotFound is returned by commands that need an existing session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrEmptyQuery is returned when a play request carries no query.
	ErrEmptyQuery = errors.New("empty query")
)

// Resolver turns a normalized query into a playable track.
type Resolver interface {
	Resolve(ctx context.Context, query string) (*track.Track, error)
}

// Result is the answer to a command.
type Result struct {
	SessionID string
	Outcome   player.Outcome
	Track     *track.Track
}

// Orchestrator routes commands to session players.
type Orchestrator struct {
	registry *registry.Registry
	store    *state.Store
	resolver Resolver
	timeout  time.Duration
	log      zerolog.Logger
}

// New creates an orchestrator. timeout bounds each backend command and is
// detached from the caller's cancellation so a dropped request cannot leave
// a command half applied.
func New(reg *registry.Registry, store *state.Store, resolver Resolver, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Orchestrator{
		registry: reg,
		store:    store,
		resolver: resolver,
		timeout:  timeout,
		log:      log.With().Str("component", "orchestrator").Logger(),
	}
}

// Play resolves query and plays or queues the result.
func (o *Orchestrator) Play(ctx context.Context, sessionID, query string, requester *track.Requester) (Result, error) {
	return o.playWith(ctx, "play", sessionID, query, requester, (*player.Player).Play)
}

// PlayNow resolves query and plays it immediately, keeping the queue.
func (o *Orchestrator) PlayNow(ctx context.Context, sessionID, query string, requester *track.Requester) (Result, error) {
	return o.playWith(ctx, "play_now", sessionID, query, requester, (*player.Player).PlayNow)
}

type playFunc func(*player.Player, context.Context, *track.Track) (player.Outcome, error)

func (o *Orchestrator) playWith(ctx context.Context, cmd, sessionID, query string, requester *track.Requester, play playFunc) (Result, error) {
	q := NormalizeQuery(query)
	if q == "" {
		return Result{SessionID: sessionID}, ErrEmptyQuery
	}

	t, err := o.resolver.Resolve(ctx, q)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(cmd, "resolve_failed").Inc()
		return Result{SessionID: sessionID}, errors.Wrapf(err, "resolve %q", q)
	}
	t = t.WithRequester(requester)

	p, err := o.registry.GetOrCreate(sessionID)
	if err != nil {
		return Result{SessionID: sessionID}, err
	}

	bctx, cancel := o.commandContext(ctx)
	defer cancel()

	out, err := play(p, bctx, t)
	o.record(cmd, sessionID, out, err)
	return Result{SessionID: sessionID, Outcome: out, Track: t}, err
}

// Skip moves to the next track.
func (o *Orchestrator) Skip(ctx context.Context, sessionID string) (Result, error) {
	return o.run(ctx, "skip", sessionID, (*player.Player).Skip)
}

// Previous moves to the previous track.
func (o *Orchestrator) Previous(ctx context.Context, sessionID string) (Result, error) {
	return o.run(ctx, "previous", sessionID, (*player.Player).Previous)
}

// Pause pauses playback.
func (o *Orchestrator) Pause(ctx context.Context, sessionID string) (Result, error) {
	return o.run(ctx, "pause", sessionID, (*player.Player).Pause)
}

// Resume resumes playback.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) (Result, error) {
	return o.run(ctx, "resume", sessionID, (*player.Player).Resume)
}

// Stop stops playback and clears the queue. A session that does not exist
// is already stopped.
func (o *Orchestrator) Stop(ctx context.Context, sessionID string) (Result, error) {
	if !o.registry.Exists(sessionID) {
		o.record("stop", sessionID, player.AlreadyStopped, nil)
		return Result{SessionID: sessionID, Outcome: player.AlreadyStopped}, nil
	}
	return o.run(ctx, "stop", sessionID, (*player.Player).Stop)
}

// Leave stops the session and removes it.
func (o *Orchestrator) Leave(ctx context.Context, sessionID string) error {
	bctx, cancel := o.commandContext(ctx)
	defer cancel()

	if p, ok := o.registry.Get(sessionID); ok {
		if _, err := p.Stop(bctx); err != nil {
			o.log.Warn().Err(err).Str("session", sessionID).Msg("Stop before leave failed")
		}
	}
	return o.registry.Destroy(bctx, sessionID)
}

// JumpToTrack starts the track addressed by token.
func (o *Orchestrator) JumpToTrack(ctx context.Context, sessionID, token string) (Result, error) {
	return o.run(ctx, "jump", sessionID, func(p *player.Player, ctx context.Context) (player.Outcome, error) {
		return p.JumpToTrack(ctx, token)
	})
}

// Shuffle randomizes the queue.
func (o *Orchestrator) Shuffle(ctx context.Context, sessionID string) (Result, error) {
	return o.run(ctx, "shuffle", sessionID, func(p *player.Player, _ context.Context) (player.Outcome, error) {
		return p.Shuffle(), nil
	})
}

// ToggleRepeat flips repeat.
func (o *Orchestrator) ToggleRepeat(ctx context.Context, sessionID string) (Result, error) {
	return o.run(ctx, "repeat", sessionID, func(p *player.Player, _ context.Context) (player.Outcome, error) {
		return p.ToggleRepeat(), nil
	})
}

// SetVolume sets the volume of the next start.
func (o *Orchestrator) SetVolume(ctx context.Context, sessionID string, volume int) (Result, error) {
	return o.run(ctx, "volume", sessionID, func(p *player.Player, _ context.Context) (player.Outcome, error) {
		return p.SetVolume(volume), nil
	})
}

// ClearQueue drops upcoming tracks.
func (o *Orchestrator) ClearQueue(ctx context.Context, sessionID string) (Result, error) {
	return o.run(ctx, "clear", sessionID, func(p *player.Player, _ context.Context) (player.Outcome, error) {
		return p.ClearQueue(), nil
	})
}

// Repeat reports whether repeat is on.
func (o *Orchestrator) Repeat(sessionID string) (bool, error) {
	p, ok := o.registry.Get(sessionID)
	if !ok {
		return false, ErrSessionNotFound
	}
	return p.Repeat(), nil
}

// Status returns the latest published UI state.
func (o *Orchestrator) Status(sessionID string) (state.UIState, error) {
	ui, ok := o.store.UI(sessionID)
	if !ok {
		return state.UIState{}, ErrSessionNotFound
	}
	return ui, nil
}

// Position returns the latest playback position.
func (o *Orchestrator) Position(sessionID string) (state.Position, error) {
	if !o.registry.Exists(sessionID) {
		return state.Position{}, ErrSessionNotFound
	}
	pos, ok := o.store.Position(sessionID)
	if !ok {
		return state.Position{SessionID: sessionID}, nil
	}
	return pos, nil
}

// JumpOptions lists the jump targets of a session.
func (o *Orchestrator) JumpOptions(sessionID string) ([]scheduler.JumpOption, error) {
	p, ok := o.registry.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return p.Scheduler().JumpOptions(scheduler.DefaultMaxHistoryOptions, scheduler.DefaultMaxQueueOptions), nil
}

type commandFunc func(*player.Player, context.Context) (player.Outcome, error)

func (o *Orchestrator) run(ctx context.Context, cmd, sessionID string, fn commandFunc) (Result, error) {
	p, ok := o.registry.Get(sessionID)
	if !ok {
		return Result{SessionID: sessionID}, ErrSessionNotFound
	}

	bctx, cancel := o.commandContext(ctx)
	defer cancel()

	out, err := fn(p, bctx)
	o.record(cmd, sessionID, out, err)

	res := Result{SessionID: sessionID, Outcome: out}
	if cur, ok := p.Scheduler().Current(); ok {
		res.Track = cur
	}
	return res, err
}

func (o *Orchestrator) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
}

func (o *Orchestrator) record(cmd, sessionID string, out player.Outcome, err error) {
	label := out.String()
	if err != nil && label == "" {
		label = "error"
	}
	metrics.CommandsTotal.WithLabelValues(cmd, label).Inc()

	ev := o.log.Debug()
	if err != nil {
		ev = o.log.Warn().Err(err)
	}
	ev.Str("session", sessionID).Str("command", cmd).Str("outcome", label).Msg("Command handled")
}
