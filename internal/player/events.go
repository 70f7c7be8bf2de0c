package player

import (
	"context"
	"time"

	"music-orchestrator/internal/backend"
	"music-orchestrator/internal/state"
	"music-orchestrator/internal/track"
)

// OnStart marks the session as playing.
func (p *Player) OnStart(t *track.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	cur, ok := p.sched.Current()
	if !ok {
		return
	}
	if !cur.SameAs(t) {
		p.log.Warn().Str("started", identifier(t)).Str("current", cur.Identifier).Msg("Start event for a track that is no longer current")
	}

	p.setStateLocked(state.Playing)
	p.positionMs = 0
	p.publishLocked()
	p.publishPositionLocked()
}

// OnPositionTick records the playback position.
func (p *Player) OnPositionTick(ms int64) {
	p.UpdatePosition(ms)
}

// OnEnd reacts to the end of a track. Finished tracks are repeated or
// followed by the next one; load failures skip ahead.
func (p *Player) OnEnd(ctx context.Context, t *track.Track, reason backend.EndReason) error {
	switch reason {
	case backend.EndReplaced:
		return nil

	case backend.EndStopped:
		p.mu.Lock()
		if !p.closed && p.state != state.Stopped {
			p.setStateLocked(state.Stopped)
			p.publishLocked()
			p.publishPositionLocked()
		}
		p.mu.Unlock()
		return nil

	case backend.EndFinished:
		p.mu.Lock()
		if p.repeat && !p.closed {
			if cur, ok := p.sched.Current(); ok {
				p.beginLoadLocked()
				vol := p.volume
				p.mu.Unlock()
				_, err := p.start(ctx, cur, vol, Skipped)
				return err
			}
		}
		p.mu.Unlock()
		return p.advance(ctx, state.Stopped, false)

	case backend.EndLoadFailed:
		p.log.Warn().Str("track", identifier(t)).Msg("Track failed to load, skipping")
		return p.advance(ctx, state.Idle, false)
	}

	p.log.Warn().Str("reason", string(reason)).Msg("Unknown end reason")
	return nil
}

// OnException skips a track that failed while playing.
func (p *Player) OnException(ctx context.Context, t *track.Track, cause error) error {
	p.log.Warn().Err(cause).Str("track", identifier(t)).Msg("Track exception, skipping")
	return p.advance(ctx, state.Idle, true)
}

// OnStuck skips a track that stopped producing audio.
func (p *Player) OnStuck(ctx context.Context, t *track.Track, threshold time.Duration) error {
	p.log.Warn().Dur("threshold", threshold).Str("track", identifier(t)).Msg("Track stuck, skipping")
	return p.advance(ctx, state.Idle, true)
}

// advance starts the next track or settles in exhausted when there is none.
// A cleared scheduler means the session was stopped and nothing happens.
func (p *Player) advance(ctx context.Context, exhausted state.PlayerState, stopBackend bool) error {
	p.mu.Lock()
	if p.closed || p.sched.IsEmpty() {
		p.mu.Unlock()
		return nil
	}

	next, ok := p.sched.Next()
	if !ok {
		p.setStateLocked(exhausted)
		p.publishLocked()
		p.publishPositionLocked()
		p.mu.Unlock()

		if stopBackend {
			if err := p.link.Stop(ctx); err != nil {
				return backendError(err, "stop")
			}
		}
		return nil
	}

	p.beginLoadLocked()
	vol := p.volume
	p.mu.Unlock()

	_, err := p.start(ctx, next, vol, Skipped)
	return err
}

func identifier(t *track.Track) string {
	if t == nil {
		return ""
	}
	return t.Identifier
}
