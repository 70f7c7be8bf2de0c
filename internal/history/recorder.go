package history

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"music-orchestrator/internal/metrics"
	"music-orchestrator/internal/state"
	"music-orchestrator/internal/track"
)

// Store records plays.
type Store interface {
	Record(ctx context.Context, sessionID string, t *track.Track, playedAt time.Time) error
}

// Recorder writes a play record each time a session starts a new track.
type Recorder struct {
	store      Store
	states     *state.Store
	minBackoff time.Duration
	maxBackoff time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// NewRecorder creates a recorder watching states.
func NewRecorder(store Store, states *state.Store) *Recorder {
	return &Recorder{
		store:      store,
		states:     states,
		minBackoff: time.Second,
		maxBackoff: time.Minute,
		now:        time.Now,
		log:        log.With().Str("component", "history").Logger(),
	}
}

// Run follows UI updates of every session until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	sub := r.states.Subscribe("")
	defer sub.Close()

	last := make(map[string]string)
	for {
		ui, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if ui.State != state.Playing || ui.Current == nil {
			// every load starts a new play, repeats included
			if ui.State == state.Stopped || ui.State == state.Loading {
				delete(last, ui.SessionID)
			}
			continue
		}
		if last[ui.SessionID] == ui.Current.Identifier {
			continue
		}
		last[ui.SessionID] = ui.Current.Identifier

		if err := r.record(ctx, ui.SessionID, ui.Current); err != nil {
			return nil
		}
	}
}

// record retries with exponential backoff until the write succeeds or ctx
// is done.
func (r *Recorder) record(ctx context.Context, sessionID string, t *track.Track) error {
	playedAt := r.now()
	backoff := r.minBackoff

	for {
		err := r.store.Record(ctx, sessionID, t, playedAt)
		if err == nil {
			metrics.HistoryWritesTotal.WithLabelValues("ok").Inc()
			r.log.Debug().Str("session", sessionID).Str("track", t.Identifier).Msg("Play recorded")
			return nil
		}

		metrics.HistoryWritesTotal.WithLabelValues("error").Inc()
		r.log.Warn().Err(err).Str("session", sessionID).Dur("retry_in", backoff).Msg("Recording play failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, r.maxBackoff)
	}
}
