// Package registry keeps exactly one Player per session.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"music-orchestrator/internal/backend"
	"music-orchestrator/internal/metrics"
	"music-orchestrator/internal/player"
	"music-orchestrator/internal/state"
)

// Registry is the session directory. Players are created lazily on first
// access and live until Destroy.
type Registry struct {
	links backend.Factory
	store *state.Store
	opts  []player.Option
	log   zerolog.Logger

	// players maps session ids to *entry
	players sync.Map
}

// entry is one session slot. The first GetOrCreate fills it; everyone else
// waits on ready.
type entry struct {
	once  sync.Once
	ready chan struct{}
	p     *player.Player
	err   error
}

func (e *entry) wait() (*player.Player, bool) {
	<-e.ready
	return e.p, e.err == nil
}

// New returns an empty registry. opts are applied to every new Player.
func New(links backend.Factory, store *state.Store, opts ...player.Option) *Registry {
	return &Registry{
		links: links,
		store: store,
		opts:  opts,
		log:   log.With().Str("component", "registry").Logger(),
	}
}

// GetOrCreate returns the session's player, creating it when absent.
// Concurrent callers for the same new session get the same instance;
// creating one session never waits on another.
func (r *Registry) GetOrCreate(sessionID string) (*player.Player, error) {
	v, _ := r.players.LoadOrStore(sessionID, &entry{ready: make(chan struct{})})
	e := v.(*entry)

	e.once.Do(func() {
		defer close(e.ready)

		link, err := r.links.Link(sessionID)
		if err != nil {
			e.err = errors.Wrapf(err, "open backend link for session %s", sessionID)
			return
		}
		e.p = player.New(sessionID, link, r.store, r.opts...)
		metrics.ActiveSessions.Inc()
		r.log.Info().Str("session", sessionID).Msg("Session created")
	})

	if p, ok := e.wait(); ok {
		return p, nil
	}
	r.players.CompareAndDelete(sessionID, e)
	return nil, e.err
}

// Get returns the session's player without creating one.
func (r *Registry) Get(sessionID string) (*player.Player, bool) {
	v, ok := r.players.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*entry).wait()
}

// Exists reports whether the session has a player.
func (r *Registry) Exists(sessionID string) bool {
	_, ok := r.Get(sessionID)
	return ok
}

// Destroy removes the session, releases its backend link and drops its
// cached snapshots. Unknown sessions are ignored.
func (r *Registry) Destroy(ctx context.Context, sessionID string) error {
	v, ok := r.players.LoadAndDelete(sessionID)
	if !ok {
		return nil
	}
	p, ok := v.(*entry).wait()
	if !ok {
		return nil
	}
	metrics.ActiveSessions.Dec()

	err := p.Close(ctx)
	r.store.Remove(sessionID)

	if err != nil {
		r.log.Warn().Err(err).Str("session", sessionID).Msg("Session destroyed, link close failed")
		return err
	}
	r.log.Info().Str("session", sessionID).Msg("Session destroyed")
	return nil
}

// Sessions returns the ids of all live sessions.
func (r *Registry) Sessions() []string {
	var ids []string
	r.players.Range(func(k, v any) bool {
		if _, ok := v.(*entry).wait(); ok {
			ids = append(ids, k.(string))
		}
		return true
	})
	sort.Strings(ids)
	return ids
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.Sessions())
}

// Shutdown destroys every session concurrently.
func (r *Registry) Shutdown(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range r.Sessions() {
		g.Go(func() error {
			return r.Destroy(ctx, id)
		})
	}
	return g.Wait()
}
