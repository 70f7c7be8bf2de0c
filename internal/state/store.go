package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"music-orchestrator/internal/metrics"
)

// ErrClosed is returned by Subscription.Next after Close.
var ErrClosed = errors.New("subscription closed")

// Store caches the latest UI and position snapshot of every session and
// fans UI updates out to subscribers. Publishing never waits on a
// subscriber: each one keeps only the newest pending snapshot per session.
type Store struct {
	mu   sync.RWMutex
	ui   map[string]UIState
	pos  map[string]Position
	seq  uint64
	subs map[uuid.UUID]*Subscription
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		ui:   make(map[string]UIState),
		pos:  make(map[string]Position),
		subs: make(map[uuid.UUID]*Subscription),
	}
}

// PublishUI replaces the session's UI snapshot and notifies subscribers.
// The stored copy, with its sequence number, is returned.
func (s *Store) PublishUI(ui UIState) UIState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	ui.Seq = s.seq
	if ui.UpdatedAt.IsZero() {
		ui.UpdatedAt = time.Now()
	}
	s.ui[ui.SessionID] = ui

	for _, sub := range s.subs {
		sub.offer(ui)
	}
	return ui
}

// PublishPosition replaces the session's position snapshot.
func (s *Store) PublishPosition(p Position) {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	s.pos[p.SessionID] = p
	s.mu.Unlock()
}

// UI returns the latest UI snapshot of a session.
func (s *Store) UI(sessionID string) (UIState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ui, ok := s.ui[sessionID]
	return ui, ok
}

// Position returns the latest position snapshot of a session.
func (s *Store) Position(sessionID string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pos[sessionID]
	return p, ok
}

// Sessions returns the ids of every session with a cached UI snapshot.
func (s *Store) Sessions() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.ui))
	for id := range s.ui {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Remove drops both snapshots of a session.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	delete(s.ui, sessionID)
	delete(s.pos, sessionID)
	s.mu.Unlock()
}

// Subscribe registers a reader of UI updates. An empty sessionID receives
// every session. The latest cached snapshots are delivered first.
func (s *Store) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		id:      uuid.New(),
		store:   s,
		filter:  sessionID,
		pending: make(map[string]UIState),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.ui))
	for id := range s.ui {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sub.offer(s.ui[id])
	}

	s.subs[sub.id] = sub
	return sub
}

func (s *Store) unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

// Subscribers returns the number of open subscriptions.
func (s *Store) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Subscription is a coalescing reader of UI updates. It is meant to be read
// by a single goroutine.
type Subscription struct {
	id     uuid.UUID
	store  *Store
	filter string

	mu      sync.Mutex
	pending map[string]UIState
	order   []string

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// ID identifies the subscription.
func (sub *Subscription) ID() uuid.UUID {
	return sub.id
}

func (sub *Subscription) offer(ui UIState) {
	if sub.filter != "" && ui.SessionID != sub.filter {
		return
	}

	sub.mu.Lock()
	if _, ok := sub.pending[ui.SessionID]; ok {
		metrics.CoalescedSnapshotsTotal.Inc()
	} else {
		sub.order = append(sub.order, ui.SessionID)
	}
	sub.pending[ui.SessionID] = ui
	sub.mu.Unlock()

	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a snapshot is pending, ctx is done or the subscription
// is closed. Sessions are served in the order they first became pending.
func (sub *Subscription) Next(ctx context.Context) (UIState, error) {
	for {
		sub.mu.Lock()
		if len(sub.order) > 0 {
			id := sub.order[0]
			sub.order = sub.order[1:]
			ui := sub.pending[id]
			delete(sub.pending, id)
			sub.mu.Unlock()
			return ui, nil
		}
		sub.mu.Unlock()

		select {
		case <-ctx.Done():
			return UIState{}, ctx.Err()
		case <-sub.done:
			return UIState{}, ErrClosed
		case <-sub.notify:
		}
	}
}

// Close detaches the subscription from the store.
func (sub *Subscription) Close() {
	sub.closeOnce.Do(func() {
		sub.store.unsubscribe(sub.id)
		close(sub.done)
	})
}
