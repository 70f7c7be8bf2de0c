// Package simulated is an in-process playback backend driven by timers. It
// plays nothing but reports the same events as a real node, which makes it
// useful for development without ffmpeg and for end-to-end tests.
package simulated

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"music-orchestrator/internal/backend"
	"music-orchestrator/internal/track"
)

// ErrClosed is returned once the node has shut down.
var ErrClosed = errors.New("simulated node closed")

// Config tunes the simulated node.
type Config struct {
	// LoadDelay is the time between Start and the Started event.
	LoadDelay time.Duration
	// TickInterval is the position cadence. It also scales playback: each
	// tick advances the position by TickInterval times Speed.
	TickInterval time.Duration
	Speed        float64
	// Fail decides whether a track fails to load.
	Fail func(*track.Track) bool
}

// DefaultConfig plays in real time.
func DefaultConfig() Config {
	return Config{
		LoadDelay:    50 * time.Millisecond,
		TickInterval: 250 * time.Millisecond,
		Speed:        1,
	}
}

// Node implements backend.Node.
type Node struct {
	cfg    Config
	log    zerolog.Logger
	events chan backend.Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	links  map[string]*link
	closed bool
}

// New creates a node.
func New(cfg Config) *Node {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:    cfg,
		log:    log.With().Str("component", "simulated-node").Logger(),
		events: make(chan backend.Event, 256),
		ctx:    ctx,
		cancel: cancel,
		links:  make(map[string]*link),
	}
}

func (n *Node) Events() <-chan backend.Event { return n.events }

func (n *Node) Link(sessionID string) (backend.Link, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrClosed
	}
	l, ok := n.links[sessionID]
	if !ok {
		l = &link{node: n, id: sessionID}
		n.links[sessionID] = l
	}
	return l, nil
}

// Close stops all sessions and closes the event channel.
func (n *Node) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	n.cancel()
	n.wg.Wait()
	close(n.events)
}

func (n *Node) emit(ctx context.Context, ev backend.Event) bool {
	select {
	case n.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

type link struct {
	node *Node
	id   string

	mu      sync.Mutex
	current *run
}

// run is one simulated track.
type run struct {
	track  *track.Track
	cancel context.CancelFunc
	pause  chan bool
	reason backend.EndReason
	mu     sync.Mutex
}

func (l *link) Start(_ context.Context, t *track.Track, _ int) error {
	n := l.node
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	n.wg.Add(1)
	n.mu.Unlock()

	ctx, cancel := context.WithCancel(n.ctx)
	r := &run{track: t, cancel: cancel, pause: make(chan bool, 1)}

	l.mu.Lock()
	prev := l.current
	l.current = r
	l.mu.Unlock()

	if prev != nil {
		prev.end(backend.EndReplaced)
	}
	go l.play(ctx, r)
	return nil
}

func (l *link) Stop(context.Context) error {
	l.mu.Lock()
	r := l.current
	l.current = nil
	l.mu.Unlock()

	if r != nil {
		r.end(backend.EndStopped)
	}
	return nil
}

func (l *link) SetPaused(_ context.Context, paused bool) error {
	l.mu.Lock()
	r := l.current
	l.mu.Unlock()

	if r == nil {
		return errors.New("nothing is playing")
	}
	// keep only the latest request
	select {
	case <-r.pause:
	default:
	}
	r.pause <- paused
	return nil
}

func (l *link) Close(ctx context.Context) error {
	l.mu.Lock()
	r := l.current
	l.current = nil
	l.mu.Unlock()

	if r != nil {
		r.end("")
	}

	n := l.node
	n.mu.Lock()
	if n.links[l.id] == l {
		delete(n.links, l.id)
	}
	n.mu.Unlock()
	return nil
}

func (r *run) end(reason backend.EndReason) {
	r.mu.Lock()
	if r.reason == "" {
		r.reason = reason
	}
	r.mu.Unlock()
	r.cancel()
}

func (l *link) play(ctx context.Context, r *run) {
	n := l.node
	defer n.wg.Done()

	var (
		pos    time.Duration
		paused bool
	)
	finish := func(ev backend.Event) {
		// lifecycle events outlive the run's own cancellation
		if ev != nil {
			n.emit(n.ctx, ev)
		}
		l.mu.Lock()
		if l.current == r {
			l.current = nil
		}
		l.mu.Unlock()
	}
	cancelled := func() {
		r.mu.Lock()
		reason := r.reason
		r.mu.Unlock()
		if reason == "" {
			finish(nil)
			return
		}
		finish(backend.Ended{SessionID: l.id, Track: r.track, Reason: reason})
	}

	select {
	case <-ctx.Done():
		cancelled()
		return
	case <-time.After(n.cfg.LoadDelay):
	}

	if n.cfg.Fail != nil && n.cfg.Fail(r.track) {
		finish(backend.Ended{SessionID: l.id, Track: r.track, Reason: backend.EndLoadFailed})
		return
	}
	if !n.emit(ctx, backend.Started{SessionID: l.id, Track: r.track}) {
		cancelled()
		return
	}

	step := time.Duration(float64(n.cfg.TickInterval) * n.cfg.Speed)
	ticker := time.NewTicker(n.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancelled()
			return
		case paused = <-r.pause:
		case <-ticker.C:
			if paused {
				continue
			}
			pos += step
			if r.track.Length > 0 && pos >= r.track.Length {
				finish(backend.Ended{SessionID: l.id, Track: r.track, Reason: backend.EndFinished})
				return
			}
			select {
			case n.events <- backend.PositionTick{SessionID: l.id, PositionMs: pos.Milliseconds()}:
			default:
			}
		}
	}
}
