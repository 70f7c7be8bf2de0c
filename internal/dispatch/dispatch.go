// Package dispatch routes playback backend events to session players.
//
// Events of one session are applied in arrival order by a dedicated worker
// goroutine, so a slow backend call in one session never delays another.
// Position ticks are sampled before they are queued and events for sessions
// absent from the registry are dropped.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"music-orchestrator/internal/backend"
	"music-orchestrator/internal/metrics"
	"music-orchestrator/internal/player"
)

// Directory looks up live players.
type Directory interface {
	Get(sessionID string) (*player.Player, bool)
}

// Config tunes the dispatcher.
type Config struct {
	// SampleInterval is the minimum gap between two applied position ticks
	// of the same session.
	SampleInterval time.Duration
	// QueueSize bounds the pending events of one session.
	QueueSize int
	// HandleTimeout bounds backend calls made while handling one event.
	HandleTimeout time.Duration
}

// DefaultConfig matches the backend's update cadence.
func DefaultConfig() Config {
	return Config{
		SampleInterval: 350 * time.Millisecond,
		QueueSize:      64,
		HandleTimeout:  10 * time.Second,
	}
}

// Dispatcher fans backend events out to per-session workers.
type Dispatcher struct {
	dir Directory
	cfg Config
	log zerolog.Logger
	now func() time.Time

	mu       sync.Mutex
	queues   map[string]chan backend.Event
	lastTick map[string]time.Time
	wg       sync.WaitGroup
}

// New creates a dispatcher reading players from dir.
func New(dir Directory, cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = DefaultConfig().HandleTimeout
	}
	return &Dispatcher{
		dir:      dir,
		cfg:      cfg,
		log:      log.With().Str("component", "dispatch").Logger(),
		now:      time.Now,
		queues:   make(map[string]chan backend.Event),
		lastTick: make(map[string]time.Time),
	}
}

// Run consumes events until ctx is done or events is closed, then waits for
// the session workers to drain.
func (d *Dispatcher) Run(ctx context.Context, events <-chan backend.Event) error {
	defer d.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.Dispatch(ctx, ev)
		}
	}
}

// Dispatch routes a single event. It blocks only when the session's queue is
// full of lifecycle events. Calls must not overlap; Run is the only caller
// outside tests.
func (d *Dispatcher) Dispatch(ctx context.Context, ev backend.Event) {
	metrics.BackendEventsTotal.WithLabelValues(ev.Type()).Inc()
	id := ev.Session()

	if _, ok := d.dir.Get(id); !ok {
		metrics.DroppedEventsTotal.WithLabelValues("unknown_session").Inc()
		d.log.Debug().Str("session", id).Str("event", ev.Type()).Msg("Dropping event for unknown session")
		d.forget(id)
		return
	}

	if _, isTick := ev.(backend.PositionTick); isTick {
		if !d.sample(id) {
			metrics.DroppedEventsTotal.WithLabelValues("sampled").Inc()
			return
		}
		select {
		case d.queue(ctx, id) <- ev:
		default:
			metrics.DroppedEventsTotal.WithLabelValues("queue_full").Inc()
		}
		return
	}

	select {
	case d.queue(ctx, id) <- ev:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) sample(id string) bool {
	if d.cfg.SampleInterval <= 0 {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.lastTick[id]; ok && now.Sub(last) < d.cfg.SampleInterval {
		return false
	}
	d.lastTick[id] = now
	return true
}

func (d *Dispatcher) queue(ctx context.Context, id string) chan backend.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.queues[id]
	if !ok {
		q = make(chan backend.Event, d.cfg.QueueSize)
		d.queues[id] = q
		d.wg.Add(1)
		go d.work(ctx, id, q)
	}
	return q
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.queues[id]; ok {
		close(q)
		delete(d.queues, id)
	}
	delete(d.lastTick, id)
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	for id, q := range d.queues {
		close(q)
		delete(d.queues, id)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, id string, q <-chan backend.Event) {
	defer d.wg.Done()

	for ev := range q {
		p, ok := d.dir.Get(id)
		if !ok {
			metrics.DroppedEventsTotal.WithLabelValues("unknown_session").Inc()
			continue
		}
		d.handle(ctx, p, ev)
	}
}

func (d *Dispatcher) handle(ctx context.Context, p *player.Player, ev backend.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.HandleTimeout)
	defer cancel()

	var err error
	switch e := ev.(type) {
	case backend.Started:
		p.OnStart(e.Track)
	case backend.PositionTick:
		p.OnPositionTick(e.PositionMs)
	case backend.Ended:
		err = p.OnEnd(ctx, e.Track, e.Reason)
	case backend.Exception:
		err = p.OnException(ctx, e.Track, e.Err)
	case backend.Stuck:
		err = p.OnStuck(ctx, e.Track, e.Threshold)
	default:
		d.log.Warn().Str("event", ev.Type()).Msg("Unhandled backend event")
	}

	if err != nil {
		d.log.Warn().Err(err).Str("session", p.ID()).Str("event", ev.Type()).Msg("Event handling failed")
	}
}
