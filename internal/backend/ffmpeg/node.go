// Package ffmpeg is a playback backend that decodes tracks with a local
// ffmpeg process per session and writes the encoded audio to a Sink.
package ffmpeg

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"music-orchestrator/internal/backend"
	"music-orchestrator/internal/buffer"
	"music-orchestrator/internal/encoder"
	"music-orchestrator/internal/metrics"
	"music-orchestrator/internal/track"
)

var (
	// ErrNotPlaying is returned by SetPaused when no track is loaded.
	ErrNotPlaying = errors.New("nothing is playing")
	// ErrNodeClosed is returned once the node has shut down.
	ErrNodeClosed = errors.New("node closed")
)

// StreamResolver returns a direct media URL for t.
type StreamResolver func(ctx context.Context, t *track.Track) (string, error)

// Sink receives the encoded audio of every session.
type Sink interface {
	WriteFrame(sessionID string, data []byte) error
}

// Config tunes the node.
type Config struct {
	Format         encoder.Format
	Encoder        encoder.Config
	TickInterval   time.Duration
	StuckThreshold time.Duration
	EventBuffer    int
}

// DefaultConfig streams Ogg/Opus with a 250ms position cadence.
func DefaultConfig() Config {
	return Config{
		Format:         encoder.FormatWeb,
		Encoder:        encoder.DefaultConfig(),
		TickInterval:   250 * time.Millisecond,
		StuckThreshold: 10 * time.Second,
		EventBuffer:    256,
	}
}

// Node implements backend.Node.
type Node struct {
	cfg         Config
	resolve     StreamResolver
	sink        Sink
	newPipeline func() encoder.Pipeline
	now         func() time.Time
	log         zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan backend.Event
	wg     sync.WaitGroup

	mu     sync.Mutex
	links  map[string]*link
	closed bool
}

// New creates a node. sink may be nil, in which case audio is discarded.
func New(cfg Config, resolve StreamResolver, sink Sink) *Node {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	if cfg.Format == "" {
		cfg.Format = DefaultConfig().Format
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:     cfg,
		resolve: resolve,
		sink:    sink,
		newPipeline: func() encoder.Pipeline {
			return encoder.NewFFmpegPipeline(cfg.Encoder)
		},
		now:    time.Now,
		log:    log.With().Str("component", "ffmpeg-node").Logger(),
		ctx:    ctx,
		cancel: cancel,
		events: make(chan backend.Event, cfg.EventBuffer),
		links:  make(map[string]*link),
	}
}

// Events implements backend.Node.
func (n *Node) Events() <-chan backend.Event {
	return n.events
}

// Link returns the link of sessionID, creating it on first use.
func (n *Node) Link(sessionID string) (backend.Link, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrNodeClosed
	}
	l, ok := n.links[sessionID]
	if !ok {
		l = &link{
			node: n,
			id:   sessionID,
			log:  n.log.With().Str("session", sessionID).Logger(),
		}
		n.links[sessionID] = l
	}
	return l, nil
}

// Close stops every session and closes the event channel.
func (n *Node) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	links := make([]*link, 0, len(n.links))
	for _, l := range n.links {
		links = append(links, l)
	}
	n.links = map[string]*link{}
	n.mu.Unlock()

	for _, l := range links {
		l.halt(true)
	}
	n.cancel()
	n.wg.Wait()
	close(n.events)
}

func (n *Node) forget(l *link) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.links[l.id] == l {
		delete(n.links, l.id)
	}
}

// emit blocks for lifecycle events and drops position ticks when the
// consumer is behind.
func (n *Node) emit(ev backend.Event) {
	if _, tick := ev.(backend.PositionTick); tick {
		select {
		case n.events <- ev:
		default:
			metrics.DroppedEventsTotal.WithLabelValues("backend_full").Inc()
		}
		return
	}
	select {
	case n.events <- ev:
	case <-n.ctx.Done():
	}
}

// link is the per-session side of the node.
type link struct {
	node *Node
	id   string
	log  zerolog.Logger

	mu   sync.Mutex
	gen  uint64
	play *playback
}

func (l *link) Start(ctx context.Context, t *track.Track, volume int) error {
	if l.node.ctx.Err() != nil {
		return ErrNodeClosed
	}
	gen := l.claim()

	url, err := l.node.resolve(ctx, t)
	if err != nil {
		return errors.Wrapf(err, "resolve stream for %s", t.Identifier)
	}
	if !l.current(gen) {
		l.log.Debug().Str("track", t.Identifier).Msg("Start superseded during resolve")
		return nil
	}

	pipe := l.node.newPipeline()
	pctx, cancel := context.WithCancel(l.node.ctx)
	if err := pipe.Start(pctx, url, l.node.cfg.Format, volume); err != nil {
		cancel()
		return errors.Wrap(err, "start pipeline")
	}

	pb := &playback{
		link:     l,
		track:    t,
		pipe:     pipe,
		cancel:   cancel,
		loadedAt: l.node.now(),
	}

	l.mu.Lock()
	if l.gen != gen {
		l.mu.Unlock()
		l.log.Debug().Str("track", t.Identifier).Msg("Start superseded during pipeline start")
		pipe.Stop()
		cancel()
		return nil
	}
	prev := l.play
	l.play = pb
	l.mu.Unlock()

	if prev != nil {
		prev.end(backend.EndReplaced, false)
	}

	n := l.node
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		pb.end(backend.EndStopped, true)
		return ErrNodeClosed
	}
	n.wg.Add(1)
	n.mu.Unlock()

	go pb.pump(pctx)
	return nil
}

// claim supersedes every Start still in flight and returns the new
// generation.
func (l *link) claim() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	return l.gen
}

func (l *link) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen == gen
}

func (l *link) Stop(context.Context) error {
	l.halt(false)
	return nil
}

func (l *link) SetPaused(_ context.Context, paused bool) error {
	l.mu.Lock()
	pb := l.play
	l.mu.Unlock()

	if pb == nil {
		return ErrNotPlaying
	}
	pb.setPaused(paused)
	return nil
}

func (l *link) Close(context.Context) error {
	l.halt(true)
	l.node.forget(l)
	return nil
}

func (l *link) halt(silent bool) {
	l.mu.Lock()
	l.gen++
	pb := l.play
	l.play = nil
	l.mu.Unlock()

	if pb != nil {
		pb.end(backend.EndStopped, silent)
	}
}

// playback is one track running through one pipeline.
type playback struct {
	link   *link
	track  *track.Track
	pipe   encoder.Pipeline
	cancel context.CancelFunc

	mu          sync.Mutex
	loadedAt    time.Time
	startedAt   time.Time
	lastChunk   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	paused      bool
	stuck       bool
	reason      backend.EndReason
	silent      bool
}

// end stops the pipeline. The pump reports reason once ffmpeg is gone.
func (pb *playback) end(reason backend.EndReason, silent bool) {
	pb.mu.Lock()
	if pb.reason == "" {
		pb.reason = reason
		pb.silent = silent
	}
	pb.mu.Unlock()

	pb.pipe.Stop()
	pb.cancel()
}

func (pb *playback) setPaused(paused bool) {
	now := pb.link.node.now()

	pb.mu.Lock()
	defer pb.mu.Unlock()

	if paused == pb.paused {
		return
	}
	pb.paused = paused
	if paused {
		pb.pausedAt = now
		pb.pipe.Pause()
		return
	}
	pb.pausedTotal += now.Sub(pb.pausedAt)
	pb.lastChunk = now
	pb.pipe.Resume()
}

func (pb *playback) positionMs(now time.Time) int64 {
	if pb.startedAt.IsZero() {
		return 0
	}
	end := now
	if pb.paused {
		end = pb.pausedAt
	}
	return end.Sub(pb.startedAt).Milliseconds() - pb.pausedTotal.Milliseconds()
}

func (pb *playback) pump(ctx context.Context) {
	n := pb.link.node
	defer n.wg.Done()

	out := pb.pipe.Output()
	if n.cfg.Format == encoder.FormatOpus {
		// opus output is not read at native rate by ffmpeg
		paced := buffer.DefaultConfig(128000)
		paced.OnDrop = func([]byte) { metrics.AudioChunksDroppedTotal.Inc() }
		out = buffer.NewPacedBuffer(paced).Start(ctx, out)
	}

	ticker := time.NewTicker(n.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				pb.finish()
				return
			}
			pb.deliver(chunk)
		case <-ticker.C:
			pb.tick()
		}
	}
}

func (pb *playback) deliver(chunk []byte) {
	n := pb.link.node
	now := n.now()

	pb.mu.Lock()
	first := pb.startedAt.IsZero()
	if first {
		pb.startedAt = now
	}
	pb.lastChunk = now
	pb.stuck = false
	silenced := pb.reason != ""
	pb.mu.Unlock()

	if silenced {
		return
	}
	if first {
		pb.link.log.Debug().Str("track", pb.track.Identifier).Dur("load", now.Sub(pb.loadedAt)).Msg("Track started")
		n.emit(backend.Started{SessionID: pb.link.id, Track: pb.track})
	}
	if n.sink != nil {
		if err := n.sink.WriteFrame(pb.link.id, chunk); err != nil {
			pb.link.log.Debug().Err(err).Msg("Sink write failed")
		}
	}
}

func (pb *playback) tick() {
	n := pb.link.node
	now := n.now()

	pb.mu.Lock()
	if pb.reason != "" || pb.startedAt.IsZero() || pb.paused {
		pb.mu.Unlock()
		return
	}
	pos := pb.positionMs(now)
	reportStuck := n.cfg.StuckThreshold > 0 && !pb.stuck && now.Sub(pb.lastChunk) >= n.cfg.StuckThreshold
	if reportStuck {
		pb.stuck = true
	}
	pb.mu.Unlock()

	n.emit(backend.PositionTick{SessionID: pb.link.id, PositionMs: pos})
	if reportStuck {
		pb.link.log.Warn().Str("track", pb.track.Identifier).Dur("threshold", n.cfg.StuckThreshold).Msg("Track stuck")
		n.emit(backend.Stuck{SessionID: pb.link.id, Track: pb.track, Threshold: n.cfg.StuckThreshold})
	}
}

// finish reports how the pipeline ended. A failing ffmpeg yields a single
// Exception, or LoadFailed when no audio was ever produced.
func (pb *playback) finish() {
	err := pb.pipe.Wait()
	pb.cancel()

	pb.mu.Lock()
	reason, silent, started := pb.reason, pb.silent, !pb.startedAt.IsZero()
	pb.mu.Unlock()

	pb.link.mu.Lock()
	if pb.link.play == pb {
		pb.link.play = nil
	}
	pb.link.mu.Unlock()

	n := pb.link.node
	id := pb.link.id

	switch {
	case silent:
	case reason != "":
		n.emit(backend.Ended{SessionID: id, Track: pb.track, Reason: reason})
	case err != nil && !started:
		pb.link.log.Warn().Err(err).Str("track", pb.track.Identifier).Msg("Track failed to load")
		n.emit(backend.Ended{SessionID: id, Track: pb.track, Reason: backend.EndLoadFailed})
	case err != nil:
		pb.link.log.Warn().Err(err).Str("track", pb.track.Identifier).Msg("Playback failed")
		n.emit(backend.Exception{SessionID: id, Track: pb.track, Err: err})
	default:
		n.emit(backend.Ended{SessionID: id, Track: pb.track, Reason: backend.EndFinished})
	}
}
