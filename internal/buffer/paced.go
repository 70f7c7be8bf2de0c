// Package buffer paces encoded audio chunks to their playback rate so a
// sink receives roughly real-time audio even when the encoder bursts.
package buffer

import (
	"context"
	"time"
)

// Config tunes a PacedBuffer.
type Config struct {
	// Bitrate in bps used to derive chunk durations.
	Bitrate int
	// Prebuffer is the audio held back before the first chunk is released.
	Prebuffer time.Duration
	// MinDelay and MaxDelay clamp derived chunk durations.
	MinDelay time.Duration
	MaxDelay time.Duration
	// MaxBuffer drops the oldest chunks once exceeded.
	MaxBuffer time.Duration
	// Interval overrides the derived duration of every chunk.
	Interval time.Duration
	// Passthrough releases chunks as soon as the prebuffer is filled.
	Passthrough bool
	// OnDrop is called with each chunk discarded by MaxBuffer.
	OnDrop func(chunk []byte)
}

// DefaultConfig paces at bitrate with a short prebuffer.
func DefaultConfig(bitrate int) Config {
	return Config{
		Bitrate:   bitrate,
		Prebuffer: 200 * time.Millisecond,
		MinDelay:  5 * time.Millisecond,
		MaxDelay:  250 * time.Millisecond,
		MaxBuffer: 5 * time.Second,
	}
}

// PacedBuffer releases chunks at their playback rate.
type PacedBuffer struct {
	cfg Config
}

func NewPacedBuffer(cfg Config) *PacedBuffer {
	return &PacedBuffer{cfg: cfg}
}

// Start paces input onto the returned channel until input closes or ctx is
// done. The output is closed when the goroutine exits.
func (p *PacedBuffer) Start(ctx context.Context, input <-chan []byte) <-chan []byte {
	output := make(chan []byte)
	go p.run(ctx, input, output)
	return output
}

type pending struct {
	chunks   [][]byte
	buffered time.Duration
}

func (q *pending) push(p *PacedBuffer, chunk []byte) {
	q.chunks = append(q.chunks, chunk)
	q.buffered += p.durationFor(chunk)
	p.trim(q)
}

func (q *pending) pop(p *PacedBuffer) []byte {
	chunk := q.chunks[0]
	q.chunks = q.chunks[1:]
	q.buffered = max(q.buffered-p.durationFor(chunk), 0)
	return chunk
}

func (p *PacedBuffer) run(ctx context.Context, input <-chan []byte, output chan<- []byte) {
	defer close(output)

	var (
		q       pending
		timer   *time.Timer
		open    = true
		ready   bool
		started bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if len(q.chunks) == 0 && !open {
			return
		}

		// fill until prebuffered, or until there is something to send
		if !ready || len(q.chunks) == 0 {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-input:
				if !ok {
					open = false
					ready = true
					continue
				}
				q.push(p, chunk)
				if q.buffered >= p.cfg.Prebuffer {
					ready = true
				}
			}
			continue
		}

		if p.cfg.Passthrough {
			select {
			case <-ctx.Done():
				return
			case output <- q.pop(p):
			}
			continue
		}

		if timer == nil {
			var delay time.Duration
			if started {
				delay = max(p.durationFor(q.chunks[0]), time.Millisecond)
			}
			timer = time.NewTimer(delay)
		}

		var in <-chan []byte
		if open {
			in = input
		}

		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-in:
			if !ok {
				open = false
				continue
			}
			q.push(p, chunk)
		case <-timer.C:
			timer = nil
			started = true
			select {
			case <-ctx.Done():
				return
			case output <- q.pop(p):
			}
		}
	}
}

func (p *PacedBuffer) trim(q *pending) {
	if p.cfg.MaxBuffer <= 0 {
		return
	}
	for q.buffered > p.cfg.MaxBuffer && len(q.chunks) > 1 {
		dropped := q.pop(p)
		if p.cfg.OnDrop != nil {
			p.cfg.OnDrop(dropped)
		}
	}
}

func (p *PacedBuffer) durationFor(chunk []byte) time.Duration {
	if p.cfg.Interval > 0 {
		return p.cfg.Interval
	}
	if p.cfg.Bitrate <= 0 {
		return 20 * time.Millisecond
	}
	seconds := float64(len(chunk)) / (float64(p.cfg.Bitrate) / 8.0)
	d := time.Duration(seconds * float64(time.Second))
	if p.cfg.MinDelay > 0 && d < p.cfg.MinDelay {
		return p.cfg.MinDelay
	}
	if p.cfg.MaxDelay > 0 && d > p.cfg.MaxDelay {
		return p.cfg.MaxDelay
	}
	return d
}
