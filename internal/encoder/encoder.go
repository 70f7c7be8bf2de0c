// Package encoder turns a remote audio stream into encoded chunks by running
// FFmpeg as a child process.
package encoder

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Format specifies the output format for encoded audio.
type Format string

const (
	// FormatPCM outputs raw PCM s16le paced at native rate.
	FormatPCM Format = "pcm"
	// FormatOpus outputs Opus frames for voice transports.
	FormatOpus Format = "opus"
	// FormatWeb outputs Ogg/Opus for browser playback.
	FormatWeb Format = "web"
)

// ParseFormat accepts the configured format names.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatPCM, FormatOpus, FormatWeb:
		return f, nil
	}
	return "", errors.Newf("unknown audio format %q", s)
}

// Config holds encoding configuration.
type Config struct {
	SampleRate int // Hz
	Channels   int
	Bitrate    int // bps, used for Opus output
}

// DefaultConfig returns 48kHz stereo at 256kbps.
func DefaultConfig() Config {
	return Config{
		SampleRate: 48000,
		Channels:   2,
		Bitrate:    256000,
	}
}

// BytesPerSecond is the PCM byte rate for cfg.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * 2
}

// Pipeline represents one running encode of one stream.
type Pipeline interface {
	// Start launches the encoder for streamURL. volume is a percentage where
	// 100 leaves the signal untouched.
	Start(ctx context.Context, streamURL string, format Format, volume int) error

	// Output delivers encoded chunks and is closed when the stream ends or
	// Stop is called.
	Output() <-chan []byte

	// Pause freezes the encoder and drops buffered output.
	Pause()

	// Resume continues a paused encoder.
	Resume()

	// Stop kills the encoder. Wait returns nil after Stop.
	Stop()

	// Wait blocks until the encoder exits and reports abnormal exits.
	Wait() error
}

// ErrNotStarted is returned by Wait before Start succeeded.
var ErrNotStarted = errors.New("pipeline not started")
