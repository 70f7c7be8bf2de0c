package encoder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FFmpegPipeline implements Pipeline with an ffmpeg child process.
type FFmpegPipeline struct {
	config Config
	binary string
	log    zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  bytes.Buffer
	output  chan []byte
	cancel  context.CancelFunc
	stopped bool
	done    chan struct{}
	waitErr error
}

// NewFFmpegPipeline creates an idle pipeline.
func NewFFmpegPipeline(config Config) *FFmpegPipeline {
	return &FFmpegPipeline{
		config: config,
		binary: "ffmpeg",
		log:    log.With().Str("component", "ffmpeg").Logger(),
		output: make(chan []byte, 10),
		done:   make(chan struct{}),
	}
}

// Start begins the encoding pipeline.
func (p *FFmpegPipeline) Start(ctx context.Context, streamURL string, format Format, volume int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return errors.New("pipeline already started")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, p.binary, p.buildArgs(streamURL, format, volume)...)
	cmd.Stderr = &p.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.cancel()
		return errors.Wrap(err, "stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		p.cancel()
		return errors.Wrap(err, "start ffmpeg")
	}

	p.cmd = cmd
	p.stdout = stdout
	p.log = p.log.With().Int("pid", cmd.Process.Pid).Logger()
	p.log.Debug().Str("format", string(format)).Int("volume", volume).Msg("FFmpeg started")

	go p.readOutput(ctx)
	return nil
}

// Output returns the channel receiving encoded audio chunks.
func (p *FFmpegPipeline) Output() <-chan []byte {
	return p.output
}

// Stop kills ffmpeg.
func (p *FFmpegPipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		// a stopped process ignores SIGKILL until continued on some kernels
		_ = p.cmd.Process.Signal(syscall.SIGCONT)
		_ = p.cmd.Process.Kill()
	}
}

// Pause sends SIGSTOP and drains buffered output.
func (p *FFmpegPipeline) Pause() {
	if !p.signal(syscall.SIGSTOP) {
		return
	}
	if n := p.drain(); n > 0 {
		p.log.Debug().Int("chunks", n).Msg("Drained buffered chunks on pause")
	}
}

// Resume drops stale output and sends SIGCONT.
func (p *FFmpegPipeline) Resume() {
	if n := p.drain(); n > 0 {
		p.log.Debug().Int("chunks", n).Msg("Drained stale chunks before resume")
	}
	p.signal(syscall.SIGCONT)
}

// Wait blocks until ffmpeg has exited.
func (p *FFmpegPipeline) Wait() error {
	p.mu.Lock()
	started := p.cmd != nil
	p.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	<-p.done
	return p.waitErr
}

func (p *FFmpegPipeline) signal(sig syscall.Signal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.cmd.Process == nil || p.stopped {
		return false
	}
	if err := p.cmd.Process.Signal(sig); err != nil {
		p.log.Debug().Err(err).Str("signal", sig.String()).Msg("Signal failed")
		return false
	}
	return true
}

func (p *FFmpegPipeline) drain() int {
	drained := 0
	for {
		select {
		case _, ok := <-p.output:
			if !ok {
				return drained
			}
			drained++
		default:
			return drained
		}
	}
}

func (p *FFmpegPipeline) buildArgs(streamURL string, format Format, volume int) []string {
	args := []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", streamURL,
		"-af", fmt.Sprintf("volume=%.2f", float64(volume)/100),
		"-ar", fmt.Sprintf("%d", p.config.SampleRate),
		"-ac", fmt.Sprintf("%d", p.config.Channels),
		"-loglevel", "warning",
	}

	switch format {
	case FormatPCM:
		args = append([]string{"-re"}, args...)
		args = append(args, "-f", "s16le", "pipe:1")
	case FormatOpus:
		args = append(args,
			"-c:a", "libopus",
			"-b:a", "128000",
			"-vbr", "on",
			"-compression_level", "10",
			"-frame_duration", "20",
			"-application", "audio",
			"-f", "opus",
			"pipe:1",
		)
	case FormatWeb:
		args = append([]string{"-re"}, args...)
		args = append(args,
			"-c:a", "libopus",
			"-b:a", fmt.Sprintf("%d", p.config.Bitrate),
			"-vbr", "on",
			"-compression_level", "10",
			"-frame_duration", "20",
			"-application", "audio",
			"-f", "ogg",
			"-page_duration", "20000",
			"-flush_packets", "1",
			"pipe:1",
		)
	}

	return args
}

func (p *FFmpegPipeline) readOutput(ctx context.Context) {
	defer close(p.done)
	defer close(p.output)

	buf := make([]byte, 16384)
	total := 0
	for {
		n, err := p.stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			total += n
			select {
			case p.output <- chunk:
			case <-ctx.Done():
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				p.log.Warn().Err(err).Msg("Read error")
			}
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	err := p.cmd.Wait()

	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()

	if err != nil && !stopped {
		msg := strings.TrimSpace(p.stderr.String())
		if msg != "" {
			err = errors.Wrapf(err, "ffmpeg: %s", lastLine(msg))
		}
		p.waitErr = err
	}
	p.log.Debug().Int("bytes", total).Bool("stopped", stopped).Msg("FFmpeg exited")
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
