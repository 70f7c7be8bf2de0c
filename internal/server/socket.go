package server

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultSocketPath = "/tmp/music-playground.sock"

const writeTimeout = 2 * time.Second

// SocketServer streams session audio to one local client over a unix
// socket. Each frame is a big-endian uint16 session id length, the session
// id, a uint32 payload length and the payload. Control goes through HTTP.
type SocketServer struct {
	socketPath string
	listener   net.Listener
	wg         sync.WaitGroup
	log        zerolog.Logger

	mu   sync.Mutex
	conn net.Conn
}

// NewSocketServer creates a new Unix socket server.
func NewSocketServer(socketPath string) *SocketServer {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return &SocketServer{
		socketPath: socketPath,
		log:        log.With().Str("component", "socket").Str("path", socketPath).Logger(),
	}
}

// Start listens and accepts clients until ctx is done or Stop is called.
func (s *SocketServer) Start(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.socketPath)
	}
	s.listener = ln
	context.AfterFunc(ctx, func() { ln.Close() })
	s.log.Info().Msg("Audio socket listening")

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

func (s *SocketServer) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("Accept failed")
			continue
		}

		s.log.Info().Msg("Audio client connected")
		s.setConnection(conn)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection holds the client until it disconnects or ctx is done.
// Clients never send data, so a read returning marks the disconnect.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			break
		}
	}

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()
	s.log.Info().Msg("Audio client disconnected")
}

// setConnection replaces the active client.
func (s *SocketServer) setConnection(conn net.Conn) {
	s.mu.Lock()
	prev := s.conn
	s.conn = conn
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// WriteFrame sends one audio chunk of sessionID. Frames are dropped while no
// client is connected.
func (s *SocketServer) WriteFrame(sessionID string, data []byte) error {
	if len(sessionID) > math.MaxUint16 {
		return errors.Newf("session id too long: %d bytes", len(sessionID))
	}

	frame := encodeFrame(sessionID, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := s.conn.Write(frame); err != nil {
		s.conn.Close()
		s.conn = nil
		return errors.Wrap(err, "write audio frame")
	}
	return nil
}

func encodeFrame(sessionID string, data []byte) []byte {
	frame := make([]byte, 2+len(sessionID)+4+len(data))
	binary.BigEndian.PutUint16(frame, uint16(len(sessionID)))
	n := 2 + copy(frame[2:], sessionID)
	binary.BigEndian.PutUint32(frame[n:], uint32(len(data)))
	copy(frame[n+4:], data)
	return frame
}

// Stop closes the listener and the client and waits for handlers.
func (s *SocketServer) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.setConnection(nil)
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	s.log.Info().Msg("Audio socket stopped")
}

// SocketPath returns the socket path.
func (s *SocketServer) SocketPath() string {
	return s.socketPath
}
