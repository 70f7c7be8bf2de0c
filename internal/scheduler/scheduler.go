// Package scheduler keeps the queue and history of a single session.
//
// Tracks live in one ordered list with a cursor pointing at the current
// track. Everything before the cursor is history, everything after it is the
// queue. The cursor always satisfies -1 <= cursor < len(list).
package scheduler

import (
	"math/rand/v2"
	"sync"

	"github.com/cockroachdb/errors"

	"music-orchestrator/internal/track"
)

// ErrNotFound is returned when a jump target does not exist.
var ErrNotFound = errors.New("track not found")

// Scheduler is safe for concurrent use.
type Scheduler struct {
	mu     sync.Mutex
	tracks []*track.Track
	cursor int
}

// New returns an empty scheduler.
func New() *Scheduler {
	return &Scheduler{cursor: -1}
}

// Enqueue appends t to the end of the list.
func (s *Scheduler) Enqueue(t *track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(t)
}

func (s *Scheduler) enqueueLocked(t *track.Track) {
	s.tracks = append(s.tracks, t)
	if s.cursor == -1 {
		s.cursor = 0
	}
}

// Push inserts t right after the current track so it plays next.
func (s *Scheduler) Push(t *track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor == -1 {
		s.enqueueLocked(t)
		return
	}

	at := s.cursor + 1
	s.tracks = append(s.tracks, nil)
	copy(s.tracks[at+1:], s.tracks[at:])
	s.tracks[at] = t
}

// Next moves to the following track. The cursor stays put at the end of the
// list and the second return value is false.
func (s *Scheduler) Next() (*track.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor+1 >= len(s.tracks) {
		return nil, false
	}
	s.cursor++
	return s.tracks[s.cursor], true
}

// Previous moves back one track, never before the first one.
func (s *Scheduler) Previous() (*track.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor <= 0 {
		return nil, false
	}
	s.cursor--
	return s.tracks[s.cursor], true
}

// HasNext reports whether Next would succeed.
func (s *Scheduler) HasNext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor+1 < len(s.tracks)
}

// Current returns the track under the cursor.
func (s *Scheduler) Current() (*track.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Scheduler) currentLocked() (*track.Track, bool) {
	if s.cursor < 0 || s.cursor >= len(s.tracks) {
		return nil, false
	}
	return s.tracks[s.cursor], true
}

// JumpToIndex moves the cursor to the absolute position i.
func (s *Scheduler) JumpToIndex(i int) (*track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jumpLocked(i)
}

func (s *Scheduler) jumpLocked(i int) (*track.Track, error) {
	if i < 0 || i >= len(s.tracks) {
		return nil, errors.Wrapf(ErrNotFound, "index %d out of range [0,%d)", i, len(s.tracks))
	}
	s.cursor = i
	return s.tracks[i], nil
}

// JumpToIdentifier moves to the first track whose identifier matches id.
func (s *Scheduler) JumpToIdentifier(id string) (*track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jumpToIdentifierLocked(id)
}

func (s *Scheduler) jumpToIdentifierLocked(id string) (*track.Track, error) {
	for i, t := range s.tracks {
		if t.Identifier == id {
			return s.jumpLocked(i)
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "identifier %q", id)
}

// JumpToToken resolves a prefixed token (see ParseToken) and jumps to it.
//
// When the relative position no longer holds the expected identifier, for
// example because the queue changed after the options were rendered, the
// identifier alone is used to find the track.
func (s *Scheduler) JumpToToken(raw string) (*track.Track, error) {
	tok := ParseToken(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	var abs int
	switch tok.Kind {
	case TokenCurrent:
		abs = s.cursor
	case TokenHistory:
		abs = s.cursor - 1 - tok.Offset
	case TokenQueue:
		abs = s.cursor + 1 + tok.Offset
	default:
		return s.jumpToIdentifierLocked(tok.ID)
	}

	if abs >= 0 && abs < len(s.tracks) && s.tracks[abs].Identifier == tok.ID {
		return s.jumpLocked(abs)
	}
	return s.jumpToIdentifierLocked(tok.ID)
}

// Queue returns a copy of the upcoming tracks.
func (s *Scheduler) Queue() []*track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueLocked()
}

func (s *Scheduler) queueLocked() []*track.Track {
	if s.cursor+1 >= len(s.tracks) {
		return []*track.Track{}
	}
	return append([]*track.Track(nil), s.tracks[s.cursor+1:]...)
}

// History returns a copy of the played tracks, oldest first.
func (s *Scheduler) History() []*track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked()
}

func (s *Scheduler) historyLocked() []*track.Track {
	if s.cursor <= 0 {
		return []*track.Track{}
	}
	return append([]*track.Track(nil), s.tracks[:s.cursor]...)
}

// View is a consistent copy of all three partitions.
type View struct {
	History []*track.Track
	Current *track.Track
	Queue   []*track.Track
}

// Snapshot returns history, current and queue taken under one lock.
func (s *Scheduler) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, _ := s.currentLocked()
	return View{
		History: s.historyLocked(),
		Current: cur,
		Queue:   s.queueLocked(),
	}
}

// Shuffle randomizes the queue. History and the current track keep their
// positions.
func (s *Scheduler) Shuffle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.tracks[s.cursor+1:]
	rand.Shuffle(len(q), func(i, j int) {
		q[i], q[j] = q[j], q[i]
	})
}

// ClearQueue drops every upcoming track and returns how many were removed.
func (s *Scheduler) ClearQueue() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.tracks) - (s.cursor + 1)
	if n <= 0 {
		return 0
	}
	clear(s.tracks[s.cursor+1:])
	s.tracks = s.tracks[:s.cursor+1]
	return n
}

// ClearAll empties the scheduler.
func (s *Scheduler) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = nil
	s.cursor = -1
}

// Len returns the total number of tracks across all partitions.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracks)
}

// IsEmpty reports whether the scheduler holds no tracks.
func (s *Scheduler) IsEmpty() bool {
	return s.Len() == 0
}

// Cursor returns the absolute index of the current track, -1 when none.
func (s *Scheduler) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
