package scheduler

import (
	"strconv"
	"strings"

	"music-orchestrator/internal/track"
)

// TokenKind tells which partition a jump token addresses.
type TokenKind int

const (
	// TokenIdentifier is a bare identifier looked up across the whole list.
	TokenIdentifier TokenKind = iota
	// TokenCurrent is "c:<id>".
	TokenCurrent
	// TokenHistory is "h:<n>:<id>", n counting back from the most recent entry.
	TokenHistory
	// TokenQueue is "q:<n>:<id>", n counting forward from the next entry.
	TokenQueue
)

func (k TokenKind) String() string {
	switch k {
	case TokenCurrent:
		return "current"
	case TokenHistory:
		return "history"
	case TokenQueue:
		return "queue"
	}
	return "identifier"
}

// Token is a parsed jump address. Offset is only meaningful for history and
// queue tokens.
type Token struct {
	Kind   TokenKind
	Offset int
	ID     string
}

// ParseToken parses a jump token. Malformed prefixed tokens fall back to a
// bare identifier lookup of the whole string.
func ParseToken(raw string) Token {
	bare := Token{Kind: TokenIdentifier, ID: raw}

	switch {
	case strings.HasPrefix(raw, "c:"):
		return Token{Kind: TokenCurrent, ID: raw[2:]}
	case strings.HasPrefix(raw, "h:"), strings.HasPrefix(raw, "q:"):
		parts := strings.SplitN(raw[2:], ":", 2)
		if len(parts) != 2 {
			return bare
		}
		n, err := strconv.Atoi(parts[0])
		if err != nil || n < 0 {
			return bare
		}
		kind := TokenQueue
		if raw[0] == 'h' {
			kind = TokenHistory
		}
		return Token{Kind: kind, Offset: n, ID: parts[1]}
	}
	return bare
}

// String renders the token in the form ParseToken accepts.
func (t Token) String() string {
	switch t.Kind {
	case TokenCurrent:
		return "c:" + t.ID
	case TokenHistory:
		return "h:" + strconv.Itoa(t.Offset) + ":" + t.ID
	case TokenQueue:
		return "q:" + strconv.Itoa(t.Offset) + ":" + t.ID
	}
	return t.ID
}

// JumpOption is one selectable entry of a jump menu.
type JumpOption struct {
	Token string
	Kind  TokenKind
	Track *track.Track
}

// Default limits for JumpOptions.
const (
	DefaultMaxHistoryOptions = 10
	DefaultMaxQueueOptions   = 14
)

// JumpOptions lists the most recent history entries (newest first), the
// current track and the next queue entries, each with a token that
// JumpToToken resolves back to the same track. Negative limits count as 0.
func (s *Scheduler) JumpOptions(maxHistory, maxQueue int) []JumpOption {
	maxHistory, maxQueue = max(maxHistory, 0), max(maxQueue, 0)
	v := s.Snapshot()

	opts := make([]JumpOption, 0, maxHistory+1+maxQueue)
	for n := 0; n < maxHistory && n < len(v.History); n++ {
		t := v.History[len(v.History)-1-n]
		opts = append(opts, JumpOption{
			Token: Token{Kind: TokenHistory, Offset: n, ID: t.Identifier}.String(),
			Kind:  TokenHistory,
			Track: t,
		})
	}
	if v.Current != nil {
		opts = append(opts, JumpOption{
			Token: Token{Kind: TokenCurrent, ID: v.Current.Identifier}.String(),
			Kind:  TokenCurrent,
			Track: v.Current,
		})
	}
	for n := 0; n < maxQueue && n < len(v.Queue); n++ {
		t := v.Queue[n]
		opts = append(opts, JumpOption{
			Token: Token{Kind: TokenQueue, Offset: n, ID: t.Identifier}.String(),
			Kind:  TokenQueue,
			Track: t,
		})
	}
	return opts
}
