// Package track defines the playable unit moved around by the scheduler.
package track

import "time"

// Requester identifies who asked for a track.
type Requester struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Track is supplied fully formed by a resolver. Core code only stores and
// moves pointers to it; use WithRequester to derive a modified copy.
type Track struct {
	Identifier string
	Title      string
	Author     string
	URI        string
	Length     time.Duration
	ArtworkURL string
	Source     string // platform name, e.g. "youtube"
	Requester  *Requester
}

// LengthMs returns the track duration in milliseconds.
func (t *Track) LengthMs() int64 {
	if t == nil {
		return 0
	}
	return t.Length.Milliseconds()
}

// WithRequester returns a copy of t carrying r.
func (t *Track) WithRequester(r *Requester) *Track {
	cp := *t
	if r != nil {
		req := *r
		cp.Requester = &req
	} else {
		cp.Requester = nil
	}
	return &cp
}

// SameAs reports whether both tracks point at the same media.
func (t *Track) SameAs(other *Track) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.Identifier == other.Identifier
}
