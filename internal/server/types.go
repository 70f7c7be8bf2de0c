// Package server exposes the orchestrator over HTTP and streams session
// audio to a local client over a unix socket.
package server

import (
	"time"

	"music-orchestrator/internal/history"
	"music-orchestrator/internal/orchestrator"
	"music-orchestrator/internal/scheduler"
	"music-orchestrator/internal/state"
	"music-orchestrator/internal/track"
)

// Requester identifies who asked for a track.
type Requester struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// PlayRequest is the request body for play and play-now.
type PlayRequest struct {
	Query     string     `json:"query" binding:"required"`
	Requester *Requester `json:"requester,omitempty"`
}

// JumpRequest is the request body for jump.
type JumpRequest struct {
	Token string `json:"token" binding:"required"`
}

// VolumeRequest is the request body for volume.
type VolumeRequest struct {
	Volume *int `json:"volume" binding:"required"`
}

// Track is the wire form of a track.
type Track struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Author     string     `json:"author,omitempty"`
	URI        string     `json:"uri,omitempty"`
	LengthMs   int64      `json:"length_ms"`
	ArtworkURL string     `json:"artwork_url,omitempty"`
	Source     string     `json:"source,omitempty"`
	Requester  *Requester `json:"requester,omitempty"`
}

// CommandResponse answers every command.
type CommandResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Outcome   string `json:"outcome,omitempty"`
	Track     *Track `json:"track,omitempty"`
	Message   string `json:"message,omitempty"`
}

// StatusResponse is the UI state of a session.
type StatusResponse struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Volume    int       `json:"volume"`
	Repeat    bool      `json:"repeat"`
	Current   *Track    `json:"current,omitempty"`
	Queue     []Track   `json:"queue"`
	History   []Track   `json:"history"`
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PositionResponse is the playback position of a session.
type PositionResponse struct {
	SessionID  string    `json:"session_id"`
	PositionMs int64     `json:"position_ms"`
	LengthMs   int64     `json:"length_ms"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// JumpOption is one entry of the jump menu.
type JumpOption struct {
	Token string `json:"token"`
	Kind  string `json:"kind"`
	Track Track  `json:"track"`
}

// PlayRecord is one entry of the play history.
type PlayRecord struct {
	TrackID     string    `json:"track_id"`
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	URI         string    `json:"uri,omitempty"`
	RequesterID string    `json:"requester_id,omitempty"`
	PlayedAt    time.Time `json:"played_at"`
}

// ErrorResponse is returned by read endpoints on failure.
type ErrorResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error"`
}

func (r *Requester) toTrack() *track.Requester {
	if r == nil {
		return nil
	}
	return &track.Requester{UserID: r.UserID, DisplayName: r.DisplayName, AvatarURL: r.AvatarURL}
}

func newTrack(t *track.Track) *Track {
	if t == nil {
		return nil
	}
	out := &Track{
		ID:         t.Identifier,
		Title:      t.Title,
		Author:     t.Author,
		URI:        t.URI,
		LengthMs:   t.LengthMs(),
		ArtworkURL: t.ArtworkURL,
		Source:     t.Source,
	}
	if r := t.Requester; r != nil {
		out.Requester = &Requester{UserID: r.UserID, DisplayName: r.DisplayName, AvatarURL: r.AvatarURL}
	}
	return out
}

func newTracks(ts []*track.Track) []Track {
	out := make([]Track, 0, len(ts))
	for _, t := range ts {
		out = append(out, *newTrack(t))
	}
	return out
}

func newStatus(ui state.UIState) StatusResponse {
	return StatusResponse{
		SessionID: ui.SessionID,
		State:     ui.State.String(),
		Volume:    ui.Volume,
		Repeat:    ui.Repeat,
		Current:   newTrack(ui.Current),
		Queue:     newTracks(ui.Queue),
		History:   newTracks(ui.History),
		Seq:       ui.Seq,
		UpdatedAt: ui.UpdatedAt,
	}
}

func newPosition(p state.Position) PositionResponse {
	return PositionResponse{
		SessionID:  p.SessionID,
		PositionMs: p.PositionMs,
		LengthMs:   p.LengthMs,
		UpdatedAt:  p.UpdatedAt,
	}
}

func newJumpOptions(opts []scheduler.JumpOption) []JumpOption {
	out := make([]JumpOption, 0, len(opts))
	for _, o := range opts {
		out = append(out, JumpOption{Token: o.Token, Kind: o.Kind.String(), Track: *newTrack(o.Track)})
	}
	return out
}

func newPlayRecords(recs []history.PlayRecord) []PlayRecord {
	out := make([]PlayRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, PlayRecord{
			TrackID:     r.TrackID,
			Title:       r.Title,
			Author:      r.Author,
			URI:         r.URI,
			RequesterID: r.RequesterID,
			PlayedAt:    r.PlayedAt,
		})
	}
	return out
}

func newCommandResponse(status string, r orchestrator.Result) CommandResponse {
	return CommandResponse{
		Status:    status,
		SessionID: r.SessionID,
		Outcome:   r.Outcome.String(),
		Track:     newTrack(r.Track),
	}
}
