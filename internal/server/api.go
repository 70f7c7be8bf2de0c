package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"music-orchestrator/internal/history"
	"music-orchestrator/internal/orchestrator"
	"music-orchestrator/internal/platform"
	"music-orchestrator/internal/player"
	"music-orchestrator/internal/state"
	"music-orchestrator/internal/track"
)

// HistoryReader returns recent plays of a session.
type HistoryReader interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]history.PlayRecord, error)
}

// API handles HTTP control endpoints.
type API struct {
	orch    *orchestrator.Orchestrator
	states  *state.Store
	history HistoryReader
	log     zerolog.Logger
}

// NewAPI creates the handlers. history may be nil when recording is off.
func NewAPI(orch *orchestrator.Orchestrator, states *state.Store, history HistoryReader) *API {
	return &API{
		orch:    orch,
		states:  states,
		history: history,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Play resolves the query and plays or queues it.
func (a *API) Play(c *gin.Context) {
	a.play(c, a.orch.Play)
}

// PlayNow resolves the query and plays it right away.
func (a *API) PlayNow(c *gin.Context) {
	a.play(c, a.orch.PlayNow)
}

type playFunc func(context.Context, string, string, *track.Requester) (orchestrator.Result, error)

func (a *API) play(c *gin.Context, fn playFunc) {
	sessionID := c.Param("id")

	var req PlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, CommandResponse{
			Status:    "error",
			SessionID: sessionID,
			Message:   "invalid request: " + err.Error(),
		})
		return
	}

	a.log.Debug().Str("session", sessionID).Str("query", req.Query).Msg("Play request")
	res, err := fn(c.Request.Context(), sessionID, req.Query, req.Requester.toTrack())
	a.respond(c, sessionID, res, err)
}

func (a *API) Skip(c *gin.Context)     { a.command(c, a.orch.Skip) }
func (a *API) Previous(c *gin.Context) { a.command(c, a.orch.Previous) }
func (a *API) Pause(c *gin.Context)    { a.command(c, a.orch.Pause) }
func (a *API) Resume(c *gin.Context)   { a.command(c, a.orch.Resume) }
func (a *API) Stop(c *gin.Context)     { a.command(c, a.orch.Stop) }
func (a *API) Shuffle(c *gin.Context)  { a.command(c, a.orch.Shuffle) }
func (a *API) Repeat(c *gin.Context)   { a.command(c, a.orch.ToggleRepeat) }
func (a *API) Clear(c *gin.Context)    { a.command(c, a.orch.ClearQueue) }

func (a *API) command(c *gin.Context, fn func(context.Context, string) (orchestrator.Result, error)) {
	sessionID := c.Param("id")
	res, err := fn(c.Request.Context(), sessionID)
	a.respond(c, sessionID, res, err)
}

// Leave destroys the session.
func (a *API) Leave(c *gin.Context) {
	sessionID := c.Param("id")
	if err := a.orch.Leave(c.Request.Context(), sessionID); err != nil {
		c.JSON(statusFor(err), CommandResponse{Status: "error", SessionID: sessionID, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, CommandResponse{Status: "left", SessionID: sessionID})
}

// Jump starts the track addressed by a jump token.
func (a *API) Jump(c *gin.Context) {
	sessionID := c.Param("id")

	var req JumpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, CommandResponse{
			Status:    "error",
			SessionID: sessionID,
			Message:   "invalid request: " + err.Error(),
		})
		return
	}

	res, err := a.orch.JumpToTrack(c.Request.Context(), sessionID, req.Token)
	a.respond(c, sessionID, res, err)
}

// Volume sets the session volume.
func (a *API) Volume(c *gin.Context) {
	sessionID := c.Param("id")

	var req VolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, CommandResponse{
			Status:    "error",
			SessionID: sessionID,
			Message:   "invalid request: " + err.Error(),
		})
		return
	}

	res, err := a.orch.SetVolume(c.Request.Context(), sessionID, *req.Volume)
	a.respond(c, sessionID, res, err)
}

// Status returns the latest UI state of a session.
func (a *API) Status(c *gin.Context) {
	sessionID := c.Param("id")
	ui, err := a.orch.Status(sessionID)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{SessionID: sessionID, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, newStatus(ui))
}

// Position returns the playback position of a session.
func (a *API) Position(c *gin.Context) {
	sessionID := c.Param("id")
	pos, err := a.orch.Position(sessionID)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{SessionID: sessionID, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, newPosition(pos))
}

// JumpOptions lists the jump targets of a session.
func (a *API) JumpOptions(c *gin.Context) {
	sessionID := c.Param("id")
	opts, err := a.orch.JumpOptions(sessionID)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{SessionID: sessionID, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, newJumpOptions(opts))
}

// History returns recently played tracks of a session.
func (a *API) History(c *gin.Context) {
	sessionID := c.Param("id")
	if a.history == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{SessionID: sessionID, Error: "history is disabled"})
		return
	}

	limit := 20
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 200 {
			c.JSON(http.StatusBadRequest, ErrorResponse{SessionID: sessionID, Error: "limit must be between 1 and 200"})
			return
		}
		limit = n
	}

	recs, err := a.history.Recent(c.Request.Context(), sessionID, limit)
	if err != nil {
		a.log.Error().Err(err).Str("session", sessionID).Msg("History query failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{SessionID: sessionID, Error: "history query failed"})
		return
	}
	c.JSON(http.StatusOK, newPlayRecords(recs))
}

// Events streams UI state updates as server-sent events. The optional
// session query parameter limits the stream to one session.
func (a *API) Events(c *gin.Context) {
	sub := a.states.Subscribe(c.Query("session"))
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		ui, err := sub.Next(ctx)
		if err != nil {
			return
		}
		c.SSEvent("state", newStatus(ui))
		c.Writer.Flush()
	}
}

func (a *API) respond(c *gin.Context, sessionID string, res orchestrator.Result, err error) {
	if res.SessionID == "" {
		res.SessionID = sessionID
	}
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			a.log.Warn().Err(err).Str("session", sessionID).Msg("Command failed")
		}
		resp := newCommandResponse("error", res)
		resp.Message = err.Error()
		c.JSON(code, resp)
		return
	}
	c.JSON(http.StatusOK, newCommandResponse("ok", res))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, platform.ErrNoResults), errors.Is(err, platform.ErrNoSource):
		return http.StatusUnprocessableEntity
	case errors.Is(err, player.ErrBackend):
		return http.StatusBadGateway
	case errors.Is(err, player.ErrClosed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
