package handler

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/auth"
	"github.com/quizline/quizline-backend/internal/metrics"
	"github.com/quizline/quizline-backend/internal/response"
	"github.com/quizline/quizline-backend/internal/session"
	"github.com/quizline/quizline-backend/internal/ws"
)

// ControllerHandler serves the controller and bigscreen websocket
// channels. Controller actions drive the session state machine; the
// bigscreen channel is receive-only.
type ControllerHandler struct {
	manager  *session.Manager
	tokens   *auth.TokenService
	registry *ws.Registry
	met      *metrics.Registry
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewControllerHandler creates the controller channel handler.
func NewControllerHandler(manager *session.Manager, tokens *auth.TokenService, registry *ws.Registry, met *metrics.Registry, log zerolog.Logger, allowedOrigins []string) *ControllerHandler {
	return &ControllerHandler{
		manager:  manager,
		tokens:   tokens,
		registry: registry,
		met:      met,
		log:      log.With().Str("component", "controller_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

func (h *ControllerHandler) authenticate(c *gin.Context) (*auth.Claims, bool) {
	token := c.Query("token")
	if token == "" {
		response.FailCode(c, response.ErrTokenRequired)
		return nil, false
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		response.FailCode(c, response.ErrTokenInvalid)
		return nil, false
	}
	if claims.TokenType != auth.TokenTypeController {
		response.FailCode(c, response.ErrControllerOnly)
		return nil, false
	}
	if claims.SessionID != c.Param("session_id") {
		response.FailCode(c, response.ErrForbidden)
		return nil, false
	}
	return claims, true
}

// ControlStream godoc
// WS /ws/v1/sessions/:session_id/control?token=...
// Connecting adopts the session onto this instance if no other
// instance holds its lease, which is how sessions survive a server
// crash mid-quiz.
func (h *ControllerHandler) ControlStream(c *gin.Context) {
	claims, ok := h.authenticate(c)
	if !ok {
		return
	}
	sessionID := claims.SessionID

	drv, err := h.manager.Acquire(c.Request.Context(), sessionID)
	if err != nil {
		if session.IsNotOwner(err) {
			response.FailCode(c, response.ErrStateConflict)
			return
		}
		response.Fail(c, response.AsAppError(err))
		return
	}

	conn, err2 := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err2 != nil {
		h.log.Error().Err(err2).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(conn, sessionID, claims.Subject, ws.RoleController, h.met, h.log)
	h.registry.Register(client)
	h.met.ConnectionOpened()
	go client.WritePump()

	client.Send(ws.EventAuthenticated, gin.H{
		"sessionId": sessionID,
		"role":      string(ws.RoleController),
	})

	wsLog := h.log.With().Str("session_id", sessionID).Logger()
	wsLog.Info().Msg("controller connected")

	client.ReadLoop(func(env *ws.RequestEnvelope, raw []byte) {
		h.dispatch(client, drv, env)
	})

	h.registry.Unregister(client)
	h.met.ConnectionClosed()
	wsLog.Info().Msg("controller disconnected")
}

func (h *ControllerHandler) dispatch(client *ws.Client, drv *session.Driver, env *ws.RequestEnvelope) {
	ctx := context.Background()

	var err error
	switch env.Action {
	case ws.ActionStartSession:
		err = drv.Start(ctx)
	case ws.ActionEndQuestion:
		err = drv.EndQuestion(ctx)
	case ws.ActionNextQuestion:
		err = drv.NextQuestion(ctx)
	case ws.ActionPause:
		err = drv.Pause(ctx)
	case ws.ActionResume:
		err = drv.Resume(ctx)
	case ws.ActionEndSession:
		err = h.manager.EndSession(ctx, drv.SessionID())
	case ws.ActionKick, ws.ActionBan:
		var req ws.TargetParticipantRequest
		if jsonErr := json.Unmarshal(env.Payload, &req); jsonErr != nil || req.ParticipantID == "" {
			client.Send(ws.EventError, ws.ErrorPayload{
				Code:    string(response.ErrInvalidPayload),
				Message: response.GetMessage(response.ErrInvalidPayload),
			})
			return
		}
		if env.Action == ws.ActionKick {
			err = drv.Kick(ctx, req.ParticipantID)
		} else {
			err = drv.Ban(ctx, req.ParticipantID)
		}
	default:
		client.Send(ws.EventError, ws.ErrorPayload{
			Code:    string(response.ErrInvalidPayload),
			Message: "unknown action: " + string(env.Action),
		})
		return
	}

	if err != nil {
		appErr := response.AsAppError(err)
		client.Send(ws.EventError, ws.ErrorPayload{
			Code:    string(appErr.Code),
			Message: appErr.Message(),
		})
	}
}

// BigscreenStream godoc
// WS /ws/v1/sessions/:session_id/bigscreen?token=...
// Receive-only channel for the shared room display.
func (h *ControllerHandler) BigscreenStream(c *gin.Context) {
	claims, ok := h.authenticate(c)
	if !ok {
		return
	}
	sessionID := claims.SessionID

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(conn, sessionID, claims.Subject, ws.RoleBigscreen, h.met, h.log)
	h.registry.Register(client)
	h.met.ConnectionOpened()
	go client.WritePump()

	client.Send(ws.EventAuthenticated, gin.H{
		"sessionId": sessionID,
		"role":      string(ws.RoleBigscreen),
	})

	client.ReadLoop(func(env *ws.RequestEnvelope, raw []byte) {
		// Bigscreens never send actions.
	})

	h.registry.Unregister(client)
	h.met.ConnectionClosed()
}
