package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/config"
	"github.com/quizline/quizline-backend/internal/ingest"
	"github.com/quizline/quizline-backend/internal/metrics"
	"github.com/quizline/quizline-backend/internal/middleware"
	"github.com/quizline/quizline-backend/internal/pubsub"
	"github.com/quizline/quizline-backend/internal/recovery"
	"github.com/quizline/quizline-backend/internal/response"
	"github.com/quizline/quizline-backend/internal/store"
	"github.com/quizline/quizline-backend/internal/ws"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allow-list permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler serves the participant websocket channel.
type WSHandler struct {
	cfg      *config.Config
	recovery *recovery.Service
	pipeline *ingest.Pipeline
	registry *ws.Registry
	st       store.SessionStore
	bus      pubsub.Bus
	limiter  *middleware.RateLimiter
	met      *metrics.Registry
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates the participant channel handler.
func NewWSHandler(cfg *config.Config, rec *recovery.Service, pipeline *ingest.Pipeline, registry *ws.Registry, st store.SessionStore, bus pubsub.Bus, limiter *middleware.RateLimiter, met *metrics.Registry, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		cfg:      cfg,
		recovery: rec,
		pipeline: pipeline,
		registry: registry,
		st:       st,
		bus:      bus,
		limiter:  limiter,
		met:      met,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(cfg.AllowedOrigins),
	}
}

// ParticipantStream godoc
// WS /ws/v1/sessions/stream?token=...
// The participant's live channel. The session token doubles as the
// reconnection credential, so every connect runs the recovery path and
// the client always starts from a consistent snapshot.
func (h *WSHandler) ParticipantStream(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.FailCode(c, response.ErrTokenRequired)
		return
	}

	participant, state, appErr := h.recovery.Recover(c.Request.Context(), token)
	if appErr != nil {
		response.Fail(c, appErr)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(conn, participant.SessionID, participant.ID, ws.RoleParticipant, h.met, h.log)
	h.registry.Register(client)
	h.met.ConnectionOpened()
	go client.WritePump()

	// The hello frame advertises the server's heartbeat cadence and
	// reconnect budget.
	client.Send(ws.EventAuthenticated, gin.H{
		"participantId":        participant.ID,
		"nickname":             participant.Nickname,
		"heartbeatIntervalS":   int(h.cfg.HeartbeatInterval / time.Second),
		"maxReconnectAttempts": h.cfg.MaxReconnectAttempts,
	})
	client.Send(ws.EventSessionRecovered, state)

	wsLog := h.log.With().
		Str("session_id", participant.SessionID).
		Str("participant_id", participant.ID).
		Logger()
	wsLog.Info().Msg("participant connected")

	client.ReadLoop(func(env *ws.RequestEnvelope, raw []byte) {
		switch env.Action {
		case ws.ActionSubmitAnswer:
			h.handleSubmit(client, env.Payload)
		case ws.ActionHeartbeat:
			// Re-asserts presence; a stale inactive flag from a racing
			// disconnect heals on the next beat.
			if err := h.st.SetParticipantActive(context.Background(), client.ParticipantID, true); err != nil {
				wsLog.Debug().Err(err).Msg("refresh activity on heartbeat")
			}
			client.Send(ws.EventHeartbeatAck, gin.H{"serverTimeMs": time.Now().UnixMilli()})
		case ws.ActionReconnect:
			h.handleReconnect(client, env.Payload)
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("unknown action")
			client.Send(ws.EventError, ws.ErrorPayload{
				Code:    string(response.ErrInvalidPayload),
				Message: "unknown action: " + string(env.Action),
			})
		}
	})

	h.registry.Unregister(client)
	h.met.ConnectionClosed()
	h.limiter.Forget(participant.ID)

	ctx := context.Background()
	if err := h.st.SetParticipantActive(ctx, participant.ID, false); err != nil {
		wsLog.Debug().Err(err).Msg("mark inactive on disconnect")
	}
	topic := config.TopicKey.SessionEventsTopic(participant.SessionID)
	if err := h.bus.Publish(ctx, topic, ws.Envelope{
		Event:   ws.EventParticipantLeft,
		Payload: gin.H{"participantId": participant.ID},
	}); err != nil {
		wsLog.Debug().Err(err).Msg("publish participant_left")
	}
	wsLog.Info().Msg("participant disconnected")
}

func (h *WSHandler) handleSubmit(client *ws.Client, payload json.RawMessage) {
	if !h.limiter.Allow(client.ParticipantID) {
		retryAfter := int(h.limiter.RetryAfter(client.ParticipantID) / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		client.Send(ws.EventRateLimitExceeded, ws.RateLimitPayload{
			Code:          string(response.ErrRateLimitExceeded),
			Message:       response.GetMessage(response.ErrRateLimitExceeded),
			RetryAfterSec: retryAfter,
		})
		return
	}

	var req ws.SubmitAnswerRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.QuestionID == "" {
		client.Send(ws.EventAnswerRejected, ws.AnswerRejectedPayload{
			QuestionID: req.QuestionID,
			Code:       string(response.ErrInvalidPayload),
			Message:    response.GetMessage(response.ErrInvalidPayload),
		})
		return
	}

	answer, appErr := h.pipeline.Submit(context.Background(), client.ParticipantID, &req)
	if appErr != nil {
		client.Send(ws.EventAnswerRejected, ws.AnswerRejectedPayload{
			QuestionID: req.QuestionID,
			Code:       string(appErr.Code),
			Message:    appErr.Message(),
		})
		return
	}

	client.Send(ws.EventAnswerAccepted, ws.AnswerAcceptedPayload{
		AnswerID:       answer.ID,
		QuestionID:     answer.QuestionID,
		ResponseTimeMs: answer.ResponseTimeMs,
	})
}

func (h *WSHandler) handleReconnect(client *ws.Client, payload json.RawMessage) {
	var req ws.ReconnectRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.SessionToken == "" {
		client.Send(ws.EventRecoveryFailed, ws.ErrorPayload{
			Code:    string(response.ErrInvalidPayload),
			Message: response.GetMessage(response.ErrInvalidPayload),
		})
		return
	}

	_, state, appErr := h.recovery.Recover(context.Background(), req.SessionToken)
	if appErr != nil {
		client.Send(ws.EventRecoveryFailed, ws.ErrorPayload{
			Code:    string(appErr.Code),
			Message: appErr.Message(),
		})
		return
	}
	client.Send(ws.EventSessionRecovered, state)
}
