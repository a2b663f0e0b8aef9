// Package handler wires the HTTP and WebSocket surfaces to the session
// runtime.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/auth"
	"github.com/quizline/quizline-backend/internal/config"
	"github.com/quizline/quizline-backend/internal/middleware"
	"github.com/quizline/quizline-backend/internal/model"
	"github.com/quizline/quizline-backend/internal/pubsub"
	"github.com/quizline/quizline-backend/internal/response"
	"github.com/quizline/quizline-backend/internal/session"
	"github.com/quizline/quizline-backend/internal/store"
	"github.com/quizline/quizline-backend/internal/validator"
	"github.com/quizline/quizline-backend/internal/ws"
)

// SessionHandler serves the session lifecycle REST endpoints: create,
// join, results.
type SessionHandler struct {
	cfg     *config.Config
	manager *session.Manager
	st      store.SessionStore
	tokens  *auth.TokenService
	bus     pubsub.Bus
	log     zerolog.Logger
}

// NewSessionHandler creates the handler.
func NewSessionHandler(cfg *config.Config, manager *session.Manager, st store.SessionStore, tokens *auth.TokenService, bus pubsub.Bus, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		cfg:     cfg,
		manager: manager,
		st:      st,
		tokens:  tokens,
		bus:     bus,
		log:     log.With().Str("component", "session_handler").Logger(),
	}
}

type createSessionRequest struct {
	QuizID string `json:"quiz_id" binding:"required"`
}

// CreateSession godoc
// POST /api/v1/sessions
// Provisions a lobby for a quiz and returns the controller credential.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, response.ErrValidation, fields)
		return
	}

	sess, err := h.manager.CreateSession(c.Request.Context(), req.QuizID)
	if err != nil {
		response.Fail(c, response.AsAppError(err))
		return
	}

	ownerID := uuid.New().String()
	token, err := h.tokens.GenerateControllerToken(sess.ID, ownerID)
	if err != nil {
		response.Fail(c, response.AsAppError(err))
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"session_id":       sess.ID,
		"join_code":        sess.JoinCode,
		"state":            sess.State,
		"controller_token": token,
	})
}

type joinSessionRequest struct {
	JoinCode  string `json:"join_code" binding:"required,len=6"`
	Nickname  string `json:"nickname" binding:"required,nickname"`
	Spectator bool   `json:"spectator"`
}

// JoinSession godoc
// POST /api/v1/sessions/join
// Registers a nickname in a live session and returns the session token
// the client presents on its websocket and on every reconnect.
func (h *SessionHandler) JoinSession(c *gin.Context) {
	var req joinSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, response.ErrValidation, fields)
		return
	}
	if !validator.NicknameClean(req.Nickname, h.cfg.ProfanityList) {
		response.FailCode(c, response.ErrNicknameInvalid)
		return
	}

	ctx := c.Request.Context()
	sessionID, err := h.st.ResolveJoinCode(ctx, req.JoinCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.FailCode(c, response.ErrJoinCodeInvalid)
			return
		}
		response.Fail(c, response.AsAppError(err))
		return
	}

	sess, err := h.st.GetSession(ctx, sessionID)
	if err != nil {
		response.Fail(c, response.AsAppError(err))
		return
	}
	if sess.State == model.SessionStateEnded {
		response.FailCode(c, response.ErrSessionEnded)
		return
	}

	participantID := uuid.New().String()
	ok, err := h.st.ReserveNickname(ctx, sessionID, req.Nickname, participantID)
	if err != nil {
		response.Fail(c, response.AsAppError(err))
		return
	}
	if !ok {
		response.FailCode(c, response.ErrNicknameTaken)
		return
	}

	token, err := h.tokens.GenerateParticipantToken(sessionID, participantID)
	if err != nil {
		response.Fail(c, response.AsAppError(err))
		return
	}

	participant := &model.Participant{
		ID:           participantID,
		SessionID:    sessionID,
		Nickname:     req.Nickname,
		SessionToken: token,
		IsActive:     true,
		IsSpectator:  req.Spectator,
		JoinedAt:     time.Now().UTC(),
	}
	if err := h.st.PutParticipant(ctx, participant); err != nil {
		response.Fail(c, response.AsAppError(err))
		return
	}
	if !req.Spectator {
		if err := h.st.UpsertLeaderboard(ctx, sessionID, participantID, model.LeaderboardScore(0, 0)); err != nil {
			h.log.Error().Err(err).Msg("seed leaderboard entry")
		}
	}

	topic := config.TopicKey.SessionEventsTopic(sessionID)
	if err := h.bus.Publish(ctx, topic, ws.Envelope{
		Event: ws.EventParticipantJoined,
		Payload: gin.H{
			"participantId": participantID,
			"nickname":      req.Nickname,
			"spectator":     req.Spectator,
		},
	}); err != nil {
		h.log.Debug().Err(err).Msg("publish participant_joined")
	}

	h.log.Info().
		Str("session_id", sessionID).
		Str("participant_id", participantID).
		Str("nickname", req.Nickname).
		Msg("participant joined")

	response.Success(c, http.StatusCreated, gin.H{
		"participant_id": participantID,
		"nickname":       req.Nickname,
		"session_token":  token,
		"session": gin.H{
			"session_id":             sess.ID,
			"state":                  sess.State,
			"current_question_index": sess.CurrentQuestionIndex,
		},
	})
}

// Results godoc
// GET /api/v1/sessions/:session_id/results
// Returns the final standings of an ended session while its state is
// still in Redis.
func (h *SessionHandler) Results(c *gin.Context) {
	sessionID := c.Param("session_id")
	if _, err := uuid.Parse(sessionID); err != nil {
		response.FailCode(c, response.ErrInvalidID)
		return
	}

	claims := middleware.GetClaims(c)
	if claims == nil || claims.SessionID != sessionID {
		response.FailCode(c, response.ErrForbidden)
		return
	}

	ctx := c.Request.Context()
	sess, err := h.st.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.FailCode(c, response.ErrSessionNotFound)
			return
		}
		response.Fail(c, response.AsAppError(err))
		return
	}

	entries, err := h.st.GetLeaderboard(ctx, sessionID, 0)
	if err != nil {
		response.Fail(c, response.AsAppError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session_id":       sess.ID,
		"state":            sess.State,
		"stats_incomplete": sess.StatsIncomplete,
		"ended_at":         sess.EndedAt,
		"leaderboard":      entries,
	})
}
