// Package recovery rebuilds a reconnecting participant's view of a
// live session from the store.
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/auth"
	"github.com/quizline/quizline-backend/internal/metrics"
	"github.com/quizline/quizline-backend/internal/model"
	"github.com/quizline/quizline-backend/internal/quiz"
	"github.com/quizline/quizline-backend/internal/response"
	"github.com/quizline/quizline-backend/internal/store"
)

// RecoveredState is the session_recovered payload: everything a client
// needs to render without replaying history. Recovery is idempotent, a
// client may run it any number of times.
type RecoveredState struct {
	SessionID            string                   `json:"sessionId"`
	SessionState         string                   `json:"sessionState"`
	CurrentQuestionIndex int                      `json:"currentQuestionIndex"`
	CurrentQuestion      *model.Question          `json:"currentQuestion,omitempty"`
	RemainingMs          int64                    `json:"remainingMs"`
	Paused               bool                     `json:"paused"`
	AnsweredCurrent      bool                     `json:"answeredCurrentQuestion"`
	TotalScore           int64                    `json:"totalScore"`
	LastQuestionScore    int64                    `json:"lastQuestionScore"`
	StreakCount          int                      `json:"streakCount"`
	Rank                 int                      `json:"rank"`
	IsEliminated         bool                     `json:"isEliminated"`
	IsSpectator          bool                     `json:"isSpectator"`
	Leaderboard          []model.LeaderboardEntry `json:"leaderboard"`
}

// Service validates reconnection credentials and assembles the
// recovered state.
type Service struct {
	st      store.SessionStore
	quizzes quiz.Store
	tokens  *auth.TokenService
	met     *metrics.Registry
	log     zerolog.Logger
	now     func() time.Time
}

// NewService creates the recovery service.
func NewService(st store.SessionStore, quizzes quiz.Store, tokens *auth.TokenService, met *metrics.Registry, log zerolog.Logger) *Service {
	return &Service{
		st:      st,
		quizzes: quizzes,
		tokens:  tokens,
		met:     met,
		log:     log.With().Str("component", "recovery").Logger(),
		now:     time.Now,
	}
}

// Recover validates the session token and rebuilds the participant's
// state. The checks are ordered so the client always learns the most
// specific reason a recovery cannot proceed.
func (s *Service) Recover(ctx context.Context, sessionToken string) (*model.Participant, *RecoveredState, *response.AppError) {
	claims, err := s.tokens.ValidateToken(sessionToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, nil, s.fail(response.ErrTokenExpired, err)
		}
		return nil, nil, s.fail(response.ErrTokenInvalid, err)
	}
	if claims.TokenType != auth.TokenTypeParticipant {
		return nil, nil, s.fail(response.ErrTokenInvalid, nil)
	}

	participant, err := s.st.GetParticipantSession(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Evicted after the idle TTL; the client must rejoin.
			return nil, nil, s.fail(response.ErrSessionExpired, nil)
		}
		return nil, nil, s.fail(response.ErrStorageUnavailable, err)
	}
	if participant.SessionID != claims.SessionID {
		return nil, nil, s.fail(response.ErrParticipantNotFound, nil)
	}
	if participant.SessionToken != sessionToken {
		// A newer join superseded this credential.
		return nil, nil, s.fail(response.ErrTokenInvalid, nil)
	}

	sess, err := s.st.GetSession(ctx, participant.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, s.fail(response.ErrSessionNotFound, nil)
		}
		return nil, nil, s.fail(response.ErrStorageUnavailable, err)
	}
	if participant.IsBanned {
		return nil, nil, s.fail(response.ErrParticipantBanned, nil)
	}
	if sess.State == model.SessionStateEnded {
		return nil, nil, s.fail(response.ErrSessionEnded, nil)
	}

	state, appErr := s.buildState(ctx, sess, participant)
	if appErr != nil {
		return nil, nil, appErr
	}

	if err := s.st.SetParticipantActive(ctx, participant.ID, true); err != nil {
		s.log.Error().Err(err).Str("participant_id", participant.ID).Msg("mark active after recovery")
	}

	s.met.RecoverySucceeded()
	s.log.Info().
		Str("participant_id", participant.ID).
		Str("session_id", sess.ID).
		Str("state", string(sess.State)).
		Msg("participant recovered")
	return participant, state, nil
}

func (s *Service) buildState(ctx context.Context, sess *model.Session, p *model.Participant) (*RecoveredState, *response.AppError) {
	state := &RecoveredState{
		SessionID:            sess.ID,
		SessionState:         string(sess.State),
		CurrentQuestionIndex: sess.CurrentQuestionIndex,
		TotalScore:           p.TotalScore,
		LastQuestionScore:    p.LastQuestionScore,
		StreakCount:          p.StreakCount,
		IsEliminated:         p.IsEliminated,
		IsSpectator:          p.IsSpectator,
		Paused:               sess.PausedRemainingMs > 0,
	}

	if sess.CurrentQuestionIndex >= 0 {
		qz, err := s.quizzes.GetQuiz(ctx, sess.QuizID)
		if err != nil {
			return nil, s.fail(response.ErrInternal, err)
		}
		q := qz.QuestionAt(sess.CurrentQuestionIndex)
		if q == nil {
			return nil, s.fail(response.ErrInternal, nil)
		}
		sanitized := q.Sanitized()
		state.CurrentQuestion = &sanitized

		if sess.State == model.SessionStateActiveQuestion {
			if sess.PausedRemainingMs > 0 {
				state.RemainingMs = sess.PausedRemainingMs
			} else {
				limit := time.Duration(q.TimeLimitSec) * time.Second
				state.RemainingMs = sess.RemainingTime(limit, s.now()).Milliseconds()
			}
			answered, err := s.st.HasAnswered(ctx, sess.ID, p.ID, q.ID)
			if err != nil {
				s.log.Debug().Err(err).Msg("check answered during recovery")
			}
			state.AnsweredCurrent = answered
		}
	}

	rank, err := s.st.GetRank(ctx, sess.ID, p.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Debug().Err(err).Msg("read rank during recovery")
	}
	state.Rank = rank

	leaderboard, err := s.st.GetLeaderboard(ctx, sess.ID, 10)
	if err != nil {
		s.log.Debug().Err(err).Msg("read leaderboard during recovery")
	}
	state.Leaderboard = leaderboard

	return state, nil
}

func (s *Service) fail(code response.ErrCode, cause error) *response.AppError {
	s.met.RecoveryFailed()
	s.log.Info().Str("code", string(code)).Msg("recovery refused")
	return response.NewAppError(code, cause)
}
