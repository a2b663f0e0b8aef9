package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/config"
	"github.com/quizline/quizline-backend/internal/metrics"
	"github.com/quizline/quizline-backend/internal/model"
	"github.com/quizline/quizline-backend/internal/pubsub"
	"github.com/quizline/quizline-backend/internal/quiz"
	"github.com/quizline/quizline-backend/internal/response"
	"github.com/quizline/quizline-backend/internal/store"
	"github.com/quizline/quizline-backend/internal/ws"
)

// Pipeline validates and records answer submissions. The checks run
// strictly in order: identity, session state, participant standing,
// question match, then dedupe. A duplicate from a banned participant
// therefore reports the ban, not the duplicate.
type Pipeline struct {
	st      store.SessionStore
	quizzes quiz.Store
	bus     pubsub.Bus
	met     *metrics.Registry
	log     zerolog.Logger
	now     func() time.Time
}

// NewPipeline creates the answer pipeline.
func NewPipeline(st store.SessionStore, quizzes quiz.Store, bus pubsub.Bus, met *metrics.Registry, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		st:      st,
		quizzes: quizzes,
		bus:     bus,
		met:     met,
		log:     log.With().Str("component", "answer_pipeline").Logger(),
		now:     time.Now,
	}
}

// Submit processes one submission and returns the recorded answer. A
// non-nil *AppError describes exactly why the answer was refused.
func (p *Pipeline) Submit(ctx context.Context, participantID string, req *ws.SubmitAnswerRequest) (*model.Answer, *response.AppError) {
	p.met.AnswerReceived()

	participant, err := p.st.GetParticipantSession(ctx, participantID)
	if err != nil {
		return nil, p.refuse(response.ErrParticipantNotFound, "unknown participant", err)
	}

	sess, err := p.st.GetSession(ctx, participant.SessionID)
	if err != nil {
		return nil, p.refuse(response.ErrSessionNotFound, "session gone", err)
	}
	if sess.State == model.SessionStateEnded {
		return nil, p.refuse(response.ErrSessionEnded, "", nil)
	}
	if sess.State != model.SessionStateActiveQuestion || sess.QuestionStartedAtMs == 0 {
		return nil, p.refuse(response.ErrWrongState, "no question accepting answers", nil)
	}

	if participant.IsBanned {
		return nil, p.refuse(response.ErrParticipantBanned, "", nil)
	}
	if participant.IsEliminated || participant.IsSpectator {
		return nil, p.refuse(response.ErrEliminated, "", nil)
	}

	qz, err := p.quizzes.GetQuiz(ctx, sess.QuizID)
	if err != nil {
		return nil, p.refuse(response.ErrInternal, "quiz definition unavailable", err)
	}
	current := qz.QuestionAt(sess.CurrentQuestionIndex)
	if current == nil || current.ID != req.QuestionID {
		return nil, p.refuse(response.ErrWrongState, "answer targets a non-current question", nil)
	}
	if appErr := validateSelection(current, req.SelectedOptionIDs); appErr != nil {
		p.met.AnswerRejected()
		return nil, appErr
	}

	ok, err := p.st.TryMarkAnswered(ctx, sess.ID, participantID, current.ID)
	if err != nil {
		return nil, p.refuse(response.ErrStorageUnavailable, "dedupe check failed", err)
	}
	if !ok {
		p.met.AnswerDuplicate()
		return nil, response.NewAppError(response.ErrDuplicateAnswer, nil)
	}

	now := p.now()
	responseTime := now.UnixMilli() - sess.QuestionStartedAtMs
	limitMs := int64(current.TimeLimitSec) * 1000
	if responseTime < 0 {
		responseTime = 0
	}
	if responseTime > limitMs {
		responseTime = limitMs
	}

	answerID, err := p.st.NextAnswerID(ctx, participantID)
	if err != nil {
		return nil, p.refuse(response.ErrStorageUnavailable, "allocate answer id", err)
	}

	answer := &model.Answer{
		ID:                answerID,
		SessionID:         sess.ID,
		ParticipantID:     participantID,
		QuestionID:        current.ID,
		SelectedOptionIDs: req.SelectedOptionIDs,
		SubmittedAt:       now.UTC(),
		ResponseTimeMs:    responseTime,
	}

	if err := p.st.AppendAnswer(ctx, answer); err != nil {
		return nil, p.refuse(response.ErrStorageUnavailable, "record answer", err)
	}
	if err := p.st.BufferAnswerForScoring(ctx, answer); err != nil {
		return nil, p.refuse(response.ErrStorageUnavailable, "buffer answer", err)
	}
	if err := p.bus.Publish(ctx, config.TopicKey.ScoringTopic(sess.ID), answer); err != nil {
		// The buffer still holds it; the finalize pass settles it at reveal.
		p.log.Warn().Err(err).Str("question_id", current.ID).Msg("publish to scoring topic failed")
	}

	return answer, nil
}

func (p *Pipeline) refuse(code response.ErrCode, details string, err error) *response.AppError {
	p.met.AnswerRejected()
	if err != nil {
		p.log.Debug().Err(err).Str("code", string(code)).Msg("submission refused")
	}
	appErr := response.NewAppError(code, err)
	if details != "" {
		appErr.WithDetails(details)
	}
	return appErr
}

// validateSelection checks option IDs against the question and the
// cardinality against the question type.
func validateSelection(q *model.Question, selected []string) *response.AppError {
	if len(selected) == 0 {
		return response.NewAppError(response.ErrInvalidPayload, nil).WithDetails("no options selected")
	}
	if q.Type != model.QuestionTypeMulti && len(selected) != 1 {
		return response.NewAppError(response.ErrInvalidPayload, nil).WithDetails("question accepts exactly one option")
	}

	valid := make(map[string]struct{}, len(q.Options))
	for _, opt := range q.Options {
		valid[opt.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		if _, ok := valid[id]; !ok {
			return response.NewAppError(response.ErrInvalidPayload, nil).WithDetails("unknown option %s", id)
		}
		if _, dup := seen[id]; dup {
			return response.NewAppError(response.ErrInvalidPayload, nil).WithDetails("option selected twice")
		}
		seen[id] = struct{}{}
	}
	return nil
}
