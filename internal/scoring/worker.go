package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/config"
	"github.com/quizline/quizline-backend/internal/metrics"
	"github.com/quizline/quizline-backend/internal/model"
	"github.com/quizline/quizline-backend/internal/pubsub"
	"github.com/quizline/quizline-backend/internal/quiz"
	"github.com/quizline/quizline-backend/internal/session"
	"github.com/quizline/quizline-backend/internal/store"
	"github.com/quizline/quizline-backend/internal/ws"
)

// Flusher queues scored answers for the durable batch writer.
type Flusher interface {
	Enqueue(a *model.Answer)
}

// Worker consumes submitted answers from the bus, grades them with the
// calculator and settles totals, streaks and the leaderboard. A scored
// marker per (participant, question) makes settlement idempotent, so
// replays after a crash or a finalize pass never double-count.
type Worker struct {
	st      store.SessionStore
	quizzes quiz.Store
	bus     pubsub.Bus
	flusher Flusher
	met     *metrics.Registry
	log     zerolog.Logger
}

// NewWorker creates the scoring worker.
func NewWorker(st store.SessionStore, quizzes quiz.Store, bus pubsub.Bus, flusher Flusher, met *metrics.Registry, log zerolog.Logger) *Worker {
	return &Worker{
		st:      st,
		quizzes: quizzes,
		bus:     bus,
		flusher: flusher,
		met:     met,
		log:     log.With().Str("component", "scoring_worker").Logger(),
	}
}

// Run consumes scoring topics until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.bus.PSubscribe(ctx, config.TopicKey.ScoringPattern())
	if err != nil {
		return err
	}
	defer sub.Close()

	w.log.Info().Msg("scoring worker started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			var a model.Answer
			if err := json.Unmarshal(msg.Payload, &a); err != nil {
				w.log.Error().Err(err).Msg("invalid answer payload")
				continue
			}
			if err := w.scoreAnswer(ctx, &a); err != nil {
				w.met.ScoringFailed()
				w.log.Error().Err(err).
					Str("participant_id", a.ParticipantID).
					Str("question_id", a.QuestionID).
					Msg("scoring failed")
				w.publishScoringFailed(ctx, &a)
			}
		}
	}
}

// scoreAnswer grades and settles one answer. Returns nil without
// effect when the answer was already settled.
func (w *Worker) scoreAnswer(ctx context.Context, a *model.Answer) error {
	if _, err := w.st.GetScoredMarker(ctx, a.ParticipantID, a.QuestionID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	sess, err := w.st.GetSession(ctx, a.SessionID)
	if err != nil {
		return err
	}
	qz, err := w.quizzes.GetQuiz(ctx, sess.QuizID)
	if err != nil {
		return err
	}
	q := qz.QuestionByID(a.QuestionID)
	if q == nil {
		return errors.New("scoring: unknown question " + a.QuestionID)
	}
	p, err := w.st.GetParticipantSession(ctx, a.ParticipantID)
	if err != nil {
		return err
	}

	res := Score(Input{
		Question:          q,
		Settings:          qz.EffectiveExamSettings(q),
		SelectedOptionIDs: a.SelectedOptionIDs,
		ResponseTimeMs:    a.ResponseTimeMs,
		TimeLimitMs:       int64(q.TimeLimitSec) * 1000,
		PrevStreak:        p.StreakCount,
	})

	newTotal := ClampTotal(p.TotalScore, res.Points)
	newTime := p.TotalTimeMs + a.ResponseTimeMs

	if err := w.st.UpdateParticipantScore(ctx, a.ParticipantID, newTotal, newTime, res.Points, res.NewStreak); err != nil {
		return err
	}
	if err := w.st.SetScoredMarker(ctx, a.ParticipantID, a.QuestionID, a.ID); err != nil {
		return err
	}
	if err := w.st.UpsertLeaderboard(ctx, a.SessionID, a.ParticipantID, model.LeaderboardScore(newTotal, newTime)); err != nil {
		return err
	}

	a.IsCorrect = res.IsCorrect
	a.PointsAwarded = res.Points
	a.SpeedBonusApplied = res.SpeedBonusApplied
	a.StreakBonusApplied = res.StreakBonusApplied
	a.PartialCreditApplied = res.PartialCreditApplied
	w.flusher.Enqueue(a)

	w.met.AnswerScored()
	w.met.ObserveScoringLatency(time.Since(a.SubmittedAt))

	rank, err := w.st.GetRank(ctx, a.SessionID, a.ParticipantID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		w.log.Debug().Err(err).Msg("read rank")
	}
	if err := w.bus.Publish(ctx, config.TopicKey.LeaderboardTopic(a.SessionID), map[string]any{
		"participantId": a.ParticipantID,
		"totalScore":    newTotal,
		"totalTimeMs":   newTime,
		"rank":          rank,
	}); err != nil {
		w.log.Debug().Err(err).Msg("publish leaderboard delta")
	}
	return nil
}

// publishScoringFailed tells the room that live standings may lag; the
// last good leaderboard snapshot stays authoritative until the next
// successful settle.
func (w *Worker) publishScoringFailed(ctx context.Context, a *model.Answer) {
	topic := config.TopicKey.SessionEventsTopic(a.SessionID)
	err := w.bus.Publish(ctx, topic, ws.Envelope{
		Event: ws.EventScoringFailed,
		Payload: map[string]any{
			"participantId": a.ParticipantID,
			"questionId":    a.QuestionID,
		},
	})
	if err != nil {
		w.log.Debug().Err(err).Msg("publish scoring_failed")
	}
}

// FinalizeQuestion drains the question's answer buffer, settles every
// answer the bus path has not yet covered, and aggregates the option
// counts for the reveal. Implements the driver's Finalizer.
func (w *Worker) FinalizeQuestion(ctx context.Context, sess *model.Session, q *model.Question) (*session.QuestionStats, error) {
	answers, err := w.st.DrainAnswerBuffer(ctx, sess.ID, q.ID)
	if err != nil {
		return nil, err
	}

	stats := &session.QuestionStats{
		QuestionID:   q.ID,
		OptionCounts: make(map[string]int, len(q.Options)),
	}
	for _, opt := range q.Options {
		stats.OptionCounts[opt.ID] = 0
	}

	var firstErr error
	for _, a := range answers {
		stats.TotalAnswers++
		for _, id := range a.SelectedOptionIDs {
			stats.OptionCounts[id]++
		}
		if err := w.scoreAnswer(ctx, a); err != nil {
			w.met.ScoringFailed()
			w.log.Error().Err(err).
				Str("participant_id", a.ParticipantID).
				Str("question_id", a.QuestionID).
				Msg("scoring failed during finalize")
			w.publishScoringFailed(ctx, a)
			if firstErr == nil {
				firstErr = err
			}
		}
		if ctx.Err() != nil && firstErr == nil {
			firstErr = ctx.Err()
		}
	}
	return stats, firstErr
}
