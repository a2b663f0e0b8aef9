// Package session implements the per-session state machine: the driver
// advances a session through LOBBY, ACTIVE_QUESTION, REVEAL and ENDED,
// owns its timers, and fans out lifecycle events over the bus.
package session

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/config"
	"github.com/quizline/quizline-backend/internal/metrics"
	"github.com/quizline/quizline-backend/internal/model"
	"github.com/quizline/quizline-backend/internal/pubsub"
	"github.com/quizline/quizline-backend/internal/response"
	"github.com/quizline/quizline-backend/internal/store"
	"github.com/quizline/quizline-backend/internal/ws"
)

// finalizeTimeout bounds how long the reveal transition waits on the
// scoring worker before proceeding with partial stats.
const finalizeTimeout = 3 * time.Second

// QuestionStats is the aggregate broadcast at reveal.
type QuestionStats struct {
	QuestionID   string         `json:"questionId"`
	TotalAnswers int            `json:"totalAnswers"`
	OptionCounts map[string]int `json:"optionCounts"`
}

// Finalizer settles all remaining buffered answers of a question so the
// reveal stats include every accepted submission.
type Finalizer interface {
	FinalizeQuestion(ctx context.Context, sess *model.Session, question *model.Question) (*QuestionStats, error)
}

// Driver owns one session's lifecycle. All transitions go through the
// store's CAS so a concurrent controller action or a racing instance
// loses cleanly instead of corrupting state.
type Driver struct {
	sessionID string
	quiz      *model.Quiz
	st        store.SessionStore
	bus       pubsub.Bus
	registry  *ws.Registry
	finalizer Finalizer
	met       *metrics.Registry
	log       zerolog.Logger
	now       func() time.Time

	mu          sync.Mutex
	timerCancel context.CancelFunc
	stopped     bool
}

// NewDriver creates a driver for one session.
func NewDriver(sessionID string, quiz *model.Quiz, st store.SessionStore, bus pubsub.Bus, registry *ws.Registry, finalizer Finalizer, met *metrics.Registry, log zerolog.Logger) *Driver {
	return &Driver{
		sessionID: sessionID,
		quiz:      quiz,
		st:        st,
		bus:       bus,
		registry:  registry,
		finalizer: finalizer,
		met:       met,
		log: log.With().
			Str("component", "session_driver").
			Str("session_id", sessionID).
			Logger(),
		now: time.Now,
	}
}

// SessionID returns the driven session's ID.
func (d *Driver) SessionID() string { return d.sessionID }

// Quiz returns the quiz definition the session runs.
func (d *Driver) Quiz() *model.Quiz { return d.quiz }

func (d *Driver) publish(ctx context.Context, event ws.Event, payload any) {
	topic := config.TopicKey.SessionEventsTopic(d.sessionID)
	if err := d.bus.Publish(ctx, topic, ws.Envelope{Event: event, Payload: payload}); err != nil {
		d.log.Error().Err(err).Str("event", string(event)).Msg("publish session event")
	}
}

// Start moves the session out of the lobby into its first question.
func (d *Driver) Start(ctx context.Context) error {
	if len(d.quiz.Questions) == 0 {
		return response.NewAppError(response.ErrValidation, nil).WithDetails("quiz has no questions")
	}
	d.publish(ctx, ws.EventSessionStarted, map[string]any{"sessionId": d.sessionID})
	return d.beginQuestion(ctx, model.SessionStateLobby, 0)
}

// NextQuestion moves REVEAL to the next ACTIVE_QUESTION, or ends the
// session when the quiz is exhausted.
func (d *Driver) NextQuestion(ctx context.Context) error {
	sess, err := d.st.GetSession(ctx, d.sessionID)
	if err != nil {
		return err
	}
	if sess.State != model.SessionStateReveal {
		return response.NewAppError(response.ErrStateConflict, nil).WithDetails("next_question outside REVEAL")
	}
	next := sess.CurrentQuestionIndex + 1
	if d.quiz.QuestionAt(next) == nil {
		return d.End(ctx)
	}
	return d.beginQuestion(ctx, model.SessionStateReveal, next)
}

func (d *Driver) beginQuestion(ctx context.Context, expected model.SessionState, idx int) error {
	q := d.quiz.QuestionAt(idx)
	if q == nil {
		return response.NewAppError(response.ErrInternal, nil).WithDetails("question index out of range")
	}

	startedAt := d.now()
	ok, err := d.st.CASSessionState(ctx, d.sessionID, expected, map[string]any{
		"state":                  string(model.SessionStateActiveQuestion),
		"current_question_index": strconv.Itoa(idx),
		"question_started_at_ms": strconv.FormatInt(startedAt.UnixMilli(), 10),
		"paused_remaining_ms":    "0",
		"stats_incomplete":       "false",
	})
	if err != nil {
		return err
	}
	if !ok {
		return response.NewAppError(response.ErrStateConflict, nil).WithDetails("session state advanced concurrently")
	}

	sanitized := q.Sanitized()
	d.publish(ctx, ws.EventQuestionStarted, ws.QuestionStartedPayload{
		QuestionIndex: idx,
		Question:      sanitized,
		TimeLimitSec:  q.TimeLimitSec,
		StartedAtMs:   startedAt.UnixMilli(),
		SessionState:  string(model.SessionStateActiveQuestion),
	})
	d.log.Info().Int("question_index", idx).Str("question_id", q.ID).Msg("question started")

	d.startTimer(q, time.Duration(q.TimeLimitSec)*time.Second)
	return nil
}

// startTimer runs the countdown: one tick per second, question end at
// the deadline. A new timer always replaces the previous one.
func (d *Driver) startTimer(q *model.Question, remaining time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timerCancel != nil {
		d.timerCancel()
	}
	if d.stopped {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.timerCancel = cancel
	deadline := d.now().Add(remaining)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		expire := time.NewTimer(remaining)
		defer expire.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				left := int(time.Until(deadline).Round(time.Second).Seconds())
				if left < 0 {
					left = 0
				}
				d.publish(ctx, ws.EventTimerTick, ws.TimerTickPayload{
					QuestionID:   q.ID,
					RemainingSec: left,
				})
			case <-expire.C:
				if err := d.EndQuestion(context.Background()); err != nil {
					d.log.Error().Err(err).Msg("timer-driven question end failed")
				}
				return
			}
		}
	}()
}

func (d *Driver) stopTimer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timerCancel != nil {
		d.timerCancel()
		d.timerCancel = nil
	}
}

// EndQuestion moves ACTIVE_QUESTION to REVEAL: the answer window
// closes, buffered answers are settled, correct options and aggregates
// go out, then the leaderboard.
func (d *Driver) EndQuestion(ctx context.Context) error {
	ok, err := d.st.CASSessionState(ctx, d.sessionID, model.SessionStateActiveQuestion, map[string]any{
		"state":                  string(model.SessionStateReveal),
		"question_started_at_ms": "0",
		"paused_remaining_ms":    "0",
	})
	if err != nil {
		return err
	}
	if !ok {
		// Timer and controller raced; the first transition won.
		return response.NewAppError(response.ErrStateConflict, nil).WithDetails("question already ended")
	}
	d.stopTimer()

	sess, err := d.st.GetSession(ctx, d.sessionID)
	if err != nil {
		return err
	}
	q := d.quiz.QuestionAt(sess.CurrentQuestionIndex)
	if q == nil {
		return response.NewAppError(response.ErrInternal, nil).WithDetails("question index out of range")
	}

	stats, statsIncomplete := d.finalize(ctx, sess, q)
	if statsIncomplete {
		if _, err := d.st.CASSessionState(ctx, d.sessionID, model.SessionStateReveal, map[string]any{
			"stats_incomplete": "true",
		}); err != nil {
			d.log.Error().Err(err).Msg("mark stats incomplete")
		}
	}

	correct := make([]string, 0, len(q.Options))
	for _, opt := range q.Options {
		if opt.IsCorrect {
			correct = append(correct, opt.ID)
		}
	}
	d.publish(ctx, ws.EventAnswerRevealed, map[string]any{
		"questionId":       q.ID,
		"correctOptionIds": correct,
		"stats":            stats,
		"statsIncomplete":  statsIncomplete,
	})

	d.broadcastLeaderboard(ctx, 10)

	if d.quiz.Type == model.QuizTypeElimination {
		if err := d.eliminateBottom(ctx); err != nil {
			d.log.Error().Err(err).Msg("elimination pass failed")
		}
	}

	d.log.Info().Str("question_id", q.ID).Bool("stats_incomplete", statsIncomplete).Msg("question ended")
	return nil
}

// finalize waits a bounded time for the scoring worker to settle the
// question. On timeout the reveal proceeds with whatever was scored.
func (d *Driver) finalize(ctx context.Context, sess *model.Session, q *model.Question) (*QuestionStats, bool) {
	fctx, cancel := context.WithTimeout(ctx, finalizeTimeout)
	defer cancel()

	stats, err := d.finalizer.FinalizeQuestion(fctx, sess, q)
	if err != nil {
		d.log.Warn().Err(err).Str("question_id", q.ID).Msg("finalize incomplete, revealing partial stats")
		if stats == nil {
			stats = &QuestionStats{QuestionID: q.ID, OptionCounts: map[string]int{}}
		}
		return stats, true
	}
	return stats, false
}

func (d *Driver) broadcastLeaderboard(ctx context.Context, topN int) {
	entries, err := d.st.GetLeaderboard(ctx, d.sessionID, topN)
	if err != nil {
		d.log.Error().Err(err).Msg("read leaderboard")
		return
	}
	d.publish(ctx, ws.EventLeaderboardUpdated, map[string]any{"entries": entries})
}

// eliminateBottom removes the configured bottom percentage of still
// standing participants after each reveal. At least one participant
// always survives.
func (d *Driver) eliminateBottom(ctx context.Context) error {
	pct := d.quiz.EliminationPercentage
	if pct <= 0 {
		return nil
	}

	participants, err := d.st.ListParticipants(ctx, d.sessionID)
	if err != nil {
		return err
	}
	standing := make([]*model.Participant, 0, len(participants))
	for _, p := range participants {
		if !p.IsEliminated && !p.IsSpectator && !p.IsBanned {
			standing = append(standing, p)
		}
	}
	cut := len(standing) * pct / 100
	if cut >= len(standing) {
		cut = len(standing) - 1
	}
	if cut <= 0 {
		return nil
	}

	sort.Slice(standing, func(i, j int) bool {
		si := model.LeaderboardScore(standing[i].TotalScore, standing[i].TotalTimeMs)
		sj := model.LeaderboardScore(standing[j].TotalScore, standing[j].TotalTimeMs)
		return si < sj
	})

	eliminated := make([]string, 0, cut)
	for _, p := range standing[:cut] {
		if err := d.st.SetParticipantEliminated(ctx, p.ID); err != nil {
			d.log.Error().Err(err).Str("participant_id", p.ID).Msg("mark eliminated")
			continue
		}
		eliminated = append(eliminated, p.ID)
	}
	if len(eliminated) > 0 {
		d.publish(ctx, ws.EventEliminated, map[string]any{"participantIds": eliminated})
	}
	return nil
}

// Pause freezes the current question's timer. Remaining time is stored
// so a different instance can resume after adoption.
func (d *Driver) Pause(ctx context.Context) error {
	sess, err := d.st.GetSession(ctx, d.sessionID)
	if err != nil {
		return err
	}
	if sess.State != model.SessionStateActiveQuestion || sess.QuestionStartedAtMs == 0 {
		return response.NewAppError(response.ErrStateConflict, nil).WithDetails("no running question to pause")
	}
	q := d.quiz.QuestionAt(sess.CurrentQuestionIndex)
	if q == nil {
		return response.NewAppError(response.ErrInternal, nil).WithDetails("question index out of range")
	}

	remaining := sess.RemainingTime(time.Duration(q.TimeLimitSec)*time.Second, d.now())
	ok, err := d.st.CASSessionState(ctx, d.sessionID, model.SessionStateActiveQuestion, map[string]any{
		"paused_remaining_ms":    strconv.FormatInt(remaining.Milliseconds(), 10),
		"question_started_at_ms": "0",
	})
	if err != nil {
		return err
	}
	if !ok {
		return response.NewAppError(response.ErrStateConflict, nil).WithDetails("question ended while pausing")
	}
	d.stopTimer()
	d.publish(ctx, ws.EventSessionPaused, map[string]any{
		"questionId":  q.ID,
		"remainingMs": remaining.Milliseconds(),
	})
	return nil
}

// Resume restarts a paused question with its stored remaining time.
func (d *Driver) Resume(ctx context.Context) error {
	sess, err := d.st.GetSession(ctx, d.sessionID)
	if err != nil {
		return err
	}
	if sess.State != model.SessionStateActiveQuestion || sess.PausedRemainingMs <= 0 {
		return response.NewAppError(response.ErrStateConflict, nil).WithDetails("session is not paused")
	}
	q := d.quiz.QuestionAt(sess.CurrentQuestionIndex)
	if q == nil {
		return response.NewAppError(response.ErrInternal, nil).WithDetails("question index out of range")
	}

	remaining := time.Duration(sess.PausedRemainingMs) * time.Millisecond
	limit := time.Duration(q.TimeLimitSec) * time.Second
	startedAt := d.now().Add(remaining - limit)

	ok, err := d.st.CASSessionState(ctx, d.sessionID, model.SessionStateActiveQuestion, map[string]any{
		"question_started_at_ms": strconv.FormatInt(startedAt.UnixMilli(), 10),
		"paused_remaining_ms":    "0",
	})
	if err != nil {
		return err
	}
	if !ok {
		return response.NewAppError(response.ErrStateConflict, nil).WithDetails("session changed while resuming")
	}
	d.publish(ctx, ws.EventSessionResumed, map[string]any{
		"questionId":  q.ID,
		"remainingMs": remaining.Milliseconds(),
	})
	d.startTimer(q, remaining)
	return nil
}

// End terminates the session from any live state. The final
// leaderboard goes out before the room's Redis keys get their eviction
// TTL armed.
func (d *Driver) End(ctx context.Context) error {
	d.stopTimer()

	endedAt := d.now().UTC().Format(time.RFC3339Nano)
	for attempt := 0; attempt < 3; attempt++ {
		sess, err := d.st.GetSession(ctx, d.sessionID)
		if err != nil {
			return err
		}
		if sess.State == model.SessionStateEnded {
			return nil
		}
		ok, err := d.st.CASSessionState(ctx, d.sessionID, sess.State, map[string]any{
			"state":                  string(model.SessionStateEnded),
			"question_started_at_ms": "0",
			"paused_remaining_ms":    "0",
			"ended_at":               endedAt,
		})
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		entries, err := d.st.GetLeaderboard(ctx, d.sessionID, 0)
		if err != nil {
			d.log.Error().Err(err).Msg("read final leaderboard")
		}
		d.publish(ctx, ws.EventSessionEnded, map[string]any{
			"sessionId":   d.sessionID,
			"leaderboard": entries,
		})

		if err := d.st.ReleaseJoinCode(ctx, sess.JoinCode); err != nil {
			d.log.Error().Err(err).Msg("release join code")
		}
		d.met.DecActiveSessions()
		d.log.Info().Msg("session ended")
		return nil
	}
	return response.NewAppError(response.ErrStateConflict, nil).WithDetails("session state kept changing during end")
}

// ResumeDriving restores timers after this instance adopts a session
// that was mid-question when its previous owner died.
func (d *Driver) ResumeDriving(ctx context.Context) error {
	sess, err := d.st.GetSession(ctx, d.sessionID)
	if err != nil {
		return err
	}
	if sess.State != model.SessionStateActiveQuestion {
		return nil
	}
	q := d.quiz.QuestionAt(sess.CurrentQuestionIndex)
	if q == nil {
		return response.NewAppError(response.ErrInternal, nil).WithDetails("question index out of range")
	}
	if sess.PausedRemainingMs > 0 {
		// Paused sessions wait for an explicit resume.
		return nil
	}
	remaining := sess.RemainingTime(time.Duration(q.TimeLimitSec)*time.Second, d.now())
	if remaining <= 0 {
		return d.EndQuestion(ctx)
	}
	d.log.Info().Dur("remaining", remaining).Msg("adopted mid-question, resuming timer")
	d.startTimer(q, remaining)
	return nil
}

// Kick disconnects a participant. They may rejoin with a new nickname.
func (d *Driver) Kick(ctx context.Context, participantID string) error {
	if err := d.st.SetParticipantActive(ctx, participantID, false); err != nil {
		return err
	}
	d.registry.SendTo(d.sessionID, participantID, ws.EventKicked, map[string]any{
		"participantId": participantID,
	})
	if c := d.registry.FindParticipant(d.sessionID, participantID); c != nil {
		c.Close()
	}
	d.publish(ctx, ws.EventParticipantLeft, map[string]any{"participantId": participantID})
	return nil
}

// Ban disconnects a participant permanently; recovery refuses banned
// participants.
func (d *Driver) Ban(ctx context.Context, participantID string) error {
	if err := d.st.SetParticipantBanned(ctx, participantID); err != nil {
		return err
	}
	d.registry.SendTo(d.sessionID, participantID, ws.EventBanned, map[string]any{
		"participantId": participantID,
	})
	if c := d.registry.FindParticipant(d.sessionID, participantID); c != nil {
		c.Close()
	}
	d.publish(ctx, ws.EventParticipantLeft, map[string]any{"participantId": participantID})
	return nil
}

// Stop halts all driving without touching session state, used when the
// ownership lease is lost to another instance.
func (d *Driver) Stop() {
	d.mu.Lock()
	d.stopped = true
	cancel := d.timerCancel
	d.timerCancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
