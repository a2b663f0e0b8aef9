package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/model"
)

// PostgresAnswerLog persists answer records for post-quiz analytics.
type PostgresAnswerLog struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPostgresAnswerLog creates the durable answer log.
func NewPostgresAnswerLog(pool *pgxpool.Pool, log zerolog.Logger) *PostgresAnswerLog {
	return &PostgresAnswerLog{
		pool: pool,
		log:  log.With().Str("component", "answer_log").Logger(),
	}
}

// BatchInsertAnswers bulk-inserts with UNNEST and skips rows that were
// already flushed, making retries after partial failure safe.
func (l *PostgresAnswerLog) BatchInsertAnswers(ctx context.Context, answers []*model.Answer) error {
	if len(answers) == 0 {
		return nil
	}

	n := len(answers)
	answerIDs := make([]int64, n)
	sessionIDs := make([]string, n)
	participantIDs := make([]string, n)
	questionIDs := make([]string, n)
	selected := make([]string, n)
	submittedAts := make([]time.Time, n)
	responseTimes := make([]int64, n)
	corrects := make([]bool, n)
	points := make([]int64, n)
	speedFlags := make([]bool, n)
	streakFlags := make([]bool, n)
	partialFlags := make([]bool, n)

	for i, a := range answers {
		answerIDs[i] = a.ID
		sessionIDs[i] = a.SessionID
		participantIDs[i] = a.ParticipantID
		questionIDs[i] = a.QuestionID
		selected[i] = joinOptionIDs(a.SelectedOptionIDs)
		submittedAts[i] = a.SubmittedAt
		responseTimes[i] = a.ResponseTimeMs
		corrects[i] = a.IsCorrect
		points[i] = a.PointsAwarded
		speedFlags[i] = a.SpeedBonusApplied
		streakFlags[i] = a.StreakBonusApplied
		partialFlags[i] = a.PartialCreditApplied
	}

	query := `
		INSERT INTO answers (
			answer_id, session_id, participant_id, question_id,
			selected_option_ids, submitted_at, response_time_ms,
			is_correct, points_awarded,
			speed_bonus_applied, streak_bonus_applied, partial_credit_applied
		)
		SELECT * FROM UNNEST(
			$1::bigint[], $2::text[], $3::text[], $4::text[],
			$5::text[], $6::timestamptz[], $7::bigint[],
			$8::bool[], $9::bigint[],
			$10::bool[], $11::bool[], $12::bool[]
		)
		ON CONFLICT (session_id, participant_id, answer_id) DO UPDATE
		SET is_correct = EXCLUDED.is_correct,
		    points_awarded = EXCLUDED.points_awarded,
		    speed_bonus_applied = EXCLUDED.speed_bonus_applied,
		    streak_bonus_applied = EXCLUDED.streak_bonus_applied,
		    partial_credit_applied = EXCLUDED.partial_credit_applied
	`

	_, err := l.pool.Exec(ctx, query,
		answerIDs, sessionIDs, participantIDs, questionIDs,
		selected, submittedAts, responseTimes,
		corrects, points,
		speedFlags, streakFlags, partialFlags,
	)
	return err
}

func joinOptionIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}
