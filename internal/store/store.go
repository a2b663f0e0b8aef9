// Package store implements the Redis-backed session store: session,
// participant and answer records plus the leaderboard sorted set.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/quizline/quizline-backend/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// SessionStore is the coordination surface shared by the driver, the
// ingest pipeline, the scoring worker and the recovery service.
// Implementations must make every method safe for concurrent callers.
type SessionStore interface {
	// ─── Sessions ──────────────────────────────────────────────────────
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	PutSession(ctx context.Context, s *model.Session) error
	// CASSessionState atomically applies updates iff the stored state
	// equals expected. A false return means a racing driver advanced the
	// state first; the caller must reread and decide.
	CASSessionState(ctx context.Context, sessionID string, expected model.SessionState, updates map[string]any) (bool, error)
	// EvictSession removes every Redis key belonging to a session.
	EvictSession(ctx context.Context, sessionID string, participantIDs []string) error
	// ExpireSession arms TTLs on the session's keys.
	ExpireSession(ctx context.Context, sessionID string, ttl time.Duration) error

	// ─── Join codes ────────────────────────────────────────────────────
	ReserveJoinCode(ctx context.Context, code, sessionID string) (bool, error)
	ResolveJoinCode(ctx context.Context, code string) (string, error)
	ReleaseJoinCode(ctx context.Context, code string) error

	// ─── Participants ──────────────────────────────────────────────────
	PutParticipant(ctx context.Context, p *model.Participant) error
	GetParticipantSession(ctx context.Context, participantID string) (*model.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]*model.Participant, error)
	// ReserveNickname claims a case-insensitive nickname within a
	// session. False means it is already taken.
	ReserveNickname(ctx context.Context, sessionID, nickname, participantID string) (bool, error)
	SetParticipantActive(ctx context.Context, participantID string, active bool) error
	SetParticipantEliminated(ctx context.Context, participantID string) error
	SetParticipantBanned(ctx context.Context, participantID string) error
	// UpdateParticipantScore is a single atomic write of all score
	// fields. Only the scoring worker may call it.
	UpdateParticipantScore(ctx context.Context, participantID string, totalScore, totalTimeMs, lastQuestionScore int64, streakCount int) error

	// ─── Leaderboard ───────────────────────────────────────────────────
	UpsertLeaderboard(ctx context.Context, sessionID, participantID string, score float64) error
	GetLeaderboard(ctx context.Context, sessionID string, topN int) ([]model.LeaderboardEntry, error)
	// GetRank returns the participant's 1-based rank, ErrNotFound when
	// the participant has no leaderboard entry yet.
	GetRank(ctx context.Context, sessionID, participantID string) (int, error)

	// ─── Answers ───────────────────────────────────────────────────────
	// NextAnswerID increments the participant's monotonic answer counter.
	NextAnswerID(ctx context.Context, participantID string) (int64, error)
	// TryMarkAnswered enforces at-most-once per (participant, question).
	TryMarkAnswered(ctx context.Context, sessionID, participantID, questionID string) (bool, error)
	// HasAnswered reads the dedupe marker without claiming it.
	HasAnswered(ctx context.Context, sessionID, participantID, questionID string) (bool, error)
	AppendAnswer(ctx context.Context, a *model.Answer) error
	BufferAnswerForScoring(ctx context.Context, a *model.Answer) error
	DrainAnswerBuffer(ctx context.Context, sessionID, questionID string) ([]*model.Answer, error)

	// ─── Scoring idempotence markers ───────────────────────────────────
	GetScoredMarker(ctx context.Context, participantID, questionID string) (int64, error)
	SetScoredMarker(ctx context.Context, participantID, questionID string, answerID int64) error
}

// AnswerLog is the durable answer store used for post-quiz analytics.
// BatchInsertAnswers is idempotent on (session, participant, answer) id.
type AnswerLog interface {
	BatchInsertAnswers(ctx context.Context, answers []*model.Answer) error
}
