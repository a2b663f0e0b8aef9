package model

import (
	"strconv"
	"time"
)

// SessionState is the lifecycle state of a live session.
type SessionState string

const (
	SessionStateLobby          SessionState = "LOBBY"
	SessionStateActiveQuestion SessionState = "ACTIVE_QUESTION"
	SessionStateReveal         SessionState = "REVEAL"
	SessionStateEnded          SessionState = "ENDED"
)

// Session is one live run of a quiz. It is stored as a Redis hash and
// mutated only through the session store's CAS primitives.
type Session struct {
	ID                   string       `json:"session_id"`
	QuizID               string       `json:"quiz_id"`
	JoinCode             string       `json:"join_code"`
	State                SessionState `json:"state"`
	CurrentQuestionIndex int          `json:"current_question_index"` // -1 in LOBBY
	QuestionStartedAtMs  int64        `json:"question_started_at_ms"` // 0 outside ACTIVE_QUESTION
	PausedRemainingMs    int64        `json:"paused_remaining_ms"`    // >0 while a question timer is paused
	StatsIncomplete      bool         `json:"stats_incomplete"`
	CreatedAt            time.Time    `json:"created_at"`
	EndedAt              *time.Time   `json:"ended_at,omitempty"`
}

// QuestionStartedAt converts the stored millisecond timestamp.
// The zero time means no question is in flight.
func (s *Session) QuestionStartedAt() time.Time {
	if s.QuestionStartedAtMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.QuestionStartedAtMs)
}

// RemainingTime computes how long the current question keeps running,
// clamped at zero. timeLimit is the question's configured limit.
func (s *Session) RemainingTime(timeLimit time.Duration, now time.Time) time.Duration {
	if s.State != SessionStateActiveQuestion || s.QuestionStartedAtMs == 0 {
		return 0
	}
	deadline := s.QuestionStartedAt().Add(timeLimit)
	remaining := deadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ToHash flattens the session into Redis hash fields.
func (s *Session) ToHash() map[string]any {
	h := map[string]any{
		"session_id":              s.ID,
		"quiz_id":                 s.QuizID,
		"join_code":               s.JoinCode,
		"state":                   string(s.State),
		"current_question_index":  strconv.Itoa(s.CurrentQuestionIndex),
		"question_started_at_ms":  strconv.FormatInt(s.QuestionStartedAtMs, 10),
		"paused_remaining_ms":     strconv.FormatInt(s.PausedRemainingMs, 10),
		"stats_incomplete":        strconv.FormatBool(s.StatsIncomplete),
		"created_at":              s.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if s.EndedAt != nil {
		h["ended_at"] = s.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	return h
}

// SessionFromHash rebuilds a session from Redis hash fields.
func SessionFromHash(h map[string]string) *Session {
	s := &Session{
		ID:       h["session_id"],
		QuizID:   h["quiz_id"],
		JoinCode: h["join_code"],
		State:    SessionState(h["state"]),
	}
	s.CurrentQuestionIndex, _ = strconv.Atoi(h["current_question_index"])
	s.QuestionStartedAtMs, _ = strconv.ParseInt(h["question_started_at_ms"], 10, 64)
	s.PausedRemainingMs, _ = strconv.ParseInt(h["paused_remaining_ms"], 10, 64)
	s.StatsIncomplete, _ = strconv.ParseBool(h["stats_incomplete"])
	if v := h["created_at"]; v != "" {
		s.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v := h["ended_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			s.EndedAt = &t
		}
	}
	return s
}
