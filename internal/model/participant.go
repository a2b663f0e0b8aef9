package model

import (
	"strconv"
	"time"
)

// Participant is a client that joined a session with a nickname.
// The row lives in Redis until session eviction; score fields are
// mutated only by the scoring worker.
type Participant struct {
	ID                string    `json:"participant_id"`
	SessionID         string    `json:"session_id"`
	Nickname          string    `json:"nickname"`
	SessionToken      string    `json:"-"` // bearer token, never broadcast
	IsActive          bool      `json:"is_active"`
	IsEliminated      bool      `json:"is_eliminated"`
	IsSpectator       bool      `json:"is_spectator"`
	IsBanned          bool      `json:"is_banned"`
	TotalScore        int64     `json:"total_score"`
	TotalTimeMs       int64     `json:"total_time_ms"`
	StreakCount       int       `json:"streak_count"`
	LastQuestionScore int64     `json:"last_question_score"`
	JoinedAt          time.Time `json:"joined_at"`
}

// ToHash flattens the participant into Redis hash fields.
func (p *Participant) ToHash() map[string]any {
	return map[string]any{
		"participant_id":      p.ID,
		"session_id":          p.SessionID,
		"nickname":            p.Nickname,
		"session_token":       p.SessionToken,
		"is_active":           strconv.FormatBool(p.IsActive),
		"is_eliminated":       strconv.FormatBool(p.IsEliminated),
		"is_spectator":        strconv.FormatBool(p.IsSpectator),
		"is_banned":           strconv.FormatBool(p.IsBanned),
		"total_score":         strconv.FormatInt(p.TotalScore, 10),
		"total_time_ms":       strconv.FormatInt(p.TotalTimeMs, 10),
		"streak_count":        strconv.Itoa(p.StreakCount),
		"last_question_score": strconv.FormatInt(p.LastQuestionScore, 10),
		"joined_at":           p.JoinedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ParticipantFromHash rebuilds a participant from Redis hash fields.
func ParticipantFromHash(h map[string]string) *Participant {
	p := &Participant{
		ID:           h["participant_id"],
		SessionID:    h["session_id"],
		Nickname:     h["nickname"],
		SessionToken: h["session_token"],
	}
	p.IsActive, _ = strconv.ParseBool(h["is_active"])
	p.IsEliminated, _ = strconv.ParseBool(h["is_eliminated"])
	p.IsSpectator, _ = strconv.ParseBool(h["is_spectator"])
	p.IsBanned, _ = strconv.ParseBool(h["is_banned"])
	p.TotalScore, _ = strconv.ParseInt(h["total_score"], 10, 64)
	p.TotalTimeMs, _ = strconv.ParseInt(h["total_time_ms"], 10, 64)
	p.StreakCount, _ = strconv.Atoi(h["streak_count"])
	p.LastQuestionScore, _ = strconv.ParseInt(h["last_question_score"], 10, 64)
	if v := h["joined_at"]; v != "" {
		p.JoinedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return p
}
