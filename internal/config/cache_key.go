package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionKey returns the hash key holding a session record
func (r *CacheKeyStruct) SessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// SessionParticipantsKey returns the hash key mapping participantID to a
// participant summary for a session
func (r *CacheKeyStruct) SessionParticipantsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:participants", sessionID)
}

// SessionNicknamesKey returns the hash key used to reserve lowercased
// nicknames within a session
func (r *CacheKeyStruct) SessionNicknamesKey(sessionID string) string {
	return fmt.Sprintf("session:%s:nicknames", sessionID)
}

// SessionLeaderboardKey returns the sorted-set key for a session leaderboard
func (r *CacheKeyStruct) SessionLeaderboardKey(sessionID string) string {
	return fmt.Sprintf("session:%s:leaderboard", sessionID)
}

// SessionOwnerKey returns the lease key for the session owner
func (r *CacheKeyStruct) SessionOwnerKey(sessionID string) string {
	return fmt.Sprintf("session:%s:owner", sessionID)
}

// SessionAnswerLogKey returns the list key holding durable answer records
// awaiting batch flush
func (r *CacheKeyStruct) SessionAnswerLogKey(sessionID string) string {
	return fmt.Sprintf("session:%s:answers", sessionID)
}

// ParticipantSessionKey returns the hash key holding a participant record
func (r *CacheKeyStruct) ParticipantSessionKey(participantID string) string {
	return fmt.Sprintf("participant:%s:session", participantID)
}

// ParticipantAnswerSeqKey returns the counter key for a participant's
// monotonic answer IDs
func (r *CacheKeyStruct) ParticipantAnswerSeqKey(participantID string) string {
	return fmt.Sprintf("participant:%s:answer_seq", participantID)
}

// ParticipantScoredMarkerKey returns the key recording the last scored
// answerID for a (participant, question) pair
func (r *CacheKeyStruct) ParticipantScoredMarkerKey(participantID, questionID string) string {
	return fmt.Sprintf("participant:%s:scored:%s", participantID, questionID)
}

// AnswerDedupeKey returns the key that enforces at-most-once answers per
// (participant, question)
func (r *CacheKeyStruct) AnswerDedupeKey(sessionID, participantID, questionID string) string {
	return fmt.Sprintf("answer:%s:%s:%s", sessionID, participantID, questionID)
}

// ScoringBufferKey returns the per-question list drained by the scoring worker
func (r *CacheKeyStruct) ScoringBufferKey(sessionID, questionID string) string {
	return fmt.Sprintf("scoring:%s:%s:buffer", sessionID, questionID)
}

// JoinCodeKey returns the key mapping a join code to a live session ID
func (r *CacheKeyStruct) JoinCodeKey(code string) string {
	return fmt.Sprintf("joincode:%s", code)
}

var CacheKey = NewCacheKeyStruct()
