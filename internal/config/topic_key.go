package config

import "fmt"

// TopicKeyStruct centralizes pub/sub topic naming.
type TopicKeyStruct struct{}

// ScoringTopic carries answer-submitted messages for one session.
func (t *TopicKeyStruct) ScoringTopic(sessionID string) string {
	return fmt.Sprintf("scoring:%s", sessionID)
}

// ScoringPattern matches the scoring topics of every session.
func (t *TopicKeyStruct) ScoringPattern() string {
	return "scoring:*"
}

// LeaderboardTopic carries leaderboard deltas for one session.
func (t *TopicKeyStruct) LeaderboardTopic(sessionID string) string {
	return fmt.Sprintf("leaderboard:%s", sessionID)
}

// SessionEventsTopic carries state transitions emitted by the driver.
func (t *TopicKeyStruct) SessionEventsTopic(sessionID string) string {
	return fmt.Sprintf("session:%s:events", sessionID)
}

// SessionEventsPattern matches every session's event topic.
func (t *TopicKeyStruct) SessionEventsPattern() string {
	return "session:*:events"
}

var TopicKey = &TopicKeyStruct{}
