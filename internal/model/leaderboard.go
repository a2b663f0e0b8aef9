package model

// LeaderboardScore encodes total points and accumulated response time
// into a single sort key: equal scores rank the faster participant
// higher. The time term only breaks ties because it is scaled far below
// one point.
func LeaderboardScore(totalScore, totalTimeMs int64) float64 {
	return float64(totalScore) - float64(totalTimeMs)*1e-9
}

// LeaderboardEntry is a derived ranking view of a participant.
// Rank is 1-based and dense.
type LeaderboardEntry struct {
	Rank          int     `json:"rank"`
	ParticipantID string  `json:"participant_id"`
	Nickname      string  `json:"nickname"`
	TotalScore    int64   `json:"total_score"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	Score         float64 `json:"-"` // raw sort key, internal
}
