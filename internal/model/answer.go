package model

import "time"

// Answer is a participant's submission for one question. At most one
// answer exists per (participant, question); the ID is monotonic per
// participant.
type Answer struct {
	ID                   int64     `json:"answer_id"`
	SessionID            string    `json:"session_id"`
	ParticipantID        string    `json:"participant_id"`
	QuestionID           string    `json:"question_id"`
	SelectedOptionIDs    []string  `json:"selected_option_ids"`
	SubmittedAt          time.Time `json:"submitted_at"`
	ResponseTimeMs       int64     `json:"response_time_ms"`
	IsCorrect            bool      `json:"is_correct"`
	PointsAwarded        int64     `json:"points_awarded"`
	SpeedBonusApplied    bool      `json:"speed_bonus_applied"`
	StreakBonusApplied   bool      `json:"streak_bonus_applied"`
	PartialCreditApplied bool      `json:"partial_credit_applied"`
}
