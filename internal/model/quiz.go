package model

// QuizType determines how a session treats participants between questions.
type QuizType string

const (
	QuizTypeStandard    QuizType = "STANDARD"
	QuizTypeElimination QuizType = "ELIMINATION"
)

// QuestionType enumerates the supported question formats.
type QuestionType string

const (
	QuestionTypeMC    QuestionType = "MC"
	QuestionTypeMulti QuestionType = "MULTI"
	QuestionTypeTF    QuestionType = "TF"
)

// Option is a single selectable answer option.
type Option struct {
	ID        string `json:"option_id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// ScoringRule controls how points are computed for a question.
type ScoringRule struct {
	BasePoints           int     `json:"base_points"`
	SpeedBonusMultiplier float64 `json:"speed_bonus_multiplier"`
	PartialCreditEnabled bool    `json:"partial_credit_enabled"`
}

// ExamSettings holds optional exam-mode scoring modifiers.
// NegativeMarkingPercentage is valid in [5,100].
type ExamSettings struct {
	NegativeMarkingEnabled    bool `json:"negative_marking_enabled"`
	NegativeMarkingPercentage int  `json:"negative_marking_percentage"`
}

// Question is one question of a quiz. ExamSettings, when nil, falls back
// to the quiz-level default.
type Question struct {
	ID           string        `json:"question_id"`
	Text         string        `json:"question_text"`
	Type         QuestionType  `json:"question_type"`
	TimeLimitSec int           `json:"time_limit"`
	Options      []Option      `json:"options"`
	Scoring      ScoringRule   `json:"scoring"`
	ExamSettings *ExamSettings `json:"exam_settings,omitempty"`
}

// Quiz is a read-only quiz definition consumed by the session runtime.
type Quiz struct {
	ID                    string        `json:"quiz_id"`
	Title                 string        `json:"title"`
	Type                  QuizType      `json:"quiz_type"`
	EliminationPercentage int           `json:"elimination_percentage,omitempty"`
	ExamSettings          *ExamSettings `json:"exam_settings,omitempty"`
	Questions             []Question    `json:"questions"`
}

// QuestionAt returns the question at idx, or nil when out of range.
func (q *Quiz) QuestionAt(idx int) *Question {
	if idx < 0 || idx >= len(q.Questions) {
		return nil
	}
	return &q.Questions[idx]
}

// QuestionByID returns the question with the given ID, or nil.
func (q *Quiz) QuestionByID(id string) *Question {
	for i := range q.Questions {
		if q.Questions[i].ID == id {
			return &q.Questions[i]
		}
	}
	return nil
}

// EffectiveExamSettings resolves the exam settings for a question:
// the question-level override wins, else the quiz-level default applies.
func (q *Quiz) EffectiveExamSettings(question *Question) *ExamSettings {
	if question != nil && question.ExamSettings != nil {
		return question.ExamSettings
	}
	return q.ExamSettings
}

// CorrectOptionIDs returns the set of correct option IDs of a question.
func (q *Question) CorrectOptionIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(q.Options))
	for _, opt := range q.Options {
		if opt.IsCorrect {
			out[opt.ID] = struct{}{}
		}
	}
	return out
}

// Sanitized returns a copy of the question with correct-answer flags
// stripped, safe to broadcast to participants.
func (q *Question) Sanitized() Question {
	out := *q
	out.Options = make([]Option, len(q.Options))
	for i, opt := range q.Options {
		out.Options[i] = Option{ID: opt.ID, Text: opt.Text}
	}
	return out
}
