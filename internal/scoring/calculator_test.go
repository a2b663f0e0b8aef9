package scoring

import (
	"testing"

	"github.com/quizline/quizline-backend/internal/model"
)

func mcQuestion(base int, mult float64) *model.Question {
	return &model.Question{
		ID:           "q1",
		Type:         model.QuestionTypeMC,
		TimeLimitSec: 20,
		Options: []model.Option{
			{ID: "a", IsCorrect: true},
			{ID: "b"},
			{ID: "c"},
		},
		Scoring: model.ScoringRule{BasePoints: base, SpeedBonusMultiplier: mult},
	}
}

func multiQuestion(base int, partial bool) *model.Question {
	return &model.Question{
		ID:   "q2",
		Type: model.QuestionTypeMulti,
		Options: []model.Option{
			{ID: "a", IsCorrect: true},
			{ID: "b", IsCorrect: true},
			{ID: "c", IsCorrect: true},
			{ID: "d"},
		},
		Scoring: model.ScoringRule{BasePoints: base, PartialCreditEnabled: partial},
	}
}

func TestScoreCorrectAnswerBasePoints(t *testing.T) {
	res := Score(Input{
		Question:          mcQuestion(100, 0),
		SelectedOptionIDs: []string{"a"},
		ResponseTimeMs:    5000,
		TimeLimitMs:       20000,
	})
	if !res.IsCorrect {
		t.Fatal("expected correct")
	}
	if res.Points != 100 {
		t.Fatalf("points = %d, want 100", res.Points)
	}
	if res.NewStreak != 1 {
		t.Fatalf("streak = %d, want 1", res.NewStreak)
	}
	if res.StreakBonusApplied || res.SpeedBonusApplied {
		t.Fatal("no bonus should apply")
	}
}

func TestScoreSpeedBonus(t *testing.T) {
	tests := []struct {
		name       string
		responseMs int64
		want       int64
	}{
		{"instant answer earns full bonus", 0, 50},
		{"half the window earns half", 10000, 25},
		{"at the deadline earns nothing", 20000, 0},
		{"past the deadline earns nothing", 25000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Score(Input{
				Question:          mcQuestion(100, 0.5),
				SelectedOptionIDs: []string{"a"},
				ResponseTimeMs:    tt.responseMs,
				TimeLimitMs:       20000,
			})
			if res.SpeedBonus != tt.want {
				t.Fatalf("speed bonus = %d, want %d", res.SpeedBonus, tt.want)
			}
		})
	}
}

func TestScoreStreakBonus(t *testing.T) {
	tests := []struct {
		prevStreak int
		wantStreak int
		wantBonus  int64
	}{
		{0, 1, 0},
		{1, 2, 10},  // 100 * 0.1 * 1
		{4, 5, 40},  // 100 * 0.1 * 4
	}
	for _, tt := range tests {
		res := Score(Input{
			Question:          mcQuestion(100, 0),
			SelectedOptionIDs: []string{"a"},
			TimeLimitMs:       20000,
			PrevStreak:        tt.prevStreak,
		})
		if res.NewStreak != tt.wantStreak {
			t.Fatalf("prev %d: streak = %d, want %d", tt.prevStreak, res.NewStreak, tt.wantStreak)
		}
		if res.StreakBonus != tt.wantBonus {
			t.Fatalf("prev %d: bonus = %d, want %d", tt.prevStreak, res.StreakBonus, tt.wantBonus)
		}
	}
}

func TestScoreWrongAnswerResetsStreak(t *testing.T) {
	res := Score(Input{
		Question:          mcQuestion(100, 0),
		SelectedOptionIDs: []string{"b"},
		TimeLimitMs:       20000,
		PrevStreak:        5,
	})
	if res.IsCorrect {
		t.Fatal("expected incorrect")
	}
	if res.NewStreak != 0 {
		t.Fatalf("streak = %d, want 0", res.NewStreak)
	}
	if res.Points != 0 {
		t.Fatalf("points = %d, want 0", res.Points)
	}
}

func TestScoreMultiPartialCredit(t *testing.T) {
	// Two of three correct options, no wrong pick: 2/3 of 90 = 60.
	res := Score(Input{
		Question:          multiQuestion(90, true),
		SelectedOptionIDs: []string{"a", "b"},
	})
	if res.IsCorrect {
		t.Fatal("partial answer must not count as correct")
	}
	if !res.PartialCreditApplied || res.Points != 60 {
		t.Fatalf("points = %d (applied=%v), want 60", res.Points, res.PartialCreditApplied)
	}
	if res.NewStreak != 0 {
		t.Fatal("partial credit must not extend a streak")
	}
}

func TestScoreMultiWrongSelectionVoidsPartialCredit(t *testing.T) {
	res := Score(Input{
		Question:          multiQuestion(90, true),
		SelectedOptionIDs: []string{"a", "b", "d"},
	})
	if res.Points != 0 || res.PartialCreditApplied {
		t.Fatalf("points = %d, want 0", res.Points)
	}
}

func TestScoreMultiPartialCreditDisabled(t *testing.T) {
	res := Score(Input{
		Question:          multiQuestion(90, false),
		SelectedOptionIDs: []string{"a", "b"},
	})
	if res.Points != 0 {
		t.Fatalf("points = %d, want 0", res.Points)
	}
}

func TestScoreMultiFullyCorrect(t *testing.T) {
	res := Score(Input{
		Question:          multiQuestion(90, true),
		SelectedOptionIDs: []string{"a", "b", "c"},
	})
	if !res.IsCorrect || res.Points != 90 {
		t.Fatalf("points = %d (correct=%v), want 90", res.Points, res.IsCorrect)
	}
}

func TestScoreNegativeMarking(t *testing.T) {
	res := Score(Input{
		Question:          mcQuestion(100, 0),
		Settings:          &model.ExamSettings{NegativeMarkingEnabled: true, NegativeMarkingPercentage: 25},
		SelectedOptionIDs: []string{"b"},
		TimeLimitMs:       20000,
	})
	if res.Points != -25 {
		t.Fatalf("points = %d, want -25", res.Points)
	}
	if res.NegativeMark != 25 {
		t.Fatalf("negative mark = %d, want 25", res.NegativeMark)
	}
}

func TestScoreNegativeMarkingNotAppliedWhenCorrect(t *testing.T) {
	res := Score(Input{
		Question:          mcQuestion(100, 0),
		Settings:          &model.ExamSettings{NegativeMarkingEnabled: true, NegativeMarkingPercentage: 25},
		SelectedOptionIDs: []string{"a"},
		TimeLimitMs:       20000,
	})
	if res.Points != 100 {
		t.Fatalf("points = %d, want 100", res.Points)
	}
}

func TestScoreDuplicateSelectionsDeduped(t *testing.T) {
	res := Score(Input{
		Question:          mcQuestion(100, 0),
		SelectedOptionIDs: []string{"a", "a"},
		TimeLimitMs:       20000,
	})
	if !res.IsCorrect {
		t.Fatal("duplicate of the correct option should still be correct")
	}
}

func TestScoreDeterministic(t *testing.T) {
	in := Input{
		Question:          mcQuestion(100, 0.5),
		SelectedOptionIDs: []string{"a"},
		ResponseTimeMs:    3000,
		TimeLimitMs:       20000,
		PrevStreak:        2,
	}
	first := Score(in)
	for i := 0; i < 10; i++ {
		if got := Score(in); got != first {
			t.Fatalf("run %d diverged: %+v vs %+v", i, got, first)
		}
	}
}

func TestClampTotal(t *testing.T) {
	tests := []struct {
		prev, delta, want int64
	}{
		{100, 50, 150},
		{100, -50, 50},
		{10, -25, 0},
		{0, -1, 0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := ClampTotal(tt.prev, tt.delta); got != tt.want {
			t.Fatalf("ClampTotal(%d, %d) = %d, want %d", tt.prev, tt.delta, got, tt.want)
		}
	}
}
