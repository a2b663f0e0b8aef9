// Package scoring computes points for answers and settles them into
// participant totals and the leaderboard.
package scoring

import (
	"math"

	"github.com/quizline/quizline-backend/internal/model"
)

// streakBonusRate is the per-step bonus fraction of base points.
const streakBonusRate = 0.1

// Input is everything the calculator needs for one answer. It carries
// no clocks or stores: the same input always yields the same result.
type Input struct {
	Question          *model.Question
	Settings          *model.ExamSettings // effective settings, may be nil
	SelectedOptionIDs []string
	ResponseTimeMs    int64
	TimeLimitMs       int64
	PrevStreak        int
}

// Result is the outcome of scoring one answer. Points can be negative
// when negative marking applies; the caller clamps the running total.
type Result struct {
	IsCorrect bool
	NewStreak int

	BasePoints    int64
	SpeedBonus    int64
	StreakBonus   int64
	PartialCredit int64
	NegativeMark  int64

	// Points is the signed delta to apply to the participant's total.
	Points int64

	SpeedBonusApplied    bool
	StreakBonusApplied   bool
	PartialCreditApplied bool
}

// Score grades one answer. MULTI questions earn proportional partial
// credit for a strict subset of the correct options when enabled; any
// incorrect selection voids the answer entirely.
func Score(in Input) Result {
	q := in.Question
	base := int64(q.Scoring.BasePoints)
	correct := q.CorrectOptionIDs()

	matched, wrong := classifySelection(in.SelectedOptionIDs, correct)
	fullyCorrect := wrong == 0 && matched == len(correct) && matched > 0

	res := Result{IsCorrect: fullyCorrect}

	if fullyCorrect {
		res.NewStreak = in.PrevStreak + 1
		res.BasePoints = base
		res.SpeedBonus = speedBonus(base, q.Scoring.SpeedBonusMultiplier, in.ResponseTimeMs, in.TimeLimitMs)
		res.SpeedBonusApplied = res.SpeedBonus > 0
		if res.NewStreak >= 2 {
			res.StreakBonus = int64(math.Round(float64(base) * streakBonusRate * float64(res.NewStreak-1)))
			res.StreakBonusApplied = res.StreakBonus > 0
		}
		res.Points = res.BasePoints + res.SpeedBonus + res.StreakBonus
		return res
	}

	res.NewStreak = 0

	if q.Type == model.QuestionTypeMulti && q.Scoring.PartialCreditEnabled && wrong == 0 && matched > 0 {
		res.PartialCredit = int64(math.Round(float64(matched) / float64(len(correct)) * float64(base)))
		res.PartialCreditApplied = res.PartialCredit > 0
		res.Points = res.PartialCredit
		return res
	}

	if in.Settings != nil && in.Settings.NegativeMarkingEnabled {
		pct := in.Settings.NegativeMarkingPercentage
		res.NegativeMark = int64(math.Round(float64(base) * float64(pct) / 100))
		res.Points = -res.NegativeMark
	}
	return res
}

// classifySelection counts selections that hit the correct set and
// selections that miss it.
func classifySelection(selected []string, correct map[string]struct{}) (matched, wrong int) {
	seen := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := correct[id]; ok {
			matched++
		} else {
			wrong++
		}
	}
	return matched, wrong
}

// speedBonus scales with how much of the time limit was left.
// A zero time limit or an out-of-window response earns nothing.
func speedBonus(base int64, multiplier float64, responseTimeMs, timeLimitMs int64) int64 {
	if multiplier <= 0 || timeLimitMs <= 0 {
		return 0
	}
	if responseTimeMs < 0 {
		responseTimeMs = 0
	}
	if responseTimeMs >= timeLimitMs {
		return 0
	}
	fraction := 1 - float64(responseTimeMs)/float64(timeLimitMs)
	return int64(math.Round(float64(base) * multiplier * fraction))
}

// ClampTotal applies a signed delta to a running total, never letting
// the total drop below zero.
func ClampTotal(prevTotal, delta int64) int64 {
	next := prevTotal + delta
	if next < 0 {
		return 0
	}
	return next
}
