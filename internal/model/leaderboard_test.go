package model

import (
	"sort"
	"testing"
)

func TestLeaderboardScoreOrdersByPoints(t *testing.T) {
	if LeaderboardScore(200, 5000) <= LeaderboardScore(100, 1000) {
		t.Fatal("higher score must outrank lower score regardless of time")
	}
}

func TestLeaderboardScoreBreaksTiesByTime(t *testing.T) {
	fast := LeaderboardScore(100, 4000)
	slow := LeaderboardScore(100, 9000)
	if fast <= slow {
		t.Fatal("equal scores must rank the faster participant higher")
	}
}

func TestLeaderboardScoreTimeNeverFlipsAPoint(t *testing.T) {
	// A participant one point ahead stays ahead even with days of
	// accumulated answer time against a participant with none.
	ahead := LeaderboardScore(101, 500_000_000)
	behind := LeaderboardScore(100, 0)
	if ahead <= behind {
		t.Fatal("time tiebreak must stay below one point")
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	entries := []LeaderboardEntry{
		{ParticipantID: "p1", TotalScore: 100, TotalTimeMs: 9000},
		{ParticipantID: "p2", TotalScore: 250, TotalTimeMs: 12000},
		{ParticipantID: "p3", TotalScore: 100, TotalTimeMs: 4000},
		{ParticipantID: "p4", TotalScore: 0, TotalTimeMs: 0},
	}
	for i := range entries {
		entries[i].Score = LeaderboardScore(entries[i].TotalScore, entries[i].TotalTimeMs)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })

	want := []string{"p2", "p3", "p1", "p4"}
	for i, id := range want {
		if entries[i].ParticipantID != id {
			t.Fatalf("rank %d = %s, want %s", i+1, entries[i].ParticipantID, id)
		}
	}
}
