package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/metrics"
	"github.com/quizline/quizline-backend/internal/model"
	"github.com/quizline/quizline-backend/internal/pubsub"
	"github.com/quizline/quizline-backend/internal/store"
	"github.com/quizline/quizline-backend/internal/ws"
)

type scoreCall struct {
	participantID string
	totalScore    int64
	totalTimeMs   int64
	lastQuestion  int64
	streak        int
}

// fakeStore implements only the store methods the worker touches;
// the embedded interface panics on anything else.
type fakeStore struct {
	store.SessionStore

	sess         *model.Session
	participants map[string]*model.Participant
	markers      map[string]int64
	buffered     []*model.Answer
	rank         int
	failScoreFor string

	scoreCalls  []scoreCall
	leaderboard map[string]float64
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if f.sess == nil || f.sess.ID != sessionID {
		return nil, store.ErrNotFound
	}
	cp := *f.sess
	return &cp, nil
}

func (f *fakeStore) GetParticipantSession(ctx context.Context, participantID string) (*model.Participant, error) {
	p, ok := f.participants[participantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) GetScoredMarker(ctx context.Context, participantID, questionID string) (int64, error) {
	id, ok := f.markers[participantID+"|"+questionID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return id, nil
}

func (f *fakeStore) SetScoredMarker(ctx context.Context, participantID, questionID string, answerID int64) error {
	f.markers[participantID+"|"+questionID] = answerID
	return nil
}

func (f *fakeStore) UpdateParticipantScore(ctx context.Context, participantID string, totalScore, totalTimeMs, lastQuestionScore int64, streakCount int) error {
	if participantID == f.failScoreFor {
		return errors.New("write refused")
	}
	f.scoreCalls = append(f.scoreCalls, scoreCall{participantID, totalScore, totalTimeMs, lastQuestionScore, streakCount})
	if p, ok := f.participants[participantID]; ok {
		p.TotalScore = totalScore
		p.TotalTimeMs = totalTimeMs
		p.LastQuestionScore = lastQuestionScore
		p.StreakCount = streakCount
	}
	return nil
}

func (f *fakeStore) UpsertLeaderboard(ctx context.Context, sessionID, participantID string, score float64) error {
	if f.leaderboard == nil {
		f.leaderboard = make(map[string]float64)
	}
	f.leaderboard[participantID] = score
	return nil
}

func (f *fakeStore) GetRank(ctx context.Context, sessionID, participantID string) (int, error) {
	if f.rank == 0 {
		return 0, store.ErrNotFound
	}
	return f.rank, nil
}

func (f *fakeStore) DrainAnswerBuffer(ctx context.Context, sessionID, questionID string) ([]*model.Answer, error) {
	drained := f.buffered
	f.buffered = nil
	return drained, nil
}

type fakeQuizStore struct{ q *model.Quiz }

func (f fakeQuizStore) GetQuiz(ctx context.Context, quizID string) (*model.Quiz, error) {
	return f.q, nil
}

type busCall struct {
	topic   string
	payload any
}

type fakeBus struct {
	pubsub.Bus
	calls []busCall
}

func (f *fakeBus) Publish(ctx context.Context, topic string, payload any) error {
	f.calls = append(f.calls, busCall{topic, payload})
	return nil
}

type fakeFlusher struct{ enqueued []*model.Answer }

func (f *fakeFlusher) Enqueue(a *model.Answer) { f.enqueued = append(f.enqueued, a) }

// workerFixture wires a worker against one MC question with a flat 100
// base points and no speed bonus, so settled totals are predictable.
func workerFixture() (*Worker, *fakeStore, *fakeBus, *fakeFlusher, *model.Quiz) {
	qz := &model.Quiz{
		ID: "quiz-1",
		Questions: []model.Question{
			{
				ID:           "q1",
				Type:         model.QuestionTypeMC,
				TimeLimitSec: 20,
				Options:      []model.Option{{ID: "a", IsCorrect: true}, {ID: "b"}},
				Scoring:      model.ScoringRule{BasePoints: 100},
			},
		},
	}
	st := &fakeStore{
		sess: &model.Session{ID: "sess-1", QuizID: "quiz-1", State: model.SessionStateReveal},
		participants: map[string]*model.Participant{
			"p1": {ID: "p1", SessionID: "sess-1", TotalScore: 50, TotalTimeMs: 3000},
			"p2": {ID: "p2", SessionID: "sess-1"},
			"p3": {ID: "p3", SessionID: "sess-1"},
		},
		markers: make(map[string]int64),
		rank:    2,
	}
	bus := &fakeBus{}
	fl := &fakeFlusher{}
	w := NewWorker(st, fakeQuizStore{q: qz}, bus, fl, metrics.NewRegistry(), zerolog.Nop())
	return w, st, bus, fl, qz
}

func submission(id int64, participantID string, optionIDs ...string) *model.Answer {
	return &model.Answer{
		ID:                id,
		SessionID:         "sess-1",
		ParticipantID:     participantID,
		QuestionID:        "q1",
		SelectedOptionIDs: optionIDs,
		SubmittedAt:       time.Now().Add(-50 * time.Millisecond),
		ResponseTimeMs:    5000,
	}
}

func TestScoreAnswerSettlesFreshAnswer(t *testing.T) {
	w, st, bus, fl, _ := workerFixture()

	if err := w.scoreAnswer(context.Background(), submission(7, "p1", "a")); err != nil {
		t.Fatalf("scoreAnswer: %v", err)
	}

	if len(st.scoreCalls) != 1 {
		t.Fatalf("score calls = %d, want 1", len(st.scoreCalls))
	}
	got := st.scoreCalls[0]
	want := scoreCall{"p1", 150, 8000, 100, 1}
	if got != want {
		t.Fatalf("score call = %+v, want %+v", got, want)
	}

	if st.markers["p1|q1"] != 7 {
		t.Fatalf("scored marker = %d, want answer ID 7", st.markers["p1|q1"])
	}
	if st.leaderboard["p1"] != model.LeaderboardScore(150, 8000) {
		t.Fatalf("leaderboard score = %v", st.leaderboard["p1"])
	}

	if len(fl.enqueued) != 1 {
		t.Fatalf("flushed answers = %d, want 1", len(fl.enqueued))
	}
	flushed := fl.enqueued[0]
	if !flushed.IsCorrect || flushed.PointsAwarded != 100 {
		t.Fatalf("flushed answer = %+v", flushed)
	}

	if len(bus.calls) != 1 {
		t.Fatalf("bus publishes = %d, want 1", len(bus.calls))
	}
	if bus.calls[0].topic != "leaderboard:sess-1" {
		t.Fatalf("topic = %q", bus.calls[0].topic)
	}
	delta, ok := bus.calls[0].payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type %T", bus.calls[0].payload)
	}
	if delta["participantId"] != "p1" || delta["totalScore"] != int64(150) || delta["rank"] != 2 {
		t.Fatalf("leaderboard delta = %v", delta)
	}
}

func TestScoreAnswerIdempotent(t *testing.T) {
	w, st, bus, fl, _ := workerFixture()
	st.markers["p1|q1"] = 3

	if err := w.scoreAnswer(context.Background(), submission(7, "p1", "a")); err != nil {
		t.Fatalf("scoreAnswer: %v", err)
	}
	if len(st.scoreCalls) != 0 {
		t.Fatalf("settled answer was scored again: %+v", st.scoreCalls)
	}
	if len(fl.enqueued) != 0 || len(bus.calls) != 0 {
		t.Fatalf("settled answer produced side effects: %d flushed, %d published", len(fl.enqueued), len(bus.calls))
	}
	if st.markers["p1|q1"] != 3 {
		t.Fatalf("marker overwritten: %d", st.markers["p1|q1"])
	}
}

func TestScoreAnswerWrongSelectionStillSettles(t *testing.T) {
	w, st, _, fl, _ := workerFixture()
	st.participants["p1"].StreakCount = 4

	if err := w.scoreAnswer(context.Background(), submission(7, "p1", "b")); err != nil {
		t.Fatalf("scoreAnswer: %v", err)
	}

	got := st.scoreCalls[0]
	want := scoreCall{"p1", 50, 8000, 0, 0}
	if got != want {
		t.Fatalf("score call = %+v, want %+v (zero points, streak reset)", got, want)
	}
	if st.markers["p1|q1"] != 7 {
		t.Fatal("wrong answer must still set the scored marker")
	}
	if len(fl.enqueued) != 1 || fl.enqueued[0].IsCorrect {
		t.Fatalf("flushed = %+v", fl.enqueued)
	}
}

func TestFinalizeSettlesBufferAndAggregates(t *testing.T) {
	w, st, _, fl, qz := workerFixture()
	st.buffered = []*model.Answer{
		submission(1, "p1", "a"),
		submission(1, "p2", "b"),
		submission(1, "p3", "a"),
	}

	q := qz.QuestionAt(0)
	stats, err := w.FinalizeQuestion(context.Background(), st.sess, q)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if stats.QuestionID != "q1" || stats.TotalAnswers != 3 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.OptionCounts["a"] != 2 || stats.OptionCounts["b"] != 1 {
		t.Fatalf("option counts = %v", stats.OptionCounts)
	}
	for _, pid := range []string{"p1", "p2", "p3"} {
		if _, ok := st.markers[pid+"|q1"]; !ok {
			t.Fatalf("participant %s not settled", pid)
		}
	}
	if len(fl.enqueued) != 3 {
		t.Fatalf("flushed answers = %d, want 3", len(fl.enqueued))
	}
	if len(st.buffered) != 0 {
		t.Fatal("buffer not drained")
	}
}

func TestFinalizeKeepsGoingAfterFailure(t *testing.T) {
	w, st, bus, _, qz := workerFixture()
	st.failScoreFor = "p2"
	st.buffered = []*model.Answer{
		submission(1, "p1", "a"),
		submission(1, "p2", "a"),
		submission(1, "p3", "a"),
	}

	q := qz.QuestionAt(0)
	stats, err := w.FinalizeQuestion(context.Background(), st.sess, q)
	if err == nil {
		t.Fatal("finalize must report the failed settle")
	}

	// Aggregation counts every accepted answer even when its settle
	// failed; the stats describe submissions, not scores.
	if stats.TotalAnswers != 3 || stats.OptionCounts["a"] != 3 {
		t.Fatalf("stats = %+v", stats)
	}
	if _, ok := st.markers["p1|q1"]; !ok {
		t.Fatal("p1 not settled")
	}
	if _, ok := st.markers["p3|q1"]; !ok {
		t.Fatal("failure for p2 must not stop later settles")
	}
	if _, ok := st.markers["p2|q1"]; ok {
		t.Fatal("failed settle left a scored marker")
	}

	var failures []map[string]any
	for _, call := range bus.calls {
		env, ok := call.payload.(ws.Envelope)
		if !ok || env.Event != ws.EventScoringFailed {
			continue
		}
		if call.topic != "session:sess-1:events" {
			t.Fatalf("scoring_failed on topic %q", call.topic)
		}
		failures = append(failures, env.Payload.(map[string]any))
	}
	if len(failures) != 1 {
		t.Fatalf("scoring_failed events = %d, want 1", len(failures))
	}
	if failures[0]["participantId"] != "p2" || failures[0]["questionId"] != "q1" {
		t.Fatalf("scoring_failed payload = %v", failures[0])
	}
}
