package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/metrics"
	"github.com/quizline/quizline-backend/internal/model"
	"github.com/quizline/quizline-backend/internal/pubsub"
	"github.com/quizline/quizline-backend/internal/response"
	"github.com/quizline/quizline-backend/internal/store"
	"github.com/quizline/quizline-backend/internal/ws"
)

// fakeStore implements only the store methods the pipeline touches;
// the embedded interface panics on anything else.
type fakeStore struct {
	store.SessionStore

	sess        *model.Session
	participant *model.Participant
	answered    map[string]bool
	nextID      int64
	appended    []*model.Answer
	buffered    []*model.Answer
}

func (f *fakeStore) GetParticipantSession(ctx context.Context, participantID string) (*model.Participant, error) {
	if f.participant == nil || f.participant.ID != participantID {
		return nil, store.ErrNotFound
	}
	cp := *f.participant
	return &cp, nil
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if f.sess == nil || f.sess.ID != sessionID {
		return nil, store.ErrNotFound
	}
	cp := *f.sess
	return &cp, nil
}

func (f *fakeStore) TryMarkAnswered(ctx context.Context, sessionID, participantID, questionID string) (bool, error) {
	key := fmt.Sprintf("%s|%s|%s", sessionID, participantID, questionID)
	if f.answered[key] {
		return false, nil
	}
	if f.answered == nil {
		f.answered = make(map[string]bool)
	}
	f.answered[key] = true
	return true, nil
}

func (f *fakeStore) NextAnswerID(ctx context.Context, participantID string) (int64, error) {
	f.nextID++
	return f.nextID, nil
}

func (f *fakeStore) AppendAnswer(ctx context.Context, a *model.Answer) error {
	f.appended = append(f.appended, a)
	return nil
}

func (f *fakeStore) BufferAnswerForScoring(ctx context.Context, a *model.Answer) error {
	f.buffered = append(f.buffered, a)
	return nil
}

type fakeQuizStore struct{ q *model.Quiz }

func (f fakeQuizStore) GetQuiz(ctx context.Context, quizID string) (*model.Quiz, error) {
	return f.q, nil
}

type fakeBus struct {
	pubsub.Bus
	topics []string
}

func (f *fakeBus) Publish(ctx context.Context, topic string, payload any) error {
	f.topics = append(f.topics, topic)
	return nil
}

func pipelineFixture(startedAt time.Time) (*Pipeline, *fakeStore, *fakeBus, *metrics.Registry) {
	st := &fakeStore{
		sess: &model.Session{
			ID:                   "sess-1",
			QuizID:               "quiz-1",
			State:                model.SessionStateActiveQuestion,
			CurrentQuestionIndex: 0,
			QuestionStartedAtMs:  startedAt.UnixMilli(),
		},
		participant: &model.Participant{ID: "p1", SessionID: "sess-1", IsActive: true},
		answered:    make(map[string]bool),
	}
	qz := &model.Quiz{
		ID: "quiz-1",
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMC, TimeLimitSec: 20, Options: []model.Option{
				{ID: "a", IsCorrect: true},
				{ID: "b"},
			}},
			{ID: "q2", Type: model.QuestionTypeMulti, TimeLimitSec: 20, Options: []model.Option{
				{ID: "a", IsCorrect: true},
				{ID: "b", IsCorrect: true},
			}},
		},
	}
	bus := &fakeBus{}
	met := metrics.NewRegistry()
	p := NewPipeline(st, fakeQuizStore{q: qz}, bus, met, zerolog.Nop())
	p.now = func() time.Time { return startedAt.Add(5 * time.Second) }
	return p, st, bus, met
}

func TestSubmitAcceptsAnswer(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p, st, bus, met := pipelineFixture(start)

	answer, appErr := p.Submit(context.Background(), "p1", &ws.SubmitAnswerRequest{
		QuestionID:        "q1",
		SelectedOptionIDs: []string{"a"},
	})
	if appErr != nil {
		t.Fatalf("refused: %v", appErr)
	}
	if answer.ID != 1 || answer.SessionID != "sess-1" || answer.QuestionID != "q1" {
		t.Fatalf("answer = %+v", answer)
	}
	if answer.ResponseTimeMs != 5000 {
		t.Fatalf("response time = %d, want 5000", answer.ResponseTimeMs)
	}
	if len(st.appended) != 1 || len(st.buffered) != 1 {
		t.Fatalf("appended=%d buffered=%d, want 1/1", len(st.appended), len(st.buffered))
	}
	if len(bus.topics) != 1 || bus.topics[0] != "scoring:sess-1" {
		t.Fatalf("published topics = %v", bus.topics)
	}
	if met.Snapshot()["answers_received"].(int64) != 1 {
		t.Fatal("answers_received not counted")
	}
}

func TestSubmitRejectsDuplicate(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p, st, _, met := pipelineFixture(start)

	req := &ws.SubmitAnswerRequest{QuestionID: "q1", SelectedOptionIDs: []string{"a"}}
	if _, appErr := p.Submit(context.Background(), "p1", req); appErr != nil {
		t.Fatalf("first submission refused: %v", appErr)
	}
	_, appErr := p.Submit(context.Background(), "p1", req)
	if appErr == nil || appErr.Code != response.ErrDuplicateAnswer {
		t.Fatalf("second submission: %v, want DUPLICATE_ANSWER", appErr)
	}
	if len(st.appended) != 1 {
		t.Fatalf("appended = %d, duplicate must not record", len(st.appended))
	}
	if met.Snapshot()["answers_duplicate"].(int64) != 1 {
		t.Fatal("answers_duplicate not counted")
	}
}

func TestSubmitStateGates(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	req := &ws.SubmitAnswerRequest{QuestionID: "q1", SelectedOptionIDs: []string{"a"}}

	tests := []struct {
		name   string
		mutate func(st *fakeStore)
		want   response.ErrCode
	}{
		{"session ended", func(st *fakeStore) {
			st.sess.State = model.SessionStateEnded
		}, response.ErrSessionEnded},
		{"reveal phase", func(st *fakeStore) {
			st.sess.State = model.SessionStateReveal
			st.sess.QuestionStartedAtMs = 0
		}, response.ErrWrongState},
		{"banned participant", func(st *fakeStore) {
			st.participant.IsBanned = true
		}, response.ErrParticipantBanned},
		{"eliminated participant", func(st *fakeStore) {
			st.participant.IsEliminated = true
		}, response.ErrEliminated},
		{"spectator", func(st *fakeStore) {
			st.participant.IsSpectator = true
		}, response.ErrEliminated},
		{"unknown participant", func(st *fakeStore) {
			st.participant = nil
		}, response.ErrParticipantNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, st, _, _ := pipelineFixture(start)
			tt.mutate(st)
			_, appErr := p.Submit(context.Background(), "p1", req)
			if appErr == nil || appErr.Code != tt.want {
				t.Fatalf("got %v, want %s", appErr, tt.want)
			}
		})
	}
}

func TestSubmitRejectsNonCurrentQuestion(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p, _, _, _ := pipelineFixture(start)

	_, appErr := p.Submit(context.Background(), "p1", &ws.SubmitAnswerRequest{
		QuestionID:        "q2",
		SelectedOptionIDs: []string{"a"},
	})
	if appErr == nil || appErr.Code != response.ErrWrongState {
		t.Fatalf("got %v, want WRONG_STATE", appErr)
	}
}

func TestSubmitValidatesSelection(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		selected []string
	}{
		{"empty selection", nil},
		{"two options on single-choice", []string{"a", "b"}},
		{"unknown option", []string{"z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, st, _, _ := pipelineFixture(start)
			_, appErr := p.Submit(context.Background(), "p1", &ws.SubmitAnswerRequest{
				QuestionID:        "q1",
				SelectedOptionIDs: tt.selected,
			})
			if appErr == nil || appErr.Code != response.ErrInvalidPayload {
				t.Fatalf("got %v, want INVALID_PAYLOAD", appErr)
			}
			if len(st.appended) != 0 {
				t.Fatal("invalid submission must not record")
			}
		})
	}
}

func TestSubmitClampsResponseTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p, _, _, _ := pipelineFixture(start)
	// Submission lands after the 20s limit (driver race at the deadline).
	p.now = func() time.Time { return start.Add(23 * time.Second) }

	answer, appErr := p.Submit(context.Background(), "p1", &ws.SubmitAnswerRequest{
		QuestionID:        "q1",
		SelectedOptionIDs: []string{"a"},
	})
	if appErr != nil {
		t.Fatalf("refused: %v", appErr)
	}
	if answer.ResponseTimeMs != 20000 {
		t.Fatalf("response time = %d, want clamped 20000", answer.ResponseTimeMs)
	}
}

func TestSubmitAnswerIDsAreMonotonic(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p, st, _, _ := pipelineFixture(start)

	first, appErr := p.Submit(context.Background(), "p1", &ws.SubmitAnswerRequest{
		QuestionID: "q1", SelectedOptionIDs: []string{"a"},
	})
	if appErr != nil {
		t.Fatalf("refused: %v", appErr)
	}

	// Advance to the next question and submit again.
	st.sess.CurrentQuestionIndex = 1
	second, appErr := p.Submit(context.Background(), "p1", &ws.SubmitAnswerRequest{
		QuestionID: "q2", SelectedOptionIDs: []string{"a", "b"},
	})
	if appErr != nil {
		t.Fatalf("refused: %v", appErr)
	}
	if second.ID <= first.ID {
		t.Fatalf("ids %d then %d, want strictly increasing", first.ID, second.ID)
	}
}
