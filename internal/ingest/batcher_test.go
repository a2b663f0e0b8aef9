package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/model"
)

type fakeAnswerLog struct {
	mu       sync.Mutex
	batches  [][]*model.Answer
	failNext int
}

func (f *fakeAnswerLog) BatchInsertAnswers(ctx context.Context, answers []*model.Answer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		// Not a transient error, so the inner retry gives up at once.
		return errors.New("insert refused")
	}
	cp := make([]*model.Answer, len(answers))
	copy(cp, answers)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeAnswerLog) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeAnswerLog) batch(i int) []*model.Answer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[i]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func answerN(id int64) *model.Answer {
	return &model.Answer{ID: id, SessionID: "sess-1", ParticipantID: "p1", QuestionID: "q1"}
}

func TestBatcherFlushesOnSize(t *testing.T) {
	log := &fakeAnswerLog{}
	b := NewBatcher(log, time.Hour, 3, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	for i := int64(1); i <= 3; i++ {
		b.Enqueue(answerN(i))
	}

	waitFor(t, func() bool { return log.batchCount() == 1 })
	got := log.batch(0)
	if len(got) != 3 {
		t.Fatalf("batch size = %d, want 3", len(got))
	}
	for i, a := range got {
		if a.ID != int64(i+1) {
			t.Fatalf("batch order broken: %d at index %d", a.ID, i)
		}
	}
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	log := &fakeAnswerLog{}
	b := NewBatcher(log, 20*time.Millisecond, 100, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Enqueue(answerN(1))
	b.Enqueue(answerN(2))

	waitFor(t, func() bool { return log.batchCount() >= 1 })
	if got := log.batch(0); len(got) != 2 {
		t.Fatalf("batch size = %d, want 2", len(got))
	}
}

func TestBatcherKeepsBatchAfterFailedFlush(t *testing.T) {
	log := &fakeAnswerLog{failNext: 1}
	b := NewBatcher(log, time.Hour, 2, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	// The second answer triggers a flush that fails; both answers must
	// survive and ride along with the next one.
	b.Enqueue(answerN(1))
	b.Enqueue(answerN(2))
	b.Enqueue(answerN(3))

	waitFor(t, func() bool { return log.batchCount() == 1 })
	got := log.batch(0)
	if len(got) != 3 {
		t.Fatalf("batch size = %d, want all 3 including the failed ones", len(got))
	}
	if got[0].ID != 1 || got[1].ID != 2 || got[2].ID != 3 {
		t.Fatalf("batch = %v, retained answers must flush first", []int64{got[0].ID, got[1].ID, got[2].ID})
	}
}

func TestBatcherDrainsOnShutdown(t *testing.T) {
	log := &fakeAnswerLog{}
	b := NewBatcher(log, time.Hour, 100, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	for i := int64(1); i <= 4; i++ {
		b.Enqueue(answerN(i))
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batcher did not stop")
	}
	if log.batchCount() != 1 {
		t.Fatalf("batches = %d, want one drain flush", log.batchCount())
	}
	if got := log.batch(0); len(got) != 4 {
		t.Fatalf("drained %d answers, want 4", len(got))
	}
}

func TestBatcherEnqueueNeverBlocks(t *testing.T) {
	b := NewBatcher(&fakeAnswerLog{}, time.Hour, 100, zerolog.Nop())

	// No Run loop consuming: the queue fills, then overflow is dropped
	// instead of blocking the scoring worker.
	for i := 0; i < batcherQueueSize+10; i++ {
		b.Enqueue(answerN(int64(i)))
	}
	if len(b.in) != batcherQueueSize {
		t.Fatalf("queue depth = %d, want %d", len(b.in), batcherQueueSize)
	}
}
