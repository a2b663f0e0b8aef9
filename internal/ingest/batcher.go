// Package ingest accepts answer submissions: validation, dedupe,
// recording and hand-off to the scoring path.
package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/model"
	"github.com/quizline/quizline-backend/internal/retry"
	"github.com/quizline/quizline-backend/internal/store"
)

const batcherQueueSize = 4096

// Batcher accumulates scored answers and flushes them to the durable
// answer log in batches. The durable log is analytics-only: a flush
// failure is retried with backoff and never blocks the hot path.
type Batcher struct {
	answerLog store.AnswerLog
	interval  time.Duration
	size      int
	in        chan *model.Answer
	log       zerolog.Logger
}

// NewBatcher creates the batch writer.
func NewBatcher(answerLog store.AnswerLog, interval time.Duration, size int, log zerolog.Logger) *Batcher {
	return &Batcher{
		answerLog: answerLog,
		interval:  interval,
		size:      size,
		in:        make(chan *model.Answer, batcherQueueSize),
		log:       log.With().Str("component", "answer_batcher").Logger(),
	}
}

// Enqueue queues one answer for durable flush. Never blocks; when the
// queue is full the answer is dropped and logged, Redis still holds it.
func (b *Batcher) Enqueue(a *model.Answer) {
	select {
	case b.in <- a:
	default:
		b.log.Error().
			Str("participant_id", a.ParticipantID).
			Str("question_id", a.QuestionID).
			Msg("batcher queue full, dropping durable flush")
	}
}

// Run flushes on size or interval until the context ends, then drains
// whatever remains.
func (b *Batcher) Run(ctx context.Context) {
	b.log.Info().Msg("answer batcher started")

	batch := make([]*model.Answer, 0, b.size)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("shutdown requested, flushing remaining batch")
			for {
				select {
				case a := <-b.in:
					batch = append(batch, a)
				default:
					b.flush(context.Background(), batch)
					return
				}
			}

		case a := <-b.in:
			batch = append(batch, a)
			if len(batch) >= b.size {
				batch = b.flushAndReset(ctx, batch)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				batch = b.flushAndReset(ctx, batch)
			}
		}
	}
}

// flushAndReset resets the batch only on success. On failure the
// answers stay in the accumulator and ride along with the next flush.
func (b *Batcher) flushAndReset(ctx context.Context, batch []*model.Answer) []*model.Answer {
	if err := b.flush(ctx, batch); err != nil {
		return batch
	}
	return batch[:0]
}

// flush writes one batch with retry. The insert is idempotent so a
// retry after a half-applied batch is safe.
func (b *Batcher) flush(ctx context.Context, batch []*model.Answer) error {
	if len(batch) == 0 {
		return nil
	}
	err := retry.Do(ctx, func(ctx context.Context) error {
		return b.answerLog.BatchInsertAnswers(ctx, batch)
	}, retry.Options{
		MaxRetries:        3,
		InitialDelay:      100 * time.Millisecond,
		BackoffMultiplier: 2,
		IsRetryable:       retry.TransientDatabase(),
		Context:           "flush answer batch",
	})
	if err != nil {
		b.log.Error().Err(err).Int("batch_size", len(batch)).Msg("durable flush failed, keeping batch for retry")
		return err
	}
	b.log.Debug().Int("batch_size", len(batch)).Msg("flushed answers")
	return nil
}
