// Package quiz exposes read access to quiz definitions. The session
// runtime never mutates a quiz; authoring lives in a separate service.
package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizline/quizline-backend/internal/model"
)

// ErrQuizNotFound is returned when no quiz matches the requested ID.
var ErrQuizNotFound = errors.New("quiz: not found")

// Store fetches quiz definitions for the session runtime.
type Store interface {
	GetQuiz(ctx context.Context, quizID string) (*model.Quiz, error)
}

// PostgresStore reads quiz definitions from the durable store. The
// authoring service writes quizzes as JSON documents; the runtime only
// needs to decode them.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the quiz reader.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetQuiz(ctx context.Context, quizID string) (*model.Quiz, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT definition FROM quizzes WHERE quiz_id = $1`,
		quizID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQuizNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quiz: %w", err)
	}

	var q model.Quiz
	if err := json.Unmarshal(doc, &q); err != nil {
		return nil, fmt.Errorf("decode quiz %s: %w", quizID, err)
	}
	return &q, nil
}

// CachingStore memoizes quiz definitions for the lifetime of a session.
// Quizzes are immutable once a session starts, so no invalidation is
// needed beyond process restart.
type CachingStore struct {
	inner Store

	mu    sync.RWMutex
	cache map[string]*model.Quiz
}

// NewCachingStore wraps a Store with an in-process cache.
func NewCachingStore(inner Store) *CachingStore {
	return &CachingStore{inner: inner, cache: make(map[string]*model.Quiz)}
}

func (s *CachingStore) GetQuiz(ctx context.Context, quizID string) (*model.Quiz, error) {
	s.mu.RLock()
	q, ok := s.cache[quizID]
	s.mu.RUnlock()
	if ok {
		return q, nil
	}

	q, err := s.inner.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[quizID] = q
	s.mu.Unlock()
	return q, nil
}
