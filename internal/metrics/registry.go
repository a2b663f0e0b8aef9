// Package metrics collects runtime counters for the /metrics and
// /health endpoints. The registry is constructed and injected, never
// accessed through package globals, so tests can run in isolation.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

const latencyWindowSize = 100

// latencyWindow is a bounded rolling sample of durations, shared by
// the scoring path and the dependency pingers.
type latencyWindow struct {
	mu      sync.Mutex
	samples [latencyWindowSize]time.Duration
	count   int
	next    int
}

// Observe records one duration, evicting the oldest when full.
func (w *latencyWindow) Observe(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next = (w.next + 1) % latencyWindowSize
	if w.count < latencyWindowSize {
		w.count++
	}
}

// Stats reports the mean and max over the current window.
func (w *latencyWindow) Stats() (mean, max time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count == 0 {
		return 0, 0
	}
	var sum time.Duration
	for i := 0; i < w.count; i++ {
		d := w.samples[i]
		sum += d
		if d > max {
			max = d
		}
	}
	return sum / time.Duration(w.count), max
}

// Registry aggregates counters, gauges and a rolling latency window.
type Registry struct {
	activeSessions    atomic.Int64
	activeConnections atomic.Int64

	answersReceived  atomic.Int64
	answersDuplicate atomic.Int64
	answersRejected  atomic.Int64
	answersScored    atomic.Int64
	scoringFailed    atomic.Int64

	messagesDropped    atomic.Int64
	connectionsDropped atomic.Int64

	recoverySucceeded atomic.Int64
	recoveryFailed    atomic.Int64

	scoringLatency latencyWindow
}

// NewRegistry creates an empty metrics registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// ─── Gauges ─────────────────────────────────────────────────────────

func (r *Registry) IncActiveSessions()      { r.activeSessions.Add(1) }
func (r *Registry) DecActiveSessions()      { r.activeSessions.Add(-1) }
func (r *Registry) ActiveSessions() int64   { return r.activeSessions.Load() }
func (r *Registry) ConnectionOpened()       { r.activeConnections.Add(1) }
func (r *Registry) ConnectionClosed()       { r.activeConnections.Add(-1) }
func (r *Registry) ActiveConnections() int64 { return r.activeConnections.Load() }

// ─── Counters ───────────────────────────────────────────────────────

func (r *Registry) AnswerReceived()  { r.answersReceived.Add(1) }
func (r *Registry) AnswerDuplicate() { r.answersDuplicate.Add(1) }
func (r *Registry) AnswerRejected()  { r.answersRejected.Add(1) }
func (r *Registry) AnswerScored()    { r.answersScored.Add(1) }
func (r *Registry) ScoringFailed()   { r.scoringFailed.Add(1) }

func (r *Registry) RecoverySucceeded() { r.recoverySucceeded.Add(1) }
func (r *Registry) RecoveryFailed()    { r.recoveryFailed.Add(1) }

// MessageDropped and ConnectionDropped satisfy the websocket layer's
// drop counter.
func (r *Registry) MessageDropped(role string)    { r.messagesDropped.Add(1) }
func (r *Registry) ConnectionDropped(role string) { r.connectionsDropped.Add(1) }

// ─── Scoring latency ────────────────────────────────────────────────

// ObserveScoringLatency records one submission-to-scored duration in
// the rolling window.
func (r *Registry) ObserveScoringLatency(d time.Duration) {
	r.scoringLatency.Observe(d)
}

// ScoringLatency reports the mean and max over the rolling window.
func (r *Registry) ScoringLatency() (mean, max time.Duration) {
	return r.scoringLatency.Stats()
}

// Snapshot flattens every metric for the /metrics endpoint.
func (r *Registry) Snapshot() map[string]any {
	mean, max := r.ScoringLatency()
	return map[string]any{
		"active_sessions":         r.activeSessions.Load(),
		"active_connections":      r.activeConnections.Load(),
		"answers_received":        r.answersReceived.Load(),
		"answers_duplicate":       r.answersDuplicate.Load(),
		"answers_rejected":        r.answersRejected.Load(),
		"answers_scored":          r.answersScored.Load(),
		"scoring_failed":          r.scoringFailed.Load(),
		"messages_dropped":        r.messagesDropped.Load(),
		"connections_dropped":     r.connectionsDropped.Load(),
		"recovery_succeeded":      r.recoverySucceeded.Load(),
		"recovery_failed":         r.recoveryFailed.Load(),
		"scoring_latency_mean_ms": mean.Milliseconds(),
		"scoring_latency_max_ms":  max.Milliseconds(),
	}
}
