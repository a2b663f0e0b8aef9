package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/config"
	"github.com/quizline/quizline-backend/internal/metrics"
	"github.com/quizline/quizline-backend/internal/model"
	"github.com/quizline/quizline-backend/internal/pubsub"
	"github.com/quizline/quizline-backend/internal/quiz"
	"github.com/quizline/quizline-backend/internal/response"
	"github.com/quizline/quizline-backend/internal/store"
	"github.com/quizline/quizline-backend/internal/ws"
)

// ErrNotOwner means another instance holds the session's lease.
type notOwnerError struct{ sessionID string }

func (e *notOwnerError) Error() string {
	return "session " + e.sessionID + " is driven by another instance"
}

// Manager creates sessions and tracks the drivers this instance owns.
// Ownership is arbitrated with a Redis lease per session.
type Manager struct {
	cfg       *config.Config
	st        store.SessionStore
	quizzes   quiz.Store
	bus       pubsub.Bus
	registry  *ws.Registry
	rdb       *redis.Client
	finalizer Finalizer
	met       *metrics.Registry
	log       zerolog.Logger

	instanceID string

	mu      sync.Mutex
	drivers map[string]*driverEntry
}

type driverEntry struct {
	driver *Driver
	lease  *Lease
}

// NewManager creates the session manager.
func NewManager(cfg *config.Config, st store.SessionStore, quizzes quiz.Store, bus pubsub.Bus, registry *ws.Registry, rdb *redis.Client, finalizer Finalizer, met *metrics.Registry, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		st:         st,
		quizzes:    quizzes,
		bus:        bus,
		registry:   registry,
		rdb:        rdb,
		finalizer:  finalizer,
		met:        met,
		log:        log.With().Str("component", "session_manager").Logger(),
		instanceID: uuid.New().String(),
		drivers:    make(map[string]*driverEntry),
	}
}

// InstanceID identifies this server instance in ownership leases.
func (m *Manager) InstanceID() string { return m.instanceID }

// CreateSession provisions a new lobby for a quiz: session record, join
// code, ownership lease and a local driver.
func (m *Manager) CreateSession(ctx context.Context, quizID string) (*model.Session, error) {
	q, err := m.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		if err == quiz.ErrQuizNotFound {
			return nil, response.NewAppError(response.ErrInvalidID, err).WithDetails("unknown quiz %s", quizID)
		}
		return nil, err
	}

	sessionID := uuid.New().String()
	code, err := reserveUniqueJoinCode(ctx, m.st, sessionID)
	if err != nil {
		return nil, err
	}

	sess := &model.Session{
		ID:                   sessionID,
		QuizID:               quizID,
		JoinCode:             code,
		State:                model.SessionStateLobby,
		CurrentQuestionIndex: -1,
		CreatedAt:            time.Now().UTC(),
	}
	if err := m.st.PutSession(ctx, sess); err != nil {
		_ = m.st.ReleaseJoinCode(ctx, code)
		return nil, err
	}

	lease, ok, err := AcquireLease(ctx, m.rdb, sessionID, m.instanceID, m.log)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, response.NewAppError(response.ErrStateConflict, nil).WithDetails("fresh session already leased")
	}
	lease.Keep(ctx, func() { m.onLeaseLost(sessionID) })

	drv := NewDriver(sessionID, q, m.st, m.bus, m.registry, m.finalizer, m.met, m.log)

	m.mu.Lock()
	m.drivers[sessionID] = &driverEntry{driver: drv, lease: lease}
	m.mu.Unlock()

	m.met.IncActiveSessions()
	m.log.Info().Str("session_id", sessionID).Str("quiz_id", quizID).Str("join_code", code).Msg("session created")
	return sess, nil
}

// Driver returns the locally owned driver, if any.
func (m *Manager) Driver(sessionID string) (*Driver, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.drivers[sessionID]
	if !ok {
		return nil, false
	}
	return e.driver, true
}

// Acquire returns the local driver or adopts the session: after an
// owner crash its lease expires within 15 seconds and the next
// instance a controller connects to takes over, resuming any running
// question timer from the persisted start timestamp.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (*Driver, error) {
	if drv, ok := m.Driver(sessionID); ok {
		return drv, nil
	}

	sess, err := m.st.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State == model.SessionStateEnded {
		return nil, response.NewAppError(response.ErrSessionEnded, nil)
	}
	q, err := m.quizzes.GetQuiz(ctx, sess.QuizID)
	if err != nil {
		return nil, err
	}

	lease, ok, err := AcquireLease(ctx, m.rdb, sessionID, m.instanceID, m.log)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &notOwnerError{sessionID: sessionID}
	}
	lease.Keep(ctx, func() { m.onLeaseLost(sessionID) })

	drv := NewDriver(sessionID, q, m.st, m.bus, m.registry, m.finalizer, m.met, m.log)

	m.mu.Lock()
	if existing, present := m.drivers[sessionID]; present {
		m.mu.Unlock()
		lease.Release(ctx)
		return existing.driver, nil
	}
	m.drivers[sessionID] = &driverEntry{driver: drv, lease: lease}
	m.mu.Unlock()

	m.met.IncActiveSessions()
	m.log.Info().Str("session_id", sessionID).Msg("session adopted")
	if err := drv.ResumeDriving(ctx); err != nil {
		m.log.Error().Err(err).Str("session_id", sessionID).Msg("resume after adoption failed")
	}
	return drv, nil
}

// IsNotOwner reports whether err means the session belongs to another
// instance.
func IsNotOwner(err error) bool {
	_, ok := err.(*notOwnerError)
	return ok
}

func (m *Manager) onLeaseLost(sessionID string) {
	m.mu.Lock()
	e, ok := m.drivers[sessionID]
	delete(m.drivers, sessionID)
	m.mu.Unlock()
	if !ok {
		return
	}
	e.driver.Stop()
	m.met.DecActiveSessions()
	m.log.Warn().Str("session_id", sessionID).Msg("driver stopped after lease loss")
}

// EndSession ends a session and schedules eviction of its Redis state.
func (m *Manager) EndSession(ctx context.Context, sessionID string) error {
	drv, err := m.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := drv.End(ctx); err != nil {
		return err
	}

	if err := m.st.ExpireSession(ctx, sessionID, m.cfg.SessionIdleTTL); err != nil {
		m.log.Error().Err(err).Str("session_id", sessionID).Msg("arm eviction TTL")
	}

	m.mu.Lock()
	e, ok := m.drivers[sessionID]
	delete(m.drivers, sessionID)
	m.mu.Unlock()
	if ok {
		e.driver.Stop()
		e.lease.Release(context.Background())
	}

	// Leave time for the end-of-session frames to flush before the
	// room's sockets close.
	time.AfterFunc(2*time.Second, func() {
		m.registry.CloseRoom(sessionID)
	})
	return nil
}

// RunEventRelay forwards driver events from the bus to this instance's
// local websocket connections. Every instance relays every session, so
// participants connected away from the owning instance still receive
// the broadcast stream.
func (m *Manager) RunEventRelay(ctx context.Context) error {
	sub, err := m.bus.PSubscribe(ctx, config.TopicKey.SessionEventsPattern())
	if err != nil {
		return err
	}
	defer sub.Close()

	m.log.Info().Msg("event relay started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			sessionID := sessionIDFromEventsTopic(msg.Topic)
			if sessionID == "" {
				continue
			}
			m.registry.BroadcastRaw(sessionID, msg.Payload)
		}
	}
}

// sessionIDFromEventsTopic extracts the session ID from
// "session:{id}:events".
func sessionIDFromEventsTopic(topic string) string {
	parts := strings.Split(topic, ":")
	if len(parts) != 3 || parts[0] != "session" || parts[2] != "events" {
		return ""
	}
	return parts[1]
}

// Shutdown stops every local driver and releases its lease so another
// instance can adopt promptly.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	entries := make([]*driverEntry, 0, len(m.drivers))
	for id, e := range m.drivers {
		entries = append(entries, e)
		delete(m.drivers, id)
	}
	m.mu.Unlock()

	for _, e := range entries {
		e.driver.Stop()
		e.lease.Release(ctx)
	}
	m.log.Info().Int("drivers", len(entries)).Msg("session manager shut down")
}
