package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/config"
)

const (
	leaseTTL             = 15 * time.Second
	leaseRefreshInterval = 5 * time.Second
)

// refreshLeaseScript extends the lease only while we still hold it.
var refreshLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseLeaseScript deletes the lease only while we still hold it.
var releaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is the per-session ownership claim that keeps two server
// instances from driving the same session's timers.
type Lease struct {
	rdb       *redis.Client
	sessionID string
	holderID  string
	log       zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// AcquireLease claims session ownership for holderID. A nil return with
// ok=false means another instance holds it.
func AcquireLease(ctx context.Context, rdb *redis.Client, sessionID, holderID string, log zerolog.Logger) (*Lease, bool, error) {
	key := config.CacheKey.SessionOwnerKey(sessionID)
	ok, err := rdb.SetNX(ctx, key, holderID, leaseTTL).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		// The same instance may already hold it, e.g. two controllers
		// connecting at once.
		current, err := rdb.Get(ctx, key).Result()
		if err != nil || current != holderID {
			return nil, false, nil
		}
	}
	return &Lease{
		rdb:       rdb,
		sessionID: sessionID,
		holderID:  holderID,
		log: log.With().
			Str("component", "session_lease").
			Str("session_id", sessionID).
			Logger(),
		done: make(chan struct{}),
	}, true, nil
}

// Keep refreshes the lease in the background until the context ends or
// the lease is lost. onLost fires at most once when another instance
// has taken over; the holder must stop driving the session.
func (l *Lease) Keep(ctx context.Context, onLost func()) {
	ctx, l.cancel = context.WithCancel(ctx)

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(leaseRefreshInterval)
		defer ticker.Stop()

		key := config.CacheKey.SessionOwnerKey(l.sessionID)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := refreshLeaseScript.Run(ctx, l.rdb, []string{key}, l.holderID, leaseTTL.Milliseconds()).Int64()
				if err != nil {
					if ctx.Err() == nil {
						l.log.Warn().Err(err).Msg("lease refresh failed")
					}
					continue
				}
				if n == 0 {
					l.log.Warn().Msg("lease lost to another instance")
					if onLost != nil {
						onLost()
					}
					return
				}
			}
		}
	}()
}

// Release stops refreshing and frees the lease if still held.
func (l *Lease) Release(ctx context.Context) {
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
	key := config.CacheKey.SessionOwnerKey(l.sessionID)
	if err := releaseLeaseScript.Run(ctx, l.rdb, []string{key}, l.holderID).Err(); err != nil && err != redis.Nil {
		l.log.Debug().Err(err).Msg("lease release failed")
	}
}
