package metrics

import (
	"context"
	"sync"
	"time"
)

// Status is the aggregate health verdict.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusError    Status = "error"
)

const pingTimeout = 2 * time.Second

// Pinger checks one dependency's reachability.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc struct {
	PingerName string
	Fn         func(ctx context.Context) error
}

func (p PingerFunc) Name() string                   { return p.PingerName }
func (p PingerFunc) Ping(ctx context.Context) error { return p.Fn(ctx) }

// Dependency registers one backend with the checker. Persistent marks
// the stores that hold session state; the verdict drops to error only
// when every persistent dependency is down at once.
type Dependency struct {
	Pinger     Pinger
	Persistent bool
}

// DependencyHealth is the per-dependency result.
type DependencyHealth struct {
	Name          string `json:"name"`
	Healthy       bool   `json:"healthy"`
	Error         string `json:"error,omitempty"`
	LatencyMs     int64  `json:"latency_ms"`
	LatencyMeanMs int64  `json:"latency_mean_ms"`
}

// HealthReport is the /health response body.
type HealthReport struct {
	Status       Status             `json:"status"`
	Dependencies []DependencyHealth `json:"dependencies"`
}

type dependencyState struct {
	dep     Dependency
	window  latencyWindow
	mu      sync.Mutex
	healthy bool
	lastErr string
	lastRTT time.Duration
}

// HealthChecker pings each dependency with a short deadline and keeps
// a rolling window of ping latencies per dependency. All deps up is
// ok; any dep down degrades the service; only every persistent store
// down at once is a hard error, because answers keep buffering while
// at least one store survives.
type HealthChecker struct {
	deps []*dependencyState
}

// NewHealthChecker builds a checker over the given dependencies.
func NewHealthChecker(deps ...Dependency) *HealthChecker {
	h := &HealthChecker{}
	for _, d := range deps {
		h.deps = append(h.deps, &dependencyState{dep: d, healthy: true})
	}
	return h
}

// Run pings all dependencies on a fixed interval until the context
// ends, keeping the latency windows warm between /health requests.
func (h *HealthChecker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Check pings every dependency now and aggregates the verdict.
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	report := HealthReport{Status: StatusOK}

	anyDown := false
	persistentTotal := 0
	persistentDown := 0

	for _, ds := range h.deps {
		d := h.ping(ctx, ds)
		report.Dependencies = append(report.Dependencies, d)
		if ds.dep.Persistent {
			persistentTotal++
		}
		if !d.Healthy {
			anyDown = true
			if ds.dep.Persistent {
				persistentDown++
			}
		}
	}

	if anyDown {
		report.Status = StatusDegraded
	}
	if persistentTotal > 0 && persistentDown == persistentTotal {
		report.Status = StatusError
	}
	return report
}

func (h *HealthChecker) ping(ctx context.Context, ds *dependencyState) DependencyHealth {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	start := time.Now()
	err := ds.dep.Pinger.Ping(pingCtx)
	rtt := time.Since(start)

	ds.mu.Lock()
	ds.healthy = err == nil
	ds.lastRTT = rtt
	if err != nil {
		ds.lastErr = err.Error()
	} else {
		ds.lastErr = ""
		ds.window.Observe(rtt)
	}
	mean, _ := ds.window.Stats()
	ds.mu.Unlock()
	return DependencyHealth{
		Name:          ds.dep.Pinger.Name(),
		Healthy:       err == nil,
		Error:         errString(err),
		LatencyMs:     rtt.Milliseconds(),
		LatencyMeanMs: mean.Milliseconds(),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
