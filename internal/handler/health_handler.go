package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quizline/quizline-backend/internal/metrics"
	"github.com/quizline/quizline-backend/internal/response"
	"github.com/quizline/quizline-backend/internal/ws"
)

// HealthHandler serves /health and /metrics.
type HealthHandler struct {
	checker  *metrics.HealthChecker
	registry *metrics.Registry
	system   *metrics.SystemSampler
	conns    *ws.Registry
}

// NewHealthHandler creates the handler.
func NewHealthHandler(checker *metrics.HealthChecker, registry *metrics.Registry, system *metrics.SystemSampler, conns *ws.Registry) *HealthHandler {
	return &HealthHandler{checker: checker, registry: registry, system: system, conns: conns}
}

// Health godoc
// GET /health
// Degraded still returns 200 so load balancers keep routing; only
// every persistent store down at once returns 503.
func (h *HealthHandler) Health(c *gin.Context) {
	report := h.checker.Check(c.Request.Context())
	status := http.StatusOK
	if report.Status == metrics.StatusError {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, report)
}

// Metrics godoc
// GET /metrics
func (h *HealthHandler) Metrics(c *gin.Context) {
	snapshot := h.registry.Snapshot()
	snapshot["registered_connections"] = h.conns.CountAll()
	snapshot["system"] = h.system.Sample()
	response.Success(c, http.StatusOK, snapshot)
}
