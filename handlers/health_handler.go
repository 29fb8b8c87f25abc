package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/upb/compliance-ledger/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// CheckFunc checks one dependency
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name  string
	check CheckFunc
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db     *sql.DB
	checks []namedCheck
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil for the in-memory driver.
func NewHealthHandler(db *sql.DB, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		logger: logger,
	}
}

// WithCheck registers an additional readiness check
func (h *HealthHandler) WithCheck(name string, check CheckFunc) *HealthHandler {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
	return h
}

// HandleHealth handles GET /health
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /health/ready
// Readiness check - validates that all dependencies are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	deps := append([]namedCheck{{name: "database", check: h.checkDatabase}}, h.checks...)
	for _, c := range deps {
		if err := c.check(ctx); err != nil {
			h.logger.Warn("health check failed",
				zap.String("check", c.name),
				zap.Error(err))
			checks[c.name] = "unhealthy"
			allHealthy = false
			continue
		}
		checks[c.name] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil
	}

	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
