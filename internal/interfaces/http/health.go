package http

import (
	"context"
	"net/http"
	"runtime"
	"time"
)

// Check is a named dependency probe run by the health endpoint
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"` // "healthy" or "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	GoVersion string                 `json:"go_version"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one probe
type CheckResult struct {
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		GoVersion: runtime.Version(),
		Checks:    make(map[string]CheckResult, len(s.checks)),
	}

	for _, c := range s.checks {
		start := time.Now()
		err := c.Probe(r.Context())
		result := CheckResult{Healthy: err == nil, LatencyMS: time.Since(start).Milliseconds()}
		if err != nil {
			result.Error = err.Error()
			resp.Status = "unhealthy"
		}
		resp.Checks[c.Name] = result
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
