package server

import (
	"net/http"
)

type healthResponse struct {
	Status       string `json:"status"`
	BreakerState string `json:"breakerState"`
}

// handleHealth reports liveness plus the breaker state for operators.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:       "healthy",
		BreakerState: s.breaker.State(),
	})
}

// handleReadiness reports whether the service is accepting batches. An open
// breaker means new batches will be rejected, so readiness degrades to 503.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	state := s.breaker.State()
	status := http.StatusOK
	body := healthResponse{Status: "ready", BreakerState: state}
	if state == "open" {
		status = http.StatusServiceUnavailable
		body.Status = "degraded"
	}
	s.writeJSON(w, status, body)
}
