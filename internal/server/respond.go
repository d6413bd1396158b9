package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/tradeforge/orderd/internal/apperr"
	"github.com/tradeforge/orderd/internal/types"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			s.log.Error("encoding response", zap.Error(err))
		}
	}
}

// writeError renders the uniform error body. Overload responses additionally
// carry a Retry-After header; 5xx bodies include the correlation id so the
// caller can quote it back to operators.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.Classify(err, s.breaker.RetryAfter())
	status := e.HTTPStatus()

	if status >= 500 {
		e.WithDetail("correlationId", correlationID(r.Context()))
		s.log.Error("request failed",
			zap.String("code", string(e.Code)),
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", correlationID(r.Context())),
			zap.Error(err))
	}
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	s.metrics.RecordError(r.Context(), string(e.Code), e.StatusClass(), string(e.Severity), e.Retryable)
	s.writeJSON(w, status, e.ResponseBody())
}

// writeBatch maps an aggregate result to its status code: 200 when every
// item succeeded, 207 for mixed or all-failed-during-processing outcomes.
func (s *Server) writeBatch(w http.ResponseWriter, result *types.BatchResult) {
	status := http.StatusOK
	if result.Status != types.BatchSuccess {
		status = http.StatusMultiStatus
	}
	s.writeJSON(w, status, result)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		s.writeError(w, r, apperr.Validation("malformed request body: "+err.Error()))
		return false
	}
	return true
}
