package apperr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/tradeforge/orderd/internal/storage"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want int
	}{
		{"validation", Validation("bad input"), http.StatusBadRequest},
		{"too large", TooLarge("batch too big"), http.StatusRequestEntityTooLarge},
		{"not found", NotFound("no such order"), http.StatusNotFound},
		{"conflict", Conflict("stale version"), http.StatusConflict},
		{"overloaded", Overloaded("saturated", "breaker_open", 60), http.StatusServiceUnavailable},
		{"dependency", Dependency("trade service down", nil), http.StatusServiceUnavailable},
		{"runtime", Runtime("boom", nil), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTooLargeKeepsValidationCode(t *testing.T) {
	e := TooLarge("too many orders")
	if e.Code != CodeValidation {
		t.Errorf("Code = %q, want %q", e.Code, CodeValidation)
	}
	if e.StatusClass() != "4xx" {
		t.Errorf("StatusClass() = %q, want 4xx", e.StatusClass())
	}
}

func TestOverloadedCarriesRetryContract(t *testing.T) {
	e := Overloaded("server saturated", "gate_timeout", 120)
	if !e.Retryable {
		t.Error("overloaded error must be retryable")
	}
	if e.RetryAfter != 120 {
		t.Errorf("RetryAfter = %d, want 120", e.RetryAfter)
	}
	if e.Details["reason"] != "gate_timeout" {
		t.Errorf("reason detail = %v, want gate_timeout", e.Details["reason"])
	}
	body := e.ResponseBody()
	if body.RetryAfter == nil || *body.RetryAfter != 120 {
		t.Errorf("ResponseBody().RetryAfter = %v, want 120", body.RetryAfter)
	}
}

func TestResponseBodyOmitsZeroRetryAfter(t *testing.T) {
	body := Validation("missing field").ResponseBody()
	if body.RetryAfter != nil {
		t.Errorf("RetryAfter = %v, want nil for non-overload errors", body.RetryAfter)
	}
	if body.Timestamp.IsZero() {
		t.Error("Timestamp must be populated")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   Code
		wantStatus int
	}{
		{"not found sentinel", storage.ErrNotFound, CodeNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("loading order 7: %w", storage.ErrNotFound), CodeNotFound, http.StatusNotFound},
		{"version conflict", storage.ErrVersionConflict, CodeConflict, http.StatusConflict},
		{"referenced", storage.ErrReferenced, CodeConflict, http.StatusConflict},
		{"duplicate", storage.ErrDuplicate, CodeConflict, http.StatusConflict},
		{"deadline", context.DeadlineExceeded, CodeOverloaded, http.StatusServiceUnavailable},
		{"conn done", sql.ErrConnDone, CodeOverloaded, http.StatusServiceUnavailable},
		{"unknown", errors.New("surprise"), CodeRuntime, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, 60)
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.HTTPStatus() != tt.wantStatus {
				t.Errorf("HTTPStatus() = %d, want %d", got.HTTPStatus(), tt.wantStatus)
			}
		})
	}
}

func TestClassifyPassesThroughTypedErrors(t *testing.T) {
	orig := Conflict("stale version").WithDetail("expected", 3)
	got := Classify(fmt.Errorf("updating: %w", orig), 60)
	if got != orig {
		t.Error("Classify must return the wrapped *Error unchanged")
	}
}

func TestClassifyOverloadUsesProvidedRetryAfter(t *testing.T) {
	got := Classify(context.DeadlineExceeded, 90)
	if got.RetryAfter != 90 {
		t.Errorf("RetryAfter = %d, want 90", got.RetryAfter)
	}
	if got.Details["reason"] != "tx_deadline" {
		t.Errorf("reason = %v, want tx_deadline", got.Details["reason"])
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	e := Dependency("bulk submit failed", cause)
	if !errors.Is(e, cause) {
		t.Error("errors.Is must see through Dependency to the cause")
	}
}
