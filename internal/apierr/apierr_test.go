package apierr_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/caracal-sh/caracal/internal/apierr"
)

func TestWrite_ContentType(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/admin/principals", nil)
	w := httptest.NewRecorder()
	apierr.Write(w, req, http.StatusBadRequest, "Bad Request", "field is missing")

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected Content-Type 'application/problem+json', got %q", ct)
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	var problem apierr.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if problem.Status != 400 {
		t.Errorf("expected problem.status=400, got %d", problem.Status)
	}
	if problem.Detail != "field is missing" {
		t.Errorf("expected detail %q, got %q", "field is missing", problem.Detail)
	}
	if problem.Instance != "/v1/admin/principals" {
		t.Errorf("expected instance %q, got %q", "/v1/admin/principals", problem.Instance)
	}
}

func TestWrite_TraceIDFromRequestIDHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/admin/policies", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	apierr.Write(w, req, http.StatusConflict, "Conflict", "duplicate")

	var problem apierr.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if problem.TraceID != "req-123" {
		t.Errorf("expected trace_id %q, got %q", "req-123", problem.TraceID)
	}
}

func TestStatusHelpers(t *testing.T) {
	cases := []struct {
		name   string
		write  func(http.ResponseWriter, *http.Request, string)
		status int
	}{
		{"unauthorized", apierr.WriteUnauthorized, http.StatusUnauthorized},
		{"forbidden", apierr.WriteForbidden, http.StatusForbidden},
		{"too_many_requests", apierr.WriteTooManyRequests, http.StatusTooManyRequests},
		{"bad_request", apierr.WriteBadRequest, http.StatusBadRequest},
		{"not_found", apierr.WriteNotFound, http.StatusNotFound},
		{"conflict", apierr.WriteConflict, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/admin/mandates", nil)
			w := httptest.NewRecorder()
			tc.write(w, req, "detail")
			if w.Code != tc.status {
				t.Errorf("expected status %d, got %d", tc.status, w.Code)
			}
		})
	}
}

func TestWriteServiceUnavailable_NilLoggerDoesNotPanic(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	w := httptest.NewRecorder()
	apierr.WriteServiceUnavailable(w, req, nil, errors.New("pipeline emit failed"))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var problem apierr.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if problem.Detail == "pipeline emit failed" {
		t.Error("internal error details leaked to client")
	}
}

func TestProblemDetail_Error(t *testing.T) {
	p := &apierr.ProblemDetail{Title: "Forbidden", Detail: "scope_action"}
	if got, want := p.Error(), "Forbidden: scope_action"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
