// Package apierr writes RFC 7807 Problem Detail error responses shared by
// the gateway's request-path and admin HTTP surfaces and the verifier's
// query surface, adapted from the teacher's pkg/api.ProblemDetail/WriteError
// shape (§6 gateway response contract: 401/403/429/503, fail-closed).
package apierr

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ProblemDetail implements RFC 7807.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// Write writes an RFC 7807 Problem Detail JSON response.
func Write(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://caracal.sh/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  r.Header.Get("X-Request-ID"),
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteUnauthorized writes a 401 — missing or invalid mandate token.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteForbidden writes a 403 — scope, temporal, or revocation denial.
func WriteForbidden(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, http.StatusForbidden, "Forbidden", detail)
}

// WriteTooManyRequests writes a 429 — replay detected.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, http.StatusTooManyRequests, "Too Many Requests", detail)
}

// WriteBadRequest writes a 400 for a malformed admin request.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, http.StatusBadRequest, "Bad Request", detail)
}

// WriteNotFound writes a 404 for an unknown admin resource.
func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, http.StatusNotFound, "Not Found", detail)
}

// WriteConflict writes a 409 for an admin operation that collides with an
// existing record (duplicate name, duplicate policy version, ...).
func WriteConflict(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, http.StatusConflict, "Conflict", detail)
}

// WriteServiceUnavailable writes a 503 — internal degraded state, always
// fail-closed (§6: "503 internal degraded states (always fail-closed)").
func WriteServiceUnavailable(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if logger != nil {
		logger.ErrorContext(r.Context(), "internal error", "error", err)
	}
	Write(w, r, http.StatusServiceUnavailable, "Service Unavailable", "an internal error occurred; the request was denied")
}
