package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/caracal-sh/caracal/internal/apierr"
	"github.com/caracal-sh/caracal/internal/observability"
	"github.com/caracal-sh/caracal/internal/verifier"
)

// Server is C5's read-only HTTP query surface over the three §4.5
// operations: inclusion proof, range verification, and mandate chain trace.
type Server struct {
	Verifier *verifier.Service
	Obs      *observability.Provider

	mux http.Handler
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.mux == nil {
		s.mux = s.buildMux()
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) buildMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/events/{seq}/proof", s.handleInclusionProof)
	mux.HandleFunc("GET /v1/range/verify", s.handleVerifyRange)
	mux.HandleFunc("GET /v1/mandates/{id}/chain", s.handleChainTrace)
	return otelhttp.NewHandler(mux, "caracal-verifier")
}

func (s *Server) handleInclusionProof(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseInt(r.PathValue("seq"), 10, 64)
	if err != nil {
		apierr.WriteBadRequest(w, r, "seq must be an integer")
		return
	}

	proof, err := s.Verifier.InclusionProof(r.Context(), seq)
	switch {
	case errors.Is(err, verifier.ErrEventNotFound):
		apierr.WriteNotFound(w, r, "no event at that sequence")
		return
	case errors.Is(err, verifier.ErrEventUnbatched):
		apierr.WriteConflict(w, r, "event exists but is not yet sealed into a batch")
		return
	case err != nil:
		apierr.WriteServiceUnavailable(w, r, s.Obs.Logger, err)
		return
	}

	writeJSON(w, http.StatusOK, proof)
}

func (s *Server) handleVerifyRange(w http.ResponseWriter, r *http.Request) {
	from, err := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	if err != nil {
		apierr.WriteBadRequest(w, r, "from must be an integer")
		return
	}
	to, err := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
	if err != nil {
		apierr.WriteBadRequest(w, r, "to must be an integer")
		return
	}

	result, err := s.Verifier.VerifyRange(r.Context(), from, to)
	if err != nil {
		apierr.WriteServiceUnavailable(w, r, s.Obs.Logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChainTrace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	chain, err := s.Verifier.ChainTrace(r.Context(), id)
	if err != nil {
		apierr.WriteNotFound(w, r, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, chain)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
