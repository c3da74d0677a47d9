package main

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/caracal-sh/caracal/internal/apierr"
	"github.com/caracal-sh/caracal/internal/mandate"
	"github.com/caracal-sh/caracal/internal/observability"
	"github.com/caracal-sh/caracal/internal/pipeline"
	"github.com/caracal-sh/caracal/internal/policy"
	"github.com/caracal-sh/caracal/internal/principal"
	"github.com/caracal-sh/caracal/internal/revocation"
	"github.com/caracal-sh/caracal/internal/validator"
)

// Server is C2's HTTP surface: the agent-request interception path (§6) and
// the C1 admin operations (principal/policy/mandate lifecycle) that run in
// the same process since both depend on the same identity store and signer.
type Server struct {
	Validator   *validator.Validator
	Issuer      *mandate.Issuer
	Producer    *pipeline.Producer
	Principals  principal.Store
	Policies    policy.Store
	Mandates    mandate.Store
	Revocations *revocation.Store
	Upstream    *httputil.ReverseProxy
	ValidatorID string
	Obs         *observability.Provider
	Limiter     *rate.Limiter
	Now         func() time.Time

	mux http.Handler
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ServeHTTP routes admin operations to their own handlers and everything
// else through the agent-request interception path, lazily building the
// underlying mux on first use so Server can be constructed as a plain
// struct literal.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.mux == nil {
		s.mux = s.buildMux()
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) buildMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/admin/principals", s.handleRegisterPrincipal)
	mux.HandleFunc("POST /v1/admin/principals/{id}/retire", s.handleRetirePrincipal)
	mux.HandleFunc("POST /v1/admin/policies", s.handleCreatePolicy)
	mux.HandleFunc("POST /v1/admin/mandates", s.handleIssueMandate)
	mux.HandleFunc("POST /v1/admin/mandates/{id}/revoke", s.handleRevokeMandate)
	mux.HandleFunc("/", s.rateLimited(s.handleAgentRequest))
	return otelhttp.NewHandler(mux, "caracal-gateway")
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter != nil && !s.Limiter.Allow() {
			apierr.WriteTooManyRequests(w, r, "gateway rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// handleAgentRequest implements §6's request contract: parse the mandate
// headers, run the validator, record the resulting authority event, and
// either proxy upstream (allow) or deny with the mapped status code.
func (s *Server) handleAgentRequest(w http.ResponseWriter, r *http.Request) {
	ctx, done := s.Obs.TrackValidation(r.Context())

	req, mandateID := s.parseRequest(r)
	res, err := s.Validator.Validate(ctx, req)
	if err != nil {
		s.Obs.Logger.ErrorContext(ctx, "validator internal error", "error", err)
		res = validator.Result{Decision: validator.DecisionDeny, Reason: validator.ReasonInternalError}
	}
	done(res.Decision == validator.DecisionDeny)

	evt := s.buildEvent(req, mandateID, res)
	if emitErr := s.Producer.Emit(ctx, evt); emitErr != nil {
		// The pipeline itself is unavailable: no validation result may ever
		// be lost, so a request that would otherwise be allowed is denied
		// fail-closed instead (§4.2 master rule).
		s.Obs.Logger.ErrorContext(ctx, "pipeline emit failed, denying fail-closed", "error", emitErr)
		apierr.WriteServiceUnavailable(w, r, s.Obs.Logger, emitErr)
		return
	}

	if res.Decision == validator.DecisionAllow {
		s.Upstream.ServeHTTP(w, r)
		return
	}
	s.writeDenial(w, r, res.Reason)
}

// parseRequest extracts §6's five headers into a validator.Request. A
// missing or malformed Authorization header yields a nil MandateToken,
// which Validate immediately denies as unknown_mandate.
func (s *Server) parseRequest(r *http.Request) (validator.Request, string) {
	req := validator.Request{
		PrincipalClaim: r.Header.Get("X-Caracal-Principal"),
		Action:         r.Header.Get("X-Caracal-Action"),
		Resource:       r.Header.Get("X-Caracal-Resource"),
		Nonce:          r.Header.Get("X-Caracal-Nonce"),
	}
	if ts, err := strconv.ParseInt(r.Header.Get("X-Caracal-Timestamp"), 10, 64); err == nil {
		req.Timestamp = ts
	}

	authz := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authz, "Mandate ")
	if !ok {
		return req, ""
	}
	m, err := mandate.DecodeToken(token)
	if err != nil {
		return req, ""
	}
	req.MandateToken = m
	return req, m.ID
}

func (s *Server) buildEvent(req validator.Request, mandateID string, res validator.Result) *pipeline.Event {
	kind := pipeline.KindDenied
	if res.Decision == validator.DecisionAllow {
		kind = pipeline.KindValidated
	}

	principalID := req.PrincipalClaim
	if req.MandateToken != nil {
		principalID = req.MandateToken.SubjectID
	}

	return &pipeline.Event{
		Timestamp:         s.now(),
		Kind:              kind,
		PrincipalID:       principalID,
		MandateID:         mandateID,
		Action:            req.Action,
		Resource:          req.Resource,
		Decision:          res.Decision,
		DenialReason:      res.Reason,
		DelegationChain:   res.DelegationChain,
		OriginValidatorID: s.ValidatorID,
		Nonce:             req.Nonce,
	}
}

// writeDenial maps a DenialReason to the §6 response contract: 401 for an
// invalid/missing token, 403 for scope/temporal/revocation, 429 for replay,
// 503 for anything internal — always fail-closed.
func (s *Server) writeDenial(w http.ResponseWriter, r *http.Request, reason validator.DenialReason) {
	switch reason {
	case validator.ReasonUnknownMandate, validator.ReasonSignatureInvalid, validator.ReasonUnknownPrincipal:
		apierr.WriteUnauthorized(w, r, string(reason))
	case validator.ReasonTemporalNotYetValid, validator.ReasonTemporalExpired, validator.ReasonClockSkew,
		validator.ReasonRevoked, validator.ReasonScopeAction, validator.ReasonScopeResource,
		validator.ReasonDelegationTooDeep, validator.ReasonDelegationBroken:
		apierr.WriteForbidden(w, r, string(reason))
	case validator.ReasonReplayDetected:
		apierr.WriteTooManyRequests(w, r, string(reason))
	default:
		apierr.WriteServiceUnavailable(w, r, s.Obs.Logger, nil)
	}
}

func newReverseProxy(upstream string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	originalDirector := proxy.Director
	proxy.Director = func(r *http.Request) {
		originalDirector(r)
		r.Host = target.Host
	}
	return proxy, nil
}

// emitAdminEvent records a C1 lifecycle operation (mandate issuance or
// revocation) as an authority event, the same way §3 requires every
// issued/revoked mandate to leave a durable trace in C3/C4.
func (s *Server) emitAdminEvent(ctx context.Context, kind pipeline.Kind, principalID, mandateID string) {
	evt := &pipeline.Event{
		Timestamp:         s.now(),
		Kind:              kind,
		PrincipalID:       principalID,
		MandateID:         mandateID,
		Decision:          validator.DecisionAllow,
		OriginValidatorID: s.ValidatorID,
	}
	if err := s.Producer.Emit(ctx, evt); err != nil {
		s.Obs.Logger.ErrorContext(ctx, "admin event emit failed", "error", err, "kind", kind)
	}
}
