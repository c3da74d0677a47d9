package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Masterminds/semver/v3"

	"github.com/caracal-sh/caracal/internal/apierr"
	"github.com/caracal-sh/caracal/internal/mandate"
	"github.com/caracal-sh/caracal/internal/pipeline"
	"github.com/caracal-sh/caracal/internal/policy"
	"github.com/caracal-sh/caracal/internal/principal"
)

// patternInput is the wire shape for a resource/action pattern in an admin
// request body — mirrors internal/store's unexported policyRow, redeclared
// here since that type isn't exported across package boundaries.
type patternInput struct {
	Kind policy.PatternKind `json:"kind"`
	Raw  string             `json:"raw"`
}

func compilePatterns(inputs []patternInput) ([]policy.Pattern, error) {
	out := make([]policy.Pattern, len(inputs))
	for i, in := range inputs {
		p, err := policy.Compile(in.Kind, in.Raw)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

type registerPrincipalRequest struct {
	ID              string            `json:"id"`
	Workspace       string            `json:"workspace"`
	Name            string            `json:"name"`
	Owner           string            `json:"owner"`
	ParentID        string            `json:"parent_id"`
	Kind            principal.Kind    `json:"kind"`
	Metadata        map[string]string `json:"metadata"`
	PublicKeyBase64 string            `json:"public_key_base64"`
}

func (s *Server) handleRegisterPrincipal(w http.ResponseWriter, r *http.Request) {
	var req registerPrincipalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteBadRequest(w, r, "malformed request body")
		return
	}

	var pub []byte
	if req.PublicKeyBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.PublicKeyBase64)
		if err != nil {
			apierr.WriteBadRequest(w, r, "public_key_base64 is not valid base64")
			return
		}
		pub = decoded
	}

	p := principal.Principal{
		ID:        req.ID,
		Workspace: req.Workspace,
		Name:      req.Name,
		Owner:     req.Owner,
		ParentID:  req.ParentID,
		Kind:      req.Kind,
		Metadata:  req.Metadata,
		PublicKey: pub,
		CreatedAt: s.now(),
	}

	if err := s.Principals.Register(p); err != nil {
		if errors.Is(err, principal.ErrDuplicateName) {
			apierr.WriteConflict(w, r, err.Error())
			return
		}
		if errors.Is(err, principal.ErrUnknownParent) {
			apierr.WriteBadRequest(w, r, err.Error())
			return
		}
		apierr.WriteServiceUnavailable(w, r, s.Obs.Logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(p)
}

func (s *Server) handleRetirePrincipal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Principals.Retire(id, s.now()); err != nil {
		if errors.Is(err, principal.ErrUnknownPrincipal) {
			apierr.WriteNotFound(w, r, err.Error())
			return
		}
		apierr.WriteServiceUnavailable(w, r, s.Obs.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createPolicyRequest struct {
	ID                 string         `json:"id"`
	PrincipalID        string         `json:"principal_id"`
	Version            int            `json:"version"`
	Resources          []patternInput `json:"resources"`
	Actions            []patternInput `json:"actions"`
	MaxValiditySeconds int64          `json:"max_validity_seconds"`
	MaxDelegationDepth int            `json:"max_delegation_depth"`
	ChangeReason       string         `json:"change_reason"`
	IntentSchema       string         `json:"intent_schema"`
	SemVer             string         `json:"semver"`
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteBadRequest(w, r, "malformed request body")
		return
	}

	resources, err := compilePatterns(req.Resources)
	if err != nil {
		apierr.WriteBadRequest(w, r, "invalid resource pattern: "+err.Error())
		return
	}
	actions, err := compilePatterns(req.Actions)
	if err != nil {
		apierr.WriteBadRequest(w, r, "invalid action pattern: "+err.Error())
		return
	}
	if err := policy.ValidateIntentSchema(req.IntentSchema); err != nil {
		apierr.WriteBadRequest(w, r, "invalid intent_schema: "+err.Error())
		return
	}
	if req.SemVer != "" {
		if _, err := semver.NewVersion(req.SemVer); err != nil {
			apierr.WriteBadRequest(w, r, "invalid semver: "+err.Error())
			return
		}
	}

	pol := policy.Policy{
		ID:                 req.ID,
		PrincipalID:        req.PrincipalID,
		Version:            req.Version,
		Resources:          resources,
		Actions:            actions,
		MaxValiditySeconds: req.MaxValiditySeconds,
		MaxDelegationDepth: req.MaxDelegationDepth,
		ChangeReason:       req.ChangeReason,
		EffectiveFrom:      s.now(),
		IntentSchema:       req.IntentSchema,
		SemVer:             req.SemVer,
	}

	if err := s.Policies.CreateOrUpdate(req.PrincipalID, pol); err != nil {
		apierr.WriteConflict(w, r, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(pol)
}

type issueMandateRequest struct {
	IssuerID      string         `json:"issuer_id"`
	SubjectID     string         `json:"subject_id"`
	ResourceScope []patternInput `json:"resource_scope"`
	ActionScope   []patternInput `json:"action_scope"`
	ValidFrom     int64          `json:"valid_from"`
	ValidUntil    int64          `json:"valid_until"`
	ParentID      string         `json:"parent_id"`
	Intent        map[string]any `json:"intent"`
}

type issueMandateResponse struct {
	Mandate *mandate.Mandate `json:"mandate"`
	Token   string           `json:"token"`
}

func (s *Server) handleIssueMandate(w http.ResponseWriter, r *http.Request) {
	var req issueMandateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteBadRequest(w, r, "malformed request body")
		return
	}

	resourceScope, err := compilePatterns(req.ResourceScope)
	if err != nil {
		apierr.WriteBadRequest(w, r, "invalid resource_scope pattern: "+err.Error())
		return
	}
	actionScope, err := compilePatterns(req.ActionScope)
	if err != nil {
		apierr.WriteBadRequest(w, r, "invalid action_scope pattern: "+err.Error())
		return
	}

	issueReq := mandate.Request{
		IssuerID:      req.IssuerID,
		SubjectID:     req.SubjectID,
		ResourceScope: resourceScope,
		ActionScope:   actionScope,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
		Intent:        req.Intent,
	}
	if req.ParentID != "" {
		parent, err := s.Mandates.Get(req.ParentID)
		if err != nil {
			apierr.WriteBadRequest(w, r, "unknown parent mandate: "+req.ParentID)
			return
		}
		issueReq.Parent = parent
	}

	ctx := r.Context()
	m, err := s.Issuer.Issue(ctx, issueReq)
	if err != nil {
		apierr.WriteBadRequest(w, r, err.Error())
		return
	}
	if err := s.Mandates.Put(ctx, m); err != nil {
		apierr.WriteServiceUnavailable(w, r, s.Obs.Logger, err)
		return
	}
	s.emitAdminEvent(ctx, pipeline.KindIssued, m.SubjectID, m.ID)

	token, err := mandate.EncodeToken(m)
	if err != nil {
		apierr.WriteServiceUnavailable(w, r, s.Obs.Logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(issueMandateResponse{Mandate: m, Token: token})
}

type revokeMandateRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRevokeMandate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req revokeMandateRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // reason is optional

	m, err := s.Mandates.Get(id)
	if err != nil {
		apierr.WriteNotFound(w, r, "unknown mandate: "+id)
		return
	}

	if err := s.Revocations.Revoke(id, s.now(), req.Reason); err != nil {
		apierr.WriteBadRequest(w, r, err.Error())
		return
	}
	s.emitAdminEvent(r.Context(), pipeline.KindRevoked, m.SubjectID, id)

	w.WriteHeader(http.StatusNoContent)
}
