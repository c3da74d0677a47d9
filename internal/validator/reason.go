// Package validator implements C2's strict, fail-closed mandate validation
// sequence (§4.2) as a synchronous function over task-local context, per
// §9's design note rejecting a universal async runtime for the validator
// path. Grounded on the teacher's pkg/pdp.PolicyDecisionPoint fail-closed
// Evaluate contract and the other_examples capability Token's fail-closed
// Verify semantics.
package validator

// DenialReason is the closed error taxonomy of §7 — surfaced in events and
// gateway responses, never an internal Go error type.
type DenialReason string

const (
	ReasonSignatureInvalid    DenialReason = "signature_invalid"
	ReasonTemporalNotYetValid DenialReason = "temporal_not_yet_valid"
	ReasonTemporalExpired     DenialReason = "temporal_expired"
	ReasonClockSkew           DenialReason = "clock_skew"
	ReasonReplayDetected      DenialReason = "replay_detected"
	ReasonRevoked             DenialReason = "revoked"
	ReasonScopeAction         DenialReason = "scope_action"
	ReasonScopeResource       DenialReason = "scope_resource"
	ReasonDelegationTooDeep   DenialReason = "delegation_too_deep"
	ReasonDelegationBroken    DenialReason = "delegation_broken"
	ReasonUnknownPrincipal    DenialReason = "unknown_principal"
	ReasonUnknownMandate      DenialReason = "unknown_mandate"
	ReasonInternalError       DenialReason = "internal_error"
	ReasonNone                DenialReason = ""
)

// Decision is the outcome of validation: allow, or deny with a reason.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)
