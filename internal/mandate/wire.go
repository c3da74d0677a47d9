package mandate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/caracal-sh/caracal/internal/canon"
)

// ErrMalformedToken is returned by DecodeToken for a value that is not
// base64, not valid JSON, or not in RFC 8785 canonical form.
var ErrMalformedToken = fmt.Errorf("mandate: malformed token")

// EncodeToken produces the wire-level artifact carried in the
// `Authorization: Mandate <token>` header (§6): the mandate's canonical
// JSON serialization, base64-encoded so it survives as a single HTTP
// header token.
func EncodeToken(m *Mandate) (string, error) {
	b, err := canon.Bytes(m)
	if err != nil {
		return "", fmt.Errorf("mandate: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeToken reverses EncodeToken and additionally rejects any payload
// that does not round-trip through canonicalization unchanged — a
// non-canonical mandate token was not produced by a conforming issuer and
// is rejected before any signature verification is attempted (§8: a
// canonical-serialize then deserialize round trip is the identity on
// mandates).
func DecodeToken(token string) (*Mandate, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if err := canon.VerifyWireCanonical(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	var m Mandate
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return &m, nil
}
