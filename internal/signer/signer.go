// Package signer provides the tagged-variant signing abstraction used by
// principals (mandate issuance signatures) and the ledger writer (Merkle
// root signatures). Per the design notes, dynamic dispatch over signing
// backends is replaced with a small, closed set of tagged variants selected
// at startup: software Ed25519 keys (in memory or file-backed) or software
// ECDSA P-256 keys. There is no HSM-backed variant. No reflection, no
// registered plugins.
package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
)

// Algorithm identifies the signature scheme, recorded with every mandate
// and Merkle batch so verification knows which curve to use.
type Algorithm string

const (
	AlgorithmEd25519   Algorithm = "ed25519"
	AlgorithmECDSAP256 Algorithm = "ecdsa-p256"
)

// KeyID identifies a specific key version for rotation bookkeeping.
// Old batches and mandates retain the KeyID they were signed with; rotation
// only changes which KeyID newly-minted signatures use.
type KeyID string

// PublicKey is an opaque, algorithm-tagged public key suitable for storage
// and later verification lookup.
type PublicKey struct {
	Algorithm Algorithm
	KeyID     KeyID
	Raw       []byte // Ed25519: 32-byte raw key. ECDSA: PKIX (SubjectPublicKeyInfo) DER via x509.MarshalPKIXPublicKey.
}

// Signer produces signatures over pre-canonicalized byte strings. Callers
// are responsible for canonicalizing (internal/canon) before calling Sign;
// the signer never re-derives canonical form, keeping the signature
// boundary a pure crypto operation.
type Signer interface {
	// Sign signs the given canonical bytes and returns the signature plus
	// the KeyID used, so callers can persist both alongside the signed
	// object.
	Sign(ctx context.Context, canonicalBytes []byte) (sig []byte, keyID KeyID, alg Algorithm, err error)

	// Verify checks a signature produced by a (possibly now-rotated-away)
	// key identified by keyID.
	Verify(ctx context.Context, canonicalBytes, sig []byte, keyID KeyID) error

	// Rotate generates a new active key, returning its id. Previously
	// issued signatures under earlier key ids remain verifiable.
	Rotate(ctx context.Context) (KeyID, error)

	// ActiveKeyID returns the id of the key currently used for new
	// signatures.
	ActiveKeyID() KeyID

	// PublicKeys returns all known public keys, active and retired, for
	// persistence into the signing_keys table (§6).
	PublicKeys() []PublicKey
}

// ErrUnknownKey is returned when a KeyID has no corresponding key material,
// either because it was never generated by this Signer or because it was
// permanently purged (not merely rotated away — rotation never purges).
var ErrUnknownKey = fmt.Errorf("signer: unknown key id")

func newKeyID(pub []byte) KeyID {
	sum := sha256.Sum256(pub)
	return KeyID(fmt.Sprintf("k-%x", sum[:8]))
}

func marshalECDSAPublic(pub *ecdsa.PublicKey) ([]byte, error) {
	b, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("signer: marshal ecdsa public key: %w", err)
	}
	return b, nil
}

func parseECDSAPublic(raw []byte) (*ecdsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("signer: parse ecdsa public key: %w", err)
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("signer: key is not ecdsa")
	}
	if ecdsaPub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("signer: unsupported curve %s", ecdsaPub.Curve.Params().Name)
	}
	return ecdsaPub, nil
}

func newEd25519Pair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("signer: generate ed25519 key: %w", err)
	}
	return pub, priv, nil
}

func newECDSAPair() (*ecdsa.PrivateKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signer: generate ecdsa key: %w", err)
	}
	return priv, nil
}
