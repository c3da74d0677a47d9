package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// InMemory is the software-key tagged variant: keys generated and held in
// process memory only. Grounded on the teacher's pkg/identity.KeySet
// rotation bookkeeping (map of kid -> key, a currentKID pointer) but
// generalized to Ed25519 and ECDSA P-256 and to signing arbitrary canonical
// bytes rather than JWT claims.
type InMemory struct {
	mu        sync.RWMutex
	algorithm Algorithm
	active    KeyID

	ed25519Priv map[KeyID]ed25519.PrivateKey
	ed25519Pub  map[KeyID]ed25519.PublicKey
	ecdsaPriv   map[KeyID]*ecdsa.PrivateKey
	ecdsaPub    map[KeyID]*ecdsa.PublicKey
}

// NewInMemory creates a software KeySet for the given algorithm and
// generates its first key.
func NewInMemory(alg Algorithm) (*InMemory, error) {
	ks := &InMemory{
		algorithm:   alg,
		ed25519Priv: make(map[KeyID]ed25519.PrivateKey),
		ed25519Pub:  make(map[KeyID]ed25519.PublicKey),
		ecdsaPriv:   make(map[KeyID]*ecdsa.PrivateKey),
		ecdsaPub:    make(map[KeyID]*ecdsa.PublicKey),
	}
	if _, err := ks.Rotate(context.Background()); err != nil {
		return nil, err
	}
	return ks, nil
}

func (ks *InMemory) Rotate(ctx context.Context) (KeyID, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	switch ks.algorithm {
	case AlgorithmEd25519:
		pub, priv, err := newEd25519Pair()
		if err != nil {
			return "", err
		}
		kid := newKeyID(pub)
		ks.ed25519Priv[kid] = priv
		ks.ed25519Pub[kid] = pub
		ks.active = kid
		return kid, nil
	case AlgorithmECDSAP256:
		priv, err := newECDSAPair()
		if err != nil {
			return "", err
		}
		pubBytes, err := marshalECDSAPublic(&priv.PublicKey)
		if err != nil {
			return "", err
		}
		kid := newKeyID(pubBytes)
		ks.ecdsaPriv[kid] = priv
		ks.ecdsaPub[kid] = &priv.PublicKey
		ks.active = kid
		return kid, nil
	default:
		return "", fmt.Errorf("signer: unsupported algorithm %q", ks.algorithm)
	}
}

func (ks *InMemory) ActiveKeyID() KeyID {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.active
}

func (ks *InMemory) Sign(ctx context.Context, canonicalBytes []byte) ([]byte, KeyID, Algorithm, error) {
	ks.mu.RLock()
	kid := ks.active
	alg := ks.algorithm
	ks.mu.RUnlock()

	switch alg {
	case AlgorithmEd25519:
		ks.mu.RLock()
		priv := ks.ed25519Priv[kid]
		ks.mu.RUnlock()
		if priv == nil {
			return nil, "", "", ErrUnknownKey
		}
		sig := ed25519.Sign(priv, canonicalBytes)
		return sig, kid, alg, nil
	case AlgorithmECDSAP256:
		ks.mu.RLock()
		priv := ks.ecdsaPriv[kid]
		ks.mu.RUnlock()
		if priv == nil {
			return nil, "", "", ErrUnknownKey
		}
		digest := sha256.Sum256(canonicalBytes)
		sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
		if err != nil {
			return nil, "", "", fmt.Errorf("signer: ecdsa sign: %w", err)
		}
		return sig, kid, alg, nil
	default:
		return nil, "", "", fmt.Errorf("signer: unsupported algorithm %q", alg)
	}
}

func (ks *InMemory) Verify(ctx context.Context, canonicalBytes, sig []byte, keyID KeyID) error {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if pub, ok := ks.ed25519Pub[keyID]; ok {
		if !ed25519.Verify(pub, canonicalBytes, sig) {
			return fmt.Errorf("signer: ed25519 signature invalid")
		}
		return nil
	}
	if pub, ok := ks.ecdsaPub[keyID]; ok {
		digest := sha256.Sum256(canonicalBytes)
		if !ecdsa.VerifyASN1(pub, digest[:], sig) {
			return fmt.Errorf("signer: ecdsa signature invalid")
		}
		return nil
	}
	return ErrUnknownKey
}

func (ks *InMemory) PublicKeys() []PublicKey {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	out := make([]PublicKey, 0, len(ks.ed25519Pub)+len(ks.ecdsaPub))
	for kid, pub := range ks.ed25519Pub {
		out = append(out, PublicKey{Algorithm: AlgorithmEd25519, KeyID: kid, Raw: append([]byte(nil), pub...)})
	}
	for kid, pub := range ks.ecdsaPub {
		raw, err := marshalECDSAPublic(pub)
		if err != nil {
			continue
		}
		out = append(out, PublicKey{Algorithm: AlgorithmECDSAP256, KeyID: kid, Raw: raw})
	}
	return out
}

// VerifyExternalEd25519JWT verifies an upstream SSO/service-identity bearer
// token establishing the caller's principal claim before the mandate token
// itself is parsed (§11 domain stack: golang-jwt is reserved for this outer
// transport identity, never for the mandate payload itself). keyFunc
// resolves "kid" header claims to an ed25519.PublicKey, mirroring the
// teacher's identity.KeySet.KeyFunc contract.
func VerifyExternalEd25519JWT(token string, keyFunc jwt.Keyfunc) (*jwt.Token, error) {
	parsed, err := jwt.Parse(token, keyFunc, jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil {
		return nil, fmt.Errorf("signer: external jwt invalid: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("signer: external jwt rejected")
	}
	return parsed, nil
}
