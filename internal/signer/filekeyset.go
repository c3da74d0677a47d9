package signer

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// keystorePassphraseEnv names the environment variable holding an optional
// passphrase that wraps every private key written to the keystore file at
// rest. Unset (the default for local/dev use and tests) leaves keys stored
// as plain base64, matching the teacher's KMS's own "no wrapping key
// configured" fallback.
const keystorePassphraseEnv = "CARACAL_KEYSTORE_PASSPHRASE"

// deriveKeystoreKey expands an operator passphrase and a per-keystore
// random salt into a 32-byte AES-256 key via HKDF-SHA256, so the same
// passphrase never reuses a key across two different keystore files.
func deriveKeystoreKey(passphrase string, salt []byte) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(passphrase), salt, []byte("caracal-keystore-wrap-v1"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("signer: derive keystore wrapping key: %w", err)
	}
	return key, nil
}

// wrapKey encrypts raw key material with AES-256-GCM under a key derived
// via deriveKeystoreKey, the same AEAD construction the teacher's KMS uses
// for credential blobs.
func wrapKey(passphrase string, salt, plaintext []byte) ([]byte, error) {
	key, err := deriveKeystoreKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("signer: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("signer: gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("signer: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func unwrapKey(passphrase string, salt, ciphertext []byte) ([]byte, error) {
	key, err := deriveKeystoreKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("signer: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("signer: gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("signer: ciphertext too short")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}

// FileKeySet is a file-backed Ed25519 KeySet with a versioned on-disk
// keystore. Grounded on the teacher's pkg/kms.LocalKMS: JSON keystore file,
// 0600 permissions, active-version pointer, decode-all-on-load. Unlike the
// teacher's KMS (which exists to encrypt/decrypt credential blobs), this
// variant signs and verifies rather than encrypting, but keeps the same
// persistence shape so operators administer both with the same mental
// model.
type FileKeySet struct {
	mu     sync.RWMutex
	path   string
	store  fileKeystore
	active KeyID
	priv   map[KeyID]ed25519.PrivateKey
	pub    map[KeyID]ed25519.PublicKey
}

type fileKeystore struct {
	ActiveKeyID string            `json:"active_key_id"`
	Keys        map[string]string `json:"keys"` // kid -> base64(seed||pub), or base64(AES-GCM seal) if Salt is set
	Salt        string            `json:"salt,omitempty"`
}

// NewFileKeySet loads or creates a keystore at path.
func NewFileKeySet(path string) (*FileKeySet, error) {
	ks := &FileKeySet{
		path: path,
		priv: make(map[KeyID]ed25519.PrivateKey),
		pub:  make(map[KeyID]ed25519.PublicKey),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("signer: create keystore dir: %w", err)
		}
		if _, err := ks.Rotate(context.Background()); err != nil {
			return nil, err
		}
		return ks, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: read keystore: %w", err)
	}
	if err := json.Unmarshal(data, &ks.store); err != nil {
		return nil, fmt.Errorf("signer: parse keystore: %w", err)
	}
	passphrase := os.Getenv(keystorePassphraseEnv)
	var salt []byte
	if ks.store.Salt != "" {
		salt, err = base64.StdEncoding.DecodeString(ks.store.Salt)
		if err != nil {
			return nil, fmt.Errorf("signer: decode keystore salt: %w", err)
		}
	}

	for kidStr, encoded := range ks.store.Keys {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("signer: decode key %s: %w", kidStr, err)
		}
		if salt != nil {
			raw, err = unwrapKey(passphrase, salt, raw)
			if err != nil {
				return nil, fmt.Errorf("signer: unwrap key %s: %w", kidStr, err)
			}
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("signer: key %s has invalid length %d", kidStr, len(raw))
		}
		priv := ed25519.PrivateKey(raw)
		kid := KeyID(kidStr)
		ks.priv[kid] = priv
		ks.pub[kid] = priv.Public().(ed25519.PublicKey)
	}
	ks.active = KeyID(ks.store.ActiveKeyID)
	if _, ok := ks.priv[ks.active]; !ok {
		return nil, fmt.Errorf("signer: active key %s not present in keystore", ks.active)
	}
	return ks, nil
}

func (ks *FileKeySet) Rotate(ctx context.Context) (KeyID, error) {
	pub, priv, err := newEd25519Pair()
	if err != nil {
		return "", err
	}
	kid := newKeyID(pub)

	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.priv[kid] = priv
	ks.pub[kid] = pub
	ks.active = kid

	if ks.store.Keys == nil {
		ks.store.Keys = make(map[string]string)
	}

	raw := []byte(priv)
	passphrase := os.Getenv(keystorePassphraseEnv)
	if passphrase != "" {
		if ks.store.Salt == "" {
			salt := make([]byte, 16)
			if _, err := io.ReadFull(rand.Reader, salt); err != nil {
				return "", fmt.Errorf("signer: generate keystore salt: %w", err)
			}
			ks.store.Salt = base64.StdEncoding.EncodeToString(salt)
		}
		salt, err := base64.StdEncoding.DecodeString(ks.store.Salt)
		if err != nil {
			return "", fmt.Errorf("signer: decode keystore salt: %w", err)
		}
		raw, err = wrapKey(passphrase, salt, raw)
		if err != nil {
			return "", fmt.Errorf("signer: wrap key %s: %w", kid, err)
		}
	}
	ks.store.Keys[string(kid)] = base64.StdEncoding.EncodeToString(raw)
	ks.store.ActiveKeyID = string(kid)

	if err := ks.persistLocked(); err != nil {
		return "", err
	}
	return kid, nil
}

func (ks *FileKeySet) ActiveKeyID() KeyID {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.active
}

func (ks *FileKeySet) Sign(ctx context.Context, canonicalBytes []byte) ([]byte, KeyID, Algorithm, error) {
	ks.mu.RLock()
	kid := ks.active
	priv := ks.priv[kid]
	ks.mu.RUnlock()
	if priv == nil {
		return nil, "", "", ErrUnknownKey
	}
	return ed25519.Sign(priv, canonicalBytes), kid, AlgorithmEd25519, nil
}

func (ks *FileKeySet) Verify(ctx context.Context, canonicalBytes, sig []byte, keyID KeyID) error {
	ks.mu.RLock()
	pub, ok := ks.pub[keyID]
	ks.mu.RUnlock()
	if !ok {
		return ErrUnknownKey
	}
	if !ed25519.Verify(pub, canonicalBytes, sig) {
		return fmt.Errorf("signer: ed25519 signature invalid")
	}
	return nil
}

func (ks *FileKeySet) PublicKeys() []PublicKey {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	out := make([]PublicKey, 0, len(ks.pub))
	for kid, pub := range ks.pub {
		out = append(out, PublicKey{Algorithm: AlgorithmEd25519, KeyID: kid, Raw: append([]byte(nil), pub...)})
	}
	return out
}

func (ks *FileKeySet) persistLocked() error {
	data, err := json.MarshalIndent(ks.store, "", "  ")
	if err != nil {
		return fmt.Errorf("signer: marshal keystore: %w", err)
	}
	if err := os.WriteFile(ks.path, data, 0o600); err != nil {
		return fmt.Errorf("signer: write keystore: %w", err)
	}
	return nil
}
