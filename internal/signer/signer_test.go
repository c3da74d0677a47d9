package signer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemoryEd25519SignVerifyRoundTrip(t *testing.T) {
	ks, err := NewInMemory(AlgorithmEd25519)
	require.NoError(t, err)

	msg := []byte(`{"a":1,"b":2}`)
	sig, kid, alg, err := ks.Sign(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, AlgorithmEd25519, alg)

	require.NoError(t, ks.Verify(context.Background(), msg, sig, kid))
}

func TestInMemoryECDSASignVerifyRoundTrip(t *testing.T) {
	ks, err := NewInMemory(AlgorithmECDSAP256)
	require.NoError(t, err)

	msg := []byte(`{"a":1}`)
	sig, kid, _, err := ks.Sign(context.Background(), msg)
	require.NoError(t, err)
	require.NoError(t, ks.Verify(context.Background(), msg, sig, kid))
}

func TestInMemoryMutatedBytesFailVerification(t *testing.T) {
	ks, err := NewInMemory(AlgorithmEd25519)
	require.NoError(t, err)

	msg := []byte(`{"a":1}`)
	sig, kid, _, err := ks.Sign(context.Background(), msg)
	require.NoError(t, err)

	tampered := []byte(`{"a":2}`)
	require.Error(t, ks.Verify(context.Background(), tampered, sig, kid))
}

func TestInMemoryRotationKeepsOldKeyVerifiable(t *testing.T) {
	ks, err := NewInMemory(AlgorithmEd25519)
	require.NoError(t, err)

	msg := []byte(`{"a":1}`)
	sig, oldKID, _, err := ks.Sign(context.Background(), msg)
	require.NoError(t, err)

	newKID, err := ks.Rotate(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, oldKID, newKID)
	require.Equal(t, newKID, ks.ActiveKeyID())

	// Signature under the retired key must still verify.
	require.NoError(t, ks.Verify(context.Background(), msg, sig, oldKID))
}

func TestFileKeySetPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keystore.json")

	ks1, err := NewFileKeySet(path)
	require.NoError(t, err)
	msg := []byte(`{"x":1}`)
	sig, kid, _, err := ks1.Sign(context.Background(), msg)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	ks2, err := NewFileKeySet(path)
	require.NoError(t, err)
	require.NoError(t, ks2.Verify(context.Background(), msg, sig, kid))
	require.Equal(t, ks1.ActiveKeyID(), ks2.ActiveKeyID())
}

func TestFileKeySetPassphraseWrappedPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keystore.json")

	t.Setenv(keystorePassphraseEnv, "correct horse battery staple")

	ks1, err := NewFileKeySet(path)
	require.NoError(t, err)
	msg := []byte(`{"x":1}`)
	sig, kid, _, err := ks1.Sign(context.Background(), msg)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), string(ks1.priv[kid]), "private key must not appear unwrapped on disk")

	ks2, err := NewFileKeySet(path)
	require.NoError(t, err)
	require.NoError(t, ks2.Verify(context.Background(), msg, sig, kid))
}

func TestFileKeySetPassphraseWrappedRejectsWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keystore.json")

	t.Setenv(keystorePassphraseEnv, "correct horse battery staple")
	_, err := NewFileKeySet(path)
	require.NoError(t, err)

	t.Setenv(keystorePassphraseEnv, "wrong passphrase")
	_, err = NewFileKeySet(path)
	require.Error(t, err)
}

func TestUnknownKeyIDFailsVerification(t *testing.T) {
	ks, err := NewInMemory(AlgorithmEd25519)
	require.NoError(t, err)
	err = ks.Verify(context.Background(), []byte("x"), []byte("sig"), KeyID("nonexistent"))
	require.ErrorIs(t, err, ErrUnknownKey)
}
