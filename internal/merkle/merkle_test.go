package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func leafHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestSingleLeafRootIsLeafHash(t *testing.T) {
	leaf := leafHash("only-event")
	tree, err := Build([]string{leaf})
	require.NoError(t, err)
	require.Equal(t, leaf, tree.Root)
}

func TestEmptyBatchNeverSeals(t *testing.T) {
	_, err := Build(nil)
	require.ErrorIs(t, err, ErrEmptyBatch)
}

func TestOddWidthDuplicatesLastNode(t *testing.T) {
	leaves := []string{leafHash("a"), leafHash("b"), leafHash("c")}
	tree, err := Build(leaves)
	require.NoError(t, err)

	expectedTop := nodeHash(leaves[2], leaves[2])
	expectedRoot := nodeHash(nodeHash(leaves[0], leaves[1]), expectedTop)
	require.Equal(t, expectedRoot, tree.Root)
}

func TestNodeHashHasNoDomainSeparationPrefix(t *testing.T) {
	left, right := leafHash("a"), leafHash("b")
	l, _ := hex.DecodeString(left)
	r, _ := hex.DecodeString(right)
	want := sha256.Sum256(append(append([]byte(nil), l...), r...))
	require.Equal(t, hex.EncodeToString(want[:]), nodeHash(left, right))
}

func TestInclusionProofRoundTripsForEveryLeaf(t *testing.T) {
	leaves := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		leaves = append(leaves, leafHash(string(rune('a'+i))))
	}
	tree, err := Build(leaves)
	require.NoError(t, err)

	for i := range leaves {
		proof, err := tree.Prove(i)
		require.NoError(t, err)
		require.True(t, Verify(proof, tree.Root), "leaf %d should verify", i)
	}
}

func TestTamperedLeafFailsVerification(t *testing.T) {
	leaves := []string{leafHash("a"), leafHash("b"), leafHash("c"), leafHash("d")}
	tree, err := Build(leaves)
	require.NoError(t, err)

	proof, err := tree.Prove(2)
	require.NoError(t, err)
	proof.LeafHash = leafHash("tampered")
	require.False(t, Verify(proof, tree.Root))
}

func TestProveOutOfRangeIndex(t *testing.T) {
	tree, err := Build([]string{leafHash("a")})
	require.NoError(t, err)
	_, err = tree.Prove(5)
	require.ErrorIs(t, err, ErrLeafIndexOutOfRange)
}
