//go:build property
// +build property

package merkle_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/caracal-sh/caracal/internal/merkle"
)

// Property: tree construction is deterministic — Build(leaves) produces
// the same root every time for the same leaf slice (§4.3's batch root
// must be reproducible from the same event hashes).
func TestBuildRootDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Merkle root is deterministic for a fixed leaf set", prop.ForAll(
		func(leaves []string) bool {
			nonEmpty := make([]string, 0, len(leaves))
			for _, l := range leaves {
				if l != "" {
					nonEmpty = append(nonEmpty, l)
				}
			}
			if len(nonEmpty) == 0 {
				return true
			}

			t1, err1 := merkle.Build(nonEmpty)
			t2, err2 := merkle.Build(nonEmpty)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return t1.Root == t2.Root
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// Property: every leaf's inclusion proof verifies against the tree's root.
func TestEveryLeafProofVerifies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("every inclusion proof verifies", prop.ForAll(
		func(leaves []string) bool {
			nonEmpty := make([]string, 0, len(leaves))
			for _, l := range leaves {
				if l != "" {
					nonEmpty = append(nonEmpty, l)
				}
			}
			if len(nonEmpty) == 0 {
				return true
			}

			tree, err := merkle.Build(nonEmpty)
			if err != nil {
				return true
			}

			for i := range nonEmpty {
				proof, err := tree.Prove(i)
				if err != nil {
					return false
				}
				if !merkle.Verify(proof, tree.Root) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
