// Package archival is C4/C5's cold-storage sink for sealed Merkle batches
// (§11: "C4 writes a batch's proof bundle to object storage after sealing;
// C5 can serve range-verification reads from archived batches older than
// the live retention window"). The GCS/S3 split is grounded on the
// teacher's pkg/artifacts S3Store/GCSStore tagged-variant pair, adapted
// from content-addressed blob storage to batch-ID-addressed proof bundles.
package archival

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/caracal-sh/caracal/internal/ledger"
)

// Bundle is the self-contained, offline-verifiable export of one sealed
// batch (§12 "Evidence export": "a directory of {batch root, signature,
// leaf hashes, proofs} that can be verified without any running Caracal
// service").
type Bundle struct {
	Batch      ledger.Batch `json:"batch"`
	LeafHashes []string     `json:"leaf_hashes"` // event hashes, in sequence order
}

// Sink is the tagged-variant cold-storage surface (§9): GCS or S3, selected
// at startup, never via reflection.
type Sink interface {
	// PutBundle persists a sealed batch's bundle, keyed by batch id.
	PutBundle(ctx context.Context, bundle Bundle) error
	// GetBundle retrieves a previously archived bundle by batch id.
	GetBundle(ctx context.Context, batchID string) (Bundle, error)
	// Exists reports whether a bundle for batchID has been archived.
	Exists(ctx context.Context, batchID string) (bool, error)
}

func bundleKey(prefix, batchID string) string {
	return prefix + batchID + ".json"
}

func marshalBundle(b Bundle) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("archival: marshal bundle %s: %w", b.Batch.ID, err)
	}
	return data, nil
}

func unmarshalBundle(data []byte) (Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("archival: unmarshal bundle: %w", err)
	}
	return b, nil
}
