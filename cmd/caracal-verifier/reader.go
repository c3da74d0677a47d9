package main

import (
	"context"

	"github.com/caracal-sh/caracal/internal/store"
	"github.com/caracal-sh/caracal/internal/verifier"
)

// storeEventReader adapts *store.Store to verifier.EventReader. Every
// method but BatchByID already matches signature-for-signature; BatchByID
// alone needs a conversion because internal/verifier declares its own Batch
// type rather than importing internal/ledger, keeping the read-only query
// path free of any dependency on the write path's types.
type storeEventReader struct {
	*store.Store
}

func (r storeEventReader) BatchByID(ctx context.Context, id string) (verifier.Batch, bool, error) {
	b, ok, err := r.Store.BatchByID(ctx, id)
	if err != nil || !ok {
		return verifier.Batch{}, ok, err
	}
	return verifier.Batch{
		ID:           b.ID,
		SequenceFrom: b.SequenceFrom,
		SequenceTo:   b.SequenceTo,
		RootHash:     b.RootHash,
		SignerKeyID:  b.SignerKeyID,
		Algorithm:    b.Algorithm,
		Signature:    b.Signature,
	}, true, nil
}
