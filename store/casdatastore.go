package store

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
)

// CASDataStore adapts a plain CAS into a DataStore by dropping the
// (tenant, recordId) keying CAS itself has no notion of: every blob is
// content-addressed, so the same dataCid already dedupes across tenants and
// records, the same way store/casregistry's backends are shared process-
// wide rather than instantiated per tenant. This is the DataStore used when
// cmd/dwnd is pointed at a casconfig-selected backend (a shared, possibly
// multi/replicating CAS) rather than one of the per-tenant fsstore/memstore
// pairs that already bundle their own CAS internally.
type CASDataStore struct {
	CAS CAS
}

func (d CASDataStore) Put(_ context.Context, _, _ string, dataCID cid.Cid, data []byte) error {
	got, err := d.CAS.Put(data)
	if err != nil {
		return err
	}
	if got != dataCID {
		return fmt.Errorf("store: data does not hash to declared dataCid (got %s, want %s)", got, dataCID)
	}
	return nil
}

func (d CASDataStore) Get(_ context.Context, _, _ string, dataCID cid.Cid) ([]byte, error) {
	return d.CAS.Get(dataCID)
}

// Delete is a no-op: CAS has no delete operation (entries are immutable and
// may be shared), so removing a record's reference to a blob does not
// remove the blob itself. This matches fsstore.DataStoreView's own
// association-only delete semantics, just without even the association
// bookkeeping, since CASDataStore has nowhere to keep it.
func (d CASDataStore) Delete(_ context.Context, _, _ string, _ cid.Cid) error {
	return nil
}

var _ DataStore = CASDataStore{}
