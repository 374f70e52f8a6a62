package fsstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"xdao.co/dwncore/store"
)

// DataStoreView adapts Store to store.DataStore. It is a distinct type for
// the same reason memstore.DataStoreView is: DataStore's Put/Get/Delete
// method names would otherwise collide with MessageStore's on Store itself.
//
// Blobs are content-addressed via store/localfs.CAS, one CAS per tenant;
// CAS alone has no notion of which record a blob belongs to, so a small
// per-(tenant, recordId, dataCid) marker file records that association on
// top of it. Deleting the association does not remove the underlying blob,
// since a CAS entry may still be referenced by another record's dataCid.
type DataStoreView struct{ *Store }

func (d DataStoreView) assocPath(tenant, recordID string, dataCID cid.Cid) string {
	return filepath.Join(d.assocDir(tenant, recordID), dataCID.String())
}

func (d DataStoreView) Put(_ context.Context, tenant, recordID string, dataCID cid.Cid, data []byte) error {
	cas, err := d.casFor(tenant)
	if err != nil {
		return err
	}
	got, err := cas.Put(data)
	if err != nil {
		return err
	}
	if got != dataCID {
		return fmt.Errorf("fsstore: data does not hash to declared dataCid (got %s, want %s)", got, dataCID)
	}
	return writeFileAtomic(d.assocPath(tenant, recordID, dataCID), nil, 0o644)
}

func (d DataStoreView) Get(_ context.Context, tenant, recordID string, dataCID cid.Cid) ([]byte, error) {
	if _, err := os.Stat(d.assocPath(tenant, recordID, dataCID)); err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	cas, err := d.casFor(tenant)
	if err != nil {
		return nil, err
	}
	return cas.Get(dataCID)
}

func (d DataStoreView) Delete(_ context.Context, tenant, recordID string, dataCID cid.Cid) error {
	err := os.Remove(d.assocPath(tenant, recordID, dataCID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

var _ store.DataStore = DataStoreView{}
