// Package fsstore is a filesystem-backed MessageStore/DataStore/EventLog,
// grounded on store/localfs's plain-file, fsync-before-return discipline.
// Unlike memstore it survives process restarts: cursors into the Event Log
// remain valid because CID insertion order is persisted in an append log
// rather than derived from directory listing, which filesystems do not
// guarantee to preserve.
package fsstore

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"xdao.co/dwncore/store"
	"xdao.co/dwncore/store/localfs"
)

// Store is rooted at a directory with three subtrees: messages/ (one CBOR
// file plus one index sidecar per stored message, sharded by CID prefix),
// events/ (one append log per tenant), and data/ (a per-tenant
// content-addressable blob store plus an association manifest recording
// which (tenant, recordId) pairs may read which blobs).
type Store struct {
	root string

	mu  sync.Mutex
	cas map[string]*localfs.CAS // lazily constructed, one per tenant
}

// New constructs a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("fsstore: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, cas: map[string]*localfs.CAS{}}, nil
}

func (s *Store) messagesDir(tenant string) string {
	return filepath.Join(s.root, "messages", tenant)
}

func (s *Store) eventsFile(tenant string) string {
	return filepath.Join(s.root, "events", tenant+".log")
}

func (s *Store) assocDir(tenant, recordID string) string {
	return filepath.Join(s.root, "data", tenant, "assoc", recordID)
}

// casFor returns (creating if needed) the CAS backing tenant's data blobs.
func (s *Store) casFor(tenant string) (*localfs.CAS, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cas[tenant]; ok {
		return c, nil
	}
	c, err := localfs.New(filepath.Join(s.root, "data", tenant, "blobs"))
	if err != nil {
		return nil, err
	}
	s.cas[tenant] = c
	return c, nil
}

// CASFor exposes the content-addressable blob store backing tenant's data,
// for tooling that bundles/restores blobs directly (store/bundle) rather
// than going through the tenant/recordId-keyed DataStore view.
func (s *Store) CASFor(tenant string) (store.CAS, error) {
	return s.casFor(tenant)
}

func shard(name string) (string, string) {
	if len(name) < 2 {
		return name, name
	}
	return name[:2], name
}

// writeFileAtomic writes data to path via a temp file in the same
// directory, fsynced before rename, so a crash mid-write never leaves a
// partially-written file visible at path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
