// Package memstore is an in-memory MessageStore/DataStore/EventLog, useful
// for tests and for the engine's demo CLI. It is not durable: process exit
// loses all state.
package memstore

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"

	"xdao.co/dwncore/message"
	"xdao.co/dwncore/store"
)

type dataKey struct {
	tenant   string
	recordID string
	dataCID  string
}

// Store is a single in-memory backend implementing all three of
// store.MessageStore, store.DataStore, and store.EventLog. Production
// deployments would wire three independent backends; a demo or test is free
// to use one value for all three roles.
type Store struct {
	mu sync.Mutex

	// messages is keyed by tenant, then by message CID string.
	messages map[string]map[string]storedMessage
	data     map[dataKey][]byte
	events   map[string][]cid.Cid
}

type storedMessage struct {
	msg     message.Message
	indexes map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		messages: map[string]map[string]storedMessage{},
		data:     map[dataKey][]byte{},
		events:   map[string][]cid.Cid{},
	}
}

func (s *Store) Put(_ context.Context, tenant string, msg message.Message, indexes map[string]string) error {
	c, err := message.CID(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.messages[tenant]
	if !ok {
		bucket = map[string]storedMessage{}
		s.messages[tenant] = bucket
	}
	bucket[c.String()] = storedMessage{msg: msg, indexes: cloneIndexes(indexes)}
	return nil
}

func (s *Store) Query(_ context.Context, tenant string, filter map[string][]string) ([]message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.messages[tenant]
	var out []message.Message
	for _, sm := range bucket {
		if matches(sm.indexes, filter) {
			out = append(out, sm.msg)
		}
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, tenant string, c cid.Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.messages[tenant]
	if bucket != nil {
		delete(bucket, c.String())
	}
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = map[string]map[string]storedMessage{}
	s.data = map[dataKey][]byte{}
	s.events = map[string][]cid.Cid{}
	return nil
}

func (s *Store) PutData(_ context.Context, tenant, recordID string, dataCID cid.Cid, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[dataKey{tenant, recordID, dataCID.String()}] = append([]byte(nil), data...)
	return nil
}

func (s *Store) GetData(_ context.Context, tenant, recordID string, dataCID cid.Cid) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[dataKey{tenant, recordID, dataCID.String()}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (s *Store) DeleteData(_ context.Context, tenant, recordID string, dataCID cid.Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, dataKey{tenant, recordID, dataCID.String()})
	return nil
}

func (s *Store) Append(_ context.Context, tenant string, c cid.Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[tenant] = append(s.events[tenant], c)
	return nil
}

func (s *Store) GetEvents(_ context.Context, tenant string, cursor *cid.Cid) ([]cid.Cid, *cid.Cid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[tenant]
	if cursor == nil {
		return append([]cid.Cid(nil), all...), nil, nil
	}
	for i, c := range all {
		if c == *cursor {
			rest := append([]cid.Cid(nil), all[i+1:]...)
			return rest, nil, nil
		}
	}
	return nil, nil, store.ErrNotFound
}

func (s *Store) DeleteEventsByCID(_ context.Context, tenant string, cids []cid.Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doomed := map[string]bool{}
	for _, c := range cids {
		doomed[c.String()] = true
	}
	kept := s.events[tenant][:0]
	for _, c := range s.events[tenant] {
		if !doomed[c.String()] {
			kept = append(kept, c)
		}
	}
	s.events[tenant] = kept
	return nil
}

func cloneIndexes(indexes map[string]string) map[string]string {
	out := make(map[string]string, len(indexes))
	for k, v := range indexes {
		out[k] = v
	}
	return out
}

func matches(indexes map[string]string, filter map[string][]string) bool {
	for key, wantSet := range filter {
		got, ok := indexes[key]
		if !ok {
			return false
		}
		found := false
		for _, want := range wantSet {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// DataStoreView adapts Store's PutData/GetData/DeleteData methods to the
// store.DataStore interface. It is a distinct type because DataStore's
// Put/Get/Delete method names collide with MessageStore's on Store itself.
type DataStoreView struct{ *Store }

func (d DataStoreView) Put(ctx context.Context, tenant, recordID string, dataCID cid.Cid, data []byte) error {
	return d.Store.PutData(ctx, tenant, recordID, dataCID, data)
}

func (d DataStoreView) Get(ctx context.Context, tenant, recordID string, dataCID cid.Cid) ([]byte, error) {
	return d.Store.GetData(ctx, tenant, recordID, dataCID)
}

func (d DataStoreView) Delete(ctx context.Context, tenant, recordID string, dataCID cid.Cid) error {
	return d.Store.DeleteData(ctx, tenant, recordID, dataCID)
}

var (
	_ store.MessageStore = (*Store)(nil)
	_ store.EventLog     = (*Store)(nil)
	_ store.DataStore    = DataStoreView{}
)
