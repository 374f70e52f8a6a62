package fsstore

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/dwncore/message"
	"xdao.co/dwncore/store"
	"xdao.co/dwncore/store/localfs"
)

func (s *Store) messagePaths(tenant string, c cid.Cid) (msgPath, idxPath string) {
	prefix, name := shard(c.String())
	dir := filepath.Join(s.messagesDir(tenant), prefix)
	return filepath.Join(dir, name+".cbor"), filepath.Join(dir, name+".idx.json")
}

func (s *Store) Put(_ context.Context, tenant string, msg message.Message, indexes map[string]string) error {
	c, err := message.CID(msg)
	if err != nil {
		return err
	}
	b, err := message.Marshal(msg)
	if err != nil {
		return err
	}
	idx, err := json.Marshal(indexes)
	if err != nil {
		return err
	}

	msgPath, idxPath := s.messagePaths(tenant, c)
	if err := writeFileAtomic(msgPath, b, 0o644); err != nil {
		return err
	}
	return writeFileAtomic(idxPath, idx, 0o644)
}

func (s *Store) Query(_ context.Context, tenant string, filter map[string][]string) ([]message.Message, error) {
	root := s.messagesDir(tenant)
	var out []message.Message

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".idx.json") {
			return nil
		}
		idxBytes, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var indexes map[string]string
		if err := json.Unmarshal(idxBytes, &indexes); err != nil {
			return err
		}
		if !matches(indexes, filter) {
			return nil
		}
		msgPath := strings.TrimSuffix(path, ".idx.json") + ".cbor"
		msgBytes, err := os.ReadFile(msgPath)
		if err != nil {
			return err
		}
		msg, err := message.Unmarshal(msgBytes)
		if err != nil {
			return err
		}
		out = append(out, msg)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, tenant string, c cid.Cid) error {
	msgPath, idxPath := s.messagePaths(tenant, c)
	if err := os.Remove(msgPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(idxPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.root); err != nil {
		return err
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return err
	}
	s.cas = map[string]*localfs.CAS{}
	return nil
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

var _ store.MessageStore = (*Store)(nil)
