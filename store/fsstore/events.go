package fsstore

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/dwncore/store"
)

// Append adds c to tenant's event log. The log is insertion-order, not
// directory-listing order, so that GetEvents cursors survive restarts even
// on filesystems that reorder directory entries.
func (s *Store) Append(_ context.Context, tenant string, c cid.Cid) error {
	path := s.eventsFile(tenant)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(c.String() + "\n"); err != nil {
		return err
	}
	return f.Sync()
}

func (s *Store) readEventLog(tenant string) ([]cid.Cid, error) {
	f, err := os.Open(s.eventsFile(tenant))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []cid.Cid
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c, err := cid.Decode(line)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetEvents(_ context.Context, tenant string, cursor *cid.Cid) ([]cid.Cid, *cid.Cid, error) {
	all, err := s.readEventLog(tenant)
	if err != nil {
		return nil, nil, err
	}
	if cursor == nil {
		return all, nil, nil
	}
	for i, c := range all {
		if c == *cursor {
			return all[i+1:], nil, nil
		}
	}
	return nil, nil, store.ErrNotFound
}

// DeleteEventsByCID rewrites tenant's event log with the named CIDs
// removed, via the same write-to-temp-then-rename discipline as message
// storage, so a crash mid-rewrite never corrupts the log.
func (s *Store) DeleteEventsByCID(_ context.Context, tenant string, cids []cid.Cid) error {
	all, err := s.readEventLog(tenant)
	if err != nil {
		return err
	}
	doomed := make(map[string]bool, len(cids))
	for _, c := range cids {
		doomed[c.String()] = true
	}
	var kept strings.Builder
	for _, c := range all {
		if doomed[c.String()] {
			continue
		}
		kept.WriteString(c.String())
		kept.WriteString("\n")
	}
	return writeFileAtomic(s.eventsFile(tenant), []byte(kept.String()), 0o644)
}

var _ store.EventLog = (*Store)(nil)
