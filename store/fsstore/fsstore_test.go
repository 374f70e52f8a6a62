package fsstore

import (
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/dwncore/cidutil"
	"xdao.co/dwncore/message"
	"xdao.co/dwncore/store"
)

func sampleMessage(dataFormat string) message.Message {
	return message.Message{
		Descriptor: message.Descriptor{
			Interface:        "Records",
			Method:           "Write",
			MessageTimestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Fields: map[string]any{
				"protocol":   "https://example.com/thread",
				"dataFormat": dataFormat,
			},
		},
		RecordID: "rec-1",
		Authorization: message.Authorization{
			Signatures: []message.Signature{{ProtectedHeader: map[string]any{"kid": "did:example:alice#key-1"}}},
		},
	}
}

func TestPutQueryDeleteSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	msg := sampleMessage("application/json")

	s1, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s1.Put(ctx, "tenant-a", msg, map[string]string{store.IndexRecordID: "rec-1", store.IndexMethod: "Write"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	s2, err := New(dir)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	got, err := s2.Query(ctx, "tenant-a", map[string][]string{store.IndexRecordID: {"rec-1"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one match after reopen, got %d", len(got))
	}
	if got[0].RecordID != msg.RecordID || got[0].Descriptor.Fields["dataFormat"] != "application/json" {
		t.Fatalf("round-tripped message mismatch: %+v", got[0])
	}

	none, err := s2.Query(ctx, "tenant-b", map[string][]string{store.IndexRecordID: {"rec-1"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected tenant isolation, got %d matches", len(none))
	}

	c, err := message.CID(msg)
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	if err := s2.Delete(ctx, "tenant-a", c); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = s2.Query(ctx, "tenant-a", map[string][]string{store.IndexRecordID: {"rec-1"}})
	if err != nil {
		t.Fatalf("Query after delete: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no matches after delete, got %d", len(got))
	}
}

func TestDataStoreViewRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ds := DataStoreView{s}

	payload := []byte("hello world")
	dataCID, err := cidutil.CIDv1RawSHA256CID(payload)
	if err != nil {
		t.Fatalf("CIDv1RawSHA256CID: %v", err)
	}

	if err := ds.Put(ctx, "tenant-a", "rec-1", dataCID, payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := ds.Get(ctx, "tenant-a", "rec-1", dataCID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("Get = %q, want %q", got, payload)
	}

	if _, err := ds.Get(ctx, "tenant-a", "rec-2", dataCID); !store.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound for an unassociated recordId, got %v", err)
	}

	if err := ds.Delete(ctx, "tenant-a", "rec-1", dataCID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := ds.Get(ctx, "tenant-a", "rec-1", dataCID); !store.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestEventLogAppendCursorPurgeAndReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	m1 := sampleMessage("application/json")
	m2 := sampleMessage("text/plain")
	c1, _ := message.CID(m1)
	c2, _ := message.CID(m2)

	s1, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s1.Append(ctx, "tenant-a", c1); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s1.Append(ctx, "tenant-a", c2); err != nil {
		t.Fatalf("Append: %v", err)
	}

	s2, err := New(dir)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	events, _, err := s2.GetEvents(ctx, "tenant-a", nil)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 2 || events[0] != c1 || events[1] != c2 {
		t.Fatalf("unexpected event order after reopen: %v", events)
	}

	rest, _, err := s2.GetEvents(ctx, "tenant-a", &c1)
	if err != nil {
		t.Fatalf("GetEvents after cursor: %v", err)
	}
	if len(rest) != 1 || rest[0] != c2 {
		t.Fatalf("expected only c2 after cursor, got %v", rest)
	}

	if err := s2.DeleteEventsByCID(ctx, "tenant-a", []cid.Cid{c1}); err != nil {
		t.Fatalf("DeleteEventsByCID: %v", err)
	}
	remaining, _, err := s2.GetEvents(ctx, "tenant-a", nil)
	if err != nil {
		t.Fatalf("GetEvents after purge: %v", err)
	}
	if len(remaining) != 1 || remaining[0] != c2 {
		t.Fatalf("expected only c2 remaining after purge, got %v", remaining)
	}
}
