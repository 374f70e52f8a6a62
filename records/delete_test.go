package records

import (
	"context"
	"testing"
	"time"

	"xdao.co/dwncore/dwnerrors"
	"xdao.co/dwncore/message"
	"xdao.co/dwncore/store/memstore"
)

func newDelete(t *testing.T, recordID, author string, ts time.Time) message.Message {
	t.Helper()
	return message.Message{
		Descriptor: message.Descriptor{
			Interface:        "Records",
			Method:           "Delete",
			MessageTimestamp: ts,
			Fields:           map[string]any{},
		},
		RecordID: recordID,
		Authorization: message.Authorization{
			Signatures: []message.Signature{
				{ProtectedHeader: map[string]any{"kid": author + "#key-1"}},
			},
		},
	}
}

func TestProcessDeleteWinningRaceRetainsTombstone(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	tenant := "did:example:alice"

	w := newInitialWrite(t, tenant, tenant, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "application/json")
	if _, err := ProcessWrite(ctx, tenant, w, tenant, ms, ms); err != nil {
		t.Fatalf("ProcessWrite: %v", err)
	}

	del := newDelete(t, w.RecordID, tenant, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	out, err := ProcessDelete(ctx, tenant, del, tenant, ms, memstore.DataStoreView{Store: ms}, ms)
	if err != nil {
		t.Fatalf("ProcessDelete: %v", err)
	}
	if !out.Accepted {
		t.Fatalf("expected delete to win the convergence race")
	}

	entries, err := ProcessQuery(ctx, tenant, map[string][]string{"recordId": {w.RecordID}}, tenant, ms)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected tombstone to remain visible in queries, got %d entries", len(entries))
	}
	if entries[0].Descriptor.Method != "Delete" {
		t.Fatalf("expected the stored entry to be the tombstone, got method %q", entries[0].Descriptor.Method)
	}
}

func TestProcessDeleteEarlierDeleteDiscarded(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	tenant := "did:example:alice"

	w := newInitialWrite(t, tenant, tenant, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "application/json")
	if _, err := ProcessWrite(ctx, tenant, w, tenant, ms, ms); err != nil {
		t.Fatalf("ProcessWrite: %v", err)
	}

	stale := newDelete(t, w.RecordID, tenant, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	out, err := ProcessDelete(ctx, tenant, stale, tenant, ms, memstore.DataStoreView{Store: ms}, ms)
	if err != nil {
		t.Fatalf("ProcessDelete: %v", err)
	}
	if out.Accepted {
		t.Fatalf("expected earlier delete to be discarded, not accepted")
	}

	entries, err := ProcessQuery(ctx, tenant, map[string][]string{"recordId": {w.RecordID}}, tenant, ms)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if len(entries) != 1 || entries[0].Descriptor.Method != "Write" {
		t.Fatalf("expected the original write to survive the stale delete")
	}
}

func TestProcessDeleteUnauthorizedRequesterRejected(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	tenant := "did:example:alice"
	attacker := "did:example:mallory"

	w := newInitialWrite(t, tenant, tenant, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "application/json")
	if _, err := ProcessWrite(ctx, tenant, w, tenant, ms, ms); err != nil {
		t.Fatalf("ProcessWrite: %v", err)
	}

	del := newDelete(t, w.RecordID, attacker, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	_, err := ProcessDelete(ctx, tenant, del, attacker, ms, memstore.DataStoreView{Store: ms}, ms)
	if err == nil || dwnerrors.CodeOf(err) != "RecordsDeleteUnauthorized" {
		t.Fatalf("expected RecordsDeleteUnauthorized, got %v", err)
	}

	entries, err := ProcessQuery(ctx, tenant, map[string][]string{"recordId": {w.RecordID}}, tenant, ms)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if len(entries) != 1 || entries[0].Descriptor.Method != "Write" {
		t.Fatalf("expected the record to survive the unauthorized delete attempt")
	}
}

func TestProcessDeleteThenLaterWriteResurrectsRecord(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	tenant := "did:example:alice"

	w1 := newInitialWrite(t, tenant, tenant, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "application/json")
	if _, err := ProcessWrite(ctx, tenant, w1, tenant, ms, ms); err != nil {
		t.Fatalf("ProcessWrite(w1): %v", err)
	}

	del := newDelete(t, w1.RecordID, tenant, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	if out, err := ProcessDelete(ctx, tenant, del, tenant, ms, memstore.DataStoreView{Store: ms}, ms); err != nil || !out.Accepted {
		t.Fatalf("ProcessDelete: out=%+v err=%v", out, err)
	}

	delCID, _ := message.CID(del)
	w2 := newSubsequentWrite(t, w1.RecordID, delCID.String(), tenant, time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC), "text/plain")
	out, err := ProcessWrite(ctx, tenant, w2, tenant, ms, ms)
	if err != nil {
		t.Fatalf("ProcessWrite(w2): %v", err)
	}
	if !out.Accepted {
		t.Fatalf("expected the later write to resurrect the tombstoned record")
	}

	entries, err := ProcessQuery(ctx, tenant, map[string][]string{"recordId": {w1.RecordID}}, tenant, ms)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if len(entries) != 1 || entries[0].Descriptor.Method != "Write" {
		t.Fatalf("expected the resurrecting write to be the current state")
	}
}
