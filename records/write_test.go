package records

import (
	"context"
	"testing"
	"time"

	"xdao.co/dwncore/dwnerrors"
	"xdao.co/dwncore/message"
	"xdao.co/dwncore/store/memstore"
)

func descriptorFor(ts time.Time, dataFormat, parentID string) message.Descriptor {
	fields := map[string]any{"dataFormat": dataFormat}
	if parentID != "" {
		fields["parentId"] = parentID
	}
	return message.Descriptor{
		Interface:        "Records",
		Method:           "Write",
		MessageTimestamp: ts,
		Fields:           fields,
	}
}

func newInitialWrite(t *testing.T, tenant, author string, ts time.Time, dataFormat string) message.Message {
	t.Helper()
	d := descriptorFor(ts, dataFormat, "")
	entryID, err := message.EntryID(d, tenant)
	if err != nil {
		t.Fatalf("EntryID: %v", err)
	}
	return message.Message{
		Descriptor: d,
		RecordID:   entryID.String(),
		Authorization: message.Authorization{
			Signatures: []message.Signature{
				{ProtectedHeader: map[string]any{"kid": author + "#key-1"}},
			},
		},
	}
}

func newSubsequentWrite(t *testing.T, recordID, parentID, author string, ts time.Time, dataFormat string) message.Message {
	t.Helper()
	return message.Message{
		Descriptor: descriptorFor(ts, dataFormat, parentID),
		RecordID:   recordID,
		Authorization: message.Authorization{
			Signatures: []message.Signature{
				{ProtectedHeader: map[string]any{"kid": author + "#key-1"}},
			},
		},
	}
}

func TestProcessWriteAcceptsInitialWrite(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	tenant := "did:example:alice"
	m := newInitialWrite(t, tenant, tenant, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "application/json")

	out, err := ProcessWrite(ctx, tenant, m, tenant, ms, ms)
	if err != nil {
		t.Fatalf("ProcessWrite: %v", err)
	}
	if !out.Accepted {
		t.Fatalf("expected initial write to be accepted")
	}
}

func TestProcessWriteLaterWriteWins(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	tenant := "did:example:alice"

	w1 := newInitialWrite(t, tenant, tenant, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "application/json")
	if _, err := ProcessWrite(ctx, tenant, w1, tenant, ms, ms); err != nil {
		t.Fatalf("ProcessWrite(w1): %v", err)
	}

	w1CID, _ := message.CID(w1)
	w2 := newSubsequentWrite(t, w1.RecordID, w1CID.String(), tenant, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "text/plain")
	out, err := ProcessWrite(ctx, tenant, w2, tenant, ms, ms)
	if err != nil {
		t.Fatalf("ProcessWrite(w2): %v", err)
	}
	if !out.Accepted {
		t.Fatalf("expected later write to win convergence")
	}

	results, err := ProcessQuery(ctx, tenant, map[string][]string{"recordId": {w1.RecordID}}, tenant, ms)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly one stored write after convergence, got %d", len(results))
	}
}

func TestProcessWriteEarlierWriteDiscarded(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	tenant := "did:example:alice"

	w1 := newInitialWrite(t, tenant, tenant, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "application/json")
	if _, err := ProcessWrite(ctx, tenant, w1, tenant, ms, ms); err != nil {
		t.Fatalf("ProcessWrite(w1): %v", err)
	}

	w1CID, _ := message.CID(w1)
	wOld := newSubsequentWrite(t, w1.RecordID, w1CID.String(), tenant, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "text/plain")
	out, err := ProcessWrite(ctx, tenant, wOld, tenant, ms, ms)
	if err != nil {
		t.Fatalf("ProcessWrite(wOld): %v", err)
	}
	if out.Accepted {
		t.Fatalf("expected earlier write to be discarded, not accepted")
	}
}

func TestProcessWriteRejectsMismatchedAuthorOnNonProtocolUpdate(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	tenant := "did:example:alice"
	attacker := "did:example:mallory"

	w1 := newInitialWrite(t, tenant, tenant, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "application/json")
	if _, err := ProcessWrite(ctx, tenant, w1, tenant, ms, ms); err != nil {
		t.Fatalf("ProcessWrite(w1): %v", err)
	}

	w1CID, _ := message.CID(w1)
	// A later-timestamped update signed by a different author entirely:
	// absent the ownership check, this would win the (timestamp, cid) race
	// and overwrite alice's record with mallory's content.
	hijack := newSubsequentWrite(t, w1.RecordID, w1CID.String(), attacker, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "text/plain")
	_, err := ProcessWrite(ctx, tenant, hijack, attacker, ms, ms)
	if err == nil || dwnerrors.CodeOf(err) != "AuthorMismatch" {
		t.Fatalf("expected AuthorMismatch, got %v", err)
	}

	results, err := ProcessQuery(ctx, tenant, map[string][]string{"recordId": {w1.RecordID}}, tenant, ms)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected alice's original write to survive the hijack attempt, got %d results", len(results))
	}
}

func TestProcessWriteRejectsNonTenantCreatingNonProtocolRecord(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	tenant := "did:example:alice"
	attacker := "did:example:mallory"

	m := newInitialWrite(t, tenant, attacker, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "application/json")
	_, err := ProcessWrite(ctx, tenant, m, attacker, ms, ms)
	if err == nil || dwnerrors.CodeOf(err) != "UnauthorizedNoAllowRule" {
		t.Fatalf("expected UnauthorizedNoAllowRule, got %v", err)
	}
}

func TestProcessWriteInitialWriteCollision(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	tenant := "did:example:alice"

	w1 := newInitialWrite(t, tenant, tenant, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "application/json")
	if _, err := ProcessWrite(ctx, tenant, w1, tenant, ms, ms); err != nil {
		t.Fatalf("ProcessWrite(w1): %v", err)
	}

	// A second write sharing w1's recordId, with no parentId (so it is
	// itself "initial" by the no-parent rule) but differing content (and
	// therefore CID) and a later timestamp that would otherwise win.
	w2 := newSubsequentWrite(t, w1.RecordID, "", tenant, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "text/plain")
	_, err := ProcessWrite(ctx, tenant, w2, tenant, ms, ms)
	if err == nil || dwnerrors.CodeOf(err) != "InitialWriteCollision" {
		t.Fatalf("expected InitialWriteCollision, got %v", err)
	}
}
