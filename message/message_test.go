package message

import (
	"testing"
	"time"
)

func sampleDescriptor() Descriptor {
	return Descriptor{
		Interface:        "Records",
		Method:           "Write",
		MessageTimestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Fields: map[string]any{
			"protocol":   "https://example.com/proto",
			"schema":     "https://example.com/schema/note",
			"dataFormat": "application/json",
		},
	}
}

func TestCIDStableAcrossRebuild(t *testing.T) {
	m := Message{Descriptor: sampleDescriptor(), RecordID: "bafy-test"}
	c1, err := CID(m)
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	m2 := Message{Descriptor: sampleDescriptor(), RecordID: "bafy-test"}
	c2, err := CID(m2)
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected equal messages to yield equal CIDs, got %s != %s", c1, c2)
	}
}

func TestCIDDiffersOnFieldChange(t *testing.T) {
	m1 := Message{Descriptor: sampleDescriptor()}
	d2 := sampleDescriptor()
	d2.Fields["dataFormat"] = "text/plain"
	m2 := Message{Descriptor: d2}

	c1, err := CID(m1)
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	c2, err := CID(m2)
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	if c1 == c2 {
		t.Fatalf("expected differing descriptors to yield different CIDs")
	}
}

func TestDescriptorMapRejectsReservedFieldKeys(t *testing.T) {
	d := sampleDescriptor()
	d.Fields["interface"] = "nope"
	if _, err := descriptorMap(d); err == nil {
		t.Fatalf("expected error for reserved field key")
	}
}

func TestCanonicalBytesSortedKeys(t *testing.T) {
	m, err := descriptorMap(sampleDescriptor())
	if err != nil {
		t.Fatalf("descriptorMap: %v", err)
	}
	keys := sortedKeys(m)
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("keys not strictly sorted: %v", keys)
		}
	}
}

func TestEntryIDDeterministicAndTenantScoped(t *testing.T) {
	d := sampleDescriptor()
	id1, err := EntryID(d, "did:example:alice")
	if err != nil {
		t.Fatalf("EntryID: %v", err)
	}
	id2, err := EntryID(d, "did:example:alice")
	if err != nil {
		t.Fatalf("EntryID: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("EntryID not deterministic: %s != %s", id1, id2)
	}
	id3, err := EntryID(d, "did:example:bob")
	if err != nil {
		t.Fatalf("EntryID: %v", err)
	}
	if id1 == id3 {
		t.Fatalf("EntryID must be tenant-scoped")
	}
}

func TestLessOrdersByTimestampThenCID(t *testing.T) {
	c1, _ := CID(Message{Descriptor: sampleDescriptor(), RecordID: "a"})
	c2, _ := CID(Message{Descriptor: sampleDescriptor(), RecordID: "b"})
	lo, hi := c1, c2
	if lo.String() > hi.String() {
		lo, hi = hi, lo
	}
	if !Less("2026-01-01T00:00:00.000000Z", hi, "2026-01-02T00:00:00.000000Z", lo) {
		t.Fatalf("expected earlier timestamp to sort first regardless of CID")
	}
	if !Less("2026-01-01T00:00:00.000000Z", lo, "2026-01-01T00:00:00.000000Z", hi) {
		t.Fatalf("expected lexicographically smaller CID to win a timestamp tie")
	}
	if Less("2026-01-01T00:00:00.000000Z", hi, "2026-01-01T00:00:00.000000Z", lo) {
		t.Fatalf("expected lexicographically larger CID to lose a timestamp tie")
	}
}

func TestCanonicalAuthorizationPayloadBytesBindsRecordID(t *testing.T) {
	m1 := Message{Descriptor: sampleDescriptor(), RecordID: "bafy-one"}
	m2 := Message{Descriptor: sampleDescriptor(), RecordID: "bafy-two"}

	b1, err := CanonicalAuthorizationPayloadBytes(m1)
	if err != nil {
		t.Fatalf("CanonicalAuthorizationPayloadBytes: %v", err)
	}
	b2, err := CanonicalAuthorizationPayloadBytes(m2)
	if err != nil {
		t.Fatalf("CanonicalAuthorizationPayloadBytes: %v", err)
	}
	if string(b1) == string(b2) {
		t.Fatalf("expected differing recordId to change the signed payload for a Records message")
	}
}

func TestCanonicalAuthorizationPayloadBytesIgnoresRecordIDOutsideRecords(t *testing.T) {
	d := sampleDescriptor()
	d.Interface = "Permissions"
	d.Method = "Grant"
	m1 := Message{Descriptor: d, RecordID: "bafy-one"}
	m2 := Message{Descriptor: d, RecordID: "bafy-two"}

	b1, err := CanonicalAuthorizationPayloadBytes(m1)
	if err != nil {
		t.Fatalf("CanonicalAuthorizationPayloadBytes: %v", err)
	}
	b2, err := CanonicalAuthorizationPayloadBytes(m2)
	if err != nil {
		t.Fatalf("CanonicalAuthorizationPayloadBytes: %v", err)
	}
	if string(b1) != string(b2) {
		t.Fatalf("recordId should not affect the signed payload for a non-Records message")
	}
}

func TestAuthorExtractsDIDFromKid(t *testing.T) {
	m := Message{
		Authorization: Authorization{
			Signatures: []Signature{
				{ProtectedHeader: map[string]any{"kid": "did:example:alice#key-1"}},
			},
		},
	}
	if got := m.Author(); got != "did:example:alice" {
		t.Fatalf("Author() = %q, want did:example:alice", got)
	}
}
