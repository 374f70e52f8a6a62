package engine

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"

	"xdao.co/dwncore/didresolve"
	"xdao.co/dwncore/keys"
	"xdao.co/dwncore/message"
	"xdao.co/dwncore/store/memstore"
)

func newTestIdentity(t *testing.T, b byte) (string, ed25519.PrivateKey) {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	priv := ed25519.NewKeyFromSeed(seed)
	did := "did:key:" + keys.GenerateSignerKeyFromSeed(seed)
	return did, priv
}

func signedMessage(t *testing.T, did string, priv ed25519.PrivateKey, iface, method string, fields map[string]any, recordID string, ts time.Time) message.Message {
	t.Helper()
	m := message.Message{
		Descriptor: message.Descriptor{
			Interface:        iface,
			Method:           method,
			MessageTimestamp: ts,
			Fields:           fields,
		},
		RecordID: recordID,
	}
	payload, err := message.CanonicalAuthorizationPayloadBytes(m)
	if err != nil {
		t.Fatalf("CanonicalAuthorizationPayloadBytes: %v", err)
	}
	sigB64 := keys.SignEd25519SHA256(payload, priv)
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	m.Authorization = message.Authorization{
		Signatures: []message.Signature{
			{ProtectedHeader: map[string]any{"kid": did + "#key-1"}, Signature: sig},
		},
	}
	return m
}

func newTestEngine() *Engine {
	s := memstore.New()
	return New(s, memstore.DataStoreView{Store: s}, s, didresolve.KeyResolver{})
}

func TestProcessMessageRecordsWriteThenRead(t *testing.T) {
	did, priv := newTestIdentity(t, 1)
	e := newTestEngine()
	ctx := context.Background()

	write := signedMessage(t, did, priv, "Records", "Write",
		map[string]any{"dataFormat": "text/plain"}, "record-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	res := e.ProcessMessage(ctx, did, write)
	if res.Status.Code != 202 {
		t.Fatalf("write: status = %+v", res.Status)
	}
	if res.CID == "" {
		t.Fatalf("write: expected a CID in the result")
	}

	read := signedMessage(t, did, priv, "Records", "Read", nil, "record-1", time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC))
	res = e.ProcessMessage(ctx, did, read)
	if res.Status.Code != 202 {
		t.Fatalf("read: status = %+v", res.Status)
	}
}

func TestProcessMessageRecordsQueryReturnsEntries(t *testing.T) {
	did, priv := newTestIdentity(t, 1)
	e := newTestEngine()
	ctx := context.Background()

	write := signedMessage(t, did, priv, "Records", "Write",
		map[string]any{"dataFormat": "text/plain"}, "record-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if res := e.ProcessMessage(ctx, did, write); res.Status.Code != 202 {
		t.Fatalf("write: status = %+v", res.Status)
	}

	query := signedMessage(t, did, priv, "Records", "Query",
		map[string]any{"filter": map[string]any{"recordId": "record-1"}}, "", time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC))
	res := e.ProcessMessage(ctx, did, query)
	if res.Status.Code != 202 {
		t.Fatalf("query: status = %+v", res.Status)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("expected 1 matching entry in the result, got %d", len(res.Entries))
	}
	if res.Entries[0].RecordID != "record-1" {
		t.Fatalf("expected the matching write's entry, got recordId %q", res.Entries[0].RecordID)
	}
}

func TestProcessMessageRecordsQueryOmitsUnauthorizedProtocolRecord(t *testing.T) {
	tenant, tenantPriv := newTestIdentity(t, 1)
	outsider, outsiderPriv := newTestIdentity(t, 2)
	e := newTestEngine()
	ctx := context.Background()

	definition := map[string]any{
		"protocol": "https://example.org/private",
		"records": map[string]any{
			"note": map[string]any{"recordDefinition": "note"},
		},
	}
	configure := signedMessage(t, tenant, tenantPriv, "Protocols", "Configure",
		map[string]any{"definition": definition}, "", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if res := e.ProcessMessage(ctx, tenant, configure); res.Status.Code != 202 {
		t.Fatalf("configure: status = %+v", res.Status)
	}

	write := signedMessage(t, tenant, tenantPriv, "Records", "Write",
		map[string]any{"dataFormat": "text/plain", "protocol": "https://example.org/private", "protocolPath": "note"},
		"record-1", time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC))
	if res := e.ProcessMessage(ctx, tenant, write); res.Status.Code != 202 {
		t.Fatalf("write: status = %+v", res.Status)
	}

	query := signedMessage(t, outsider, outsiderPriv, "Records", "Query",
		map[string]any{"filter": map[string]any{"recordId": "record-1"}}, "", time.Date(2026, 1, 1, 0, 2, 0, 0, time.UTC))
	res := e.ProcessMessage(ctx, tenant, query)
	if res.Status.Code != 202 {
		t.Fatalf("query: status = %+v", res.Status)
	}
	if len(res.Entries) != 0 {
		t.Fatalf("expected the protocol-protected record to be omitted for an unauthorized requester, got %d entries", len(res.Entries))
	}
}

func TestProcessMessageInvalidSignatureIsAuthenticationFailure(t *testing.T) {
	did, _ := newTestIdentity(t, 2)
	_, otherPriv := newTestIdentity(t, 3)
	e := newTestEngine()

	// Signed with the wrong key: the kid claims did, but the signature was
	// produced by a different keypair entirely.
	write := signedMessage(t, did, otherPriv, "Records", "Write", nil, "record-2", time.Now())

	res := e.ProcessMessage(context.Background(), did, write)
	if res.Status.Code != 401 {
		t.Fatalf("status = %+v, want 401", res.Status)
	}
}

func TestProcessMessageRecordIDRebindingIsAuthenticationFailure(t *testing.T) {
	did, priv := newTestIdentity(t, 9)
	e := newTestEngine()

	write := signedMessage(t, did, priv, "Records", "Write",
		map[string]any{"dataFormat": "text/plain"}, "record-3", time.Now())

	// The descriptor's signature is valid, but recordId is bound into the
	// signed payload too (spec.md §3): swapping it after signing must not
	// verify against a different recordId than the one actually signed.
	write.RecordID = "record-hijacked"

	res := e.ProcessMessage(context.Background(), did, write)
	if res.Status.Code != 401 {
		t.Fatalf("status = %+v, want 401", res.Status)
	}
}

func TestProcessMessageUnsupportedInterfaceMethod(t *testing.T) {
	did, priv := newTestIdentity(t, 4)
	e := newTestEngine()

	msg := signedMessage(t, did, priv, "Nonsense", "Thing", nil, "", time.Now())
	res := e.ProcessMessage(context.Background(), did, msg)
	if res.Status.Code != 400 {
		t.Fatalf("status = %+v, want 400", res.Status)
	}
}

func TestProcessMessageGrantThenRevoke(t *testing.T) {
	alice, alicePriv := newTestIdentity(t, 5)
	bob, _ := newTestIdentity(t, 6)
	e := newTestEngine()
	ctx := context.Background()

	grant := signedMessage(t, alice, alicePriv, "Permissions", "Grant", map[string]any{
		"grantedBy":  alice,
		"grantedTo":  bob,
		"grantedFor": alice,
		"scope":      map[string]any{"interface": "Records", "method": "Write"},
	}, "", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	res := e.ProcessMessage(ctx, alice, grant)
	if res.Status.Code != 202 {
		t.Fatalf("grant: status = %+v", res.Status)
	}
	grantCID := res.CID

	revoke := signedMessage(t, alice, alicePriv, "Permissions", "Revoke", map[string]any{
		"permissionsGrantId": grantCID,
	}, "", time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC))

	res = e.ProcessMessage(ctx, alice, revoke)
	if res.Status.Code != 202 {
		t.Fatalf("revoke: status = %+v", res.Status)
	}
}

func TestProcessMessageRevokeByNonGrantedForIsUnauthorized(t *testing.T) {
	alice, alicePriv := newTestIdentity(t, 7)
	bob, bobPriv := newTestIdentity(t, 8)
	e := newTestEngine()
	ctx := context.Background()

	grant := signedMessage(t, alice, alicePriv, "Permissions", "Grant", map[string]any{
		"grantedBy":  alice,
		"grantedTo":  bob,
		"grantedFor": alice,
		"scope":      map[string]any{"interface": "Records", "method": "Write"},
	}, "", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	res := e.ProcessMessage(ctx, alice, grant)
	if res.Status.Code != 202 {
		t.Fatalf("grant: status = %+v", res.Status)
	}

	revoke := signedMessage(t, bob, bobPriv, "Permissions", "Revoke", map[string]any{
		"permissionsGrantId": res.CID,
	}, "", time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC))
	// Revoke is submitted under alice's tenant (the grant lives there), but
	// authored/signed by bob.
	res = e.ProcessMessage(ctx, alice, revoke)
	if res.Status.Code != 401 {
		t.Fatalf("revoke: status = %+v, want 401", res.Status)
	}
}
