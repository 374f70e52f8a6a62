package didresolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"xdao.co/dwncore/keys"
)

func testDID(t *testing.T) string {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	signerKey := keys.GenerateSignerKeyFromSeed(seed)
	return "did:key:" + signerKey
}

func TestKeyResolverResolvesSelfCertifyingDID(t *testing.T) {
	did := testDID(t)
	doc, err := KeyResolver{}.Resolve(context.Background(), did)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if doc.ID != did {
		t.Fatalf("doc.ID = %q, want %q", doc.ID, did)
	}
	vm, ok := doc.Authenticator(did + "#key-1")
	if !ok {
		t.Fatalf("expected %s#key-1 to be an authenticator", did)
	}
	if _, err := vm.PublicKey(); err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
}

func TestKeyResolverRejectsNonDIDKey(t *testing.T) {
	_, err := KeyResolver{}.Resolve(context.Background(), "did:web:example.com")
	if err == nil {
		t.Fatalf("expected an error for a non-did:key identifier")
	}
}

type countingResolver struct {
	calls int
	doc   DIDDocument
	err   error
}

func (c *countingResolver) Resolve(context.Context, string) (DIDDocument, error) {
	c.calls++
	return c.doc, c.err
}

func TestCachedServesRepeatResolutionsFromCache(t *testing.T) {
	base := &countingResolver{doc: DIDDocument{ID: "did:example:alice"}}
	cached := NewCached(base, time.Hour)

	for i := 0; i < 3; i++ {
		doc, err := cached.Resolve(context.Background(), "did:example:alice")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if doc.ID != "did:example:alice" {
			t.Fatalf("doc.ID = %q", doc.ID)
		}
	}
	if base.calls != 1 {
		t.Fatalf("expected exactly one call to the base resolver, got %d", base.calls)
	}
}

func TestCachedExpiresAfterTTL(t *testing.T) {
	base := &countingResolver{doc: DIDDocument{ID: "did:example:alice"}}
	cached := NewCached(base, time.Minute)

	now := time.Now()
	cacheNow = func() time.Time { return now }
	defer func() { cacheNow = time.Now }()

	if _, err := cached.Resolve(context.Background(), "did:example:alice"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	cacheNow = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := cached.Resolve(context.Background(), "did:example:alice"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("expected the cache to refetch after TTL expiry, got %d calls", base.calls)
	}
}

func TestCachedPropagatesBaseError(t *testing.T) {
	wantErr := errors.New("resolution failed")
	base := &countingResolver{err: wantErr}
	cached := NewCached(base, time.Hour)

	if _, err := cached.Resolve(context.Background(), "did:example:alice"); !errors.Is(err, wantErr) {
		t.Fatalf("Resolve error = %v, want %v", err, wantErr)
	}
	if base.calls != 1 {
		t.Fatalf("expected one call, got %d", base.calls)
	}
}
