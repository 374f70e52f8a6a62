package didresolve

import (
	"context"
	"sync"
	"time"
)

// Cached decorates a DIDResolver with a read-through cache, the same way
// resolver.ResolveWithOptions layers compliance-mode handling on top of the
// base resolver rather than modifying it. spec.md §5 notes the DID resolver
// cache is shared and effectively read-only, so entries never need
// invalidation beyond a TTL.
type Cached struct {
	Base DIDResolver
	TTL  time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	doc       DIDDocument
	fetchedAt time.Time
}

// NewCached wraps base with a cache whose entries are considered fresh for
// ttl. A zero ttl disables expiry — entries live until the process exits.
func NewCached(base DIDResolver, ttl time.Duration) *Cached {
	return &Cached{Base: base, TTL: ttl, entries: map[string]cacheEntry{}}
}

func (c *Cached) Resolve(ctx context.Context, did string) (DIDDocument, error) {
	c.mu.Lock()
	entry, ok := c.entries[did]
	c.mu.Unlock()
	if ok && (c.TTL <= 0 || cacheNow().Sub(entry.fetchedAt) < c.TTL) {
		return entry.doc, nil
	}

	doc, err := c.Base.Resolve(ctx, did)
	if err != nil {
		return DIDDocument{}, err
	}

	c.mu.Lock()
	c.entries[did] = cacheEntry{doc: doc, fetchedAt: cacheNow()}
	c.mu.Unlock()
	return doc, nil
}

// cacheNow is a var so tests can fake clock progression without sleeping.
var cacheNow = time.Now

var _ DIDResolver = (*Cached)(nil)
