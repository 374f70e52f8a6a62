package permissions

import (
	"context"

	"github.com/ipfs/go-cid"

	"xdao.co/dwncore/dwnerrors"
	"xdao.co/dwncore/message"
)

// Revoke is the durable projection of a PermissionsRevoke message.
type Revoke struct {
	CID                cid.Cid
	PermissionsGrantID string
	Author             string
	MessageTimestamp   string
}

// Store is the slice of the Message Store / Event Log the revoke state
// machine needs. Implementations must namespace every call by tenant
// (spec.md §5).
type Store interface {
	// GetGrant returns the grant with the given CID string, if stored.
	GetGrant(ctx context.Context, tenant, grantID string) (Grant, bool, error)

	// CurrentRevoke returns the revoke currently converged on for grantID,
	// if any has been accepted.
	CurrentRevoke(ctx context.Context, tenant, grantID string) (Revoke, bool, error)

	// Accept stores r as the (first) converged revoke for its grant and
	// appends r's CID to the Event Log.
	Accept(ctx context.Context, tenant string, r Revoke) error

	// Supersede replaces prior with next as the converged revoke: prior is
	// deleted from the Message Store and its CID purged from the Event Log,
	// then next is stored and appended (spec.md §4.3's tombstone rule).
	Supersede(ctx context.Context, tenant string, next, prior Revoke) error
}

// ProcessRevoke runs the accept-rule table of spec.md §4.3 against an
// incoming PermissionsRevoke. Authentication (the revoke's signer equals
// r.Author) must already have been verified by the caller; this function
// only implements the post-authentication rules.
func ProcessRevoke(ctx context.Context, tenant string, r Revoke, store Store) error {
	grant, ok, err := store.GetGrant(ctx, tenant, r.PermissionsGrantID)
	if err != nil {
		return dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "query grant", err)
	}
	if !ok {
		return dwnerrors.New(dwnerrors.KindNotFound, "GrantNotFound",
			"Could not find PermissionsGrant: "+r.PermissionsGrantID)
	}

	if r.MessageTimestamp < grant.MessageTimestamp {
		return dwnerrors.New(dwnerrors.KindMalformed, "RevokeBeforeGrant",
			"revoke has an earlier date than associated PermissionsGrant")
	}

	if r.Author != grant.GrantedFor {
		return dwnerrors.New(dwnerrors.KindAuthzFailure, "PermissionsRevokeUnauthorizedRevoke",
			"revoke author does not match grant's grantedFor")
	}

	existing, ok, err := store.CurrentRevoke(ctx, tenant, r.PermissionsGrantID)
	if err != nil {
		return dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "query current revoke", err)
	}
	if !ok {
		return wrapStoreErr(store.Accept(ctx, tenant, r))
	}

	if message.Less(existing.MessageTimestamp, existing.CID, r.MessageTimestamp, r.CID) {
		return dwnerrors.New(dwnerrors.KindConflict, "Superseded",
			"a revoke with an earlier (timestamp, cid) has already converged for this grant")
	}

	// existing is not earlier than r, and CIDs differ (distinct messages
	// never share a CID), so existing must sort strictly after r: r wins.
	return wrapStoreErr(store.Supersede(ctx, tenant, r, existing))
}

func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	return dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "persist revoke", err)
}
