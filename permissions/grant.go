// Package permissions implements the PermissionsGrant/PermissionsRevoke
// lifecycle described in spec.md §4.3.
package permissions

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/dwncore/dwnerrors"
	"xdao.co/dwncore/message"
	"xdao.co/dwncore/store"
)

// Scope constrains what a grant authorizes: an interface/method pair,
// optionally narrowed to a single protocol.
type Scope struct {
	Interface string
	Method    string
	Protocol  string
}

// Grant is the durable projection of a PermissionsGrant message that the
// revoke state machine needs. CID and MessageTimestamp identify the grant
// itself; GrantedBy/GrantedTo/GrantedFor name the three parties spec.md §3
// distinguishes (issuer, delegate, tenant the grant is scoped to).
type Grant struct {
	CID              cid.Cid
	GrantedBy        string
	GrantedTo        string
	GrantedFor       string
	MessageTimestamp string
	Scope            Scope
	Expiry           time.Time
}

// Validate checks the structural requirements of a grant independent of any
// store state. It does not check signatures; that happens during message
// authentication, before the grant ever reaches this package.
func Validate(g Grant) error {
	if g.GrantedBy == "" || g.GrantedTo == "" || g.GrantedFor == "" {
		return dwnerrors.New(dwnerrors.KindMalformed, "PermissionsGrantMissingParty",
			"grantedBy, grantedTo, and grantedFor are all required")
	}
	if g.MessageTimestamp == "" {
		return dwnerrors.New(dwnerrors.KindMalformed, "PermissionsGrantMissingTimestamp",
			"messageTimestamp is required")
	}
	if g.Scope.Interface == "" || g.Scope.Method == "" {
		return dwnerrors.New(dwnerrors.KindMalformed, "PermissionsGrantMissingScope",
			"scope must name at least an interface and method")
	}
	return nil
}

// Expired reports whether g's expiry has passed as of now. A zero Expiry
// means the grant never expires.
func Expired(g Grant, now time.Time) bool {
	if g.Expiry.IsZero() {
		return false
	}
	return now.After(g.Expiry)
}

// ProcessGrant validates and persists an incoming PermissionsGrant message.
// Unlike records writes and revokes, a grant has no convergence rule to
// apply: spec.md §4.3 only describes a state machine for the revoke side,
// so any structurally valid grant is simply accepted.
func ProcessGrant(ctx context.Context, tenant string, msg message.Message, messages store.MessageStore, events store.EventLog) (cid.Cid, error) {
	g, err := grantFromMessage(msg)
	if err != nil {
		return cid.Undef, err
	}
	if err := Validate(g); err != nil {
		return cid.Undef, err
	}

	indexes := map[string]string{
		store.IndexInterface: "Permissions",
		store.IndexMethod:    "Grant",
	}
	if err := messages.Put(ctx, tenant, msg, indexes); err != nil {
		return cid.Undef, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "store grant", err)
	}
	if err := events.Append(ctx, tenant, g.CID); err != nil {
		return cid.Undef, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "append event", err)
	}
	return g.CID, nil
}

// Permits reports whether scope s authorizes an operation against
// (iface, method, protocol). An empty Scope.Protocol means the grant is
// unconstrained by protocol.
func Permits(s Scope, iface, method, protocol string) bool {
	if s.Interface != iface || s.Method != method {
		return false
	}
	if s.Protocol == "" {
		return true
	}
	return s.Protocol == protocol
}
