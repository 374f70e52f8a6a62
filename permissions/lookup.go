package permissions

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/dwncore/message"
	"xdao.co/dwncore/store"
)

// MessageStoreLookup adapts a store.MessageStore and store.EventLog into the
// Store interface ProcessRevoke needs, the same narrowing
// records.MessageStoreLookup performs for protocol authorization. Revoke
// convergence works on the Revoke projection alone, but Accept/Supersede
// ultimately need to persist the full incoming message — Incoming must be
// set to the PermissionsRevoke message currently being processed before
// Accept or Supersede is called.
type MessageStoreLookup struct {
	Messages store.MessageStore
	Events   store.EventLog
	Incoming message.Message
}

func (l MessageStoreLookup) GetGrant(ctx context.Context, tenant, grantID string) (Grant, bool, error) {
	matches, err := l.Messages.Query(ctx, tenant, map[string][]string{
		store.IndexInterface: {"Permissions"},
		store.IndexMethod:    {"Grant"},
	})
	if err != nil {
		return Grant{}, false, err
	}
	for _, m := range matches {
		c, err := message.CID(m)
		if err != nil {
			return Grant{}, false, err
		}
		if c.String() == grantID {
			g, err := grantFromMessage(m)
			return g, true, err
		}
	}
	return Grant{}, false, nil
}

func (l MessageStoreLookup) CurrentRevoke(ctx context.Context, tenant, grantID string) (Revoke, bool, error) {
	matches, err := l.Messages.Query(ctx, tenant, map[string][]string{
		store.IndexInterface:          {"Permissions"},
		store.IndexMethod:             {"Revoke"},
		store.IndexPermissionsGrantID: {grantID},
	})
	if err != nil {
		return Revoke{}, false, err
	}
	if len(matches) == 0 {
		return Revoke{}, false, nil
	}
	// The at-most-one-revoke invariant means at most one match should ever
	// be stored; ProcessRevoke is what enforces that invariant.
	r, err := revokeFromMessage(matches[0])
	return r, true, err
}

func (l MessageStoreLookup) Accept(ctx context.Context, tenant string, r Revoke) error {
	return l.persist(ctx, tenant, r)
}

func (l MessageStoreLookup) Supersede(ctx context.Context, tenant string, next, prior Revoke) error {
	if err := l.Messages.Delete(ctx, tenant, prior.CID); err != nil {
		return err
	}
	if err := l.Events.DeleteEventsByCID(ctx, tenant, []cid.Cid{prior.CID}); err != nil {
		return err
	}
	return l.persist(ctx, tenant, next)
}

func (l MessageStoreLookup) persist(ctx context.Context, tenant string, r Revoke) error {
	indexes := map[string]string{
		store.IndexInterface:          "Permissions",
		store.IndexMethod:             "Revoke",
		store.IndexPermissionsGrantID: r.PermissionsGrantID,
	}
	if err := l.Messages.Put(ctx, tenant, l.Incoming, indexes); err != nil {
		return err
	}
	return l.Events.Append(ctx, tenant, r.CID)
}

func grantFromMessage(m message.Message) (Grant, error) {
	c, err := message.CID(m)
	if err != nil {
		return Grant{}, err
	}
	scope, err := scopeFromFields(m.Descriptor.Fields)
	if err != nil {
		return Grant{}, err
	}
	g := Grant{
		CID:              c,
		GrantedBy:        stringField(m.Descriptor, "grantedBy"),
		GrantedTo:        stringField(m.Descriptor, "grantedTo"),
		GrantedFor:       stringField(m.Descriptor, "grantedFor"),
		MessageTimestamp: message.Timestamp(m),
		Scope:            scope,
	}
	if exp := stringField(m.Descriptor, "expiry"); exp != "" {
		t, perr := time.Parse(time.RFC3339, exp)
		if perr == nil {
			g.Expiry = t
		}
	}
	return g, nil
}

func revokeFromMessage(m message.Message) (Revoke, error) {
	c, err := message.CID(m)
	if err != nil {
		return Revoke{}, err
	}
	return Revoke{
		CID:                c,
		PermissionsGrantID: stringField(m.Descriptor, "permissionsGrantId"),
		Author:             m.Author(),
		MessageTimestamp:   message.Timestamp(m),
	}, nil
}

func scopeFromFields(fields map[string]any) (Scope, error) {
	raw, ok := fields["scope"]
	if !ok {
		return Scope{}, nil
	}
	m, ok := asStringMap(raw)
	if !ok {
		return Scope{}, nil
	}
	s := Scope{}
	s.Interface, _ = m["interface"].(string)
	s.Method, _ = m["method"].(string)
	s.Protocol, _ = m["protocol"].(string)
	return s, nil
}

func stringField(d message.Descriptor, key string) string {
	v, ok := d.Fields[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// asStringMap normalizes either map[string]any or the map[any]any shape a
// generic CBOR decoder produces, mirroring message/codec.go's asStringMap.
func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}
