package records

import (
	"context"
	"sort"

	"github.com/ipfs/go-cid"

	"xdao.co/dwncore/dwnerrors"
	"xdao.co/dwncore/dwnproto"
	"xdao.co/dwncore/message"
	"xdao.co/dwncore/store"
)

// ProcessQuery runs a RecordsQuery: a Message Store filter lookup, filtered
// down to the candidates requester is individually authorized to read
// (SPEC_FULL §4.4's RecordsQuery supplement — "a query is not itself
// authorized; each returned record must individually pass §4.2"), then
// sorted into the engine's canonical (messageTimestamp, cid) order, since
// store.MessageStore.Query itself makes no ordering guarantee (spec.md §6).
func ProcessQuery(ctx context.Context, tenant string, filter map[string][]string, requester string, messages store.MessageStore) ([]message.Message, error) {
	withInterface := map[string][]string{store.IndexInterface: {"Records"}}
	for k, v := range filter {
		withInterface[k] = v
	}
	matches, err := messages.Query(ctx, tenant, withInterface)
	if err != nil {
		return nil, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "query records", err)
	}

	lookup := MessageStoreLookup{Messages: messages}
	type ordered struct {
		msg message.Message
		cid cid.Cid
		ts  string
	}
	items := make([]ordered, 0, len(matches))
	for _, m := range matches {
		view, err := ViewOf(m, "Read")
		if err != nil {
			return nil, err
		}
		if view.Protocol != "" {
			readView := dwnproto.RecordView{RecordID: m.RecordID, Method: "Read"}
			if err := dwnproto.Authorize(ctx, tenant, readView, requester, lookup); err != nil {
				// Unauthorized for this one candidate; drop it from the
				// result set rather than failing the whole query.
				continue
			}
		} else if requester != tenant && m.Author() != requester {
			continue
		}

		c, err := message.CID(m)
		if err != nil {
			return nil, err
		}
		items = append(items, ordered{msg: m, cid: c, ts: message.Timestamp(m)})
	}
	sort.Slice(items, func(i, j int) bool {
		return message.Less(items[i].ts, items[i].cid, items[j].ts, items[j].cid)
	})

	out := make([]message.Message, len(items))
	for i, it := range items {
		out[i] = it.msg
	}
	return out, nil
}

func parseCID(s string) (cid.Cid, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, dwnerrors.Wrap(dwnerrors.KindMalformed, "InvalidCID", "malformed data CID", err)
	}
	return c, nil
}
