package records

import (
	"context"

	"github.com/ipfs/go-cid"

	"xdao.co/dwncore/dwnerrors"
	"xdao.co/dwncore/dwnproto"
	"xdao.co/dwncore/message"
	"xdao.co/dwncore/store"
)

// WriteOutcome reports what ProcessWrite did, distinct from an error: a
// convergence loss is not a failure (spec.md §4.4 has it reply 202 and
// leave the Event Log untouched), so callers must check Accepted rather
// than inferring acceptance from a nil error.
type WriteOutcome struct {
	Accepted bool
	CID      string
}

// ProcessWrite runs protocol authorization (if the write declares a
// protocol) followed by records convergence for an incoming RecordsWrite,
// per spec.md §4.4. Authentication must already have happened.
func ProcessWrite(ctx context.Context, tenant string, msg message.Message, requester string, messages store.MessageStore, events store.EventLog) (WriteOutcome, error) {
	view, err := ViewOf(msg, "Write")
	if err != nil {
		return WriteOutcome{}, err
	}

	// Includes "Delete" so a prior tombstone (records.ProcessDelete) is
	// treated as the record's current state: a write racing against a
	// tombstone must win the (timestamp, cid) race like any other
	// convergence participant before it may resurrect the record.
	existingMatches, err := messages.Query(ctx, tenant, map[string][]string{
		store.IndexInterface: {"Records"},
		store.IndexMethod:    {"Write", "Delete"},
		store.IndexRecordID:  {msg.RecordID},
	})
	if err != nil {
		return WriteOutcome{}, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "query current write", err)
	}

	if view.Protocol != "" {
		lookup := MessageStoreLookup{Messages: messages}
		if err := dwnproto.Authorize(ctx, tenant, view, requester, lookup); err != nil {
			return WriteOutcome{}, err
		}
	} else if err := enforceNonProtocolAuthor(tenant, requester, existingMatches); err != nil {
		return WriteOutcome{}, err
	}

	initial := IsInitialWrite(msg)

	newCID, err := message.CID(msg)
	if err != nil {
		return WriteOutcome{}, err
	}
	newTS := message.Timestamp(msg)

	if len(existingMatches) == 0 {
		if err := storeAndAppend(ctx, tenant, msg, newCID, messages, events, indexesFor(view)); err != nil {
			return WriteOutcome{}, err
		}
		return WriteOutcome{Accepted: true, CID: newCID.String()}, nil
	}

	old, err := newestOf(existingMatches)
	if err != nil {
		return WriteOutcome{}, err
	}
	oldCID, err := message.CID(old)
	if err != nil {
		return WriteOutcome{}, err
	}
	oldTS := message.Timestamp(old)

	if !message.Less(oldTS, oldCID, newTS, newCID) {
		// Incoming does not win; silently discarded per spec.md §4.4.
		return WriteOutcome{Accepted: false}, nil
	}

	if initial && oldCID != newCID {
		return WriteOutcome{}, dwnerrors.New(dwnerrors.KindConflict, "InitialWriteCollision",
			"an initial write already exists for this recordId with a different CID")
	}

	if err := messages.Delete(ctx, tenant, oldCID); err != nil {
		return WriteOutcome{}, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "delete superseded write", err)
	}
	if err := storeAndAppend(ctx, tenant, msg, newCID, messages, events, indexesFor(view)); err != nil {
		return WriteOutcome{}, err
	}
	return WriteOutcome{Accepted: true, CID: newCID.String()}, nil
}

// enforceNonProtocolAuthor enforces spec.md §3's unconditional record
// invariant ("the author of every non-initial write must equal the author
// of the initial write") for records that declare no protocol, where
// dwnproto.Authorize's own step 7 post-condition never runs. Absent any
// protocol rule set, this mirrors the conservative default §4.2 step 6
// applies when a rule set has no allow list: only the tenant may establish
// a new record, and only the record's existing author may write to it
// afterward — otherwise any authenticated DID could win the (timestamp,
// cid) convergence race and overwrite a record it doesn't own.
func enforceNonProtocolAuthor(tenant, requester string, existing []message.Message) error {
	if len(existing) == 0 {
		if requester != tenant {
			return dwnerrors.New(dwnerrors.KindAuthzFailure, "UnauthorizedNoAllowRule",
				"no protocol declared and requester is not the tenant")
		}
		return nil
	}
	current, err := newestOf(existing)
	if err != nil {
		return err
	}
	if current.Author() != requester {
		return dwnerrors.New(dwnerrors.KindAuthzFailure, "AuthorMismatch",
			"write author does not match the record's existing author")
	}
	return nil
}

func storeAndAppend(ctx context.Context, tenant string, msg message.Message, c cid.Cid, messages store.MessageStore, events store.EventLog, indexes map[string]string) error {
	if err := messages.Put(ctx, tenant, msg, indexes); err != nil {
		return dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "store write", err)
	}
	if err := events.Append(ctx, tenant, c); err != nil {
		return dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "append event", err)
	}
	return nil
}

func indexesFor(v dwnproto.RecordView) map[string]string {
	idx := map[string]string{
		store.IndexInterface: "Records",
		store.IndexMethod:    "Write",
		store.IndexRecordID:  v.RecordID,
	}
	if v.ContextID != "" {
		idx[store.IndexContextID] = v.ContextID
	}
	if v.ParentID != "" {
		idx[store.IndexParentID] = v.ParentID
	}
	if v.Protocol != "" {
		idx[store.IndexProtocol] = v.Protocol
	}
	if v.ProtocolPath != "" {
		idx[store.IndexProtocolPath] = v.ProtocolPath
	}
	if v.Schema != "" {
		idx[store.IndexSchema] = v.Schema
	}
	if v.DataFormat != "" {
		idx[store.IndexDataFormat] = v.DataFormat
	}
	if v.Recipient != "" {
		idx[store.IndexRecipient] = v.Recipient
	}
	if v.Author != "" {
		idx[store.IndexAuthor] = v.Author
	}
	return idx
}
