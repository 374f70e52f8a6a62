package records

import (
	"context"

	"xdao.co/dwncore/dwnerrors"
	"xdao.co/dwncore/message"
	"xdao.co/dwncore/store"
)

// DeleteOutcome reports what ProcessDelete did, distinct from an error: a
// convergence loss is not a failure — mirroring WriteOutcome, callers must
// check Accepted rather than inferring acceptance from a nil error.
type DeleteOutcome struct {
	Accepted bool
	CID      string
}

// ProcessDelete runs a RecordsDelete: per SPEC_FULL §4.4's RecordsDelete
// supplement, the delete message is itself a convergence participant
// exactly like a RecordsWrite, racing by (messageTimestamp, cid) against
// the record's current state (a prior write or a prior tombstone). On
// winning, it purges the Data Store blob (if the current state held one)
// and retains a tombstone descriptor — the delete message itself — as the
// new current state in the Message Store, so later reads/queries observe
// it rather than the deleted content. A losing delete is silently
// discarded, mirroring RecordsWrite's own convergence-loss behavior; the
// Event Log is not purged on a winning delete either, preserving the same
// asymmetry §9's Open Question #2 already documents for writes. Protocol-
// scoped delete authorization is deliberately out of scope, matching the
// engine's conservative default wherever a behavior isn't specified:
// ownership is enforced the same way records.ProcessWrite enforces it for
// non-protocol writes — only the record's current author may delete it.
func ProcessDelete(ctx context.Context, tenant string, msg message.Message, requester string, messages store.MessageStore, data store.DataStore, events store.EventLog) (DeleteOutcome, error) {
	recordID := msg.RecordID
	matches, err := messages.Query(ctx, tenant, map[string][]string{
		store.IndexInterface: {"Records"},
		store.IndexMethod:    {"Write", "Delete"},
		store.IndexRecordID:  {recordID},
	})
	if err != nil {
		return DeleteOutcome{}, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "query record", err)
	}
	if len(matches) == 0 {
		return DeleteOutcome{}, dwnerrors.New(dwnerrors.KindNotFound, "RecordNotFound", "no write found for recordId: "+recordID)
	}
	current, err := newestOf(matches)
	if err != nil {
		return DeleteOutcome{}, err
	}
	if current.Author() != requester {
		return DeleteOutcome{}, dwnerrors.New(dwnerrors.KindAuthzFailure, "RecordsDeleteUnauthorized",
			"only the record's author may delete it")
	}

	curCID, err := message.CID(current)
	if err != nil {
		return DeleteOutcome{}, err
	}
	curTS := message.Timestamp(current)

	newCID, err := message.CID(msg)
	if err != nil {
		return DeleteOutcome{}, err
	}
	newTS := message.Timestamp(msg)

	if !message.Less(curTS, curCID, newTS, newCID) {
		// Incoming delete does not win the convergence race; discarded
		// silently, exactly as a losing RecordsWrite is.
		return DeleteOutcome{Accepted: false}, nil
	}

	if current.Descriptor.Method != "Delete" {
		dataCIDStr := stringField(current.Descriptor, "dataCid")
		if dataCIDStr != "" {
			dataCID, err := parseCID(dataCIDStr)
			if err != nil {
				return DeleteOutcome{}, err
			}
			if err := data.Delete(ctx, tenant, recordID, dataCID); err != nil {
				return DeleteOutcome{}, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "delete record data", err)
			}
		}
	}

	if err := messages.Delete(ctx, tenant, curCID); err != nil {
		return DeleteOutcome{}, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "delete superseded record state", err)
	}
	tombstoneIndexes := map[string]string{
		store.IndexInterface: "Records",
		store.IndexMethod:    "Delete",
		store.IndexRecordID:  recordID,
		store.IndexAuthor:    requester,
	}
	if err := messages.Put(ctx, tenant, msg, tombstoneIndexes); err != nil {
		return DeleteOutcome{}, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "store tombstone", err)
	}
	if err := events.Append(ctx, tenant, newCID); err != nil {
		return DeleteOutcome{}, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "append event", err)
	}
	return DeleteOutcome{Accepted: true, CID: newCID.String()}, nil
}
