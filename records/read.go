package records

import (
	"context"

	"xdao.co/dwncore/dwnerrors"
	"xdao.co/dwncore/dwnproto"
	"xdao.co/dwncore/message"
	"xdao.co/dwncore/store"
)

// ReadResult is the current write for a record, plus its associated data
// bytes when the Data Store holds one (RecordsWrite may be metadata-only).
type ReadResult struct {
	Write message.Message
	Data  []byte
}

// ProcessRead resolves recordId to its current write, runs protocol
// authorization against the requester if the record declares a protocol,
// and fetches the write's data payload. spec.md §4.2 step 1/2 describe how
// a read re-derives its ancestor chain and protocol from the stored write
// rather than from the (mostly empty) incoming RecordsRead descriptor.
func ProcessRead(ctx context.Context, tenant, recordID, requester string, messages store.MessageStore, data store.DataStore) (ReadResult, error) {
	matches, err := messages.Query(ctx, tenant, map[string][]string{
		store.IndexInterface: {"Records"},
		store.IndexMethod:    {"Write"},
		store.IndexRecordID:  {recordID},
	})
	if err != nil {
		return ReadResult{}, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "query record", err)
	}
	if len(matches) == 0 {
		return ReadResult{}, dwnerrors.New(dwnerrors.KindNotFound, "RecordNotFound", "no write found for recordId: "+recordID)
	}
	current, err := newestOf(matches)
	if err != nil {
		return ReadResult{}, err
	}

	view, err := ViewOf(current, "Read")
	if err != nil {
		return ReadResult{}, err
	}
	view.RecordID = recordID

	if view.Protocol != "" {
		lookup := MessageStoreLookup{Messages: messages}
		readView := dwnproto.RecordView{RecordID: recordID, Method: "Read"}
		if err := dwnproto.Authorize(ctx, tenant, readView, requester, lookup); err != nil {
			return ReadResult{}, err
		}
	}

	dataCID := stringField(current.Descriptor, "dataCid")
	if dataCID == "" {
		return ReadResult{Write: current}, nil
	}
	c, err := parseCID(dataCID)
	if err != nil {
		return ReadResult{}, err
	}
	bytes, err := data.Get(ctx, tenant, recordID, c)
	if err != nil {
		return ReadResult{}, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "fetch record data", err)
	}
	return ReadResult{Write: current, Data: bytes}, nil
}
