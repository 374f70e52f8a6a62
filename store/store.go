package store

import (
	"context"

	"github.com/ipfs/go-cid"

	"xdao.co/dwncore/message"
)

// Recognized Message Store index names (spec.md §6).
const (
	IndexInterface           = "interface"
	IndexMethod              = "method"
	IndexProtocol            = "protocol"
	IndexContextID           = "contextId"
	IndexRecordID            = "recordId"
	IndexParentID            = "parentId"
	IndexProtocolPath        = "protocolPath"
	IndexSchema              = "schema"
	IndexDataFormat          = "dataFormat"
	IndexRecipient           = "recipient"
	IndexPermissionsGrantID  = "permissionsGrantId"
	IndexEntryID             = "entryId"
	IndexDateCreated         = "dateCreated"
	IndexMessageTimestamp    = "messageTimestamp"
	IndexAuthor              = "author"
)

// MessageStore is the per-tenant message index spec.md §6 describes. Put is
// idempotent by CID; Query returns matches in unspecified order, leaving
// sorting (e.g. by the (timestamp, CID) total order) to callers.
type MessageStore interface {
	Put(ctx context.Context, tenant string, msg message.Message, indexes map[string]string) error

	// Query returns every stored message whose indexes satisfy filter: each
	// key names an index, and a message matches a key if its value for that
	// index is a member of the associated value set.
	Query(ctx context.Context, tenant string, filter map[string][]string) ([]message.Message, error)

	Delete(ctx context.Context, tenant string, c cid.Cid) error

	// Clear removes all state. Test-only; production implementations may
	// refuse to implement it meaningfully.
	Clear(ctx context.Context) error
}

// DataStore holds the opaque byte payloads RecordsWrite messages reference,
// keyed by (tenant, recordId, dataCid). Blob identity is the dataCid, so Put
// is naturally idempotent for identical bytes.
type DataStore interface {
	Put(ctx context.Context, tenant, recordID string, dataCID cid.Cid, data []byte) error
	Get(ctx context.Context, tenant, recordID string, dataCID cid.Cid) ([]byte, error)
	Delete(ctx context.Context, tenant, recordID string, dataCID cid.Cid) error
}

// EventLog is the per-tenant append-only sequence of accepted message CIDs,
// with surgical deletion to support the revoke-supersession tombstone rule
// (spec.md §4.3) and pagination via a message-CID cursor (spec.md §6).
type EventLog interface {
	Append(ctx context.Context, tenant string, c cid.Cid) error

	// GetEvents returns events after cursor (or from the start, if cursor is
	// nil), along with the cursor to resume from on a subsequent call, or
	// nil next if the log is exhausted.
	GetEvents(ctx context.Context, tenant string, cursor *cid.Cid) (events []cid.Cid, next *cid.Cid, err error)

	DeleteEventsByCID(ctx context.Context, tenant string, cids []cid.Cid) error
}
