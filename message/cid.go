package message

import (
	"github.com/ipfs/go-cid"

	"xdao.co/dwncore/cidutil"
)

// CID returns the message's content identifier: a CIDv1 (dag-cbor +
// sha2-256) over the canonical CBOR encoding of descriptor and
// authorization (and recordId/contextId/encryption when present). Equal
// messages yield equal CIDs; this is a total function over any well-formed
// Message.
func CID(m Message) (cid.Cid, error) {
	b, err := CanonicalMessageBytes(m)
	if err != nil {
		return cid.Undef, err
	}
	return cidutil.CIDv1DagCBORSHA256CID(b)
}

// DescriptorCID returns the CID of the descriptor alone, used wherever a
// caller needs to reference "this exact set of method fields" independent
// of who signed it or what record it belongs to.
func DescriptorCID(d Descriptor) (cid.Cid, error) {
	b, err := CanonicalDescriptorBytes(d)
	if err != nil {
		return cid.Undef, err
	}
	return cidutil.CIDv1DagCBORSHA256CID(b)
}

// EntryID derives a record's stable identity from its initial write's
// descriptor and tenant. For an initial RecordsWrite, recordId MUST equal
// EntryID(descriptor, tenant); spec.md §3 calls this the
// "chicken-and-egg-avoiding" derivation because recordId is never itself an
// input.
func EntryID(d Descriptor, tenant string) (cid.Cid, error) {
	b, err := CanonicalEntryIDBytes(d, tenant)
	if err != nil {
		return cid.Undef, err
	}
	return cidutil.CIDv1DagCBORSHA256CID(b)
}

// Less implements the (timestamp, then lexicographic CID) total order of
// spec.md §4.1: a Less b iff a sorts strictly before b.
func Less(aTimestamp string, aCID cid.Cid, bTimestamp string, bCID cid.Cid) bool {
	if aTimestamp != bTimestamp {
		return aTimestamp < bTimestamp
	}
	return aCID.String() < bCID.String()
}
