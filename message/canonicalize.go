package message

import (
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var canonicalEncMode = mustCanonicalMode()

func mustCanonicalMode() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("message: building canonical CBOR encoder: %v", err))
	}
	return mode
}

// timestampLayout is the fixed-precision RFC 3339 UTC form spec.md §3
// mandates for messageTimestamp.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Timestamp returns m's messageTimestamp in the fixed-precision canonical
// form used both inside the CBOR encoding and as the lexicographically
// comparable string half of the (timestamp, cid) total order.
func Timestamp(m Message) string {
	return formatTimestamp(m.Descriptor.MessageTimestamp)
}

// reservedDescriptorKeys MUST NOT appear in Descriptor.Fields; they are
// promoted to dedicated struct fields and merged back in here.
var reservedDescriptorKeys = map[string]bool{
	"interface":        true,
	"method":           true,
	"messageTimestamp": true,
}

func descriptorMap(d Descriptor) (map[string]any, error) {
	m := make(map[string]any, len(d.Fields)+3)
	for k, v := range d.Fields {
		if reservedDescriptorKeys[k] {
			return nil, fmt.Errorf("message: descriptor field %q is reserved", k)
		}
		m[k] = v
	}
	m["interface"] = d.Interface
	m["method"] = d.Method
	m["messageTimestamp"] = formatTimestamp(d.MessageTimestamp)
	return m, nil
}

func signatureMap(s Signature) map[string]any {
	return map[string]any{
		"protected": s.ProtectedHeader,
		"signature": s.Signature,
	}
}

func authorizationMap(a Authorization) map[string]any {
	sigs := make([]map[string]any, 0, len(a.Signatures))
	for _, s := range a.Signatures {
		sigs = append(sigs, signatureMap(s))
	}
	return map[string]any{"signatures": sigs}
}

// canonicalMessageMap builds the full map[string]any that cid() hashes:
// descriptor plus authorization, recordId/contextId/encryption when set.
// This is the "authorization block included" form spec.md §4.1 requires
// for message-equality CIDs.
func canonicalMessageMap(m Message) (map[string]any, error) {
	desc, err := descriptorMap(m.Descriptor)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"descriptor":    desc,
		"authorization": authorizationMap(m.Authorization),
	}
	if m.RecordID != "" {
		out["recordId"] = m.RecordID
	}
	if m.ContextID != "" {
		out["contextId"] = m.ContextID
	}
	if m.Encryption != nil {
		out["encryption"] = m.Encryption.Fields
	}
	return out, nil
}

// CanonicalDescriptorBytes returns the deterministic CBOR encoding of the
// descriptor alone (map keys sorted lexicographically per canonical CBOR;
// floats and timestamps use their canonical forms).
func CanonicalDescriptorBytes(d Descriptor) ([]byte, error) {
	m, err := descriptorMap(d)
	if err != nil {
		return nil, err
	}
	return canonicalEncMode.Marshal(m)
}

// CanonicalMessageBytes returns the deterministic CBOR encoding of the full
// message (descriptor plus authorization, and recordId/contextId/encryption
// when present).
func CanonicalMessageBytes(m Message) ([]byte, error) {
	mp, err := canonicalMessageMap(m)
	if err != nil {
		return nil, err
	}
	return canonicalEncMode.Marshal(mp)
}

// CanonicalAuthorizationPayloadBytes returns the deterministic CBOR
// encoding a message's signature is computed over: the descriptor alone
// for most interfaces, plus — for Records messages — recordId, contextId,
// and encryption when present, per spec.md §3 ("the authorization carries
// one or more signatures over the canonical hash of descriptor (and, for
// records, of recordId/contextId/attestation/encryption)"). Binding these
// fields into the signed payload prevents a validly-signed descriptor from
// being replayed under a different recordId/contextId. attestation is not
// modeled by this core (see EncryptionBlock's doc comment for the same
// out-of-scope treatment of encryption internals).
func CanonicalAuthorizationPayloadBytes(m Message) ([]byte, error) {
	desc, err := descriptorMap(m.Descriptor)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"descriptor": desc}
	if m.Descriptor.Interface == "Records" {
		if m.RecordID != "" {
			out["recordId"] = m.RecordID
		}
		if m.ContextID != "" {
			out["contextId"] = m.ContextID
		}
		if m.Encryption != nil {
			out["encryption"] = m.Encryption.Fields
		}
	}
	return canonicalEncMode.Marshal(out)
}

// CanonicalEntryIDBytes returns the deterministic CBOR encoding used to
// derive a record's entryId: the descriptor with recordId, contextId, and
// authorization excluded (they are excluded by construction — only the
// descriptor and the tenant are ever included), plus the owning tenant DID.
// This is the "chicken-and-egg-avoiding" function of spec.md §3: recordId
// cannot be an input to its own derivation.
func CanonicalEntryIDBytes(d Descriptor, tenant string) ([]byte, error) {
	desc, err := descriptorMap(d)
	if err != nil {
		return nil, err
	}
	m := map[string]any{
		"descriptor": desc,
		"tenant":     tenant,
	}
	return canonicalEncMode.Marshal(m)
}

// sortedKeys is used by tests to assert canonical key ordering independent
// of the CBOR encoder's internals.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
