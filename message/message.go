// Package message implements the wire shape of a DWN message and its
// deterministic, content-addressed identity.
package message

import "time"

// Descriptor carries the interface/method dispatch key plus method-specific
// fields. Fields holds whatever the (Interface, Method) pair requires —
// e.g. a RecordsWrite descriptor carries "protocol", "schema", "dataFormat",
// "parentId"; a PermissionsGrant descriptor carries "grantedBy", "grantedTo",
// "grantedFor", "scope", "conditions".
//
// Fields MUST NOT contain the keys "interface", "method", or
// "messageTimestamp" — those are promoted to dedicated struct fields so the
// total ordering (timestamp, then CID) can be read without decoding Fields.
type Descriptor struct {
	Interface        string         `json:"interface"`
	Method           string         `json:"method"`
	MessageTimestamp time.Time      `json:"messageTimestamp"`
	Fields           map[string]any `json:"-"`
}

// Signature is one entry of a JWS-style signature block. Construction and
// verification of the JWS itself is an external collaborator (spec.md §6);
// this core only needs the signer's key identifier and the raw signature
// bytes to check against a resolved verification method.
type Signature struct {
	ProtectedHeader map[string]any `json:"protected"`
	Signature       []byte         `json:"signature"`
}

// Authorization carries one or more signatures over the message's canonical
// hash. Records messages may carry an additional owner-delegated signature;
// this core treats Authorization as an ordered signature list and leaves
// delegation chain validation to the external JWS verifier.
type Authorization struct {
	Signatures []Signature `json:"signatures"`
}

// EncryptionBlock is an opaque, externally-constructed encryption
// descriptor (key derivation scheme, see spec.md §1 Out of scope). This
// core only needs it to round-trip through canonicalization untouched.
type EncryptionBlock struct {
	Fields map[string]any `json:"-"`
}

// Message is the top-level envelope processed by the engine.
type Message struct {
	Descriptor    Descriptor
	Authorization Authorization
	RecordID      string
	ContextID     string
	Encryption    *EncryptionBlock
}

// Author returns the DID of the message's primary signer, taken from the
// "kid" claim of the first signature's protected header (any "#fragment" is
// stripped). Authentication (verifying the signature actually belongs to that
// DID) happens elsewhere; this is purely a field accessor used once a
// signature set has already been authenticated.
func (m Message) Author() string {
	if len(m.Authorization.Signatures) == 0 {
		return ""
	}
	hdr := m.Authorization.Signatures[0].ProtectedHeader
	if hdr == nil {
		return ""
	}
	if kid, ok := hdr["kid"].(string); ok {
		if did, _, found := cutFragment(kid); found {
			return did
		}
		return kid
	}
	return ""
}

func cutFragment(kid string) (string, string, bool) {
	for i := 0; i < len(kid); i++ {
		if kid[i] == '#' {
			return kid[:i], kid[i+1:], true
		}
	}
	return kid, "", false
}
