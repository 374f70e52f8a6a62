package message

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Marshal renders a full Message to CBOR for storage. Unlike
// CanonicalMessageBytes, key order is not normalized and the result is not
// suitable for hashing — it exists purely so a store implementation can
// round-trip a Message to and from bytes.
func Marshal(m Message) ([]byte, error) {
	mp, err := canonicalMessageMap(m)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(mp)
}

// Unmarshal reverses Marshal.
func Unmarshal(data []byte) (Message, error) {
	var raw any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return Message{}, err
	}
	top, ok := asStringMap(raw)
	if !ok {
		return Message{}, fmt.Errorf("message: top-level CBOR value is not a map")
	}

	descRaw, ok := asStringMap(top["descriptor"])
	if !ok {
		return Message{}, fmt.Errorf("message: missing descriptor")
	}
	desc, err := descriptorFromMap(descRaw)
	if err != nil {
		return Message{}, err
	}

	authRaw, ok := asStringMap(top["authorization"])
	if !ok {
		return Message{}, fmt.Errorf("message: missing authorization")
	}
	auth, err := authorizationFromMap(authRaw)
	if err != nil {
		return Message{}, err
	}

	m := Message{Descriptor: desc, Authorization: auth}
	if v, ok := top["recordId"].(string); ok {
		m.RecordID = v
	}
	if v, ok := top["contextId"].(string); ok {
		m.ContextID = v
	}
	if encRaw, ok := asStringMap(top["encryption"]); ok {
		m.Encryption = &EncryptionBlock{Fields: encRaw}
	}
	return m, nil
}

func descriptorFromMap(m map[string]any) (Descriptor, error) {
	iface, _ := m["interface"].(string)
	method, _ := m["method"].(string)
	tsStr, _ := m["messageTimestamp"].(string)
	if iface == "" || method == "" || tsStr == "" {
		return Descriptor{}, fmt.Errorf("message: descriptor missing interface/method/messageTimestamp")
	}
	ts, err := time.Parse(timestampLayout, tsStr)
	if err != nil {
		return Descriptor{}, fmt.Errorf("message: parsing messageTimestamp: %w", err)
	}
	fields := make(map[string]any, len(m))
	for k, v := range m {
		if reservedDescriptorKeys[k] {
			continue
		}
		fields[k] = v
	}
	return Descriptor{Interface: iface, Method: method, MessageTimestamp: ts, Fields: fields}, nil
}

func authorizationFromMap(m map[string]any) (Authorization, error) {
	sigsRaw, ok := m["signatures"].([]any)
	if !ok {
		return Authorization{}, nil
	}
	sigs := make([]Signature, 0, len(sigsRaw))
	for _, v := range sigsRaw {
		sm, ok := asStringMap(v)
		if !ok {
			return Authorization{}, fmt.Errorf("message: signature entry is not a map")
		}
		protected, _ := asStringMap(sm["protected"])
		sigBytes, _ := sm["signature"].([]byte)
		sigs = append(sigs, Signature{ProtectedHeader: protected, Signature: sigBytes})
	}
	return Authorization{Signatures: sigs}, nil
}

// asStringMap normalizes the map shapes a generic CBOR decode may produce
// (map[string]any directly, or map[interface{}]interface{} when keys were
// decoded without a known target type) into map[string]any.
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
