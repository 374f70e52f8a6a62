// Package didresolve resolves DID identifiers to verification material.
// Signature verification itself is an external collaborator (spec.md §6);
// this package only gets a caller from "this DID" to "these public keys".
package didresolve

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
)

// VerificationMethod is one entry of a DID document's verification method
// set — the information needed to check a signature claiming to come from
// this DID. PublicKeyBase64 follows the same "ed25519:" + base64(pubkey)
// convention keys.GenerateSignerKeyFromSeed already uses, rather than
// multibase: the corpus carries no multibase/multicodec-key library beyond
// the CID-oriented multihash/multicodec already pulled in by cidutil.
type VerificationMethod struct {
	ID              string
	Type            string
	Controller      string
	PublicKeyBase64 string
}

// PublicKey decodes m's embedded Ed25519 public key.
func (m VerificationMethod) PublicKey() (ed25519.PublicKey, error) {
	const prefix = "ed25519:"
	if !strings.HasPrefix(m.PublicKeyBase64, prefix) {
		return nil, fmt.Errorf("didresolve: unsupported key encoding %q", m.PublicKeyBase64)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(m.PublicKeyBase64, prefix))
	if err != nil {
		return nil, fmt.Errorf("didresolve: decoding public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("didresolve: expected %d-byte Ed25519 key, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// DIDDocument is the resolved subset of a DID document this core needs:
// enough verification methods to check a message's signature, and which of
// them are authorized to authenticate on the DID's behalf.
type DIDDocument struct {
	ID                 string
	VerificationMethod []VerificationMethod
	Authentication     []string // verification method IDs
}

// Authenticator returns the verification method named by id, provided id
// is also listed in Authentication.
func (d DIDDocument) Authenticator(id string) (VerificationMethod, bool) {
	allowed := false
	for _, a := range d.Authentication {
		if a == id {
			allowed = true
			break
		}
	}
	if !allowed {
		return VerificationMethod{}, false
	}
	for _, vm := range d.VerificationMethod {
		if vm.ID == id {
			return vm, true
		}
	}
	return VerificationMethod{}, false
}

// DIDResolver resolves a DID to its document.
type DIDResolver interface {
	Resolve(ctx context.Context, did string) (DIDDocument, error)
}

// KeyResolver resolves "did:key:ed25519:<base64 pubkey>" identifiers
// entirely locally: a did:key DID is self-certifying, so resolution never
// touches disk or network — the same "offline and deterministic" posture
// store/localfs.CAS documents for content-addressed storage.
type KeyResolver struct{}

func (KeyResolver) Resolve(_ context.Context, did string) (DIDDocument, error) {
	const prefix = "did:key:"
	if !strings.HasPrefix(did, prefix) {
		return DIDDocument{}, fmt.Errorf("didresolve: %q is not a did:key identifier", did)
	}
	encoded := strings.TrimPrefix(did, prefix)
	vm := VerificationMethod{
		ID:              did + "#key-1",
		Type:            "Ed25519VerificationKey2020",
		Controller:      did,
		PublicKeyBase64: encoded,
	}
	if _, err := vm.PublicKey(); err != nil {
		return DIDDocument{}, err
	}
	return DIDDocument{
		ID:                 did,
		VerificationMethod: []VerificationMethod{vm},
		Authentication:     []string{vm.ID},
	}, nil
}
