package engine

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"

	"xdao.co/dwncore/didresolve"
	"xdao.co/dwncore/dwnerrors"
	"xdao.co/dwncore/message"
)

// Authenticator verifies a message's signature against a resolved DID
// document, per spec.md §2 step 2. spec.md §1 treats the signed-message
// codec as an external collaborator reached through a narrow interface;
// Authenticator is this core's reference implementation of that
// collaborator for ed25519-signed messages, grounded on
// keys.SignEd25519SHA256's sha256-digest-then-Ed25519 convention — this is
// its verification counterpart.
type Authenticator struct {
	Resolver didresolve.DIDResolver
}

// Authenticate checks msg's first signature and returns the signer's DID.
// Only the first signature is checked: a delegated second signature (owner
// signature override) is not supported, matching the Open Question
// decision recorded in DESIGN.md.
func (a Authenticator) Authenticate(ctx context.Context, msg message.Message) (string, error) {
	if len(msg.Authorization.Signatures) == 0 {
		return "", dwnerrors.New(dwnerrors.KindAuthFailure, "MissingSignature", "message carries no signatures")
	}
	sig := msg.Authorization.Signatures[0]

	kid, _ := sig.ProtectedHeader["kid"].(string)
	if kid == "" {
		return "", dwnerrors.New(dwnerrors.KindAuthFailure, "MissingKeyID", "signature protected header has no kid")
	}
	did := splitDID(kid)

	doc, err := a.Resolver.Resolve(ctx, did)
	if err != nil {
		return "", dwnerrors.Wrap(dwnerrors.KindAuthFailure, "UnresolvableDID", "resolving signer DID", err)
	}
	vm, ok := doc.Authenticator(kid)
	if !ok {
		return "", dwnerrors.New(dwnerrors.KindAuthFailure, "UnknownVerificationMethod",
			"kid is not an authorized verification method: "+kid)
	}
	pub, err := vm.PublicKey()
	if err != nil {
		return "", dwnerrors.Wrap(dwnerrors.KindAuthFailure, "InvalidVerificationMethod", "decoding verification method", err)
	}

	// Authorization — which carries the signature itself — cannot be part
	// of what it signs, but for Records messages recordId/contextId/
	// encryption are bound into the signed payload alongside the
	// descriptor (spec.md §3), so a validly-signed descriptor can't be
	// replayed under a different recordId/contextId.
	payload, err := message.CanonicalAuthorizationPayloadBytes(msg)
	if err != nil {
		return "", dwnerrors.Wrap(dwnerrors.KindMalformed, "Malformed", "canonicalizing authorization payload", err)
	}
	digest := sha256.Sum256(payload)
	if !ed25519.Verify(pub, digest[:], sig.Signature) {
		return "", dwnerrors.New(dwnerrors.KindAuthFailure, "InvalidSignature", "signature does not verify against resolved key")
	}
	return did, nil
}

func splitDID(kid string) string {
	for i := 0; i < len(kid); i++ {
		if kid[i] == '#' {
			return kid[:i]
		}
	}
	return kid
}
