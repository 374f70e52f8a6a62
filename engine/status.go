package engine

import "xdao.co/dwncore/dwnerrors"

// Status is the HTTP-aligned reply processMessage returns (spec.md §6).
type Status struct {
	Code   int
	Detail string
}

// StatusForError translates an error returned by a handler into the status
// object processMessage replies with, per the Kind → HTTP table spec.md §7
// describes; the error's Code does not affect the status. A nil error is a bare 202 accept; an error that is
// not a *dwnerrors.Error (a store implementation panicking into a recover,
// for instance) is treated as an unstructured internal failure.
func StatusForError(err error) Status {
	if err == nil {
		return Status{Code: 202}
	}
	kind := dwnerrors.KindOf(err)
	if kind == "" {
		return Status{Code: 500, Detail: err.Error()}
	}
	return Status{Code: httpCodeFor(kind), Detail: err.Error()}
}

func httpCodeFor(k dwnerrors.Kind) int {
	switch k {
	case dwnerrors.KindMalformed:
		return 400
	case dwnerrors.KindAuthFailure:
		return 401
	case dwnerrors.KindAuthzFailure:
		return 401
	case dwnerrors.KindNotFound:
		// Treated as malformed, not 404: the reference is under the
		// caller's own control (spec.md §7).
		return 400
	case dwnerrors.KindConflict:
		return 409
	case dwnerrors.KindStoreFailure, dwnerrors.KindInternal:
		return 500
	default:
		return 500
	}
}
