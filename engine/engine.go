// Package engine implements processMessage, the single entry point
// spec.md §2 describes: authenticate, acquire the tenant's lock, dispatch
// on (interface, method) to a specialized handler, and translate the
// outcome into an HTTP-aligned status.
package engine

import (
	"context"
	"log/slog"

	"xdao.co/dwncore/didresolve"
	"xdao.co/dwncore/dwnerrors"
	"xdao.co/dwncore/dwnproto"
	"xdao.co/dwncore/message"
	"xdao.co/dwncore/permissions"
	"xdao.co/dwncore/records"
	"xdao.co/dwncore/store"
)

// Engine wires the three injected stores, a DID resolver, and an
// authenticator together. Engine values are safe for concurrent use: each
// tenant's state transitions are serialized through locks, not the Engine
// value itself.
type Engine struct {
	Messages      store.MessageStore
	Data          store.DataStore
	Events        store.EventLog
	Authenticator Authenticator

	locks    *TenantLocks
	handlers map[dispatchKey]handlerFunc
}

// New wires up an Engine backed by messages/data/events and resolving
// signer DIDs through resolver. Callers wanting DID-resolution caching
// should pass a didresolve.Cached-wrapped resolver.
func New(messages store.MessageStore, data store.DataStore, events store.EventLog, resolver didresolve.DIDResolver) *Engine {
	e := &Engine{
		Messages:      messages,
		Data:          data,
		Events:        events,
		Authenticator: Authenticator{Resolver: resolver},
		locks:         NewTenantLocks(),
	}
	e.handlers = e.dispatchTable()
	return e
}

// dispatchKey is the (interface, method) pair spec.md §9's dynamic-dispatch
// design note names as the table's lookup key.
type dispatchKey struct {
	Interface string
	Method    string
}

type handlerFunc func(ctx context.Context, tenant string, msg message.Message, requester string) (Result, error)

// dispatchTable builds the closed (interface, method) → handler mapping.
// Replacing open-world polymorphism (a type switch per message kind) with a
// table keeps adding a new interface/method pair a one-line change here
// rather than a new branch scattered across the pipeline.
func (e *Engine) dispatchTable() map[dispatchKey]handlerFunc {
	return map[dispatchKey]handlerFunc{
		{"Records", "Write"}:       e.handleRecordsWrite,
		{"Records", "Read"}:        e.handleRecordsRead,
		{"Records", "Query"}:       e.handleRecordsQuery,
		{"Records", "Delete"}:      e.handleRecordsDelete,
		{"Protocols", "Configure"}: e.handleProtocolsConfigure,
		{"Permissions", "Grant"}:   e.handlePermissionsGrant,
		{"Permissions", "Revoke"}:  e.handlePermissionsRevoke,
	}
}

// Result is what processMessage replies with (spec.md §6): a status plus,
// when the message produced one, the CID it was assigned, or — for a
// RecordsQuery — the entries it matched.
type Result struct {
	Status  Status
	CID     string
	Entries []message.Message
}

// ProcessMessage is the engine's single entry point. It authenticates msg,
// holds tenant's exclusive lock for the full read-decide-write transition
// (spec.md §5), dispatches on (interface, method), and translates the
// outcome into an HTTP-aligned Status. ProcessMessage never panics on a
// malformed or unauthorized message — every failure path returns through
// Result.Status.
func (e *Engine) ProcessMessage(ctx context.Context, tenant string, msg message.Message) Result {
	logger := slog.With(slog.String("tenant", tenant), slog.String("cid", cidStringOf(msg)))

	requester, err := e.Authenticator.Authenticate(ctx, msg)
	if err != nil {
		logger.Warn("authentication failed", slog.String("err", err.Error()))
		return Result{Status: StatusForError(err)}
	}

	release := e.locks.Lock(tenant)
	defer release()

	handler, ok := e.handlers[dispatchKey{msg.Descriptor.Interface, msg.Descriptor.Method}]
	if !ok {
		err := dwnerrors.New(dwnerrors.KindMalformed, "UnsupportedInterfaceMethod",
			"no handler registered for "+msg.Descriptor.Interface+"/"+msg.Descriptor.Method)
		logger.Warn("unsupported interface/method")
		return Result{Status: StatusForError(err)}
	}

	result, err := handler(ctx, tenant, msg, requester)
	if err != nil {
		logger.Info("message rejected", slog.String("err", err.Error()))
		return Result{Status: StatusForError(err)}
	}
	logger.Debug("message accepted", slog.Int("status", result.Status.Code))
	return result
}

func cidStringOf(msg message.Message) string {
	c, err := message.CID(msg)
	if err != nil {
		return ""
	}
	return c.String()
}

func (e *Engine) handleRecordsWrite(ctx context.Context, tenant string, msg message.Message, requester string) (Result, error) {
	out, err := records.ProcessWrite(ctx, tenant, msg, requester, e.Messages, e.Events)
	if err != nil {
		return Result{}, err
	}
	if !out.Accepted {
		// A convergence loss is not a failure: spec.md §4.4 replies 202
		// and leaves the Event Log untouched.
		return Result{Status: Status{Code: 202, Detail: "superseded by existing write"}}, nil
	}
	return Result{Status: Status{Code: 202}, CID: out.CID}, nil
}

func (e *Engine) handleRecordsRead(ctx context.Context, tenant string, msg message.Message, requester string) (Result, error) {
	res, err := records.ProcessRead(ctx, tenant, msg.RecordID, requester, e.Messages, e.Data)
	if err != nil {
		return Result{}, err
	}
	c, err := message.CID(res.Write)
	if err != nil {
		return Result{}, err
	}
	return Result{Status: Status{Code: 202}, CID: c.String()}, nil
}

func (e *Engine) handleRecordsQuery(ctx context.Context, tenant string, msg message.Message, requester string) (Result, error) {
	filter, err := filterFromFields(msg.Descriptor.Fields)
	if err != nil {
		return Result{}, err
	}
	entries, err := records.ProcessQuery(ctx, tenant, filter, requester, e.Messages)
	if err != nil {
		return Result{}, err
	}
	return Result{Status: Status{Code: 202}, Entries: entries}, nil
}

func (e *Engine) handleRecordsDelete(ctx context.Context, tenant string, msg message.Message, requester string) (Result, error) {
	out, err := records.ProcessDelete(ctx, tenant, msg, requester, e.Messages, e.Data, e.Events)
	if err != nil {
		return Result{}, err
	}
	if !out.Accepted {
		return Result{Status: Status{Code: 202, Detail: "superseded by existing record state"}}, nil
	}
	return Result{Status: Status{Code: 202}, CID: out.CID}, nil
}

func (e *Engine) handleProtocolsConfigure(ctx context.Context, tenant string, msg message.Message, _ string) (Result, error) {
	raw, ok := msg.Descriptor.Fields["definition"]
	if !ok {
		return Result{}, dwnerrors.New(dwnerrors.KindMalformed, "ProtocolsConfigureMissingDefinition",
			"descriptor.fields.definition is required")
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return Result{}, dwnerrors.New(dwnerrors.KindMalformed, "ProtocolsConfigureMissingDefinition",
			"descriptor.fields.definition must be an object")
	}
	def, err := dwnproto.DefinitionFromFields(fields)
	if err != nil {
		return Result{}, dwnerrors.Wrap(dwnerrors.KindMalformed, "Malformed", "parsing protocol definition", err)
	}
	if err := dwnproto.ValidateDefinition(def); err != nil {
		return Result{}, err
	}

	c, err := message.CID(msg)
	if err != nil {
		return Result{}, err
	}
	indexes := map[string]string{
		store.IndexInterface: "Protocols",
		store.IndexMethod:    "Configure",
		store.IndexProtocol:  def.Protocol,
	}
	if err := e.Messages.Put(ctx, tenant, msg, indexes); err != nil {
		return Result{}, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "store protocol definition", err)
	}
	if err := e.Events.Append(ctx, tenant, c); err != nil {
		return Result{}, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "append event", err)
	}
	return Result{Status: Status{Code: 202}, CID: c.String()}, nil
}

func (e *Engine) handlePermissionsGrant(ctx context.Context, tenant string, msg message.Message, _ string) (Result, error) {
	c, err := permissions.ProcessGrant(ctx, tenant, msg, e.Messages, e.Events)
	if err != nil {
		return Result{}, err
	}
	return Result{Status: Status{Code: 202}, CID: c.String()}, nil
}

func (e *Engine) handlePermissionsRevoke(ctx context.Context, tenant string, msg message.Message, requester string) (Result, error) {
	r := permissions.Revoke{
		PermissionsGrantID: stringField(msg.Descriptor, "permissionsGrantId"),
		Author:             requester,
		MessageTimestamp:   message.Timestamp(msg),
	}
	c, err := message.CID(msg)
	if err != nil {
		return Result{}, err
	}
	r.CID = c

	lookup := permissions.MessageStoreLookup{Messages: e.Messages, Events: e.Events, Incoming: msg}
	if err := permissions.ProcessRevoke(ctx, tenant, r, lookup); err != nil {
		return Result{}, err
	}
	return Result{Status: Status{Code: 202}, CID: c.String()}, nil
}

func stringField(d message.Descriptor, key string) string {
	v, ok := d.Fields[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// filterFromFields extracts a RecordsQuery's filter field and normalizes it
// into the map[string][]string shape store.MessageStore.Query expects:
// each index name maps to either a single value or an array of values
// (spec.md §6).
func filterFromFields(fields map[string]any) (map[string][]string, error) {
	raw, ok := fields["filter"]
	if !ok {
		return map[string][]string{}, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, dwnerrors.New(dwnerrors.KindMalformed, "RecordsQueryMalformedFilter", "descriptor.fields.filter must be an object")
	}
	out := make(map[string][]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = []string{val}
		case []any:
			vals := make([]string, 0, len(val))
			for _, item := range val {
				s, ok := item.(string)
				if !ok {
					return nil, dwnerrors.New(dwnerrors.KindMalformed, "RecordsQueryMalformedFilter", "filter value must be a string or array of strings")
				}
				vals = append(vals, s)
			}
			out[k] = vals
		default:
			return nil, dwnerrors.New(dwnerrors.KindMalformed, "RecordsQueryMalformedFilter", "filter value must be a string or array of strings")
		}
	}
	return out, nil
}
