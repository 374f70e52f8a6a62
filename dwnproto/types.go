// Package dwnproto implements protocol definitions and the protocol-based
// authorization evaluator described in spec.md §4.2.
package dwnproto

// Actor names who a rule's author/recipient comparison resolves against.
type Actor string

const (
	ActorAnyone    Actor = "anyone"
	ActorAuthor    Actor = "author"
	ActorRecipient Actor = "recipient"
)

// Action is a permission an Allow rule grants.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// Allow is one authorization rule within a RuleSet's ordered allow list.
//
// ProtocolPath identifies the ancestor whose author/recipient the requester
// must match when Actor is ActorAuthor or ActorRecipient. It is a full path
// from the protocol root (e.g. "thread" in a rule on "thread/message") and
// must be a prefix of the incoming record's protocol path. It is ignored (and must be empty) when
// Actor is ActorAnyone.
type Allow struct {
	Actor        Actor
	Actions      []Action
	ProtocolPath string
}

// RuleSet is one node of the protocol definition tree, keyed by
// record-definition name in the parent's Records map.
type RuleSet struct {
	// RecordDefinition is the name of the record type this node fixes, or ""
	// for the implicit protocol root.
	RecordDefinition string

	Schema      string
	DataFormats []string

	Allow []Allow

	// Records indexes this node's children by their record-definition name.
	Records map[string]*RuleSet
}

// Definition is the tree produced by a ProtocolsConfigure message.
type Definition struct {
	Protocol string
	Records  map[string]*RuleSet
}

// MaxDepth and MaxNodes bound the protocol-definition tree at ingestion
// time (spec.md §9: "enforce depth and node-count limits at
// ProtocolsConfigure ingestion, not at query time"). These are generous
// enough for any real protocol while still rejecting pathological input.
const (
	MaxDepth = 10
	MaxNodes = 2000
)
