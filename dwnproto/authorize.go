package dwnproto

import (
	"context"
	"strings"

	"xdao.co/dwncore/dwnerrors"
)

// RecordView is the subset of a Records message's fields the evaluator
// needs. Callers build one from a message.Message (see records.ViewOf);
// dwnproto does not depend on the message package directly so that the
// evaluator's unit tests can construct views without a full codec.
type RecordView struct {
	RecordID     string
	ContextID    string
	ParentID     string
	Protocol     string
	ProtocolPath string
	Schema       string
	DataFormat   string
	Recipient    string
	Author       string

	// Method is "Write" or "Read" — the incoming message's method, which
	// determines the required action (spec.md §4.2 step 6).
	Method string
}

func (v RecordView) isInitialWrite() bool {
	return v.ParentID == ""
}

// AncestorLookup is the narrow Message Store query surface the evaluator
// needs: fetch a record's current write by recordId, and fetch a protocol's
// current definition by its URI. Both are scoped to tenant by the
// implementation (spec.md §5: "implementers must namespace all queries by
// tenant").
type AncestorLookup interface {
	GetRecord(ctx context.Context, tenant, recordID string) (RecordView, bool, error)
	GetDefinition(ctx context.Context, tenant, protocol string) (*Definition, bool, error)
}

// Authorize decides whether requester may perform incoming's method against
// the record it targets, per spec.md §4.2. It is a pure function of its
// inputs modulo lookup's (deterministic, tenant-scoped) answers.
func Authorize(ctx context.Context, tenant string, incoming RecordView, requester string, lookup AncestorLookup) error {
	chain, err := buildAncestorChain(ctx, tenant, incoming, lookup)
	if err != nil {
		return err
	}

	protocol := incoming.Protocol
	if incoming.Method == "Read" {
		protocol = chain[0].Protocol
	}
	def, ok, err := lookup.GetDefinition(ctx, tenant, protocol)
	if err != nil {
		return dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "query protocol definition", err)
	}
	if !ok {
		return dwnerrors.New(dwnerrors.KindNotFound, "ProtocolNotFound", "protocol definition not found: "+protocol)
	}

	if incoming.Method != "Read" {
		if err := verifyProtocolPath(chain, def); err != nil {
			return err
		}
	}

	ruleSet, err := lookupRuleSet(def, incoming.ProtocolPath, chain)
	if err != nil {
		return err
	}

	if incoming.Method != "Read" {
		if err := checkRecordDefinitionConstraints(ruleSet, incoming); err != nil {
			return err
		}
	}

	requiredAction := ActionWrite
	if incoming.Method == "Read" {
		requiredAction = ActionRead
	}
	if err := evaluateAction(chain, ruleSet, requiredAction, requester, tenant); err != nil {
		return err
	}

	if incoming.Method != "Read" && !incoming.isInitialWrite() {
		initial := chain[0]
		if initial.Author != incoming.Author {
			return dwnerrors.New(dwnerrors.KindAuthzFailure, "AuthorMismatch",
				"non-initial write author does not match initial write author")
		}
	}

	return nil
}

// buildAncestorChain walks descriptor.parentId back to the root, returning
// the chain root-first. Iterative per spec.md §9's explicit no-recursion
// note.
func buildAncestorChain(ctx context.Context, tenant string, incoming RecordView, lookup AncestorLookup) ([]RecordView, error) {
	var reverseChain []RecordView

	var cur RecordView
	if incoming.Method == "Read" {
		rv, ok, err := lookup.GetRecord(ctx, tenant, incoming.RecordID)
		if err != nil {
			return nil, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "query current write", err)
		}
		if !ok {
			return nil, dwnerrors.New(dwnerrors.KindNotFound, "AncestorMissing", "no write found for recordId")
		}
		cur = rv
	} else {
		cur = incoming
	}
	reverseChain = append(reverseChain, cur)

	parentID := cur.ParentID
	for parentID != "" {
		parent, ok, err := lookup.GetRecord(ctx, tenant, parentID)
		if err != nil {
			return nil, dwnerrors.Wrap(dwnerrors.KindStoreFailure, "StoreFailure", "query ancestor", err)
		}
		if !ok {
			return nil, dwnerrors.New(dwnerrors.KindNotFound, "AncestorMissing", "ancestor not found: "+parentID)
		}
		reverseChain = append(reverseChain, parent)
		parentID = parent.ParentID
	}

	chain := make([]RecordView, len(reverseChain))
	for i, v := range reverseChain {
		chain[len(reverseChain)-1-i] = v
	}
	return chain, nil
}

// verifyProtocolPath checks that incoming's declared ProtocolPath is the
// concatenation of each ancestor's terminal segment, ending in a record
// definition that exists in def.Records (spec.md §4.2 step 3).
func verifyProtocolPath(chain []RecordView, def *Definition) error {
	last := chain[len(chain)-1]
	segments := strings.Split(last.ProtocolPath, "/")
	if len(segments) == 0 || segments[len(segments)-1] == "" {
		return dwnerrors.New(dwnerrors.KindAuthzFailure, "IncorrectProtocolPath", "empty protocol path")
	}

	// Each ancestor's own protocolPath must be a correctly-formed prefix:
	// its terminal segment matches its position, and walking the chain
	// root-first must reconstruct the same '/'-joined sequence.
	expectedPrefix := ""
	for i, anc := range chain {
		ancSegments := strings.Split(anc.ProtocolPath, "/")
		if len(ancSegments) != i+1 {
			return dwnerrors.New(dwnerrors.KindAuthzFailure, "IncorrectProtocolPath",
				"ancestor protocol path depth does not match chain position")
		}
		if expectedPrefix != "" && anc.ProtocolPath != expectedPrefix+"/"+ancSegments[i] {
			return dwnerrors.New(dwnerrors.KindAuthzFailure, "IncorrectProtocolPath",
				"ancestor protocol path is not a prefix of the incoming path")
		}
		expectedPrefix = anc.ProtocolPath
	}

	finalDefName := segments[len(segments)-1]
	if !recordDefinitionExists(def, finalDefName, segments) {
		return dwnerrors.New(dwnerrors.KindAuthzFailure, "InvalidRecordDefinition",
			"record definition not declared in protocol: "+finalDefName)
	}
	return nil
}

// recordDefinitionExists confirms the full path resolves to a declared node
// in the definition tree (not merely that the leaf name exists somewhere).
func recordDefinitionExists(def *Definition, leafName string, segments []string) bool {
	node := navigateTree(def, segments)
	return node != nil && node.RecordDefinition == leafName
}

// navigateTree walks def.Records along segments and returns the terminal
// node, or nil if any segment is missing. A missing intermediate node and a
// missing leaf both yield nil.
func navigateTree(def *Definition, segments []string) *RuleSet {
	if len(segments) == 0 {
		return nil
	}
	children := def.Records
	var node *RuleSet
	for _, seg := range segments {
		next, ok := children[seg]
		if !ok {
			return nil
		}
		node = next
		children = next.Records
	}
	return node
}

// lookupRuleSet traverses the protocol definition along protocolPath's
// segments, returning MissingRuleSet if any node along it is absent,
// intermediate or leaf alike (spec.md §4.2 step 4).
func lookupRuleSet(def *Definition, protocolPath string, chain []RecordView) (*RuleSet, error) {
	path := protocolPath
	if path == "" {
		path = chain[len(chain)-1].ProtocolPath
	}
	segments := strings.Split(path, "/")
	children := def.Records
	var node *RuleSet
	for i, seg := range segments {
		next, ok := children[seg]
		if !ok {
			return nil, dwnerrors.New(dwnerrors.KindAuthzFailure, "MissingRuleSet",
				"no rule set at path segment "+seg)
		}
		node = next
		if i < len(segments)-1 {
			children = next.Records
		}
	}
	if node == nil {
		return nil, dwnerrors.New(dwnerrors.KindAuthzFailure, "MissingRuleSet", "empty protocol path")
	}
	return node, nil
}

func checkRecordDefinitionConstraints(rs *RuleSet, incoming RecordView) error {
	if rs.Schema != "" && rs.Schema != incoming.Schema {
		return dwnerrors.New(dwnerrors.KindAuthzFailure, "SchemaMismatch",
			"write schema does not match record definition")
	}
	if len(rs.DataFormats) > 0 {
		ok := false
		for _, f := range rs.DataFormats {
			if f == incoming.DataFormat {
				ok = true
				break
			}
		}
		if !ok {
			return dwnerrors.New(dwnerrors.KindAuthzFailure, "DataFormatMismatch",
				"write dataFormat not permitted by record definition")
		}
	}
	return nil
}

// evaluateAction resolves the required action and checks it against the
// union of actions granted by matching allow rules (spec.md §4.2 step 6).
// If the rule set declares no allow rules at all, only the tenant itself
// may act.
func evaluateAction(chain []RecordView, rs *RuleSet, required Action, requester, tenant string) error {
	if len(rs.Allow) == 0 {
		if requester == tenant {
			return nil
		}
		return dwnerrors.New(dwnerrors.KindAuthzFailure, "UnauthorizedNoAllowRule",
			"no allow rule declared and requester is not the tenant")
	}

	granted := map[Action]bool{}
	incoming := chain[len(chain)-1]
	for _, rule := range rs.Allow {
		switch rule.Actor {
		case ActorAnyone:
			for _, a := range rule.Actions {
				granted[a] = true
			}
		case ActorAuthor, ActorRecipient:
			anc, ok := findAncestorByPath(chain, rule.ProtocolPath, incoming.ProtocolPath)
			if !ok {
				continue
			}
			var candidate string
			if rule.Actor == ActorAuthor {
				candidate = anc.Author
			} else {
				candidate = anc.Recipient
			}
			if candidate != "" && candidate == requester {
				for _, a := range rule.Actions {
					granted[a] = true
				}
			}
		}
	}

	if !granted[required] {
		return dwnerrors.New(dwnerrors.KindAuthzFailure, "ActionNotAllowed",
			"requester is not authorized to perform "+string(required))
	}
	return nil
}

// findAncestorByPath locates the chain entry whose protocolPath equals
// ruleProtocolPath. ruleProtocolPath is declared relative to the protocol
// root exactly like every ProtocolPath in the chain, so a direct match
// suffices; it must be a prefix of the incoming record's own path.
func findAncestorByPath(chain []RecordView, ruleProtocolPath, incomingPath string) (RecordView, bool) {
	if ruleProtocolPath == "" {
		return RecordView{}, false
	}
	if !strings.HasPrefix(incomingPath+"/", ruleProtocolPath+"/") && incomingPath != ruleProtocolPath {
		return RecordView{}, false
	}
	for _, anc := range chain {
		if anc.ProtocolPath == ruleProtocolPath {
			return anc, true
		}
	}
	return RecordView{}, false
}
