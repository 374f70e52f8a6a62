package dwnproto

import (
	"fmt"
)

// ToFields renders a Definition into the plain map[string]any shape a
// ProtocolsConfigure descriptor carries in its Fields (the same
// "structured, CBOR-encodable value" convention message.Descriptor.Fields
// uses everywhere else) so it round-trips through canonical CBOR like any
// other descriptor field.
func (d *Definition) ToFields() map[string]any {
	records := make(map[string]any, len(d.Records))
	for name, rs := range d.Records {
		records[name] = rs.toMap()
	}
	return map[string]any{
		"protocol": d.Protocol,
		"records":  records,
	}
}

func (rs *RuleSet) toMap() map[string]any {
	m := map[string]any{}
	if rs.RecordDefinition != "" {
		m["recordDefinition"] = rs.RecordDefinition
	}
	if rs.Schema != "" {
		m["schema"] = rs.Schema
	}
	if len(rs.DataFormats) > 0 {
		formats := make([]any, len(rs.DataFormats))
		for i, f := range rs.DataFormats {
			formats[i] = f
		}
		m["dataFormats"] = formats
	}
	if len(rs.Allow) > 0 {
		allows := make([]any, len(rs.Allow))
		for i, a := range rs.Allow {
			allows[i] = a.toMap()
		}
		m["allow"] = allows
	}
	if len(rs.Records) > 0 {
		children := make(map[string]any, len(rs.Records))
		for name, child := range rs.Records {
			children[name] = child.toMap()
		}
		m["records"] = children
	}
	return m
}

func (a Allow) toMap() map[string]any {
	actions := make([]any, len(a.Actions))
	for i, act := range a.Actions {
		actions[i] = string(act)
	}
	m := map[string]any{
		"actor":   string(a.Actor),
		"actions": actions,
	}
	if a.ProtocolPath != "" {
		m["protocolPath"] = a.ProtocolPath
	}
	return m
}

// DefinitionFromFields reverses ToFields, as used by a Message Store
// implementation that persisted descriptor.Fields verbatim (e.g. after a
// round trip through CBOR, where nested maps decode back as map[any]any and
// slices as []any — this function accepts either the pre- or post-round-trip
// shape).
func DefinitionFromFields(fields map[string]any) (*Definition, error) {
	protocol, _ := fields["protocol"].(string)
	if protocol == "" {
		return nil, fmt.Errorf("dwnproto: definition fields missing protocol")
	}
	recordsRaw, ok := asMap(fields["records"])
	if !ok {
		return nil, fmt.Errorf("dwnproto: definition fields missing records")
	}
	records, err := ruleSetsFromMap(recordsRaw)
	if err != nil {
		return nil, err
	}
	return &Definition{Protocol: protocol, Records: records}, nil
}

func ruleSetsFromMap(raw map[string]any) (map[string]*RuleSet, error) {
	out := make(map[string]*RuleSet, len(raw))
	for name, v := range raw {
		nodeRaw, ok := asMap(v)
		if !ok {
			return nil, fmt.Errorf("dwnproto: record %q is not an object", name)
		}
		node, err := ruleSetFromMap(nodeRaw)
		if err != nil {
			return nil, fmt.Errorf("dwnproto: record %q: %w", name, err)
		}
		out[name] = node
	}
	return out, nil
}

func ruleSetFromMap(m map[string]any) (*RuleSet, error) {
	rs := &RuleSet{}
	rs.RecordDefinition, _ = m["recordDefinition"].(string)
	rs.Schema, _ = m["schema"].(string)

	if rawFormats, ok := asSlice(m["dataFormats"]); ok {
		for _, v := range rawFormats {
			s, _ := v.(string)
			rs.DataFormats = append(rs.DataFormats, s)
		}
	}

	if rawAllow, ok := asSlice(m["allow"]); ok {
		for _, v := range rawAllow {
			allowMap, ok := asMap(v)
			if !ok {
				return nil, fmt.Errorf("allow entry is not an object")
			}
			allow, err := allowFromMap(allowMap)
			if err != nil {
				return nil, err
			}
			rs.Allow = append(rs.Allow, allow)
		}
	}

	if rawChildren, ok := asMap(m["records"]); ok {
		children, err := ruleSetsFromMap(rawChildren)
		if err != nil {
			return nil, err
		}
		rs.Records = children
	}

	return rs, nil
}

func allowFromMap(m map[string]any) (Allow, error) {
	actorStr, _ := m["actor"].(string)
	if actorStr == "" {
		return Allow{}, fmt.Errorf("allow entry missing actor")
	}
	allow := Allow{Actor: Actor(actorStr)}
	allow.ProtocolPath, _ = m["protocolPath"].(string)

	rawActions, ok := asSlice(m["actions"])
	if !ok || len(rawActions) == 0 {
		return Allow{}, fmt.Errorf("allow entry missing actions")
	}
	for _, v := range rawActions {
		s, _ := v.(string)
		if s == "" {
			return Allow{}, fmt.Errorf("allow entry has a non-string action")
		}
		allow.Actions = append(allow.Actions, Action(s))
	}
	return allow, nil
}

// asMap accepts either map[string]any (the in-process shape) or the
// map[any]any / map[interface{}]any shape some CBOR decoders produce, since
// callers may hand either a freshly built definition or one round-tripped
// through a generic decoder.
func asMap(v any) (map[string]any, bool) {
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

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}
