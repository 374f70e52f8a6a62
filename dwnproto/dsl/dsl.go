// Package dsl implements parsing for the Protocol Definition Language (PDL),
// the text format protocol authors write ProtocolsConfigure bodies in.
package dsl

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"

	"xdao.co/dwncore/dwnproto"
)

const (
	preamble  = "-----BEGIN DWN PROTOCOL DEFINITION-----"
	postamble = "-----END DWN PROTOCOL DEFINITION-----"
)

// Parse parses a protocol definition from its PDL text representation.
func Parse(data []byte) (*dwnproto.Definition, error) {
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		return nil, errors.New("dsl: BOM not allowed")
	}
	if bytes.Contains(data, []byte("\r")) {
		return nil, errors.New("dsl: CR line endings not allowed")
	}
	if !bytes.HasPrefix(data, []byte(preamble)) {
		return nil, errors.New("dsl: missing protocol definition preamble")
	}
	if !bytes.HasSuffix(bytes.TrimSpace(data), []byte(postamble)) {
		return nil, errors.New("dsl: missing protocol definition postamble")
	}

	reader := bufio.NewReader(bytes.NewReader(data))
	meta := make(map[string]string)
	records := make(map[string]*dwnproto.RuleSet)
	nodeCount := 0
	var currSection string

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "META":
			currSection = "META"
		case trimmed == preamble || trimmed == postamble:
			// boundary markers, not section headers
		case strings.HasPrefix(trimmed, "RECORD "):
			path := strings.TrimSpace(strings.TrimPrefix(trimmed, "RECORD "))
			if path == "" {
				return nil, errors.New("dsl: RECORD with empty path")
			}
			block, blockErr := readRecordBlock(reader)
			if blockErr != nil {
				return nil, fmt.Errorf("dsl: record %s: %w", path, blockErr)
			}
			_, created, insertErr := insertRecord(records, path, block)
			if insertErr != nil {
				return nil, fmt.Errorf("dsl: record %s: %w", path, insertErr)
			}
			nodeCount += created
			if nodeCount > dwnproto.MaxNodes {
				return nil, errors.New("dsl: protocol definition exceeds maximum node count")
			}
			if depthOf(path) > dwnproto.MaxDepth {
				return nil, errors.New("dsl: protocol definition exceeds maximum depth")
			}
			currSection = ""
		case currSection == "META" && strings.Contains(trimmed, ": "):
			kv := strings.SplitN(trimmed, ": ", 2)
			meta[kv[0]] = kv[1]
		}

		if err != nil {
			break
		}
	}

	protocol := meta["Protocol"]
	if protocol == "" {
		return nil, errors.New("dsl: META section missing Protocol")
	}

	return &dwnproto.Definition{Protocol: protocol, Records: records}, nil
}

// readRecordBlock consumes lines belonging to a single RECORD block: every
// line up to (but not including) the next blank line, RECORD header, or the
// postamble. A terminating blank line or postamble is consumed; a line that
// begins with "RECORD " is left unread so Parse reads it as the next header.
func readRecordBlock(reader *bufio.Reader) (*dwnproto.RuleSet, error) {
	rs := &dwnproto.RuleSet{}
	for {
		if next, _ := reader.Peek(len("RECORD ")); string(next) == "RECORD " {
			break
		}
		peeked, err := reader.ReadString('\n')
		line := strings.TrimSpace(peeked)
		if line == "" || strings.HasPrefix(line, "RECORD ") || line == postamble {
			break
		}
		switch {
		case strings.HasPrefix(line, "Schema: "):
			rs.Schema = strings.TrimPrefix(line, "Schema: ")
		case strings.HasPrefix(line, "DataFormats: "):
			formats := strings.TrimPrefix(line, "DataFormats: ")
			for _, f := range strings.Split(formats, ",") {
				rs.DataFormats = append(rs.DataFormats, strings.TrimSpace(f))
			}
		case strings.HasPrefix(line, "Allow: "):
			rule, parseErr := parseAllowLine(strings.TrimPrefix(line, "Allow: "))
			if parseErr != nil {
				return nil, parseErr
			}
			rs.Allow = append(rs.Allow, rule)
		default:
			return nil, fmt.Errorf("unrecognized line %q", line)
		}
		if err != nil {
			break
		}
	}
	return rs, nil
}

// parseAllowLine parses one of:
//
//	anyone read,write
//	author(<path>) read
//	recipient(<path>) read,write
func parseAllowLine(s string) (dwnproto.Allow, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return dwnproto.Allow{}, fmt.Errorf("malformed Allow line %q", s)
	}
	actorSpec, actionSpec := fields[0], fields[1]

	var actor dwnproto.Actor
	var path string
	switch {
	case actorSpec == "anyone":
		actor = dwnproto.ActorAnyone
	case strings.HasPrefix(actorSpec, "author(") && strings.HasSuffix(actorSpec, ")"):
		actor = dwnproto.ActorAuthor
		path = actorSpec[len("author(") : len(actorSpec)-1]
	case strings.HasPrefix(actorSpec, "recipient(") && strings.HasSuffix(actorSpec, ")"):
		actor = dwnproto.ActorRecipient
		path = actorSpec[len("recipient(") : len(actorSpec)-1]
	default:
		return dwnproto.Allow{}, fmt.Errorf("unrecognized actor %q", actorSpec)
	}
	if actor != dwnproto.ActorAnyone && path == "" {
		return dwnproto.Allow{}, fmt.Errorf("actor %q requires a non-empty path", actorSpec)
	}

	var actions []dwnproto.Action
	for _, a := range strings.Split(actionSpec, ",") {
		switch strings.TrimSpace(a) {
		case "read":
			actions = append(actions, dwnproto.ActionRead)
		case "write":
			actions = append(actions, dwnproto.ActionWrite)
		default:
			return dwnproto.Allow{}, fmt.Errorf("unrecognized action %q", a)
		}
	}
	if len(actions) == 0 {
		return dwnproto.Allow{}, errors.New("Allow line declares no actions")
	}

	return dwnproto.Allow{Actor: actor, Actions: actions, ProtocolPath: path}, nil
}

// insertRecord places block at path within records, creating empty
// intermediate nodes for any ancestor segment not yet declared. It returns
// the terminal node and the number of newly-created nodes (for the
// ingestion-time node-count limit).
func insertRecord(records map[string]*dwnproto.RuleSet, path string, block *dwnproto.RuleSet) (*dwnproto.RuleSet, int, error) {
	segments := strings.Split(path, "/")
	children := records
	created := 0
	var node *dwnproto.RuleSet
	for i, seg := range segments {
		if seg == "" {
			return nil, 0, fmt.Errorf("empty path segment in %q", path)
		}
		existing, ok := children[seg]
		if !ok {
			existing = &dwnproto.RuleSet{RecordDefinition: seg, Records: map[string]*dwnproto.RuleSet{}}
			children[seg] = existing
			created++
		}
		node = existing
		if i == len(segments)-1 {
			node.Schema = block.Schema
			node.DataFormats = block.DataFormats
			node.Allow = block.Allow
		}
		children = node.Records
	}
	return node, created, nil
}

func depthOf(path string) int {
	return strings.Count(path, "/") + 1
}
