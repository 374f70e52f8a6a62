package dwnproto

import "xdao.co/dwncore/dwnerrors"

// ValidateDefinition enforces the ingestion-time tree limits spec.md §9
// calls for ("enforce depth and node-count limits at ProtocolsConfigure
// ingestion, not at query time"). It walks the tree iteratively with an
// explicit stack, never recursing, per the same §9 note for rule-set
// traversal.
func ValidateDefinition(def *Definition) error {
	if def.Protocol == "" {
		return dwnerrors.New(dwnerrors.KindMalformed, "ProtocolsConfigureMissingProtocol",
			"protocol URI is required")
	}

	type frame struct {
		node  *RuleSet
		depth int
	}
	var stack []frame
	for _, child := range def.Records {
		stack = append(stack, frame{node: child, depth: 1})
	}

	nodeCount := len(def.Records)
	if nodeCount > MaxNodes {
		return dwnerrors.New(dwnerrors.KindMalformed, "ProtocolDefinitionTooLarge",
			"protocol definition exceeds maximum node count")
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth > MaxDepth {
			return dwnerrors.New(dwnerrors.KindMalformed, "ProtocolDefinitionTooDeep",
				"protocol definition exceeds maximum depth")
		}
		for _, child := range f.node.Records {
			nodeCount++
			if nodeCount > MaxNodes {
				return dwnerrors.New(dwnerrors.KindMalformed, "ProtocolDefinitionTooLarge",
					"protocol definition exceeds maximum node count")
			}
			stack = append(stack, frame{node: child, depth: f.depth + 1})
		}
	}
	return nil
}
