package hash

import "github.com/meshledger/dagnode/pkg/dag"

// DeepCloneDefinition recursively copies a definition tree. A shallow copy
// here would leak mutations back into the caller's tree the moment a
// sibling branch is normalized or stripped downstream — spec.md §4.1 calls
// this out explicitly as a correctness bug, not just a style nit.
func DeepCloneDefinition(n *dag.DefinitionNode) *dag.DefinitionNode {
	if n == nil {
		return nil
	}
	clone := *n
	if n.Subs != nil {
		clone.Subs = make([]*dag.DefinitionNode, len(n.Subs))
		for i, s := range n.Subs {
			clone.Subs[i] = DeepCloneDefinition(s)
		}
	}
	if n.Weights != nil {
		clone.Weights = append([]uint32(nil), n.Weights...)
	}
	if n.Oracles != nil {
		clone.Oracles = append([]string(nil), n.Oracles...)
	}
	if n.SumFilter != nil {
		clone.SumFilter = make(map[string]string, len(n.SumFilter))
		for k, v := range n.SumFilter {
			clone.SumFilter[k] = v
		}
	}
	if n.TemplateParams != nil {
		clone.TemplateParams = make(map[string]string, len(n.TemplateParams))
		for k, v := range n.TemplateParams {
			clone.TemplateParams[k] = v
		}
	}
	clone.Sub = DeepCloneDefinition(n.Sub)
	return &clone
}

// DeepCloneMessage recursively copies one message, including its payload
// map/slice structure where the payload is a generic map[string]interface{}
// (the common case for JSON-decoded messages).
func DeepCloneMessage(m dag.Message) dag.Message {
	return dag.Message{App: m.App, Payload: deepCloneValue(m.Payload)}
}

// DeepCloneMessages clones an ordered slice of messages.
func DeepCloneMessages(msgs []dag.Message) []dag.Message {
	if msgs == nil {
		return nil
	}
	out := make([]dag.Message, len(msgs))
	for i, m := range msgs {
		out[i] = DeepCloneMessage(m)
	}
	return out
}

// deepCloneValue recursively clones the generic JSON-shaped values
// (map[string]interface{}, []interface{}) that a decoded message payload is
// built from. Scalars are copied by value already.
func deepCloneValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			out[k] = deepCloneValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, val := range vv {
			out[i] = deepCloneValue(val)
		}
		return out
	default:
		return vv
	}
}

// StripNulls removes null-valued keys from a deep-cloned copy of payload,
// used when preparing device messages for delivery (spec.md §4.1: clone
// before removing null fields). The original is left untouched.
func StripNulls(payload interface{}) interface{} {
	cloned := deepCloneValue(payload)
	return stripNullsInPlace(cloned)
}

func stripNullsInPlace(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		for k, val := range vv {
			if val == nil {
				delete(vv, k)
				continue
			}
			vv[k] = stripNullsInPlace(val)
		}
		return vv
	case []interface{}:
		for i, val := range vv {
			vv[i] = stripNullsInPlace(val)
		}
		return vv
	default:
		return vv
	}
}
