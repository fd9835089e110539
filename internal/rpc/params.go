package rpc

import (
	"encoding/json"
	"fmt"
)

// DecodeParams unmarshals raw into out, accepting either a JSON object
// (named params, unmarshalled directly) or a JSON array (positional
// params, where element i is stored under the JSON name names[i]) per
// the JSON-RPC 2.0 params contract. out must be a pointer to a struct
// whose JSON field names are the entries of names; the order of the
// struct's fields does not matter.
func DecodeParams(raw json.RawMessage, names []string, out interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing params")
	}

	trimmed := firstNonSpace(raw)
	if trimmed == '[' {
		var positional []json.RawMessage
		if err := json.Unmarshal(raw, &positional); err != nil {
			return fmt.Errorf("invalid positional params: %w", err)
		}
		if len(positional) != len(names) {
			return fmt.Errorf("expected %d positional params, got %d", len(names), len(positional))
		}
		obj := make(map[string]json.RawMessage, len(names))
		for i, name := range names {
			obj[name] = positional[i]
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, out)
	}

	return json.Unmarshal(raw, out)
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}
