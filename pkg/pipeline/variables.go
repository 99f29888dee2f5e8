package pipeline

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Variables are the pipeline variables sent with a request, in the order the caller sent them.
type Variables = orderedmap.OrderedMap[string, string]

func NewVariables() *Variables {
	return orderedmap.New[string, string]()
}

// VariablesFromPairs builds Variables from alternating key/value strings.
func VariablesFromPairs(kv ...string) *Variables {
	vars := NewVariables()
	for i := 0; i+1 < len(kv); i += 2 {
		vars.Set(kv[i], kv[i+1])
	}
	return vars
}

// VariablesMap flattens vars into a plain map. A nil vars yields an empty map.
func VariablesMap(vars *Variables) map[string]string {
	out := make(map[string]string)
	if vars == nil {
		return out
	}
	for pair := vars.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

// CopyVariables returns an independent copy of vars, preserving order.
func CopyVariables(vars *Variables) *Variables {
	out := NewVariables()
	if vars == nil {
		return out
	}
	for pair := vars.Oldest(); pair != nil; pair = pair.Next() {
		out.Set(pair.Key, pair.Value)
	}
	return out
}
