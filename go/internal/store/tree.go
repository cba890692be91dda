package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// normalize converts an arbitrary Go value into a plain JSON tree
// (map[string]any, []any, float64, string, bool) with empty objects removed.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var data []byte
	switch raw := v.(type) {
	case json.RawMessage:
		data = raw
	case []byte:
		data = raw
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, nil
	}

	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return prune(tree), nil
}

// prune drops empty objects bottom-up.
func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		if p := prune(child); p == nil {
			delete(m, k)
		} else {
			m[k] = p
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// getIn returns the subtree of root at segs, or nil.
func getIn(root any, segs []string) any {
	cur := root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[s]
	}
	return cur
}

// setIn stores v at segs and returns the new root. A nil v removes the
// subtree; parents left empty are removed as well.
func setIn(root any, segs []string, v any) any {
	if len(segs) == 0 {
		return v
	}
	m, ok := root.(map[string]any)
	if !ok {
		if v == nil {
			return root
		}
		m = make(map[string]any)
	}
	child := setIn(m[segs[0]], segs[1:], v)
	if child == nil {
		delete(m, segs[0])
	} else {
		m[segs[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// encode renders a tree as JSON. Map keys are sorted by encoding/json, so
// equal trees encode to equal bytes.
func encode(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage("null")
	}
	data, err := json.Marshal(v)
	if err != nil {
		// Trees only ever hold values that came out of json.Unmarshal.
		panic(fmt.Sprintf("store: encode tree: %v", err))
	}
	return data
}

// updateTree applies a multi-path update to root below base. Every field is
// validated and normalized before root is touched, so a failed update leaves
// root as it was.
func updateTree(root any, base []string, fields map[string]any) (any, error) {
	if err := checkDisjoint(fields); err != nil {
		return nil, err
	}
	type write struct {
		segs []string
		v    any
	}
	writes := make([]write, 0, len(fields))
	for k, v := range fields {
		rel := SplitPath(k)
		if len(rel) == 0 {
			return nil, fmt.Errorf("%w: empty update key", ErrInvalidPath)
		}
		nv, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("update %q: %w", k, err)
		}
		writes = append(writes, write{segs: append(append([]string{}, base...), rel...), v: nv})
	}
	for _, w := range writes {
		root = setIn(root, w.segs, w.v)
	}
	return root, nil
}

// Merge applies a multi-path update to a copy of the value in snap and
// returns the new value. Transactions use it to write several fields of the
// value they read in one commit.
func Merge(snap Snapshot, fields map[string]any) (any, error) {
	var root any
	if snap.Exists() {
		if err := json.Unmarshal(snap.Value, &root); err != nil {
			return nil, fmt.Errorf("decode value: %w", err)
		}
	}
	return updateTree(root, nil, fields)
}

// checkDisjoint rejects updates where one key is an ancestor of another,
// since the result would depend on application order.
func checkDisjoint(fields map[string]any) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, strings.Join(SplitPath(k), "/"))
	}
	sort.Strings(keys)
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if keys[i] == keys[j] || strings.HasPrefix(keys[j], keys[i]+"/") {
				return fmt.Errorf("%w: overlapping update keys %q and %q", ErrInvalidPath, keys[i], keys[j])
			}
		}
	}
	return nil
}
