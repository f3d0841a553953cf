package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// splitPath splits a slash separated path. The empty path addresses the root.
func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, nil
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

func joinPath(segs []string) string {
	return strings.Join(segs, "/")
}

// hasPrefix reports whether prefix is an ancestor of, or equal to, segs.
func hasPrefix(segs, prefix []string) bool {
	if len(prefix) > len(segs) {
		return false
	}
	for i := range prefix {
		if segs[i] != prefix[i] {
			return false
		}
	}
	return true
}

// related reports whether a change at a affects the value at b or vice versa.
func related(a, b []string) bool {
	return hasPrefix(a, b) || hasPrefix(b, a)
}

// normalize converts an arbitrary Go value into the store's JSON value model:
// map[string]any, []any, string, float64, bool. Empty maps and nil collapse
// to nil, which means "absent".
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return prune(out), nil
}

// prune removes empty maps recursively so that no path holds an empty object.
func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		if pruned := prune(child); pruned == nil {
			delete(m, k)
		} else {
			m[k] = pruned
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// lookup returns the value at segs, or nil when absent.
func lookup(root map[string]any, segs []string) any {
	var cur any = root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[s]
		if !ok {
			return nil
		}
	}
	if m, ok := cur.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return cur
}

// assign stores value at segs, creating intermediate objects and pruning
// empty parents when value is nil. segs must be non-empty.
func assign(root map[string]any, segs []string, value any) {
	if value == nil {
		remove(root, segs)
		return
	}
	cur := root
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[s] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

func remove(node map[string]any, segs []string) {
	if len(segs) == 1 {
		delete(node, segs[0])
		return
	}
	child, ok := node[segs[0]].(map[string]any)
	if !ok {
		return
	}
	remove(child, segs[1:])
	if len(child) == 0 {
		delete(node, segs[0])
	}
}

// clone deep-copies a value so snapshots never alias the live tree.
func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = clone(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = clone(child)
		}
		return out
	default:
		return v
	}
}
