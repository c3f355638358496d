package jmapcore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Apply returns a deep copy of val with each RFC 6901 pointer path in patch
// applied: a null value deletes the target property, any other value sets
// it, and missing intermediate objects are created as needed (spec §4.8).
// crud.Set does not call it: Foo/set update entries reach the backend
// unexpanded. Patching through a non-object value is an error naming the
// offending segment.
func Apply(val any, patch map[string]any) (any, error) {
	root, ok := deepCopy(val).(map[string]any)
	if !ok {
		root = map[string]any{}
	}
	for path, value := range patch {
		if err := applyAt(root, path, value); err != nil {
			return nil, fmt.Errorf("patch %s: %w", path, err)
		}
	}
	return root, nil
}

func applyAt(root map[string]any, path string, value any) error {
	segments := splitPointer(path)
	if len(segments) == 0 {
		return fmt.Errorf("empty patch path")
	}
	cur := root
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg]
		if !ok {
			created := map[string]any{}
			cur[seg] = created
			cur = created
			continue
		}
		nextObj, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot descend through non-object property %q", seg)
		}
		cur = nextObj
	}
	last := segments[len(segments)-1]
	if value == nil {
		delete(cur, last)
		return nil
	}
	cur[last] = value
	return nil
}

func splitPointer(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		part = strings.ReplaceAll(part, "~1", "/")
		part = strings.ReplaceAll(part, "~0", "~")
		parts[i] = part
	}
	return parts
}

func escapeSegment(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

func deepCopy(val any) any {
	switch v := val.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

// Create returns the minimal set of RFC 6901 pointer patches such that
// applying them to a reproduces b, for object-valued a and b. Used by
// protocol modules that want to express an update as a whole replacement
// object while still emitting the conventional patch-shaped onUpdated state.
func Create(a, b map[string]any) map[string]any {
	patch := map[string]any{}
	diffObjects("", a, b, patch)
	return patch
}

func diffObjects(prefix string, a, b map[string]any, patch map[string]any) {
	for key, bv := range b {
		path := prefix + "/" + escapeSegment(key)
		av, present := a[key]
		if !present {
			patch[path] = bv
			continue
		}
		if avObj, ok := av.(map[string]any); ok {
			if bvObj, ok := bv.(map[string]any); ok {
				diffObjects(path, avObj, bvObj, patch)
				continue
			}
		}
		if !equalJSON(av, bv) {
			patch[path] = bv
		}
	}
	for key := range a {
		if _, present := b[key]; !present {
			patch[prefix+"/"+escapeSegment(key)] = nil
		}
	}
}

func equalJSON(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}
