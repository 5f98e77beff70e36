package kvdex

import (
	"fmt"

	"github.com/goccy/go-json"
)

// deepMergeValue applies patch over current. For a mapping-typed T (one
// whose JSON encoding is an object), patch must itself be a map[string]any
// and is deep-merged key by key — the same map[string]any
// merge-over-decoded-JSON pattern the teacher's metadata index uses to
// update a document's free-form metadata field without a full replace. For
// a non-mapping T (number, string, slice, byte-array, or any other shape
// that doesn't decode to a JSON object), spec semantics call for full
// replacement instead of a keyed merge, so patch becomes the new value
// verbatim via fullReplaceValue.
func deepMergeValue[T any](current T, patch any) (T, error) {
	var zero T
	data, err := json.Marshal(current)
	if err != nil {
		return zero, err
	}
	var asMap map[string]any
	if err := json.Unmarshal(data, &asMap); err != nil {
		return fullReplaceValue[T](patch)
	}
	patchMap, ok := patch.(map[string]any)
	if !ok {
		return zero, fmt.Errorf("kvdex: update patch for a mapping-typed document must be a map[string]any, got %T", patch)
	}
	merged := deepMergeMaps(asMap, patchMap)
	mergedData, err := json.Marshal(merged)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(mergedData, &out); err != nil {
		return zero, err
	}
	return out, nil
}

// fullReplaceValue decodes patch directly into T: if patch already holds a
// T it's used as-is, otherwise it's round-tripped through JSON, so a
// caller can pass e.g. a []string literal to Update a Collection[[]string]
// or an int to Update a Collection[int].
func fullReplaceValue[T any](patch any) (T, error) {
	var zero T
	if v, ok := patch.(T); ok {
		return v, nil
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, err
	}
	return out, nil
}

// deepMergeMaps recurses into nested maps on both sides; any other value
// shape (scalar, array, or a type mismatch between base and patch) is
// replaced wholesale by the patch's value.
func deepMergeMaps(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, pv := range patch {
		bv, existed := out[k]
		if existed {
			if bm, ok := bv.(map[string]any); ok {
				if pm, ok := pv.(map[string]any); ok {
					out[k] = deepMergeMaps(bm, pm)
					continue
				}
			}
		}
		out[k] = pv
	}
	return out
}
