package kvdex

import "github.com/kvdex-go/kvdex/kv"

// IndexKind distinguishes a unique (primary) field mapping from a
// non-unique (secondary) one.
type IndexKind uint8

const (
	// IndexPrimary maps a field value to at most one document; writing a
	// second live document with the same value fails the commit (I4).
	IndexPrimary IndexKind = iota
	// IndexSecondary maps a field value to any number of documents.
	IndexSecondary
)

// IndexSpec declares one indexed field of T: how to extract its current
// key-part value from a document, and whether that field is unique.
type IndexSpec[T any] struct {
	Name string
	Kind IndexKind
	// Value extracts the field's current value. ok is false when the
	// field is absent/unset in value, in which case no index entry is
	// maintained for it on this document.
	Value func(value T) (part kv.Part, ok bool)
}

// indexValue is one resolved (spec, value) pair for a concrete document.
type indexValue[T any] struct {
	spec  IndexSpec[T]
	value kv.Part
}

// indexValues resolves every declared index against value.
func (c *Collection[T]) indexValues(value T) []indexValue[T] {
	out := make([]indexValue[T], 0, len(c.indices))
	for _, spec := range c.indices {
		if v, ok := spec.Value(value); ok {
			out = append(out, indexValue[T]{spec: spec, value: v})
		}
	}
	return out
}

// indexPlan is the set of index-entry mutations and uniqueness checks
// needed to move a document from oldVals to newVals in one commit.
type indexPlan struct {
	checkAbsent []kv.Key // primary-index keys that must not already belong to another document
	toDelete    []kv.Key // stale index entries to remove
	toSet       []kv.Mutation
}

// planIndexChanges diffs the old and new index values for one document
// and id, emitting only the checks/mutations for fields that actually
// changed — an index entry whose value didn't change is left untouched,
// which also means it never spuriously fails the not-yet-exists
// uniqueness check against itself.
func planIndexChanges[T any](base kv.Key, id kv.Part, oldVals, newVals []indexValue[T]) indexPlan {
	oldByName := make(map[string]kv.Part, len(oldVals))
	for _, iv := range oldVals {
		oldByName[iv.spec.Name] = iv.value
	}
	newByName := make(map[string]kv.Part, len(newVals))
	for _, iv := range newVals {
		newByName[iv.spec.Name] = iv.value
	}

	var plan indexPlan
	for _, iv := range newVals {
		old, hadOld := oldByName[iv.spec.Name]
		unchanged := hadOld && old.Compare(iv.value) == 0
		if unchanged {
			continue
		}
		switch iv.spec.Kind {
		case IndexPrimary:
			key := kv.PrimaryIndexKey(base, iv.spec.Name, iv.value)
			plan.checkAbsent = append(plan.checkAbsent, key)
			plan.toSet = append(plan.toSet, kv.Mutation{Kind: kv.MutationSet, Key: key, Value: idBytes(id)})
		case IndexSecondary:
			key := kv.SecondaryIndexKey(base, iv.spec.Name, iv.value, id)
			plan.toSet = append(plan.toSet, kv.Mutation{Kind: kv.MutationSet, Key: key, Value: idBytes(id)})
		}
		if hadOld {
			plan.toDelete = append(plan.toDelete, oldIndexKey(base, iv.spec, old, id))
		}
	}
	for _, iv := range oldVals {
		if _, stillPresent := newByName[iv.spec.Name]; stillPresent {
			continue
		}
		plan.toDelete = append(plan.toDelete, oldIndexKey(base, iv.spec, iv.value, id))
	}
	return plan
}

func oldIndexKey[T any](base kv.Key, spec IndexSpec[T], value kv.Part, id kv.Part) kv.Key {
	if spec.Kind == IndexPrimary {
		return kv.PrimaryIndexKey(base, spec.Name, value)
	}
	return kv.SecondaryIndexKey(base, spec.Name, value, id)
}

// idBytes is the payload stored at both primary- and secondary-index
// entries: an invertible encoding of the id part, recovered with
// kv.DecodePart when a Find*ByIndex lookup needs the actual id back.
func idBytes(id kv.Part) []byte { return kv.EncodePart(id) }
