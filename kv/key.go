// Package kv defines the ordered key-value abstraction that the kvdex
// document layer is built on: composite keys, versionstamps, range
// selectors, and an atomic commit builder. Any backend that implements KV
// is a valid storage engine for kvdex; kv/memkv and kv/pebblekv are the two
// backends shipped here.
package kv

import (
	"fmt"
	"math/big"
)

// FrameworkKey is the fixed prefix every kvdex collection key is rooted
// under, keeping kvdex's key space separate from any other user of the
// same backend.
const FrameworkKey = "kvdex"

// partKind orders the part types for comparison: byte-string < text <
// integer < bigint < boolean, per the key-ordering invariant in the data
// model. Equal-kind parts compare by value; unequal-kind parts compare by
// kind alone.
type partKind uint8

const (
	kindBytes partKind = iota
	kindText
	kindInt
	kindBigInt
	kindBool
)

// Part is one component of a composite Key. Exactly one of the typed
// fields is meaningful, selected by Kind.
type Part struct {
	kind partKind
	str  string
	i    int64
	big  *big.Int
	b    bool
	byt  []byte
}

// Bytes wraps a byte-string key part.
func Bytes(b []byte) Part { return Part{kind: kindBytes, byt: append([]byte(nil), b...)} }

// Text wraps a text key part.
func Text(s string) Part { return Part{kind: kindText, str: s} }

// Int wraps a signed-integer key part.
func Int(i int64) Part { return Part{kind: kindInt, i: i} }

// BigInt wraps an arbitrary-precision integer key part.
func BigInt(i *big.Int) Part { return Part{kind: kindBigInt, big: new(big.Int).Set(i)} }

// Bool wraps a boolean key part.
func Bool(b bool) Part { return Part{kind: kindBool, b: b} }

// Kind reports the part's type tag, exported so backends can implement
// their own order-preserving byte encodings (see kv/pebblekv).
type Kind = partKind

// Kind returns the part's kind.
func (p Part) Kind() partKind { return p.kind }

// Int64 returns the part's integer value, if it is a kindInt part.
func (p Part) Int64() (int64, bool) {
	if p.kind != kindInt {
		return 0, false
	}
	return p.i, true
}

// Text returns the part's string value, if it is a kindText part.
func (p Part) Text() (string, bool) {
	if p.kind != kindText {
		return "", false
	}
	return p.str, true
}

// String renders a part as a fixed-format, order-preserving token: two
// keys' String() values compare, byte for byte, in exactly the order
// Compare would report. memkv relies on this to keep its sorted index a
// plain string sort rather than a custom tree. It is not a wire format —
// values are not recoverable from it.
func (p Part) String() string {
	// The leading digit is the kind tag; kindBytes..kindBool are 0..4, so
	// ordinary digit comparison reproduces the cross-kind ordering.
	switch p.kind {
	case kindBytes:
		return fmt.Sprintf("%d:%x", kindBytes, p.byt)
	case kindText:
		return fmt.Sprintf("%d:%s", kindText, p.str)
	case kindInt:
		// Flip the sign bit so the two's-complement range maps onto an
		// unsigned range with the same order, then render fixed-width hex.
		u := uint64(p.i) ^ 0x8000000000000000
		return fmt.Sprintf("%d:%016x", kindInt, u)
	case kindBigInt:
		return fmt.Sprintf("%d:%s", kindBigInt, encodeBigIntOrdered(p.big))
	case kindBool:
		if p.b {
			return fmt.Sprintf("%d:1", kindBool)
		}
		return fmt.Sprintf("%d:0", kindBool)
	default:
		return "?"
	}
}

// Compare orders two parts per the data model: unequal kinds order by
// kind (bytes < text < int < bigint < bool); equal kinds order by value.
func (p Part) Compare(o Part) int {
	if p.kind != o.kind {
		if p.kind < o.kind {
			return -1
		}
		return 1
	}
	switch p.kind {
	case kindBytes:
		return compareBytes(p.byt, o.byt)
	case kindText:
		return compareStrings(p.str, o.str)
	case kindInt:
		switch {
		case p.i < o.i:
			return -1
		case p.i > o.i:
			return 1
		default:
			return 0
		}
	case kindBigInt:
		return p.big.Cmp(o.big)
	case kindBool:
		if p.b == o.b {
			return 0
		}
		if !p.b {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// encodeBigIntOrdered renders n so that lexicographic string order matches
// numeric order across the full arbitrary-precision range: a sign byte,
// then a fixed-width digit count (so longer magnitudes sort correctly
// relative to shorter ones), then the digits themselves — with negative
// numbers digit-complemented and length-complemented so that "more
// negative" sorts first.
func encodeBigIntOrdered(n *big.Int) string {
	const lenWidth = 1 << 20 // digit counts above this are not expected in practice
	switch n.Sign() {
	case 0:
		return "1" + fmt.Sprintf("%07d", 0)
	case 1:
		digits := n.String()
		return "2" + fmt.Sprintf("%07d", len(digits)) + digits
	default:
		digits := new(big.Int).Neg(n).String()
		complemented := make([]byte, len(digits))
		for i := 0; i < len(digits); i++ {
			complemented[i] = '9' - (digits[i] - '0') + '0'
		}
		return "0" + fmt.Sprintf("%07d", lenWidth-len(digits)) + string(complemented)
	}
}

func compareBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Key is an ordered sequence of Parts. Keys compare lexicographically part
// by part; an exhausted prefix sorts first (shorter key < longer key when
// one is a prefix of the other).
type Key []Part

// Append returns a new key with extra parts appended; Key values are
// treated as immutable by convention so callers may safely share a base
// key across derived keys (id/pi/si/seg/hist/und families).
func (k Key) Append(parts ...Part) Key {
	out := make(Key, 0, len(k)+len(parts))
	out = append(out, k...)
	out = append(out, parts...)
	return out
}

// Compare orders two keys part by part.
func (k Key) Compare(o Key) int {
	for i := 0; i < len(k) && i < len(o); i++ {
		if c := k[i].Compare(o[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(k) < len(o):
		return -1
	case len(k) > len(o):
		return 1
	default:
		return 0
	}
}

// HasPrefix reports whether k begins with every part of prefix, in order.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i].Compare(prefix[i]) != 0 {
			return false
		}
	}
	return true
}

// String renders a key for diagnostics and as an ordered map key in
// backends that don't have a native composite-key type.
func (k Key) String() string {
	s := ""
	for i, p := range k {
		if i > 0 {
			s += "/"
		}
		s += p.String()
	}
	return s
}

// Base returns the collection base key: the framework prefix followed by
// the collection's declared path segments.
func Base(path ...string) Key {
	k := Key{Text(FrameworkKey)}
	for _, p := range path {
		k = append(k, Text(p))
	}
	return k
}

// Key family terminal tags, per the collection key layout table.
const (
	FamilyID          = "id"
	FamilyPrimary     = "pi"
	FamilySecondary   = "si"
	FamilySegment     = "seg"
	FamilyHistory     = "hist"
	FamilyUndelivered = "und"
)

// IDKey builds the id-entry key for a document.
func IDKey(base Key, id Part) Key { return base.Append(Text(FamilyID), id) }

// PrimaryIndexKey builds the primary-index key for a field/value pair.
func PrimaryIndexKey(base Key, field string, value Part) Key {
	return base.Append(Text(FamilyPrimary), Text(field), value)
}

// SecondaryIndexKey builds the secondary-index key for a field/value/id
// triple; the id is part of the key so distinct documents with the same
// value each get their own entry.
func SecondaryIndexKey(base Key, field string, value Part, id Part) Key {
	return base.Append(Text(FamilySecondary), Text(field), value, id)
}

// SecondaryIndexPrefix builds the prefix shared by every secondary-index
// entry for a given field/value, used to list matching ids.
func SecondaryIndexPrefix(base Key, field string, value Part) Key {
	return base.Append(Text(FamilySecondary), Text(field), value)
}

// SegmentKey builds the key for one chunk of a segmented value.
func SegmentKey(base Key, id Part, ordinal int) Key {
	return base.Append(Text(FamilySegment), id, Int(int64(ordinal)))
}

// SegmentPrefix builds the prefix shared by every segment of one document.
func SegmentPrefix(base Key, id Part) Key {
	return base.Append(Text(FamilySegment), id)
}

// HistoryKey builds the key for one history record.
func HistoryKey(base Key, id Part, seq int64) Key {
	return base.Append(Text(FamilyHistory), id, Int(seq))
}

// HistoryPrefix builds the prefix shared by every history record for a
// document.
func HistoryPrefix(base Key, id Part) Key {
	return base.Append(Text(FamilyHistory), id)
}

// UndeliveredKey builds the key for an undelivered-queue entry.
func UndeliveredKey(base Key, id Part) Key { return base.Append(Text(FamilyUndelivered), id) }
