package kv

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// EncodePart renders a Part as a self-describing, invertible byte string
// — unlike Part.String (which is order-preserving but one-way), this is
// used where a Part value itself must be recovered later, e.g. the id
// stored as the payload of a primary/secondary index entry.
func EncodePart(p Part) []byte {
	switch p.kind {
	case kindBytes:
		return append([]byte{byte(kindBytes)}, lengthPrefixed(p.byt)...)
	case kindText:
		return append([]byte{byte(kindText)}, lengthPrefixed([]byte(p.str))...)
	case kindInt:
		buf := make([]byte, 9)
		buf[0] = byte(kindInt)
		binary.BigEndian.PutUint64(buf[1:], uint64(p.i))
		return buf
	case kindBigInt:
		return append([]byte{byte(kindBigInt)}, lengthPrefixed([]byte(p.big.String()))...)
	case kindBool:
		v := byte(0)
		if p.b {
			v = 1
		}
		return []byte{byte(kindBool), v}
	default:
		return nil
	}
}

func lengthPrefixed(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(out, uint32(len(b)))
	copy(out[4:], b)
	return out
}

// DecodePart reverses EncodePart.
func DecodePart(b []byte) (Part, error) {
	if len(b) == 0 {
		return Part{}, fmt.Errorf("kv: empty part encoding")
	}
	kind := partKind(b[0])
	rest := b[1:]
	switch kind {
	case kindBytes:
		v, err := readLengthPrefixed(rest)
		if err != nil {
			return Part{}, err
		}
		return Bytes(v), nil
	case kindText:
		v, err := readLengthPrefixed(rest)
		if err != nil {
			return Part{}, err
		}
		return Text(string(v)), nil
	case kindInt:
		if len(rest) != 8 {
			return Part{}, fmt.Errorf("kv: malformed int part encoding")
		}
		return Int(int64(binary.BigEndian.Uint64(rest))), nil
	case kindBigInt:
		v, err := readLengthPrefixed(rest)
		if err != nil {
			return Part{}, err
		}
		n, ok := new(big.Int).SetString(string(v), 10)
		if !ok {
			return Part{}, fmt.Errorf("kv: malformed bigint part encoding %q", v)
		}
		return BigInt(n), nil
	case kindBool:
		if len(rest) != 1 {
			return Part{}, fmt.Errorf("kv: malformed bool part encoding")
		}
		return Bool(rest[0] != 0), nil
	default:
		return Part{}, fmt.Errorf("kv: unknown part kind %d", kind)
	}
}

// EncodeKey renders a whole Key as a self-describing, invertible byte
// string — each part's EncodePart output is itself length-prefixed so
// DecodeKey can split them back apart. Used by backends (e.g. pebblekv)
// that need to recover the original Key from a raw iterator position,
// since Key.String (order-preserving) is one-way by design.
func EncodeKey(k Key) []byte {
	var out []byte
	for _, p := range k {
		out = append(out, lengthPrefixed(EncodePart(p))...)
	}
	return out
}

// DecodeKey reverses EncodeKey.
func DecodeKey(b []byte) (Key, error) {
	var out Key
	for len(b) > 0 {
		chunk, err := readLengthPrefixed(b)
		if err != nil {
			return nil, err
		}
		p, err := DecodePart(chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		b = b[4+len(chunk):]
	}
	return out, nil
}

func readLengthPrefixed(b []byte) ([]byte, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("kv: truncated length-prefixed part encoding")
	}
	n := binary.BigEndian.Uint32(b)
	if uint32(len(b)-4) < n {
		return nil, fmt.Errorf("kv: truncated length-prefixed part encoding")
	}
	return b[4 : 4+n], nil
}
