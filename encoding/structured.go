package encoding

import (
	"github.com/vmihailenco/msgpack/v5"
)

const structuredTag = "msgpack"

// structuredEncoder preserves Go types across encode/decode — numbers,
// byte slices, time.Time, nested maps and slices, and any value
// implementing encoding.BinaryMarshaler (the common route for bigints and
// similar extended numeric types) — for backends that carry opaque
// []byte values natively. This is the default encoder for kvdex
// collections.
type structuredEncoder struct{}

// Structured is the shared structured Encoder instance.
var Structured Encoder = structuredEncoder{}

func (structuredEncoder) Encode(value any) ([]byte, error) {
	return msgpack.Marshal(value)
}

func (structuredEncoder) Decode(data []byte, out any) error {
	return msgpack.Unmarshal(data, out)
}

func (structuredEncoder) Tag() string { return structuredTag }
