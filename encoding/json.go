package encoding

import (
	"encoding/base64"

	gojson "github.com/goccy/go-json"
)

const jsonTag = "json+b64"

// jsonEncoder renders a value as JSON (via goccy/go-json, a drop-in,
// faster encoding/json) and then base64-encodes the result, for backends
// that require byte-array-safe payloads with no embedded control bytes
// (e.g. wire protocols that treat payloads as printable text).
type jsonEncoder struct{}

// JSON is the shared JSON+base64 Encoder instance.
var JSON Encoder = jsonEncoder{}

func (jsonEncoder) Encode(value any) ([]byte, error) {
	raw, err := gojson.Marshal(value)
	if err != nil {
		return nil, err
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

func (jsonEncoder) Decode(data []byte, out any) error {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(raw, data)
	if err != nil {
		return err
	}
	return gojson.Unmarshal(raw[:n], out)
}

func (jsonEncoder) Tag() string { return jsonTag }
