// Package codec defines the pluggable encoding used for persisted events and
// snapshots. JSON is the default; stores accept any Codec via options.
package codec

import "encoding/json"

var JSON Codec = jsonCodec{}

type jsonCodec struct{}

func (j jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (j jsonCodec) Unmarshal(b []byte, out any) error {
	return json.Unmarshal(b, out)
}

type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, out any) error
}
