package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

// JSON encodes values with encoding/json. Readable on the wire, slower than
// msgpack.
type JSON struct{}

// Name implements Codec.
func (JSON) Name() string { return "json" }

// Marshal implements Codec.
func (c JSON) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		var typeErr *json.UnsupportedTypeError
		if errors.As(err, &typeErr) {
			return nil, unsupportedErr(c.Name(), v, err)
		}
		return nil, fmt.Errorf("json: encode %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal implements Codec.
func (JSON) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json: decode %T: %w", v, err)
	}
	return nil
}
