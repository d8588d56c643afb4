package codec

import (
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack encodes values with MessagePack. It supports any Go value built
// from scalars, strings, byte slices, slices, maps and structs.
type Msgpack struct{}

// Name implements Codec.
func (Msgpack) Name() string { return "msgpack" }

// Marshal implements Codec.
func (c Msgpack) Marshal(v any) ([]byte, error) {
	if unrepresentable(reflect.TypeOf(v)) {
		return nil, unsupportedErr(c.Name(), v, nil)
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack: encode %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal implements Codec.
func (Msgpack) Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("msgpack: decode %T: %w", v, err)
	}
	return nil
}
