package codec

import (
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"
)

// Proto encodes protocol buffer messages. Values must implement
// proto.Message; anything else is reported as unsupported.
type Proto struct{}

// Name implements Codec.
func (Proto) Name() string { return "proto" }

// Marshal implements Codec.
func (c Proto) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, unsupportedErr(c.Name(), v, nil)
	}
	data, err := proto.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("proto: encode %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal implements Codec. v may point at a message value or at a nil
// message pointer, which is allocated.
func (c Proto) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return c.unmarshal(data, m)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("proto: decode into %T: %w", v, ErrUnsupportedType)
	}
	elem := rv.Elem()
	if elem.Kind() == reflect.Pointer {
		if elem.IsNil() {
			elem.Set(reflect.New(elem.Type().Elem()))
		}
		if m, ok := elem.Interface().(proto.Message); ok {
			return c.unmarshal(data, m)
		}
	}
	return fmt.Errorf("proto: decode into %T: %w", v, ErrUnsupportedType)
}

func (Proto) unmarshal(data []byte, m proto.Message) error {
	if err := proto.Unmarshal(data, m); err != nil {
		return fmt.Errorf("proto: decode %T: %w", m, err)
	}
	return nil
}
