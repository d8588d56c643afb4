// Package codec encodes stream values to bytes and back.
//
// The messaging layer treats a Codec as an external collaborator with a
// narrow contract: Marshal either returns bytes or an error wrapping
// ErrUnsupportedType when the value's type cannot be represented, and
// Unmarshal decodes into a pointer to the destination.
package codec

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrUnsupportedType is wrapped by Marshal errors for values the codec
// cannot represent.
var ErrUnsupportedType = errors.New("unsupported type")

// Codec converts values to and from bytes.
type Codec interface {
	// Name identifies the codec in errors and logs, e.g. "msgpack".
	Name() string

	// Marshal encodes v.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes data into the value pointed to by v.
	Unmarshal(data []byte, v any) error
}

// Default returns the codec used when none is configured.
func Default() Codec {
	return Msgpack{}
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "msgpack":
		return Msgpack{}, nil
	case "proto", "protobuf":
		return Proto{}, nil
	case "json":
		return JSON{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q (want msgpack, proto or json)", name)
	}
}

// unsupportedErr wraps ErrUnsupportedType with the offending type.
func unsupportedErr(codecName string, v any, cause error) error {
	if cause != nil {
		return fmt.Errorf("%s: %T: %w: %v", codecName, v, ErrUnsupportedType, cause)
	}
	return fmt.Errorf("%s: %T: %w", codecName, v, ErrUnsupportedType)
}

// unrepresentable reports whether t, or any type reachable from it through
// containers and exported struct fields, can never be serialized.
func unrepresentable(t reflect.Type) bool {
	return walkType(t, make(map[reflect.Type]bool))
}

func walkType(t reflect.Type, seen map[reflect.Type]bool) bool {
	if t == nil || seen[t] {
		return false
	}
	seen[t] = true
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return walkType(t.Elem(), seen)
	case reflect.Map:
		return walkType(t.Key(), seen) || walkType(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			if walkType(f.Type, seen) {
				return true
			}
		}
	}
	return false
}
