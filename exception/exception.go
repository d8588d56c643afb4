// Package exception carries Go errors across process boundaries.
//
// Encode captures every level of an error chain: the dynamic type name, the
// full formatted message of that level and its causes (Unwrap() error or
// Unwrap() []error). Decode rebuilds a tree of RemoteError values whose
// Error() strings match the originals level by level, so a subscriber in
// another process observes exactly the text the publisher raised.
package exception

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	mqerrors "github.com/vinayprograms/rxmq/errors"
)

// maxDepth bounds the chain walk so a cyclic Unwrap cannot hang the encoder.
const maxDepth = 64

// node is one level of an encoded error chain. msgpack carries strings as
// raw bytes, so messages holding invalid UTF-8 survive unchanged.
type node struct {
	Type    string             `msgpack:"type"`
	Message string             `msgpack:"message"`
	Code    mqerrors.ErrorCode `msgpack:"code,omitempty"`
	Causes  []node             `msgpack:"causes,omitempty"`
}

// RemoteError is an error reconstructed from an encoded chain.
type RemoteError struct {
	typeName string
	message  string
	code     mqerrors.ErrorCode
	causes   []error
}

// Error returns the formatted message of the original error at this level.
func (e *RemoteError) Error() string {
	return e.message
}

// TypeName returns the Go type of the original error, e.g. "*fs.PathError".
func (e *RemoteError) TypeName() string {
	return e.typeName
}

// Code returns the structured code carried by the original, if any.
func (e *RemoteError) Code() mqerrors.ErrorCode {
	return e.code
}

// Unwrap exposes the reconstructed causes.
func (e *RemoteError) Unwrap() []error {
	return e.causes
}

// Encode serializes err and its cause chain.
func Encode(err error) ([]byte, error) {
	if err == nil {
		return nil, mqerrors.Config("cannot encode a nil error")
	}
	data, mErr := msgpack.Marshal(capture(err, 0))
	if mErr != nil {
		return nil, mqerrors.WrapWithCode(mErr, mqerrors.ErrCodeSerialization, "encoding error envelope")
	}
	return data, nil
}

// Decode rebuilds the error chain produced by Encode.
func Decode(data []byte) (*RemoteError, error) {
	var n node
	if err := msgpack.Unmarshal(data, &n); err != nil {
		return nil, mqerrors.WrapWithCode(err, mqerrors.ErrCodeSerialization, "decoding error envelope")
	}
	if n.Type == "" && n.Message == "" {
		return nil, mqerrors.New(mqerrors.ErrCodeSerialization, "decoding error envelope: empty envelope")
	}
	return rebuild(n), nil
}

// Fallback builds the error delivered when the envelope cannot be decoded:
// its message is the plain-text rendering sent alongside the envelope and its
// cause is the decoding failure.
func Fallback(text string, decodeErr error) error {
	return mqerrors.New(mqerrors.ErrCodeRemote, text, mqerrors.WithCause(decodeErr))
}

// Reconstruct decodes payload, falling back to the plain text on failure.
// It never returns nil.
func Reconstruct(text string, payload []byte) error {
	remote, err := Decode(payload)
	if err != nil {
		return Fallback(text, err)
	}
	return remote
}

func capture(err error, depth int) node {
	n := node{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	}
	if coded, ok := err.(mqerrors.Coded); ok {
		n.Code = coded.Code()
	}
	if depth >= maxDepth {
		return n
	}
	for _, cause := range causes(err) {
		n.Causes = append(n.Causes, capture(cause, depth+1))
	}
	return n
}

func causes(err error) []error {
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		var out []error
		for _, e := range u.Unwrap() {
			if e != nil {
				out = append(out, e)
			}
		}
		return out
	case interface{ Unwrap() error }:
		if inner := u.Unwrap(); inner != nil {
			return []error{inner}
		}
	}
	return nil
}

func rebuild(n node) *RemoteError {
	e := &RemoteError{
		typeName: n.Type,
		message:  n.Message,
		code:     n.Code,
	}
	for _, c := range n.Causes {
		e.causes = append(e.causes, rebuild(c))
	}
	return e
}

// Chain returns the messages of err and every cause, depth first. Useful for
// comparing an original error with its reconstruction.
func Chain(err error) []string {
	var out []string
	var walk func(error, int)
	walk = func(e error, depth int) {
		if e == nil || depth > maxDepth {
			return
		}
		out = append(out, e.Error())
		for _, c := range causes(e) {
			walk(c, depth+1)
		}
	}
	walk(err, 0)
	return out
}

// As reports whether err is, or wraps, a RemoteError.
func As(err error) (*RemoteError, bool) {
	var remote *RemoteError
	ok := errors.As(err, &remote)
	return remote, ok
}
