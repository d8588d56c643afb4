package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// StructuredError is the interface for all structured errors in rxmq.
// It extends the standard error interface with the classification used by
// publishers, subscribers and the transport registry.
type StructuredError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for retry/handling decisions.
	Category() ErrorCategory

	// Retryable returns true if the operation may succeed on retry.
	Retryable() bool

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of StructuredError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool // nil means use default based on category
	timestamp time.Time
	address   string // transport address, if applicable
	topic     string // endpoint topic, if applicable
}

var (
	_ StructuredError  = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Message returns the message without the cause appended.
func (e *Error) Message() string {
	return e.message
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	if e.metadata == nil {
		return make(map[string]string)
	}
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// Address returns the transport address, if set.
func (e *Error) Address() string {
	return e.address
}

// Topic returns the endpoint topic, if set.
func (e *Error) Topic() string {
	return e.topic
}

// errorJSON is the JSON representation of an Error.
type errorJSON struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Retryable bool              `json:"retryable"`
	Timestamp string            `json:"timestamp,omitempty"`
	Address   string            `json:"address,omitempty"`
	Topic     string            `json:"topic,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Metadata:  e.metadata,
		Retryable: e.Retryable(),
		Address:   e.address,
		Topic:     e.topic,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.address = j.Address
	e.topic = j.Topic
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithAddress records the transport address involved.
func WithAddress(address string) Option {
	return func(e *Error) {
		e.address = address
	}
}

// WithTopic records the endpoint topic involved.
func WithTopic(topic string) Option {
	return func(e *Error) {
		e.topic = topic
	}
}

// WithTimestamp sets a custom timestamp.
func WithTimestamp(t time.Time) Option {
	return func(e *Error) {
		e.timestamp = t
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// Config creates a configuration error.
func Config(message string, opts ...Option) *Error {
	return New(ErrCodeConfig, message, opts...)
}

// Timeout creates a timeout error.
func Timeout(message string, opts ...Option) *Error {
	return New(ErrCodeTimeout, message, opts...)
}

// Closed creates an error for use after close.
func Closed(message string, opts ...Option) *Error {
	return New(ErrCodeClosed, message, opts...)
}

// Protocol creates a protocol desynchronization error.
func Protocol(message string, opts ...Option) *Error {
	return New(ErrCodeProtocol, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}

// AddressInUse creates a bind failure error for address.
func AddressInUse(address string, opts ...Option) *Error {
	opts = append([]Option{WithAddress(address)}, opts...)
	return New(ErrCodeAddressInUse, fmt.Sprintf(
		"cannot bind publisher to %q; most likely another process already has a publisher bound to this port, choose a unique publisher port for this process",
		address), opts...)
}

// ConnectFailed creates a connect failure error for address.
func ConnectFailed(address string, opts ...Option) *Error {
	opts = append([]Option{WithAddress(address)}, opts...)
	return New(ErrCodeConnectFailed, fmt.Sprintf("cannot connect subscriber to %q", address), opts...)
}

// UnsupportedType creates an error for a value the codec cannot encode.
func UnsupportedType(typeName, codecName string, opts ...Option) *Error {
	opts = append([]Option{WithMetadata("type", typeName), WithMetadata("codec", codecName)}, opts...)
	return New(ErrCodeUnsupportedType, fmt.Sprintf(
		"value of type %s cannot be encoded: the type must be supported by (registered with) the %s codec",
		typeName, codecName), opts...)
}

// Teardown creates an error for a receive loop that failed to exit.
func Teardown(message string, opts ...Option) *Error {
	return New(ErrCodeTeardown, message, opts...)
}
