package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: receive timeouts, a broker briefly unreachable.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: empty address, port already bound, value the codec cannot encode.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates resource exhaustion or leaks.
	// Examples: receive goroutine that never exits, high-water mark reached.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors, bugs, or protocol faults.
	// Examples: frames out of sync, topic filter delivered a foreign topic.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for the failure classes of the messaging layer.
const (
	// Transient errors
	ErrCodeTimeout       ErrorCode = "TIMEOUT"        // Bounded wait elapsed
	ErrCodeConnectFailed ErrorCode = "CONNECT_FAILED" // Subscriber could not reach the address

	// Permanent errors
	ErrCodeConfig          ErrorCode = "CONFIG"           // Missing address, bad mode combination, bad config file
	ErrCodeAddressInUse    ErrorCode = "ADDRESS_IN_USE"   // Publisher bind refused
	ErrCodeUnsupportedType ErrorCode = "UNSUPPORTED_TYPE" // Codec cannot encode the value's type
	ErrCodeSerialization   ErrorCode = "SERIALIZATION"    // Encode/decode failed for a supported type
	ErrCodeRemote          ErrorCode = "REMOTE"           // Error raised in another process
	ErrCodeClosed          ErrorCode = "CLOSED"           // Endpoint or registry already closed

	// Resource errors
	ErrCodeTeardown ErrorCode = "TEARDOWN" // Receive goroutine failed to exit in time

	// Internal errors
	ErrCodeInternal      ErrorCode = "INTERNAL"       // Unexpected internal error
	ErrCodeAssertion     ErrorCode = "ASSERTION"      // Invariant violation
	ErrCodeProtocol      ErrorCode = "PROTOCOL"       // Unexpected frame kind or frame count
	ErrCodeTopicMismatch ErrorCode = "TOPIC_MISMATCH" // Envelope topic differs from the subscribed topic
	ErrCodePanic         ErrorCode = "PANIC"          // Recovered from panic in an observer
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeConnectFailed:
		return CategoryTransient

	case ErrCodeConfig, ErrCodeAddressInUse, ErrCodeUnsupportedType,
		ErrCodeSerialization, ErrCodeRemote, ErrCodeClosed:
		return CategoryPermanent

	case ErrCodeTeardown:
		return CategoryResource

	case ErrCodeInternal, ErrCodeAssertion, ErrCodeProtocol, ErrCodeTopicMismatch, ErrCodePanic:
		return CategoryInternal

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:         "operation timed out",
	ErrCodeConnectFailed:   "cannot connect to address",
	ErrCodeConfig:          "invalid configuration",
	ErrCodeAddressInUse:    "address already in use",
	ErrCodeUnsupportedType: "type not supported by codec",
	ErrCodeSerialization:   "serialization failed",
	ErrCodeRemote:          "remote error",
	ErrCodeClosed:          "endpoint closed",
	ErrCodeTeardown:        "receive loop did not exit",
	ErrCodeInternal:        "internal error",
	ErrCodeAssertion:       "assertion failed",
	ErrCodeProtocol:        "protocol desynchronized",
	ErrCodeTopicMismatch:   "unexpected topic on wire",
	ErrCodePanic:           "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
