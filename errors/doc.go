// Package errors provides the structured error taxonomy used across rxmq.
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Transient: Temporary failures where retry may succeed (timeouts, unreachable broker)
//   - Permanent: Failures where retry will not help (bad config, address in use, unsupported type)
//   - Resource: Leaked or exhausted resources (receive loop failed to exit)
//   - Internal: Protocol desynchronization and invariant violations
//
// # Error Codes
//
//   - CONFIG: missing address, invalid connection mode, bad config file
//   - ADDRESS_IN_USE / CONNECT_FAILED: publisher bind or subscriber connect refused
//   - UNSUPPORTED_TYPE / SERIALIZATION: codec failures
//   - PROTOCOL / TOPIC_MISMATCH: frames out of sync on the wire
//   - REMOTE: an error pushed by another process
//   - TEARDOWN: a subscriber's receive loop did not exit within its join timeout
//
// # Usage
//
//	err := errors.Config("address must not be empty")
//
//	if errors.Is(err, errors.ErrCodeAddressInUse) {
//	    // pick another port
//	}
//
// # JSON Serialization
//
// Errors marshal to JSON so the exception envelope can carry their code
// across process boundaries.
package errors
