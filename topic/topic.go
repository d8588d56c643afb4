// Package topic derives wire topics from type identifiers.
//
// A topic is both the subscription filter applied by the transport and the
// first frame of every envelope. Subscription filters are only compared over a
// bounded prefix, so topics are capped at MaxLength bytes. Identifiers longer
// than that keep a readable prefix and gain a hash suffix of the full
// identifier, so two long identifiers that share their first 32 bytes still
// map to distinct topics.
package topic

import (
	"fmt"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	mqerrors "github.com/vinayprograms/rxmq/errors"
)

const (
	// MaxLength is the largest topic, in bytes, the transports filter on.
	MaxLength = 32

	// PrefixLength is how much of a long identifier is kept before the hash.
	PrefixLength = 24

	hashLength = 8
)

// Tagger is implemented by payload types that name their own topic.
type Tagger interface {
	TopicTag() string
}

// Resolve returns the topic for id.
func Resolve(id string) (string, error) {
	if id == "" {
		return "", mqerrors.Config("topic identifier must not be empty")
	}
	if len(id) <= MaxLength {
		return id, nil
	}

	result := truncate(id, PrefixLength) + Hash(id)
	if len(result) > MaxLength {
		return "", mqerrors.New(mqerrors.ErrCodeAssertion,
			fmt.Sprintf("resolved topic %q is %d bytes, longer than %d", result, len(result), MaxLength),
			mqerrors.WithTopic(result))
	}
	return result, nil
}

// MustResolve is like Resolve but panics on error. Intended for package-level
// topic constants.
func MustResolve(id string) string {
	t, err := Resolve(id)
	if err != nil {
		panic(err)
	}
	return t
}

// For resolves the tag of T. T must implement Tagger on its value (zero
// value) receiver.
func For[T any]() (string, error) {
	var zero T
	tagger, ok := any(zero).(Tagger)
	if !ok {
		return "", mqerrors.Config(fmt.Sprintf("no topic given and %T does not implement topic.Tagger", zero))
	}
	return Resolve(tagger.TopicTag())
}

// Hash returns the 8 hex digit suffix used for long identifiers.
func Hash(id string) string {
	sum := xxhash.Sum64String(id)
	return fmt.Sprintf("%08X", uint32(sum^(sum>>32)))
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
