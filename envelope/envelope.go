// Package envelope frames stream events for the wire.
//
// Every envelope is a multipart message:
//
//	frame 0   topic (at most topic.MaxLength bytes)
//	frame 1   kind: "N" next, "E" error, "C" completed, "P" ping
//	frame 2.. "N": codec payload
//	          "E": plain-text rendering, then the exception envelope
//	          "C", "P": nothing
package envelope

import (
	"bytes"
	"errors"
	"fmt"

	mqerrors "github.com/vinayprograms/rxmq/errors"
	"github.com/vinayprograms/rxmq/topic"
)

// Kind tags the lifecycle event an envelope carries.
type Kind byte

const (
	KindNext      Kind = 'N'
	KindError     Kind = 'E'
	KindCompleted Kind = 'C'
	KindPing      Kind = 'P'
)

// String returns the single-character wire tag.
func (k Kind) String() string {
	return string(rune(k))
}

// Envelope is one framed message unit.
type Envelope struct {
	Topic string
	Kind  Kind

	// Payload is the codec output for KindNext and the exception envelope
	// for KindError.
	Payload []byte

	// Text is the plain-text error rendering, KindError only.
	Text string
}

// Next builds a KindNext envelope.
func Next(topicName string, payload []byte) Envelope {
	return Envelope{Topic: topicName, Kind: KindNext, Payload: payload}
}

// Error builds a KindError envelope.
func Error(topicName, text string, encoded []byte) Envelope {
	return Envelope{Topic: topicName, Kind: KindError, Text: text, Payload: encoded}
}

// Completed builds a KindCompleted envelope.
func Completed(topicName string) Envelope {
	return Envelope{Topic: topicName, Kind: KindCompleted}
}

// Ping builds a KindPing envelope.
func Ping(topicName string) Envelope {
	return Envelope{Topic: topicName, Kind: KindPing}
}

// Frames renders the envelope as wire frames.
func (e Envelope) Frames() ([][]byte, error) {
	if e.Topic == "" || len(e.Topic) > topic.MaxLength {
		return nil, mqerrors.Config(fmt.Sprintf("topic %q must be 1..%d bytes", e.Topic, topic.MaxLength),
			mqerrors.WithTopic(e.Topic))
	}
	head := [][]byte{[]byte(e.Topic), {byte(e.Kind)}}
	switch e.Kind {
	case KindNext:
		return append(head, e.Payload), nil
	case KindError:
		return append(head, []byte(e.Text), e.Payload), nil
	case KindCompleted, KindPing:
		return head, nil
	default:
		return nil, mqerrors.Protocol(fmt.Sprintf("cannot frame unknown kind %q", e.Kind.String()))
	}
}

// ErrForeignTopic is returned by Parse for a frame whose topic extends the
// expected one. Prefix-based transport filters deliver such frames
// legitimately; they belong to another endpoint and are skipped.
var ErrForeignTopic = errors.New("frame belongs to a longer topic sharing this prefix")

// Parse validates frames against the expected topic and decodes them.
//
// A topic that differs from expected and does not extend it is a
// TOPIC_MISMATCH error; an unknown kind or a wrong frame count is a PROTOCOL
// error. Both mean the stream is out of sync.
func Parse(frames [][]byte, expected string) (Envelope, error) {
	if len(frames) < 2 {
		return Envelope{}, mqerrors.Protocol(fmt.Sprintf("received %d frames, need at least topic and kind", len(frames)),
			mqerrors.WithTopic(expected))
	}
	got := frames[0]
	if string(got) != expected {
		if bytes.HasPrefix(got, []byte(expected)) {
			return Envelope{Topic: string(got)}, ErrForeignTopic
		}
		return Envelope{}, mqerrors.New(mqerrors.ErrCodeTopicMismatch,
			fmt.Sprintf("received topic %q on a subscription filtered to %q; the transport filter should make this impossible", got, expected),
			mqerrors.WithTopic(expected))
	}
	if len(frames[1]) != 1 {
		return Envelope{}, protocolErr(expected, frames[1])
	}

	env := Envelope{Topic: expected, Kind: Kind(frames[1][0])}
	switch env.Kind {
	case KindNext:
		if len(frames) != 3 {
			return Envelope{}, frameCount(expected, env.Kind, len(frames), 3)
		}
		env.Payload = frames[2]
	case KindError:
		if len(frames) != 4 {
			return Envelope{}, frameCount(expected, env.Kind, len(frames), 4)
		}
		env.Text = string(frames[2])
		env.Payload = frames[3]
	case KindCompleted, KindPing:
		if len(frames) != 2 {
			return Envelope{}, frameCount(expected, env.Kind, len(frames), 2)
		}
	default:
		return Envelope{}, protocolErr(expected, frames[1])
	}
	return env, nil
}

func protocolErr(expected string, kind []byte) error {
	return mqerrors.Protocol(
		fmt.Sprintf("received kind %q when \"N\", \"E\", \"C\" or \"P\" was expected; are we out of sync?", kind),
		mqerrors.WithTopic(expected))
}

func frameCount(expected string, kind Kind, got, want int) error {
	return mqerrors.Protocol(
		fmt.Sprintf("kind %q carried %d frames, want %d", kind.String(), got, want),
		mqerrors.WithTopic(expected))
}
