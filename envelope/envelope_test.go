package envelope

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	mqerrors "github.com/vinayprograms/rxmq/errors"
)

func TestFramesAndParse(t *testing.T) {
	tests := []struct {
		name       string
		env        Envelope
		wantFrames int
	}{
		{"next", Next("Quote", []byte{0x01, 0x02}), 3},
		{"error", Error("Quote", "boom", []byte(`{"type":"x"}`)), 4},
		{"completed", Completed("Quote"), 2},
		{"ping", Ping("Quote"), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := tt.env.Frames()
			if err != nil {
				t.Fatalf("Frames error: %v", err)
			}
			if len(frames) != tt.wantFrames {
				t.Fatalf("len(frames) = %d, want %d", len(frames), tt.wantFrames)
			}
			if string(frames[0]) != "Quote" {
				t.Errorf("frame 0 = %q, want topic", frames[0])
			}
			if string(frames[1]) != tt.env.Kind.String() {
				t.Errorf("frame 1 = %q, want %q", frames[1], tt.env.Kind.String())
			}

			got, err := Parse(frames, "Quote")
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			if got.Kind != tt.env.Kind || got.Text != tt.env.Text || !bytes.Equal(got.Payload, tt.env.Payload) {
				t.Errorf("Parse = %+v, want %+v", got, tt.env)
			}
		})
	}
}

func TestFrames_ErrorTextBeforeEnvelope(t *testing.T) {
	frames, _ := Error("Quote", "boom", []byte("ENV")).Frames()
	if string(frames[2]) != "boom" || string(frames[3]) != "ENV" {
		t.Errorf("frames = %q", frames)
	}
}

func TestFrames_InvalidTopic(t *testing.T) {
	for _, name := range []string{"", strings.Repeat("t", 33)} {
		if _, err := Completed(name).Frames(); !mqerrors.Is(err, mqerrors.ErrCodeConfig) {
			t.Errorf("Frames(topic %q) error = %v, want CONFIG", name, err)
		}
	}
	if _, err := (Envelope{Topic: "Quote", Kind: 'Z'}).Frames(); !mqerrors.Is(err, mqerrors.ErrCodeProtocol) {
		t.Errorf("unknown kind error = %v, want PROTOCOL", err)
	}
}

func TestParse_TopicMismatch(t *testing.T) {
	frames := [][]byte{[]byte("Trade"), []byte("C")}
	_, err := Parse(frames, "Quote")
	if !mqerrors.Is(err, mqerrors.ErrCodeTopicMismatch) {
		t.Errorf("error = %v, want TOPIC_MISMATCH", err)
	}
	if errors.Is(err, ErrForeignTopic) {
		t.Error("an unrelated topic is a fault, not a foreign topic")
	}
}

func TestParse_LongerTopicSharingPrefixIsForeign(t *testing.T) {
	frames := [][]byte{[]byte("QuoteBook"), []byte("C")}
	env, err := Parse(frames, "Quote")
	if !errors.Is(err, ErrForeignTopic) {
		t.Fatalf("error = %v, want ErrForeignTopic", err)
	}
	if env.Topic != "QuoteBook" {
		t.Errorf("Topic = %q", env.Topic)
	}
}

func TestParse_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name   string
		frames [][]byte
	}{
		{"no frames", nil},
		{"topic only", [][]byte{[]byte("Quote")}},
		{"unknown kind", [][]byte{[]byte("Quote"), []byte("X")}},
		{"long kind", [][]byte{[]byte("Quote"), []byte("NN"), {}}},
		{"next without payload", [][]byte{[]byte("Quote"), []byte("N")}},
		{"error missing envelope", [][]byte{[]byte("Quote"), []byte("E"), []byte("boom")}},
		{"completed with payload", [][]byte{[]byte("Quote"), []byte("C"), []byte("x")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.frames, "Quote")
			if !mqerrors.Is(err, mqerrors.ErrCodeProtocol) {
				t.Errorf("error = %v, want PROTOCOL", err)
			}
		})
	}
}
