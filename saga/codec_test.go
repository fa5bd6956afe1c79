package saga

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

type wireEvent struct {
	Identity
	Reason string `json:"reason"`
}

func (wireEvent) MessageType() string { return "wire.event" }

func TestCodecPreservesIdentityAcrossTheWire(t *testing.T) {
	codec := NewCodec()
	codec.Register("wire.event", func(env Envelope) (Message, error) {
		e, err := DecodePayload[wireEvent](env)
		if err != nil {
			return nil, err
		}
		e.Identity = RestoreIdentity(env.MessageID, env.CorrelationID, env.CausationID)
		return e, nil
	})

	origin := testEvent{Identity: NewOrigin(uuid.New()), kind: "origin"}
	sent := wireEvent{Identity: Follow(origin), Reason: "stock unavailable"}

	data, err := codec.Encode(sent)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	got, ok := decoded.(wireEvent)
	if !ok {
		t.Fatalf("decoded %T, want wireEvent", decoded)
	}
	if got.MessageID() != sent.MessageID() ||
		got.CorrelationID() != sent.CorrelationID() ||
		got.CausationID() != sent.CausationID() {
		t.Error("the three identifiers must survive the round trip")
	}
	if got.Reason != sent.Reason {
		t.Errorf("reason = %q, want %q", got.Reason, sent.Reason)
	}
}

func TestCodecRejectsUnregisteredType(t *testing.T) {
	codec := NewCodec()
	data, err := codec.Encode(testEvent{Identity: NewOrigin(uuid.New()), kind: "unknown.event"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := codec.Decode(data); err == nil || !strings.Contains(err.Error(), "no decoder registered") {
		t.Errorf("err = %v, want unregistered-type error", err)
	}
}
