// Package envelope defines the signed event envelope exchanged between trivia
// peers. The same Event struct travels in two forms: a bare {type, payload}
// frame on the pub/sub bus, and a full record carrying id, timestamp,
// signature and public key in the replicated event log.
//
// Decoding never fails loudly. Malformed bytes and unknown event types decode
// to nil so that receivers can drop garbage from untrusted peers without
// treating it as an error.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/MHolmes91/trivir/identity"
)

// Type enumerates the closed set of trivia event types. Anything outside this
// set is rejected at decode time.
type Type string

const (
	TypeJoin         Type = "join"
	TypeLeave        Type = "leave"
	TypeGameStart    Type = "game-start"
	TypeGameEnd      Type = "game-end"
	TypeRoundStart   Type = "round-start"
	TypeRoundEnd     Type = "round-end"
	TypeAnswerSubmit Type = "answer-submit"
)

func (t Type) valid() bool {
	switch t {
	case TypeJoin, TypeLeave, TypeGameStart, TypeGameEnd,
		TypeRoundStart, TypeRoundEnd, TypeAnswerSubmit:
		return true
	}
	return false
}

// Event is a single game event. Once signed it is immutable: any change to
// id, type, payload or timestamp invalidates the signature.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp"`
	Signature []byte         `json:"signature,omitempty"`
	PublicKey []byte         `json:"publicKey,omitempty"`
}

// New creates an unsigned event stamped with a fresh id and the current time
// in Unix milliseconds.
func New(t Type, payload map[string]any) *Event {
	return NewAt(t, payload, time.Now().UnixMilli())
}

// NewAt is New with an explicit timestamp, for callers that inject a clock.
func NewAt(t Type, payload map[string]any, timestamp int64) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		Timestamp: timestamp,
	}
}

// Clone returns a deep copy of the event. Byte slices and the payload map are
// copied so neither side can mutate the other.
func (ev *Event) Clone() *Event {
	if ev == nil {
		return nil
	}
	out := *ev
	out.Signature = append([]byte(nil), ev.Signature...)
	out.PublicKey = append([]byte(nil), ev.PublicKey...)
	out.Payload = clonePayload(ev.Payload)
	return &out
}

func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = clonePayload(vv)
		case []any:
			out[k] = append([]any(nil), vv...)
		default:
			out[k] = v
		}
	}
	return out
}

// frame is the wire form published on the topic bus.
type frame struct {
	Type    Type           `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Encode serializes the event as a bus frame: just {type, payload}.
func Encode(ev *Event) ([]byte, error) {
	return json.Marshal(frame{Type: ev.Type, Payload: ev.Payload})
}

// Decode parses a bus frame. It returns nil for malformed JSON and for any
// type outside the known set.
func Decode(b []byte) *Event {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil
	}
	if !f.Type.valid() {
		return nil
	}
	return &Event{Type: f.Type, Payload: f.Payload}
}

// EncodeRecord serializes the full event record for the replicated log.
func EncodeRecord(ev *Event) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeRecord parses a full event record, with the same drop-on-garbage
// behavior as Decode.
func DecodeRecord(b []byte) *Event {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil
	}
	if !ev.Type.valid() {
		return nil
	}
	return &ev
}

// signingBytes is the canonical byte form covered by the signature: the full
// record with the signature field cleared. Reconstructing it from the
// envelope's claimed id and timestamp at verification time is what ties the
// signature to exactly those values.
func signingBytes(ev *Event) ([]byte, error) {
	tmp := *ev
	tmp.Signature = nil
	return json.Marshal(tmp)
}

// Sign stamps the signer's public key on the event and signs it in place.
func Sign(ev *Event, id *identity.Identity) error {
	pub, err := id.PublicBytes()
	if err != nil {
		return err
	}
	ev.PublicKey = pub
	msg, err := signingBytes(ev)
	if err != nil {
		return err
	}
	sig, err := id.Sign(msg)
	if err != nil {
		return err
	}
	ev.Signature = sig
	return nil
}

// Verify reports whether the event's signature is valid for its embedded
// public key and for exactly the id, type, payload and timestamp the envelope
// claims. A signature lifted onto an event with substituted metadata fails.
func Verify(ev *Event) bool {
	if ev == nil || len(ev.Signature) == 0 || len(ev.PublicKey) == 0 {
		return false
	}
	msg, err := signingBytes(ev)
	if err != nil {
		return false
	}
	return identity.Verify(ev.PublicKey, msg, ev.Signature)
}

// SignerID returns the stable peer id of whoever signed the event, or "" for
// unsigned events.
func (ev *Event) SignerID() string {
	if len(ev.PublicKey) == 0 {
		return ""
	}
	return identity.PeerID(ev.PublicKey)
}
