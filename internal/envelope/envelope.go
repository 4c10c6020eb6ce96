// ABOUTME: Wire envelope for the shared chat space: the two message variants and their JSON codec.
// ABOUTME: Decoded once at the channel boundary; everything above works on the closed sum type.

package envelope

import (
	"encoding/json"
	"fmt"
)

// Reserved participant identifiers on the shared space.
const (
	DefaultModeratorID = "noa-moderator"
	DefaultUserProxyID = "noa-user-proxy"
)

// Type discriminator values carried on the wire.
const (
	TypeChatMessage    = "ChatMessage"
	TypeRequestToSpeak = "RequestToSpeak"
)

// Message is the closed sum of the two envelope variants. The only
// implementations are ChatMessage and RequestToSpeak.
type Message interface {
	// Type returns the wire discriminator for the variant.
	Type() string
	// From returns the authoring participant id.
	From() string
}

// ChatMessage is a content-bearing utterance from any participant.
type ChatMessage struct {
	Author  string `json:"author"`
	Message string `json:"message"`
}

// Type implements Message.
func (ChatMessage) Type() string { return TypeChatMessage }

// From implements Message.
func (m ChatMessage) From() string { return m.Author }

// RequestToSpeak grants the right to speak to Target. Message carries the
// question addressed to the target, empty when handing control back to the
// user proxy.
type RequestToSpeak struct {
	Author  string `json:"author"`
	Target  string `json:"target"`
	Message string `json:"message,omitempty"`
}

// Type implements Message.
func (RequestToSpeak) Type() string { return TypeRequestToSpeak }

// From implements Message.
func (m RequestToSpeak) From() string { return m.Author }

// DecodeError reports bytes on the channel that could not be turned into a
// Message. Policy for receivers is log and drop, never crash the loop.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode envelope: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// wireEnvelope is the superset of fields across both variants. Extra fields
// on the wire are ignored for forward compatibility.
type wireEnvelope struct {
	Type    string  `json:"type"`
	Author  *string `json:"author"`
	Target  *string `json:"target"`
	Message *string `json:"message"`
}

// Encode serializes a Message as a tagged-union JSON object.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case ChatMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			ChatMessage
		}{TypeChatMessage, v})
	case RequestToSpeak:
		return json.Marshal(struct {
			Type string `json:"type"`
			RequestToSpeak
		}{TypeRequestToSpeak, v})
	default:
		return nil, fmt.Errorf("encode envelope: unknown message type %T", m)
	}
}

// Decode parses a tagged-union JSON object into a Message. It returns a
// *DecodeError when the bytes are not valid JSON, the type discriminator is
// missing or unrecognized, or a required field for the variant is absent.
func Decode(data []byte) (Message, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &DecodeError{Reason: "invalid JSON", Err: err}
	}

	switch w.Type {
	case TypeChatMessage:
		if w.Author == nil {
			return nil, &DecodeError{Reason: `ChatMessage missing "author"`}
		}
		if w.Message == nil {
			return nil, &DecodeError{Reason: `ChatMessage missing "message"`}
		}
		return ChatMessage{Author: *w.Author, Message: *w.Message}, nil

	case TypeRequestToSpeak:
		if w.Author == nil {
			return nil, &DecodeError{Reason: `RequestToSpeak missing "author"`}
		}
		if w.Target == nil {
			return nil, &DecodeError{Reason: `RequestToSpeak missing "target"`}
		}
		msg := ""
		if w.Message != nil {
			msg = *w.Message
		}
		return RequestToSpeak{Author: *w.Author, Target: *w.Target, Message: msg}, nil

	case "":
		return nil, &DecodeError{Reason: `missing "type" discriminator`}

	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unrecognized type %q", w.Type)}
	}
}
