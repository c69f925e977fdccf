// Package protocol defines the JSON frames exchanged between hub and clients
// over one WebSocket connection in text mode.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the kind of a frame.
type MessageType string

const (
	// Client -> Hub message types
	MessageTypeGetState       MessageType = "getState"
	MessageTypeIdentity       MessageType = "identity"
	MessageTypeSubscribeState MessageType = "subscribeState"
	MessageTypePing           MessageType = "ping"
	MessageTypeUpdateState    MessageType = "updateState"

	// Hub -> Client message types
	MessageTypePong        MessageType = "pong"
	MessageTypeState       MessageType = "state"
	MessageTypeStateUpdate MessageType = "stateUpdate"

	// Signaling relay frames, Hub <-> robot client. Correlated by ID.
	MessageTypeSDPOffer  MessageType = "sdpOffer"
	MessageTypeSDPAnswer MessageType = "sdpAnswer"
)

// SubscribeAll is the wildcard subscription pattern matching every key.
const SubscribeAll = "*"

// IdentityWebapp is the default role declared by UI clients.
const IdentityWebapp = "webapp"

// IdentityRobot is the role declared by the robot-side client that answers
// SDP offers.
const IdentityRobot = "robot"

// Message is the JSON envelope for every frame. Data carries a type-specific
// payload: a bare string for identity/subscribeState, an object for state
// frames, absent for ping/pong/getState. ID correlates signaling relay
// frames.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	ID   string          `json:"id,omitempty"`
}

// Decode parses raw as a Message. Unknown types are accepted; callers switch
// on Type and ignore what they do not handle.
func Decode(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	return &msg, nil
}

// Encode serializes msg for the wire.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// StringData decodes the payload as a bare JSON string (identity role,
// subscription pattern).
func (m *Message) StringData() (string, error) {
	var s string
	if err := json.Unmarshal(m.Data, &s); err != nil {
		return "", fmt.Errorf("expected string data in %q frame: %w", m.Type, err)
	}
	return s, nil
}

// ObjectData decodes the payload as a key/value object (state, stateUpdate,
// updateState).
func (m *Message) ObjectData() (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(m.Data, &obj); err != nil {
		return nil, fmt.Errorf("expected object data in %q frame: %w", m.Type, err)
	}
	return obj, nil
}

// NewGetState builds a full-state request frame.
func NewGetState() *Message {
	return &Message{Type: MessageTypeGetState}
}

// NewIdentity builds a frame declaring the client role.
func NewIdentity(role string) *Message {
	return &Message{Type: MessageTypeIdentity, Data: mustString(role)}
}

// NewSubscribe builds a subscription frame for pattern.
func NewSubscribe(pattern string) *Message {
	return &Message{Type: MessageTypeSubscribeState, Data: mustString(pattern)}
}

// NewPing builds a liveness probe frame.
func NewPing() *Message {
	return &Message{Type: MessageTypePing}
}

// NewPong builds the liveness reply frame.
func NewPong() *Message {
	return &Message{Type: MessageTypePong}
}

// NewState builds a full-snapshot frame.
func NewState(snapshot map[string]any) (*Message, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state snapshot: %w", err)
	}
	return &Message{Type: MessageTypeState, Data: data}, nil
}

// NewStateUpdate builds an incremental-push frame.
func NewStateUpdate(partial map[string]any) (*Message, error) {
	data, err := json.Marshal(partial)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state update: %w", err)
	}
	return &Message{Type: MessageTypeStateUpdate, Data: data}, nil
}

// NewUpdateState builds a client-proposed partial-update frame.
func NewUpdateState(partial map[string]any) (*Message, error) {
	data, err := json.Marshal(partial)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal update: %w", err)
	}
	return &Message{Type: MessageTypeUpdateState, Data: data}, nil
}

// SessionDescription is the SDP payload relayed through the signaling
// frames and the signaling HTTP endpoint.
type SessionDescription struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// NewSDPOffer builds a relay frame carrying an offer, correlated by id.
func NewSDPOffer(id string, offer SessionDescription) (*Message, error) {
	data, err := json.Marshal(offer)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal offer: %w", err)
	}
	return &Message{Type: MessageTypeSDPOffer, Data: data, ID: id}, nil
}

// NewSDPAnswer builds a relay frame carrying the answer for offer id.
func NewSDPAnswer(id string, answer SessionDescription) (*Message, error) {
	data, err := json.Marshal(answer)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return &Message{Type: MessageTypeSDPAnswer, Data: data, ID: id}, nil
}

// DescriptionData decodes the payload of a signaling frame.
func (m *Message) DescriptionData() (SessionDescription, error) {
	var desc SessionDescription
	if err := json.Unmarshal(m.Data, &desc); err != nil {
		return SessionDescription{}, fmt.Errorf("expected session description in %q frame: %w", m.Type, err)
	}
	return desc, nil
}

func mustString(s string) json.RawMessage {
	data, err := json.Marshal(s)
	if err != nil {
		// json.Marshal of a string cannot fail.
		panic(err)
	}
	return data
}
