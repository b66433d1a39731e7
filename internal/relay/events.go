// Package relay defines the wire envelope, the event names, and validated
// decoding of event payloads.
package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Wire event names. They match the names the browser client already speaks.
const (
	EventSetup           = "setup"
	EventConnected       = "connected"
	EventJoinRoom        = "joinRoom"
	EventLeaveRoom       = "leaveRoom"
	EventNewMessage      = "newMsg"
	EventMessageReceived = "got the msg"
	EventTyping          = "typing"
	EventTypingStopped   = "typing stopped"
)

// Envelope is the JSON frame exchanged in both directions over the websocket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// User is the identity record sent with setup and embedded in messages.
// Only the identifier matters to the relay; other profile fields pass through.
type User struct {
	ID string `json:"_id" validate:"required"`
}

// Chat is the conversation as denormalized onto a persisted message.
type Chat struct {
	ID    string `json:"_id" validate:"required"`
	Users []User `json:"users" validate:"required,min=1,dive"`
}

// Message is the routing view of a persisted message. The relay forwards the
// received payload, never a re-encoding of this struct, so fields it does not
// know about reach recipients unchanged.
type Message struct {
	ID     string `json:"_id"`
	Sender User   `json:"sender"`
	Chat   Chat   `json:"chat"`
}

// NewEnvelope encodes data as the payload of a named event. A nil data
// produces an envelope without a payload.
func NewEnvelope(event string, data any) (Envelope, error) {
	env := Envelope{Event: event}
	if data == nil {
		return env, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		env.Data = raw
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %q payload: %w", event, err)
	}
	env.Data = raw
	return env, nil
}

func encodeEvent(event string, data any) ([]byte, error) {
	env, err := NewEnvelope(event, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// payloadDecoder turns raw event data into validated values.
type payloadDecoder struct {
	validate *validator.Validate
}

func newPayloadDecoder() payloadDecoder {
	return payloadDecoder{validate: validator.New()}
}

func (d payloadDecoder) user(data json.RawMessage) (User, error) {
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return User{}, fmt.Errorf("%w: user record: %v", ErrMalformedPayload, err)
	}
	id, err := d.identity(u.ID)
	if err != nil {
		return User{}, fmt.Errorf("%w: user record: %v", ErrMalformedPayload, err)
	}
	u.ID = id
	return u, nil
}

func (d payloadDecoder) message(data json.RawMessage) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: message: %v", ErrMalformedPayload, err)
	}
	sender, err := d.identity(m.Sender.ID)
	if err != nil {
		return Message{}, fmt.Errorf("%w: message sender: %v", ErrMalformedPayload, err)
	}
	m.Sender.ID = sender

	m.Chat.ID = strings.TrimSpace(m.Chat.ID)
	for i := range m.Chat.Users {
		m.Chat.Users[i].ID = strings.TrimSpace(m.Chat.Users[i].ID)
	}
	if err := d.validate.Struct(m.Chat); err != nil {
		return Message{}, fmt.Errorf("%w: message chat: %v", ErrMalformedPayload, err)
	}
	return m, nil
}

// identity normalizes a user id the same way for setup and for messages, so
// fan-out targets match the identity rooms connections joined.
func (d payloadDecoder) identity(id string) (string, error) {
	id = strings.TrimSpace(id)
	if err := d.validate.Var(id, "required"); err != nil {
		return "", err
	}
	return id, nil
}

// roomID accepts the bare JSON string the client sends for room scoped events.
func (d payloadDecoder) roomID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return "", fmt.Errorf("%w: room id: %v", ErrMalformedPayload, err)
	}
	id = strings.TrimSpace(id)
	if err := d.validate.Var(id, "required"); err != nil {
		return "", fmt.Errorf("%w: room id: %v", ErrMalformedPayload, err)
	}
	return id, nil
}
