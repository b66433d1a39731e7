package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
)

// Announcer relays a persisted message; *Conn implements it.
type Announcer interface {
	Announce(message json.RawMessage) error
}

// Sender performs the two-step send: persist through the message API, then
// announce the persisted message on the relay.
type Sender struct {
	store  MessageStore
	relay  Announcer
	typing *TypingNotifier
}

// NewSender returns a Sender. typing may be nil; when set, sending stops the
// typing indicator of the conversation first.
func NewSender(store MessageStore, relay Announcer, typing *TypingNotifier) *Sender {
	return &Sender{store: store, relay: relay, typing: typing}
}

// Send persists and announces a message. If persistence fails the error wraps
// ErrPersistFailed and the relay is never told. If only the announcement fails
// the persisted message is still returned: other members will see it on their
// next history fetch.
func (s *Sender) Send(ctx context.Context, req CreateMessageRequest) (json.RawMessage, error) {
	if s.typing != nil {
		// A broken relay connection also fails Announce below.
		_ = s.typing.Flush(req.ChatID)
	}

	msg, err := s.store.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	if err := s.relay.Announce(msg); err != nil {
		return msg, fmt.Errorf("announce message: %w", err)
	}
	return msg, nil
}
