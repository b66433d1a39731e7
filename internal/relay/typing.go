package relay

import (
	"encoding/json"

	"go.uber.org/zap"
)

// Typing state is never stored: each signal is forwarded to the other
// connections in the conversation room and forgotten. Debouncing is up to
// the sending client.

func (h *Hub) handleTyping(c *Client, data json.RawMessage) error {
	return h.relayTyping(c, EventTyping, data)
}

func (h *Hub) handleTypingStopped(c *Client, data json.RawMessage) error {
	return h.relayTyping(c, EventTypingStopped, data)
}

func (h *Hub) relayTyping(c *Client, event string, data json.RawMessage) error {
	chatID, err := h.decode.roomID(data)
	if err != nil {
		return err
	}

	frame, err := encodeEvent(event, chatID)
	if err != nil {
		return err
	}

	if n := h.broadcast(ConversationRoomOf(chatID), frame, c); n > 0 {
		c.log.Debug("typing relayed", zap.String("event", event), zap.String("room", chatID), zap.Int("deliveries", n))
	}
	return nil
}
