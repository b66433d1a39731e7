package relay

import (
	"encoding/json"

	"go.uber.org/zap"
)

func (h *Hub) handleConnect(c *Client) {
	if _, ok := h.clients[c]; ok {
		return
	}
	if c.closed {
		// Disconnected before the connect was processed.
		return
	}
	h.clients[c] = struct{}{}
	total := h.connections.Add(1)
	c.log.Info("client connected", zap.Int64("clients", total))
}

// handleSetup binds the connection to the identity room of the announced
// user and acknowledges with connected. Repeating it is harmless; announcing a
// different identity moves the connection to that identity room.
func (h *Hub) handleSetup(c *Client, data json.RawMessage) error {
	user, err := h.decode.user(data)
	if err != nil {
		return err
	}

	frame, err := encodeEvent(EventConnected, nil)
	if err != nil {
		return err
	}

	if c.userID != "" && c.userID != user.ID {
		c.log.Info("connection switched identity",
			zap.String("previous_user_id", c.userID),
			zap.String("user_id", user.ID))
	}
	h.registry.BindIdentity(c, user.ID)
	c.userID = user.ID

	h.deliver(c, frame)
	c.log.Debug("setup complete", zap.String("user_id", user.ID))
	return nil
}

func (h *Hub) handleJoinRoom(c *Client, data json.RawMessage) error {
	chatID, err := h.decode.roomID(data)
	if err != nil {
		return err
	}
	if h.registry.Join(c, ConversationRoomOf(chatID)) {
		c.log.Debug("joined room", zap.String("room", chatID))
	}
	return nil
}

func (h *Hub) handleLeaveRoom(c *Client, data json.RawMessage) error {
	chatID, err := h.decode.roomID(data)
	if err != nil {
		return err
	}
	if h.registry.Leave(c, ConversationRoomOf(chatID)) {
		c.log.Debug("left room", zap.String("room", chatID))
	}
	return nil
}

// handleDisconnect removes c from every room and closes its send channel.
// Unknown or already removed clients are ignored.
func (h *Hub) handleDisconnect(c *Client) {
	if c.closed {
		return
	}
	c.closed = true

	if _, ok := h.clients[c]; !ok {
		close(c.send)
		return
	}
	delete(h.clients, c)
	total := h.connections.Add(-1)

	rooms := h.registry.LeaveAll(c)
	close(c.send)
	c.log.Info("client disconnected", zap.Int("rooms_left", len(rooms)), zap.Int64("clients", total))
}
