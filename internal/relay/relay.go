package relay

import (
	"encoding/json"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// handleNewMessage fans a persisted message out to the identity rooms of every
// conversation member except the sender. Delivery goes to identity rooms, not
// the conversation room, so members who have not opened the conversation still
// receive it. Offline members are skipped; nothing is queued for them.
//
// Routing follows the message's sender id, so a connection that has not
// completed setup can still announce; that is logged.
func (h *Hub) handleNewMessage(c *Client, data json.RawMessage) error {
	msg, err := h.decode.message(data)
	if err != nil {
		return err
	}
	if c.userID == "" {
		c.log.Warn("message announced before setup; routing on sender id",
			zap.String("sender_id", msg.Sender.ID))
	}

	frame, err := encodeEvent(EventMessageReceived, data)
	if err != nil {
		return err
	}

	recipients := lo.Uniq(lo.FilterMap(msg.Chat.Users, func(u User, _ int) (string, bool) {
		return u.ID, u.ID != msg.Sender.ID
	}))

	delivered := 0
	for _, userID := range recipients {
		delivered += h.broadcast(IdentityRoomOf(userID), frame, c)
	}
	if h.opts.EchoSenderDevices {
		delivered += h.broadcast(IdentityRoomOf(msg.Sender.ID), frame, c)
	}

	c.log.Debug("message relayed",
		zap.String("message_id", msg.ID),
		zap.String("chat_id", msg.Chat.ID),
		zap.String("sender_id", msg.Sender.ID),
		zap.Int("recipients", len(recipients)),
		zap.Int("deliveries", delivered))
	return nil
}
