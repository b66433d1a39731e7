// Package relay wraps each websocket connection with read and write pumps,
// per-connection rate limiting, and batched outbound frames.
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is one live websocket connection. The hub goroutine owns its send
// channel, its identity and its closed flag; the pumps only touch the socket.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	addr    string
	limiter *rateLimiter
	log     *zap.Logger

	userID string
	closed bool
}

// NewClient wraps conn for hub. conn may be nil for connections driven
// directly through the hub, as tests do; such clients never start pumps.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	opts := hub.opts
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	id := uuid.NewString()

	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, opts.SendBufferSize),
		hub:     hub,
		addr:    addr,
		limiter: newRateLimiter(opts.RateLimitBurst, opts.RateLimitInterval),
		log:     hub.log.With(zap.String("conn_id", id), zap.String("remote_addr", addr)),
	}
}

// ID returns the opaque connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Addr returns the remote address the connection came from.
func (c *Client) Addr() string {
	return c.addr
}

// GetSendChan returns the outgoing frame channel. It is closed when the hub
// drops the connection.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

func (c *Client) setupReadConnection() {
	pongWait := c.hub.opts.PongWait
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("set initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size", zap.Int64("max_bytes", c.hub.opts.MaxMessageSize))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.log.Debug("client closed connection", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
		c.log.Warn("unexpected websocket close", zap.Error(err))
	default:
		c.log.Warn("websocket read error", zap.Error(err))
	}
}

// processFrame decodes one inbound frame and hands it to the hub. Bad frames
// are dropped and the connection stays usable.
func (c *Client) processFrame(raw []byte) {
	if !c.limiter.allow() {
		c.log.Warn("rate limit exceeded; discarding frame",
			zap.Int("burst", c.hub.opts.RateLimitBurst),
			zap.Duration("interval", c.hub.opts.RateLimitInterval))
		return
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Warn("invalid frame", zap.Error(err))
		return
	}
	if env.Event == "" {
		c.log.Warn("frame without event name")
		return
	}
	c.hub.Dispatch(c, env)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.closeConn()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		c.processFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.setWriteDeadline() {
				return
			}
			if !ok {
				c.writeClose()
				return
			}
			if !c.writeFrames(frame) {
				return
			}
		case <-ticker.C:
			if !c.setWriteDeadline() {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) setWriteDeadline() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
		c.log.Debug("set write deadline", zap.Error(err))
		return false
	}
	return true
}

func (c *Client) writeClose() {
	err := c.conn.WriteMessage(websocket.CloseMessage, []byte{})
	if err != nil && !isExpectedCloseError(err) {
		c.log.Warn("write close frame", zap.Error(err))
	}
}

// writeFrames writes frame plus whatever is already queued as one text
// message, one envelope per line.
func (c *Client) writeFrames(frame []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.log.Debug("open writer", zap.Error(err))
		return false
	}
	if _, err := w.Write(frame); err != nil {
		c.log.Debug("write frame", zap.Error(err))
		return false
	}

	for n := len(c.send); n > 0; n-- {
		next, ok := <-c.send
		if !ok {
			break
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			c.log.Debug("write separator", zap.Error(err))
			return false
		}
		if _, err := w.Write(next); err != nil {
			c.log.Debug("write queued frame", zap.Error(err))
			return false
		}
	}

	if err := w.Close(); err != nil {
		c.log.Debug("flush writer", zap.Error(err))
		return false
	}
	return true
}

func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("close connection", zap.Error(err))
	}
}

// isExpectedCloseError reports errors that only mean the peer or the other
// pump already closed the socket.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe")
}

// SplitFrame splits a text message written by the relay back into the
// individual envelopes it batched together.
func SplitFrame(frame []byte) [][]byte {
	return bytes.Split(bytes.TrimSpace(frame), []byte{'\n'})
}
