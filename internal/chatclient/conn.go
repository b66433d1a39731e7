// Package chatclient is a Go client for the relay protocol. It mirrors what
// the browser client does: set up an identity, join the open conversation,
// debounce typing signals, and announce messages only after the message API
// has persisted them.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatrelay/internal/relay"
)

var (
	// ErrClosed is returned when using a connection after it closed.
	ErrClosed = errors.New("relay connection closed")
	// ErrPersistFailed is returned by Sender when the message API rejected the
	// message. Nothing is announced on the relay in that case.
	ErrPersistFailed = errors.New("message was not persisted")
)

const writeWait = 10 * time.Second

// Conn is a live relay connection.
type Conn struct {
	ws  *websocket.Conn
	log *zap.Logger

	writeMu sync.Mutex

	events        chan relay.Envelope
	connected     chan struct{}
	connectedOnce sync.Once
	done          chan struct{}
	closeOnce     sync.Once
}

// Dial opens a relay connection. header should carry an Origin the relay
// allows.
func Dial(ctx context.Context, url string, header http.Header, log *zap.Logger) (*Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}

	c := &Conn{
		ws:        ws,
		log:       log,
		events:    make(chan relay.Envelope, 64),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers every envelope received from the relay, including
// connected. It is closed when the connection ends. Callers must keep
// draining it.
func (c *Conn) Events() <-chan relay.Envelope {
	return c.events
}

// Done is closed once the connection has ended.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) readLoop() {
	defer func() {
		close(c.events)
		c.shutdown()
	}()

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("relay read ended", zap.Error(err))
			}
			return
		}

		for _, part := range relay.SplitFrame(frame) {
			var env relay.Envelope
			if err := json.Unmarshal(part, &env); err != nil {
				c.log.Warn("invalid frame from relay", zap.Error(err))
				continue
			}
			if env.Event == relay.EventConnected {
				c.connectedOnce.Do(func() { close(c.connected) })
			}
			select {
			case c.events <- env:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Conn) emit(event string, data any) error {
	env, err := relay.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %q: %w", event, err)
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("emit %q: %w", event, err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("emit %q: %w", event, err)
	}
	return nil
}

// Setup announces the user record and waits for the relay's connected
// acknowledgment. user must marshal to an object with an "_id" field.
func (c *Conn) Setup(ctx context.Context, user any) error {
	if err := c.emit(relay.EventSetup, user); err != nil {
		return err
	}
	select {
	case <-c.connected:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("wait for connected: %w", ctx.Err())
	}
}

// JoinRoom joins a conversation room.
func (c *Conn) JoinRoom(chatID string) error {
	return c.emit(relay.EventJoinRoom, chatID)
}

// LeaveRoom leaves a conversation room.
func (c *Conn) LeaveRoom(chatID string) error {
	return c.emit(relay.EventLeaveRoom, chatID)
}

// Typing tells the other members of chatID that this user is typing.
func (c *Conn) Typing(chatID string) error {
	return c.emit(relay.EventTyping, chatID)
}

// StopTyping tells the other members of chatID that typing stopped.
func (c *Conn) StopTyping(chatID string) error {
	return c.emit(relay.EventTypingStopped, chatID)
}

// Announce relays an already persisted message to the other members.
func (c *Conn) Announce(message json.RawMessage) error {
	return c.emit(relay.EventNewMessage, message)
}

// Close sends a close frame and tears the connection down.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	c.shutdown()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("close relay connection: %w", err)
	}
	return nil
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
