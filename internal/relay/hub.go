// Package relay runs the hub: a single dispatch loop that owns the client set,
// routes inbound events to their handlers, and shuts connections down.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Options configures a Hub and the clients it creates.
type Options struct {
	Logger            *zap.Logger
	SendBufferSize    int
	MaxMessageSize    int64
	RateLimitBurst    int
	RateLimitInterval time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	// EchoSenderDevices also delivers a relayed message to the sender's other
	// connections. The originating connection never receives its own message.
	EchoSenderDevices bool
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	if o.RateLimitBurst <= 0 {
		o.RateLimitBurst = 20
	}
	if o.RateLimitInterval <= 0 {
		o.RateLimitInterval = time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

type opKind uint8

const (
	opConnect opKind = iota + 1
	opEvent
	opDisconnect
)

type inbound struct {
	kind   opKind
	client *Client
	env    Envelope
}

type eventHandler func(c *Client, data json.RawMessage) error

// Stats is a point-in-time view of the hub used for diagnostics.
type Stats struct {
	Connections       int `json:"connections"`
	IdentityRooms     int `json:"identity_rooms"`
	ConversationRooms int `json:"conversation_rooms"`
}

// Hub owns the room registry and serializes every event through Run.
type Hub struct {
	opts     Options
	log      *zap.Logger
	registry *Registry
	decode   payloadDecoder
	handlers map[string]eventHandler

	// clients is only touched by the Run goroutine.
	clients     map[*Client]struct{}
	connections atomic.Int64

	inbound chan inbound
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// stopping is set by Run under stateMu once shutdown begins. enqueue and
	// Serve hold the read lock, so nothing is queued or started after it.
	stateMu  sync.RWMutex
	stopping bool
}

// NewHub creates a hub. Call Run in its own goroutine before serving clients.
func NewHub(opts Options) *Hub {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		opts:     opts,
		log:      opts.Logger,
		registry: NewRegistry(),
		decode:   newPayloadDecoder(),
		clients:  make(map[*Client]struct{}),
		inbound:  make(chan inbound, 1024),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	h.handlers = map[string]eventHandler{
		EventSetup:         h.handleSetup,
		EventJoinRoom:      h.handleJoinRoom,
		EventLeaveRoom:     h.handleLeaveRoom,
		EventNewMessage:    h.handleNewMessage,
		EventTyping:        h.handleTyping,
		EventTypingStopped: h.handleTypingStopped,
	}
	return h
}

// Registry exposes the room registry for diagnostics.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Stats returns connection and room counts.
func (h *Hub) Stats() Stats {
	return Stats{
		Connections:       int(h.connections.Load()),
		IdentityRooms:     h.registry.RoomCount(IdentityRoom),
		ConversationRooms: h.registry.RoomCount(ConversationRoom),
	}
}

// Connect registers c with the hub in the unauthenticated state.
func (h *Hub) Connect(c *Client) bool {
	return h.enqueue(inbound{kind: opConnect, client: c})
}

// Dispatch queues an inbound event from c. Events from one client are handled
// in the order they were dispatched.
func (h *Hub) Dispatch(c *Client, env Envelope) bool {
	return h.enqueue(inbound{kind: opEvent, client: c, env: env})
}

// Disconnect queues the teardown of c. It is safe to call more than once.
func (h *Hub) Disconnect(c *Client) bool {
	return h.enqueue(inbound{kind: opDisconnect, client: c})
}

func (h *Hub) enqueue(in inbound) bool {
	if in.client == nil || h.ctx.Err() != nil {
		return false
	}
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	if h.stopping {
		return false
	}
	select {
	case h.inbound <- in:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Serve starts the socket pumps of a connected client. The hub waits for them
// on Shutdown.
func (h *Hub) Serve(c *Client) {
	if c.conn == nil {
		return
	}
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	if h.stopping {
		// Shutdown already closed the connection.
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

// Run is the dispatch loop. It returns once the hub is shut down.
func (h *Hub) Run() {
	defer close(h.done)

	h.log.Info("hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.stop()
			return
		case in := <-h.inbound:
			h.process(in)
		}
	}
}

// stop refuses further work, settles whatever was queued before that point
// and closes every client.
func (h *Hub) stop() {
	h.stateMu.Lock()
	h.stopping = true
	h.stateMu.Unlock()

	for {
		select {
		case in := <-h.inbound:
			switch in.kind {
			case opConnect:
				h.handleConnect(in.client)
			case opDisconnect:
				h.handleDisconnect(in.client)
			}
		default:
			h.shutdownClients()
			return
		}
	}
}

func (h *Hub) process(in inbound) {
	switch in.kind {
	case opConnect:
		h.handleConnect(in.client)
	case opDisconnect:
		h.handleDisconnect(in.client)
	case opEvent:
		if err := h.handleEvent(in.client, in.env); err != nil {
			in.client.log.Warn("event dropped",
				zap.String("event", in.env.Event),
				zap.String("user_id", in.client.userID),
				zap.Error(err))
		}
	}
}

func (h *Hub) handleEvent(c *Client, env Envelope) error {
	if _, ok := h.clients[c]; !ok {
		// Frames read before the disconnect was processed.
		return nil
	}
	handler, ok := h.handlers[env.Event]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	return handler(c, env.Data)
}

// deliver enqueues frame for c without blocking. A client whose buffer is full
// is treated as a slow consumer and disconnected.
func (h *Hub) deliver(c *Client, frame []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("send buffer full; dropping slow connection", zap.Int("buffer", cap(c.send)))
		h.handleDisconnect(c)
		return false
	}
}

// broadcast delivers frame to every member of room except skip and returns the
// number of connections that accepted it.
func (h *Hub) broadcast(room RoomKey, frame []byte, skip *Client) int {
	delivered := 0
	for _, target := range h.registry.MembersOf(room) {
		if target == skip {
			continue
		}
		if h.deliver(target, frame) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) shutdownClients() {
	h.log.Info("closing client connections", zap.Int("clients", len(h.clients)))

	for c := range h.clients {
		h.registry.LeaveAll(c)
		c.closed = true
		close(c.send)
		c.closeConn()
	}
	clear(h.clients)
	h.connections.Store(0)
}

// Shutdown stops Run, closes every connection and waits for the client pumps,
// up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("hub shutting down")
	h.cancel()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case <-h.done:
	case <-deadline.C:
		h.log.Warn("hub shutdown timed out; dispatch loop is not running")
		return context.DeadlineExceeded
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info("hub shutdown complete")
		return nil
	case <-deadline.C:
		h.log.Warn("hub shutdown timed out; some pumps are still running")
		return context.DeadlineExceeded
	}
}
