// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, relay diagnostics, and the built-in test page.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatrelay/internal/relay"
)

// Handler serves the relay's HTTP endpoints.
type Handler struct {
	hub      *relay.Hub
	origins  *OriginPolicy
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler wires the handlers to hub.
func NewHandler(hub *relay.Hub, origins *OriginPolicy, log *zap.Logger) *Handler {
	return &Handler{
		hub:     hub,
		origins: origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
		log: log,
	}
}

// WebSocket upgrades the request and hands the connection to the hub, which
// then owns it until disconnect.
func (h *Handler) WebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the error response.
		h.log.Warn("websocket upgrade failed", zap.String("remote_addr", c.Request.RemoteAddr), zap.Error(err))
		return
	}

	client := relay.NewClient(conn, h.hub, c.Request.RemoteAddr)
	if !h.hub.Connect(client) {
		h.log.Warn("hub is shutting down; refusing connection", zap.String("remote_addr", c.Request.RemoteAddr))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}
	h.hub.Serve(client)
}

// Health responds with a plain text liveness message.
func (h *Handler) Health(c *gin.Context) {
	c.String(http.StatusOK, "chatrelay is running!")
}

type statsResponse struct {
	relay.Stats
	Room    string   `json:"room,omitempty"`
	Members []string `json:"members,omitempty"`
}

// Stats reports connection and room counts. With ?room=<id> it also lists the
// connection ids currently in that conversation room.
func (h *Handler) Stats(c *gin.Context) {
	resp := statsResponse{Stats: h.hub.Stats()}
	if room := c.Query("room"); room != "" {
		members := h.hub.Registry().MembersOf(relay.ConversationRoomOf(room))
		resp.Room = room
		resp.Members = lo.Map(members, func(m *relay.Client, _ int) string { return m.ID() })
	}
	c.JSON(http.StatusOK, resp)
}

// TestPage serves a minimal page that speaks the relay protocol.
func (h *Handler) TestPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(testPageHTML))
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>chatrelay test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        input[type="text"] { width: 160px; padding: 5px; margin-right: 6px; }
        button { padding: 5px 12px; margin-right: 4px; }
    </style>
</head>
<body>
    <h1>chatrelay test</h1>
    <div>
        <input type="text" id="user" placeholder="user id">
        <button onclick="connect()">Connect</button>
        <input type="text" id="room" placeholder="conversation id">
        <button onclick="emit('joinRoom', room.value)">Join</button>
        <button onclick="emit('leaveRoom', room.value)">Leave</button>
    </div>
    <div style="margin-top: 8px">
        <input type="text" id="members" placeholder="members, comma separated">
        <input type="text" id="content" placeholder="message">
        <button onclick="sendMessage()">Send</button>
    </div>
    <div id="log"></div>
    <script>
        let ws = null;
        let typingTimer = null;
        const log = document.getElementById('log');
        const user = document.getElementById('user');
        const room = document.getElementById('room');
        const members = document.getElementById('members');
        const content = document.getElementById('content');

        function addLine(text) {
            const line = document.createElement('div');
            line.textContent = text;
            log.appendChild(line);
            log.scrollTop = log.scrollHeight;
        }

        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({event: event, data: data}));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => emit('setup', {_id: user.value});
            ws.onmessage = (event) => event.data.split('\n').forEach(addLine);
            ws.onclose = () => { addLine('connection closed'); ws = null; };
        }

        function sendMessage() {
            clearTimeout(typingTimer);
            typingTimer = null;
            emit('typing stopped', room.value);
            const users = members.value.split(',').map(id => ({_id: id.trim()})).filter(u => u._id);
            emit('newMsg', {content: content.value, sender: {_id: user.value}, chat: {_id: room.value, users: users}});
            content.value = '';
        }

        content.addEventListener('input', () => {
            if (!typingTimer) {
                emit('typing', room.value);
            }
            clearTimeout(typingTimer);
            typingTimer = setTimeout(() => { typingTimer = null; emit('typing stopped', room.value); }, 3000);
        });
    </script>
</body>
</html>`
