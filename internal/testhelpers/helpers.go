// Package testhelpers provides utilities shared by the relay's HTTP and
// websocket tests: a running relay behind httptest, dialing helpers, and
// event assertions.
package testhelpers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/chatrelay/internal/chatclient"
	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/Tyrowin/chatrelay/internal/server"
)

// TestOrigin is the origin test configurations allow.
const TestOrigin = "http://localhost:8080"

// TestConfig returns a configuration suited to tests.
func TestConfig() server.Config {
	cfg := *server.NewConfig()
	cfg.AllowedOrigins = []string{TestOrigin}
	cfg.RateLimit.Burst = 100
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// StartRelay runs a relay built from cfg behind an httptest server. Both are
// stopped when the test ends.
func StartRelay(t *testing.T, cfg server.Config) (*httptest.Server, *server.App) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	app := server.NewApp(cfg, zaptest.NewLogger(t))
	go app.Hub.Run()

	srv := httptest.NewServer(app.HTTP.Handler)
	t.Cleanup(func() {
		srv.Close()
		_ = app.Hub.Shutdown(cfg.ShutdownTimeout)
	})
	return srv, app
}

// WebSocketURL converts an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// OriginHeader returns a header carrying origin.
func OriginHeader(origin string) http.Header {
	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	return h
}

// ConnectWebSocket opens a raw websocket connection with the given origin and
// returns the handshake status code.
func ConnectWebSocket(url, origin string) (*websocket.Conn, int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, OriginHeader(origin))
	status := 0
	if resp != nil {
		status = resp.StatusCode
		_ = resp.Body.Close()
	}
	return conn, status, err
}

// Dial opens a chatclient connection and closes it when the test ends.
func Dial(t *testing.T, wsURL string) *chatclient.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The read loop may outlive the test, so it must not log through t.
	conn, err := chatclient.Dial(ctx, wsURL, OriginHeader(TestOrigin), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialUser dials and completes setup for userID.
func DialUser(t *testing.T, wsURL, userID string) *chatclient.Conn {
	t.Helper()
	conn := Dial(t, wsURL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Setup(ctx, map[string]string{"_id": userID, "name": userID}))
	ExpectEvent(t, conn, relay.EventConnected, time.Second)
	return conn
}

// ExpectEvent waits for the next envelope and requires it to be event.
func ExpectEvent(t *testing.T, conn *chatclient.Conn, event string, timeout time.Duration) relay.Envelope {
	t.Helper()
	select {
	case env, ok := <-conn.Events():
		require.True(t, ok, "connection closed while waiting for %q", event)
		require.Equal(t, event, env.Event)
		return env
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for %q", event)
		return relay.Envelope{}
	}
}

// ExpectNoEvent requires that nothing arrives within wait.
func ExpectNoEvent(t *testing.T, conn *chatclient.Conn, wait time.Duration) {
	t.Helper()
	select {
	case env, ok := <-conn.Events():
		if ok {
			t.Fatalf("unexpected event %q: %s", env.Event, string(env.Data))
		}
	case <-time.After(wait):
	}
}

// Barrier round-trips a setup on conn so every event conn sent before it has
// been processed by the hub.
func Barrier(t *testing.T, conn *chatclient.Conn, userID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Setup(ctx, map[string]string{"_id": userID}))
	ExpectEvent(t, conn, relay.EventConnected, time.Second)
}

// MakeRequest performs an HTTP request with a 5 second timeout.
func MakeRequest(t *testing.T, method, url string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
