package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestOriginPolicy_Allowed(t *testing.T) {
	policy := NewOriginPolicy([]string{"http://localhost:8080", "https://Chat.Example.com"}, nil)

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "exact match", origin: "http://localhost:8080", want: true},
		{name: "case insensitive", origin: "HTTPS://chat.example.COM", want: true},
		{name: "path is ignored", origin: "http://localhost:8080/chat", want: true},
		{name: "missing header", origin: "", want: false},
		{name: "different port", origin: "http://localhost:9090", want: false},
		{name: "different scheme", origin: "https://localhost:8080", want: false},
		{name: "subdomain", origin: "https://evil.chat.example.com", want: false},
		{name: "no scheme", origin: "localhost:8080", want: false},
		{name: "not a url", origin: "not-a-url", want: false},
		{name: "scheme only", origin: "http://", want: false},
		{name: "null origin", origin: "null", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			require.Equal(t, tt.want, policy.Allowed(r))
		})
	}
}

func TestOriginPolicy_Wildcard(t *testing.T) {
	req := require.New(t)
	policy := NewOriginPolicy([]string{"*"}, nil)

	withOrigin := httptest.NewRequest("GET", "/ws", nil)
	withOrigin.Header.Set("Origin", "https://anything.example")
	withoutOrigin := httptest.NewRequest("GET", "/ws", nil)

	req.True(policy.AllowAll())
	req.True(policy.Allowed(withOrigin))
	req.False(policy.Allowed(withoutOrigin))
	req.Empty(policy.HTTPOrigins())
}

func TestOriginPolicy_NormalizesAndDedupes(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	policy := NewOriginPolicy([]string{
		" http://LOCALHOST:8080 ",
		"http://localhost:8080/",
		"",
		"garbage",
		"ws://localhost:9000",
		"https://chat.example.com",
	}, zap.New(core))

	require.False(t, policy.AllowAll())
	require.Equal(t, []string{"http://localhost:8080", "https://chat.example.com"}, policy.HTTPOrigins())
	require.Equal(t, 1, logs.FilterMessage("ignoring invalid origin in configuration").Len())
}

func TestOriginPolicy_CheckOriginLogsRejection(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	policy := NewOriginPolicy([]string{"http://localhost:8080"}, zap.New(core))

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://evil.example")

	require.False(t, policy.CheckOrigin(r))
	entries := logs.FilterMessage("blocked websocket connection from disallowed origin").All()
	require.Len(t, entries, 1)
	require.Equal(t, "http://evil.example", entries[0].ContextMap()["origin"])
}

func TestCorsMiddleware(t *testing.T) {
	require.Nil(t, corsMiddleware(NewOriginPolicy(nil, nil)))
	require.Nil(t, corsMiddleware(NewOriginPolicy([]string{"ws://localhost:9000"}, nil)))
	require.NotNil(t, corsMiddleware(NewOriginPolicy([]string{"*"}, nil)))
	require.NotNil(t, corsMiddleware(NewOriginPolicy([]string{"http://localhost:8080"}, nil)))
}
