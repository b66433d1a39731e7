package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CreateMessageRequest is the body of POST /api/v1/message.
type CreateMessageRequest struct {
	Content    string `json:"content"`
	ChatID     string `json:"chatId"`
	ReplyingTo string `json:"replyingTo,omitempty"`
}

// MessageStore is the external message persistence API.
type MessageStore interface {
	// Create persists a message and returns it with chat.users populated.
	Create(ctx context.Context, req CreateMessageRequest) (json.RawMessage, error)
	// History returns the ordered messages of a conversation.
	History(ctx context.Context, chatID string) ([]json.RawMessage, error)
}

// HTTPMessageStore talks to the message API over HTTP with a bearer token.
type HTTPMessageStore struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPMessageStore returns a store rooted at baseURL, for example
// "http://localhost:5000". A nil client uses one with a 10s timeout.
func NewHTTPMessageStore(baseURL, token string, client *http.Client) *HTTPMessageStore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPMessageStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// Create implements MessageStore.
func (s *HTTPMessageStore) Create(ctx context.Context, req CreateMessageRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	var msg json.RawMessage
	if err := s.do(ctx, http.MethodPost, s.baseURL+"/api/v1/message", bytes.NewReader(body), &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// History implements MessageStore.
func (s *HTTPMessageStore) History(ctx context.Context, chatID string) ([]json.RawMessage, error) {
	var msgs []json.RawMessage
	endpoint := s.baseURL + "/api/v1/message/" + url.PathEscape(chatID)
	if err := s.do(ctx, http.MethodGet, endpoint, http.NoBody, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *HTTPMessageStore) do(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, endpoint, err)
	}
	return nil
}
