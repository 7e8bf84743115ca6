package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/trafficai/pkg/models"
)

// ErrConversationNotFound marks a stale or unknown conversation reference.
// The lifecycle controller clears the persisted reference when it sees it.
var ErrConversationNotFound = errors.New("conversation not found")

// API is the HTTP surface the widget consumes, proxied through same-origin
// routes on the dashboard server.
type API interface {
	MessageLoader

	Conversation(ctx context.Context, id string) (*models.Conversation, error)
	// FindOpenConversation returns the most recently created open
	// conversation for an email (matched case-insensitively), or nil when
	// none exists.
	FindOpenConversation(ctx context.Context, email string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, name, email string) (*models.Conversation, error)
	CreateMessage(ctx context.Context, conversationID, body string, sender Identity) (*models.Message, error)
	UnreadCount(ctx context.Context, conversationID string, since time.Time) (int, error)
}

// Client is the HTTP implementation of API.
type Client struct {
	baseURL  string
	pixelKey string
	http     *http.Client
}

// NewClient creates a widget API client for the given dashboard origin.
// pixelKey identifies the embedding site's workspace and is sent with every
// request.
func NewClient(baseURL, pixelKey string) *Client {
	return &Client{
		baseURL:  baseURL,
		pixelKey: pixelKey,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.pixelKey != "" {
		req.Header.Set("X-Pixel-Key", c.pixelKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrConversationNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Conversation fetches a conversation by id.
func (c *Client) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/widget/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Messages fetches the non-private history for a conversation, ordered by
// creation time ascending.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	path := "/api/v1/widget/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// FindOpenConversation looks up an open conversation by customer email.
func (c *Client) FindOpenConversation(ctx context.Context, email string) (*models.Conversation, error) {
	var conv models.Conversation
	path := "/api/v1/widget/conversations/open?email=" + url.QueryEscape(email)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &conv)
	if errors.Is(err, ErrConversationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreateConversation opens a new support thread for an identified visitor.
func (c *Client) CreateConversation(ctx context.Context, name, email string) (*models.Conversation, error) {
	payload := map[string]string{
		"customer_name":  name,
		"customer_email": email,
	}
	var conv models.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/widget/conversations", payload, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreateMessage persists a customer message. The server may trigger
// automated-reply logic; that is opaque to the widget.
func (c *Client) CreateMessage(ctx context.Context, conversationID, body string, sender Identity) (*models.Message, error) {
	payload := map[string]string{
		"body":        body,
		"sender_name": sender.Name,
	}
	var msg models.Message
	path := "/api/v1/widget/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UnreadCount asks the server how many visible agent/bot messages arrived
// after since. Used when the conversation has not been loaded locally.
func (c *Client) UnreadCount(ctx context.Context, conversationID string, since time.Time) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	path := "/api/v1/widget/conversations/" + url.PathEscape(conversationID) +
		"/unread?since=" + url.QueryEscape(since.Format(time.RFC3339Nano))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}
