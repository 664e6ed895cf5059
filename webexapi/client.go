// Package webexapi contains minimal helpers to interact with Webex REST APIs
// for people, memberships, webhooks, and messages, plus the OAuth token
// endpoint used to act on behalf of authorizing users.
package webexapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
)

// Client is the shared Webex API client. It carries exactly one active
// credential at a time; every call made "as" a specific user must go through
// the credential broker, which swaps the token inside its critical section.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	mu    sync.Mutex
	token string
}

// NewClient returns a client rooted at baseURL with an initial token
// (typically the bot's own).
func NewClient(baseURL, token string) *Client {
	return &Client{BaseURL: baseURL, token: token}
}

// SetToken swaps the active credential.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the active credential.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// APIError reports a non-2xx response from the Webex API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("webex api: status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Person is a Webex user identity.
type Person struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Emails      []string `json:"emails,omitempty"`
}

// Membership ties a person to a room.
type Membership struct {
	ID       string `json:"id"`
	RoomID   string `json:"roomId"`
	PersonID string `json:"personId"`
}

// Webhook is a registered subscription pushing event notifications to a target URL.
type Webhook struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	TargetURL string `json:"targetUrl"`
	Resource  string `json:"resource"`
	Event     string `json:"event"`
	Secret    string `json:"secret"`
}

// WebhookRequest is the creation payload for a webhook subscription.
type WebhookRequest struct {
	Name      string `json:"name"`
	TargetURL string `json:"targetUrl"`
	Resource  string `json:"resource"`
	Event     string `json:"event"`
	Secret    string `json:"secret"`
}

// Message is an outbound room message.
type Message struct {
	RoomID   string `json:"roomId"`
	Text     string `json:"text,omitempty"`
	Markdown string `json:"markdown,omitempty"`
}

// Room is a chat space.
type Room struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// MessageDetail is a stored room message, fetched by id.
type MessageDetail struct {
	ID       string `json:"id"`
	RoomID   string `json:"roomId"`
	PersonID string `json:"personId"`
	Text     string `json:"text"`
}

// Me returns the identity behind the active credential.
func (c *Client) Me(ctx context.Context) (*Person, error) {
	var p Person
	if err := c.do(ctx, http.MethodGet, "/people/me", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPerson fetches a person by id.
func (c *Client) GetPerson(ctx context.Context, personID string) (*Person, error) {
	if personID == "" {
		return nil, fmt.Errorf("personID empty")
	}
	var p Person
	if err := c.do(ctx, http.MethodGet, "/people/"+url.PathEscape(personID), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetRoom fetches a room by id.
func (c *Client) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	if roomID == "" {
		return nil, fmt.Errorf("roomID empty")
	}
	var room Room
	if err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID), nil, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// GetMessage fetches a message by id.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*MessageDetail, error) {
	if messageID == "" {
		return nil, fmt.Errorf("messageID empty")
	}
	var msg MessageDetail
	if err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(messageID), nil, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMemberships lists the members of a room.
func (c *Client) ListMemberships(ctx context.Context, roomID string) ([]Membership, error) {
	if roomID == "" {
		return nil, fmt.Errorf("roomID empty")
	}
	q := url.Values{}
	q.Set("roomId", roomID)
	var body struct {
		Items []Membership `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/memberships", q, nil, &body); err != nil {
		return nil, err
	}
	return body.Items, nil
}

// ListWebhooks lists webhooks registered for the active credential.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var body struct {
		Items []Webhook `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/webhooks", nil, nil, &body); err != nil {
		return nil, err
	}
	return body.Items, nil
}

// CreateWebhook registers a new webhook subscription.
func (c *Client) CreateWebhook(ctx context.Context, req WebhookRequest) (*Webhook, error) {
	var wh Webhook
	if err := c.do(ctx, http.MethodPost, "/webhooks", nil, req, &wh); err != nil {
		return nil, err
	}
	return &wh, nil
}

// DeleteWebhook removes a webhook subscription by id.
func (c *Client) DeleteWebhook(ctx context.Context, webhookID string) error {
	if webhookID == "" {
		return fmt.Errorf("webhookID empty")
	}
	return c.do(ctx, http.MethodDelete, "/webhooks/"+url.PathEscape(webhookID), nil, nil, nil)
}

// SendMessage posts a message to a room as the active credential.
func (c *Client) SendMessage(ctx context.Context, msg Message) error {
	if msg.RoomID == "" {
		return fmt.Errorf("roomID empty")
	}
	return c.do(ctx, http.MethodPost, "/messages", nil, msg, nil)
}
