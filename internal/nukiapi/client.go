package nukiapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// TokenSource supplies a valid bearer token for outbound calls. The
// session manager implements it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StatusError carries the HTTP status of a failed upstream call so
// callers can distinguish conflicts and transient failures.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Body)
}

// Smartlock is one device from the upstream listing.
type Smartlock struct {
	SmartlockID json.Number `json:"smartlockId"`
	Name        string      `json:"name"`
	Type        json.Number `json:"type"`
}

// Auth is one authorization (user, keypad code, fingerprint) known
// upstream; the name feeds the actor map.
type Auth struct {
	AuthID json.Number `json:"authId"`
	Name   string      `json:"name"`
}

// Webhook is an upstream-side webhook configuration.
type Webhook struct {
	ID         json.Number `json:"id"`
	URL        string      `json:"url"`
	EventTypes []string    `json:"eventTypes"`
}

// Client is a bearer-authenticated JSON client for the platform web API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	logger     *slog.Logger
}

func NewClient(baseURL string, tokens TokenSource, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		logger:  logger,
	}
}

// ListSmartlocks fetches the account's devices.
func (c *Client) ListSmartlocks(ctx context.Context) ([]Smartlock, error) {
	var locks []Smartlock
	if err := c.request(ctx, http.MethodGet, "/smartlock", nil, &locks); err != nil {
		return nil, fmt.Errorf("listing smartlocks: %w", err)
	}
	return locks, nil
}

// ListAuths fetches all authorizations for the account, used to map auth
// ids to display names.
func (c *Client) ListAuths(ctx context.Context) ([]Auth, error) {
	var auths []Auth
	if err := c.request(ctx, http.MethodGet, "/smartlock/auth", nil, &auths); err != nil {
		return nil, fmt.Errorf("listing auths: %w", err)
	}
	return auths, nil
}

// ListWebhooks returns the webhooks configured upstream.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var hooks []Webhook
	if err := c.request(ctx, http.MethodGet, "/api/decentralWebhook", nil, &hooks); err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	return hooks, nil
}

// CreateWebhook registers a new webhook upstream.
func (c *Client) CreateWebhook(ctx context.Context, targetURL string, eventTypes []string) (*Webhook, error) {
	body := map[string]any{
		"webhookUrl":      targetURL,
		"webhookFeatures": eventTypes,
	}
	var hook Webhook
	if err := c.request(ctx, http.MethodPut, "/api/decentralWebhook", body, &hook); err != nil {
		return nil, fmt.Errorf("creating webhook: %w", err)
	}
	// Some deployments answer 204 with an empty body; re-list to get ids.
	if hook.ID.String() == "" {
		hooks, err := c.ListWebhooks(ctx)
		if err != nil {
			return nil, err
		}
		for i := range hooks {
			if hooks[i].URL == targetURL {
				return &hooks[i], nil
			}
		}
		return nil, fmt.Errorf("webhook created but not found in listing")
	}
	return &hook, nil
}

// UpdateWebhook replaces the event types of an existing webhook.
func (c *Client) UpdateWebhook(ctx context.Context, id, targetURL string, eventTypes []string) error {
	body := map[string]any{
		"webhookUrl":      targetURL,
		"webhookFeatures": eventTypes,
	}
	if err := c.request(ctx, http.MethodPost, "/api/decentralWebhook/"+id, body, nil); err != nil {
		return fmt.Errorf("updating webhook %s: %w", id, err)
	}
	return nil
}

// DeleteWebhook removes a webhook registration upstream.
func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	if err := c.request(ctx, http.MethodDelete, "/api/decentralWebhook/"+id, nil, nil); err != nil {
		return fmt.Errorf("deleting webhook %s: %w", id, err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("getting bearer token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		c.logger.Debug("upstream call failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
		)
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
