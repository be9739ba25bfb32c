package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client wraps the HTTP side of a feed gateway: a health probe before the
// websocket is dialed, so connect failures surface as readable errors
// instead of dial timeouts.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	httpc := &http.Client{Timeout: 15 * time.Second}
	return &Client{
		baseURL: baseURL,
		httpc:   httpc,
		logger:  logger,
	}
}

func (c *Client) url(p string) string {
	return fmt.Sprintf("%s%s", c.baseURL, p)
}

// Connect probes the gateway health endpoint. A gateway that answers but
// reports itself unhealthy is as unusable as one that is unreachable.
func (c *Client) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/healthz"), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("gateway status %d", resp.StatusCode)
	}

	var v map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		// Plain 200 with a non-JSON body still counts as healthy.
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		return fmt.Errorf("decode health status: %w", err)
	}
	if ok, present := v["ok"].(bool); present && !ok {
		return errors.New("gateway reports unhealthy")
	}
	return nil
}

// WSURL converts the gateway base URL into the websocket endpoint.
func (c *Client) WSURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/v1/orders/ws"
	return u.String(), nil
}

func (c *Client) HTTPClient() *http.Client { return c.httpc }
func (c *Client) BaseURL() string          { return c.baseURL }
