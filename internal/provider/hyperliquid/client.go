// Package hyperliquid adapts the Hyperliquid perp API: a single POST
// /info endpoint for snapshots and candles, and a websocket that pushes
// mid prices for the whole universe on one channel.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	DefaultBaseURL   = "https://api.hyperliquid.xyz"
	DefaultStreamURL = "wss://api.hyperliquid.xyz/ws"

	providerName = "hyperliquid"
)

// Client talks to the Hyperliquid info and stream APIs.
type Client struct {
	BaseURL   string
	StreamURL string
	HTTP      *http.Client
}

// New creates a Client; empty URLs take the production defaults.
func New(baseURL, streamURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if streamURL == "" {
		streamURL = DefaultStreamURL
	}
	return &Client{
		BaseURL:   baseURL,
		StreamURL: streamURL,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 15 * time.Second}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
	}
}

// Name returns the provider name used to scope instrument ids.
func (c *Client) Name() string { return providerName }

// postInfo POSTs a request body to /info and decodes the response.
func (c *Client) postInfo(ctx context.Context, body interface{}, target interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/info", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http POST failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// scopedID builds the provider-scoped id for a coin name.
func scopedID(coin string) string {
	return providerName + ":" + coin
}
