// Package asterdex adapts the Aster DEX perp API (Binance-futures wire
// shape): REST bulk ticker + klines, and a combined websocket stream
// with explicit SUBSCRIBE frames.
package asterdex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the REST endpoint root.
	DefaultBaseURL = "https://fapi.asterdex.com/fapi/v1"
	// DefaultStreamURL is the combined-stream websocket endpoint.
	DefaultStreamURL = "wss://fstream.asterdex.com/stream"

	providerName = "asterdex"
)

// Client talks to the Aster DEX REST and stream APIs.
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

func (c *Client) buildURL(endpoint string, params map[string]string) string {
	u, err := url.Parse(c.BaseURL + endpoint)
	if err != nil {
		panic(fmt.Sprintf("invalid base URL or endpoint: %v", err))
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// fetchJSON GETs fullURL and decodes the body with UseNumber so price
// strings survive without float rounding surprises.
func (c *Client) fetchJSON(ctx context.Context, fullURL string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http GET failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(target)
}

func numToFloat(n json.Number) (float64, error) {
	return strconv.ParseFloat(n.String(), 64)
}

// symbolFromID strips the provider scope: "asterdex:BTCUSDT" → "BTCUSDT".
func symbolFromID(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// scopedID builds the provider-scoped id for a raw symbol.
func scopedID(symbol string) string {
	return providerName + ":" + symbol
}
