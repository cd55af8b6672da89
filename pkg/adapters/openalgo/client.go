// Package openalgo is a small client for the OpenAlgo REST API (v1).
//
// Every operation is a POST of a flat JSON object to /api/v1/<op> with the API
// key injected; the response is a JSON object whose "status" field is either
// "success" or "error".
package openalgo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aretw0/tradedesk/pkg/domain"
	"github.com/aretw0/tradedesk/pkg/ports"
)

// Operations understood by the OpenAlgo API.
const (
	OpPlaceOrder      = "placeorder"
	OpPlaceSmartOrder = "placesmartorder"
	OpBasketOrder     = "basketorder"
	OpSplitOrder      = "splitorder"
	OpModifyOrder     = "modifyorder"
	OpCancelOrder     = "cancelorder"
	OpCancelAllOrder  = "cancelallorder"
	OpClosePosition   = "closeposition"
	OpOrderStatus     = "orderstatus"
	OpOpenPosition    = "openposition"
	OpOrderBook       = "orderbook"
	OpTradeBook       = "tradebook"
	OpPositionBook    = "positionbook"
	OpHoldings        = "holdings"
	OpFunds           = "funds"
	OpQuotes          = "quotes"
	OpDepth           = "depth"
	OpHistory         = "history"
	OpIntervals       = "intervals"
	OpSymbol          = "symbol"
	OpTicker          = "ticker"
)

// maxErrorBody bounds how much of a non-JSON error body ends up in messages.
const maxErrorBody = 512

// Client implements ports.Broker over HTTP.
type Client struct {
	apiKey  string
	host    string
	http    *http.Client
	timeout time.Duration
}

var _ ports.Broker = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout. A client supplied through
// WithHTTPClient is copied rather than modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New creates a client for the API at host (e.g. http://127.0.0.1:5000).
func New(apiKey, host string, opts ...Option) *Client {
	c := &Client{
		apiKey: apiKey,
		host:   strings.TrimRight(host, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 && c.http.Timeout != c.timeout {
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}
	return c
}

// Host returns the API base URL.
func (c *Client) Host() string {
	return c.host
}

// Do posts params to the op endpoint and returns the decoded response.
// A transport failure, a non-2xx status or a "status":"error" body yields an
// error wrapping domain.ErrBroker for the latter two.
func (c *Client) Do(ctx context.Context, op string, params ports.Params) (map[string]any, error) {
	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body["apikey"] = c.apiKey

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	url := c.host + "/api/v1/" + op
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: %s returned HTTP %d: %s", domain.ErrBroker, op, resp.StatusCode, truncate(string(raw)))
		}
		return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
	}

	if status, _ := out["status"].(string); status == "error" || resp.StatusCode >= 300 {
		msg, _ := out["message"].(string)
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return out, fmt.Errorf("%w: %s", domain.ErrBroker, msg)
	}

	return out, nil
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	return s
}
