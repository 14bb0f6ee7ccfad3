// Package gateway is the thin REST client for the authoritative order
// source: list, create, cancel, and sync-trigger. Reconciliation machinery
// swallows its list errors; user-initiated calls propagate them typed.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/orderdeck/orderdeck/order"
)

// TokenProvider supplies the bearer token for outgoing requests. Empty
// means "send unauthenticated" and is the session layer's call.
type TokenProvider func() string

// ListParams filter the order listing.
type ListParams struct {
	Page           int
	PageSize       int
	Symbol         string
	Status         []string
	Strategy       string
	Source         string
	Account        string
	Start          string
	End            string
	IncludeDeleted bool
	RuleID         string
}

// OrderPage is one page of raw order records plus paging metadata. Items
// stay unnormalized; callers run them through the order package so pushed
// and polled snapshots share one normalization path.
type OrderPage struct {
	Items      []map[string]any `json:"items"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	HasNext    bool             `json:"has_next"`
	ReceivedAt string           `json:"received_at"`
}

// CreateOrderRequest is the outbound order placement payload.
type CreateOrderRequest struct {
	Symbol      string   `json:"symbol"`
	Side        string   `json:"side"`
	Quantity    float64  `json:"quantity"`
	Type        string   `json:"type"`
	OrderType   string   `json:"order_type,omitempty"`
	SecType     string   `json:"sec_type,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	LimitPrice  *float64 `json:"limit_price,omitempty"`
	StopPrice   *float64 `json:"stop_price,omitempty"`
	TimeInForce string   `json:"time_in_force,omitempty"`
	Destination string   `json:"destination,omitempty"`
	Transmit    *bool    `json:"transmit,omitempty"`
	Tag         string   `json:"tag,omitempty"`
	Comment     string   `json:"comment,omitempty"`
}

// WireSide maps a canonical side onto the gateway's BUY/SELL spelling.
func WireSide(s order.Side) string {
	if s == order.SideSell {
		return "SELL"
	}
	return "BUY"
}

// WireType maps a canonical order type onto the gateway's MKT/LMT/STP
// spelling.
func WireType(t order.Type) string {
	switch t {
	case order.TypeMarket:
		return "MKT"
	case order.TypeStop:
		return "STP"
	default:
		return "LMT"
	}
}

// SyncJob is the acknowledgement of a sync trigger. Every field is optional
// on the wire; the client fills the documented defaults.
type SyncJob struct {
	Accepted   bool   `json:"accepted"`
	JobID      string `json:"job_id"`
	Started    bool   `json:"started"`
	Status     string `json:"status"`
	ReceivedAt string `json:"received_at"`
}

// Client talks to the order gateway. Calls are paced by a minimum spacing so
// a poll storm cannot burst into upstream rate limits.
type Client struct {
	baseURL string
	httpc   *http.Client
	tokens  TokenProvider
	logger  *slog.Logger

	mu          sync.Mutex
	nextAllowed time.Time
	minSpacing  time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

// WithTokenProvider attaches the session token source.
func WithTokenProvider(p TokenProvider) ClientOption {
	return func(c *Client) {
		if p != nil {
			c.tokens = p
		}
	}
}

// WithRequestSpacing sets the minimum gap between outgoing requests. Zero
// disables pacing.
func WithRequestSpacing(d time.Duration) ClientOption {
	return func(c *Client) {
		c.minSpacing = d
	}
}

// WithLogger overrides the diagnostics logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a gateway client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpc:       &http.Client{Timeout: 30 * time.Second},
		tokens:      func() string { return "" },
		logger:      slog.Default().WithGroup("gateway"),
		minSpacing:  200 * time.Millisecond,
		nextAllowed: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// waitTurn enforces the global pacing for all gateway calls by spacing them
// minSpacing apart.
func (c *Client) waitTurn(ctx context.Context) error {
	if c.minSpacing <= 0 {
		return nil
	}
	for {
		c.mu.Lock()
		wait := time.Until(c.nextAllowed)
		if wait <= 0 {
			c.nextAllowed = time.Now().Add(c.minSpacing)
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ListOrders fetches one page of raw order records.
func (c *Client) ListOrders(ctx context.Context, params ListParams) (*OrderPage, error) {
	var page OrderPage
	if err := c.do(ctx, http.MethodGet, "/orders?"+params.query(), nil, &page); err != nil {
		return nil, err
	}
	if page.ReceivedAt == "" {
		page.ReceivedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return &page, nil
}

func (p ListParams) query() string {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(p.PageSize))
	}
	if p.Symbol != "" {
		q.Set("symbol", p.Symbol)
	}
	for _, status := range p.Status {
		q.Add("status[]", status)
	}
	if p.Strategy != "" {
		q.Set("strategy", p.Strategy)
	}
	if p.Source != "" {
		q.Set("source", p.Source)
	}
	if p.Account != "" {
		q.Set("account", p.Account)
	}
	if p.Start != "" {
		q.Set("start", p.Start)
	}
	if p.End != "" {
		q.Set("end", p.End)
	}
	if p.IncludeDeleted {
		q.Set("include_deleted", "true")
	}
	if p.RuleID != "" {
		q.Set("rule_id", p.RuleID)
	}
	return q.Encode()
}

// CreateOrder places a new order and returns the canonical result.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*order.Order, error) {
	return c.doOrder(ctx, http.MethodPost, "/orders", req)
}

// CancelOrder cancels one order. Numeric ids go through the REST path,
// anything else through the cancel body endpoint as a client order id.
func (c *Client) CancelOrder(ctx context.Context, id, reason string) (*order.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("gateway: cancel requires an order id")
	}
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		path := "/orders/" + url.PathEscape(id)
		if reason != "" {
			path += "?reason=" + url.QueryEscape(reason)
		}
		return c.doOrder(ctx, http.MethodDelete, path, nil)
	}
	body := map[string]string{"client_order_id": id}
	if reason != "" {
		body["reason"] = reason
	}
	return c.doOrder(ctx, http.MethodPost, "/orders/cancel", body)
}

// CancelAll cancels every open order. The response shape is
// implementation-defined, so it passes through undecoded.
func (c *Client) CancelAll(ctx context.Context, reason string) (map[string]any, error) {
	body := map[string]string{}
	if reason != "" {
		body["reason"] = reason
	}
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, "/orders/cancel_all", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TriggerSync asks the upstream to rebuild its order snapshot.
func (c *Client) TriggerSync(ctx context.Context) (*SyncJob, error) {
	var raw struct {
		Accepted   *bool  `json:"accepted"`
		JobID      string `json:"job_id"`
		Started    bool   `json:"started"`
		Status     string `json:"status"`
		ReceivedAt string `json:"received_at"`
	}
	if err := c.do(ctx, http.MethodPost, "/orders/sync", map[string]string{}, &raw); err != nil {
		return nil, err
	}

	job := SyncJob{
		Accepted:   raw.Accepted == nil || *raw.Accepted,
		JobID:      raw.JobID,
		Started:    raw.Started,
		Status:     raw.Status,
		ReceivedAt: raw.ReceivedAt,
	}
	if job.JobID == "" {
		job.JobID = fmt.Sprintf("orders-sync-%d", time.Now().UnixMilli())
	}
	if job.ReceivedAt == "" {
		job.ReceivedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return &job, nil
}

// doOrder runs a request whose response wraps a single raw order record and
// normalizes it.
func (c *Client) doOrder(ctx context.Context, method, path string, body any) (*order.Order, error) {
	var wrapper struct {
		Order map[string]any `json:"order"`
	}
	if err := c.do(ctx, method, path, body, &wrapper); err != nil {
		return nil, err
	}
	o := order.NormalizeOrder(wrapper.Order)
	return &o, nil
}

// do executes one paced request. Non-2xx responses become *APIError; a body
// that fails to decode is wrapped and returned since the caller has no
// sensible fallback.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.waitTurn(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("gateway call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway: decode %s %s response: %w", method, path, err)
	}
	return nil
}
