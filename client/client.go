package client

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
	"time"

	"github.com/shopspring/decimal"
)

// Client is the HTTP client for the rescuer service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new rescuer service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Decode decompiles a payload and optionally rewrites its fee payer.
func (c *Client) Decode(ctx context.Context, req DecodeRequest) (*DecodeResponse, error) {
	var out DecodeResponse
	if err := c.do(ctx, "POST", "/api/v1/decode", req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Simulate dry-runs a payload. Without addresses, every writable account is diffed.
func (c *Client) Simulate(ctx context.Context, payload string, addresses []string) (*SimulateResponse, error) {
	body := map[string]interface{}{"payload": payload}
	if len(addresses) > 0 {
		body["addresses"] = addresses
	}
	var out SimulateResponse
	if err := c.do(ctx, "POST", "/api/v1/simulate", body, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Plan builds an unsigned recovery transaction.
func (c *Client) Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	var out PlanResponse
	if err := c.do(ctx, "POST", "/api/v1/plans", req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("plan built", "kind", req.Kind, "compromised", req.Compromised)
	return &out, nil
}

// Portfolio loads everything a wallet holds.
func (c *Client) Portfolio(ctx context.Context, wallet string) (*Portfolio, error) {
	var out Portfolio
	path := fmt.Sprintf("/api/v1/wallets/%s/portfolio", url.PathEscape(wallet))
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History lists a wallet's recent transactions, newest first. before pages
// backwards from a signature and may be empty.
func (c *Client) History(ctx context.Context, wallet string, limit int, before string) ([]*Transaction, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	path := fmt.Sprintf("/api/v1/wallets/%s/history", url.PathEscape(wallet))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Transactions []*Transaction `json:"transactions"`
	}
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// Prices quotes USD prices by mint. Unpriced mints are absent from the result.
func (c *Client) Prices(ctx context.Context, mints []string) (map[string]decimal.Decimal, error) {
	q := url.Values{}
	q.Set("mints", strings.Join(mints, ","))

	var out struct {
		Prices map[string]decimal.Decimal `json:"prices"`
	}
	if err := c.do(ctx, "GET", "/api/v1/prices?"+q.Encode(), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Prices, nil
}

// Broadcast submits a signed transaction. Submitting the same transaction
// again returns the broadcast already in flight.
func (c *Client) Broadcast(ctx context.Context, req BroadcastRequest) (*Broadcast, error) {
	var out Broadcast
	if err := c.do(ctx, "POST", "/api/v1/broadcasts", req, http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("broadcast submitted", "workflow_id", out.WorkflowID, "signature", out.Signature)
	return &out, nil
}

// GetBroadcast reports a broadcast workflow's status.
func (c *Client) GetBroadcast(ctx context.Context, workflowID string) (*BroadcastStatus, error) {
	var out BroadcastStatus
	path := "/api/v1/broadcasts/" + url.PathEscape(workflowID)
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitBroadcast polls a broadcast until its workflow stops running.
func (c *Client) WaitBroadcast(ctx context.Context, workflowID string, interval time.Duration) (*BroadcastStatus, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.GetBroadcast(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if status.Done() {
			return status, nil
		}
		c.logger.Debug("broadcast still running", "workflow_id", workflowID)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListRescues lists journaled rescues. With an empty wallet it returns the
// most recent rescues and a total of -1.
func (c *Client) ListRescues(ctx context.Context, wallet, network string, limit int) ([]*Rescue, int64, error) {
	q := url.Values{}
	if wallet != "" {
		q.Set("wallet", wallet)
	}
	if network != "" {
		q.Set("network", network)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/rescues"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Rescues []*Rescue `json:"rescues"`
		Total   *int64    `json:"total"`
	}
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &out); err != nil {
		return nil, 0, err
	}
	total := int64(-1)
	if out.Total != nil {
		total = *out.Total
	}
	return out.Rescues, total, nil
}

// GetRescue fetches one journaled rescue by signature.
func (c *Client) GetRescue(ctx context.Context, signature, network string) (*Rescue, error) {
	path := "/api/v1/rescues/" + url.PathEscape(signature)
	if network != "" {
		path += "?network=" + url.QueryEscape(network)
	}
	var out Rescue
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends a JSON request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in interface{}, wantStatus int, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
