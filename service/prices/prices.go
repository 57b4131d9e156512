// Package prices looks up USD prices and token metadata from a
// Jupiter-compatible HTTP API.
package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brojonat/rescuer/service/metrics"
	"github.com/brojonat/rescuer/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

const (
	DefaultPriceURL = "https://api.jup.ag"
	DefaultTokenURL = "https://tokens.jup.ag"

	priceTTL    = 30 * time.Second
	metadataTTL = 24 * time.Hour

	// maxIDsPerRequest is the largest ids= list the price endpoint accepts.
	maxIDsPerRequest = 100
)

// ErrTokenNotFound is returned when the token list has no entry for a mint.
var ErrTokenNotFound = errors.New("token not found")

// TokenInfo is token-list metadata for a mint.
type TokenInfo struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	LogoURI  string `json:"logoURI,omitempty"`
}

type priceResponse struct {
	Data map[string]*struct {
		ID    string          `json:"id"`
		Price decimal.Decimal `json:"price"`
	} `json:"data"`
}

// Client fetches prices and metadata, caching both.
type Client struct {
	prices   *resty.Client
	tokens   *resty.Client
	cache    *cache.Cache
	metadata *cache.Cache
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewClient creates a Client. Empty URLs fall back to the public Jupiter endpoints.
func NewClient(priceURL, tokenURL string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if priceURL == "" {
		priceURL = DefaultPriceURL
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		prices:   newResty(priceURL),
		tokens:   newResty(tokenURL),
		cache:    cache.New(priceTTL, 2*priceTTL),
		metadata: cache.New(metadataTTL, time.Hour),
		metrics:  m,
		logger:   logger,
	}
}

func newResty(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Accept", "application/json")
}

// Prices returns the USD price of each mint. Mints the API has no price for
// are absent from the result.
func (c *Client) Prices(ctx context.Context, mints []solanago.PublicKey) (map[solanago.PublicKey]decimal.Decimal, error) {
	out := make(map[solanago.PublicKey]decimal.Decimal, len(mints))
	var missing []string
	seen := map[solanago.PublicKey]bool{}
	for _, mint := range mints {
		if seen[mint] {
			continue
		}
		seen[mint] = true
		if v, ok := c.cache.Get(mint.String()); ok {
			c.recordCache("price", true)
			out[mint] = v.(decimal.Decimal)
			continue
		}
		c.recordCache("price", false)
		missing = append(missing, mint.String())
	}
	sort.Strings(missing)

	for start := 0; start < len(missing); start += maxIDsPerRequest {
		end := start + maxIDsPerRequest
		if end > len(missing) {
			end = len(missing)
		}
		fetched, err := c.fetchPrices(ctx, missing[start:end])
		if err != nil {
			return nil, err
		}
		for id, price := range fetched {
			mint, err := solanago.PublicKeyFromBase58(id)
			if err != nil {
				c.logger.WarnContext(ctx, "price response has invalid mint", "id", id)
				continue
			}
			c.cache.SetDefault(id, price)
			out[mint] = price
		}
	}
	return out, nil
}

// Price returns the USD price of one mint.
func (c *Client) Price(ctx context.Context, mint solanago.PublicKey) (decimal.Decimal, bool, error) {
	prices, err := c.Prices(ctx, []solanago.PublicKey{mint})
	if err != nil {
		return decimal.Zero, false, err
	}
	p, ok := prices[mint]
	return p, ok, nil
}

func (c *Client) fetchPrices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	var body priceResponse
	resp, err := c.prices.R().
		SetContext(ctx).
		SetQueryParam("ids", strings.Join(ids, ",")).
		Get("/price/v2")
	if err != nil {
		c.recordRequest("price", "error")
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	if !resp.IsSuccess() {
		c.recordRequest("price", "error")
		return nil, fmt.Errorf("price API returned %s", resp.Status())
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		c.recordRequest("price", "error")
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}
	c.recordRequest("price", "success")

	out := make(map[string]decimal.Decimal, len(body.Data))
	for id, entry := range body.Data {
		if entry == nil {
			continue
		}
		out[id] = entry.Price
	}
	c.logger.DebugContext(ctx, "fetched prices", "requested", len(ids), "priced", len(out))
	return out, nil
}

// Token returns token-list metadata for mint.
func (c *Client) Token(ctx context.Context, mint solanago.PublicKey) (*TokenInfo, error) {
	key := mint.String()
	if v, ok := c.metadata.Get(key); ok {
		c.recordCache("metadata", true)
		info := v.(TokenInfo)
		return &info, nil
	}
	c.recordCache("metadata", false)

	var info TokenInfo
	resp, err := c.tokens.R().
		SetContext(ctx).
		SetPathParam("mint", key).
		Get("/token/{mint}")
	if err != nil {
		c.recordRequest("token", "error")
		return nil, fmt.Errorf("failed to fetch token %s: %w", key, err)
	}
	if resp.StatusCode() == 404 {
		c.recordRequest("token", "not_found")
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, key)
	}
	if !resp.IsSuccess() {
		c.recordRequest("token", "error")
		return nil, fmt.Errorf("token API returned %s", resp.Status())
	}
	// The token list answers unknown mints with 200 and a null body.
	if strings.TrimSpace(string(resp.Body())) == "null" {
		c.recordRequest("token", "not_found")
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, key)
	}
	if err := json.Unmarshal(resp.Body(), &info); err != nil {
		c.recordRequest("token", "error")
		return nil, fmt.Errorf("failed to decode token %s: %w", key, err)
	}
	c.recordRequest("token", "success")
	c.metadata.SetDefault(key, info)
	return &info, nil
}

// Value returns the USD value of a holding, or false if the mint has no price.
func (c *Client) Value(ctx context.Context, h solana.TokenHolding) (decimal.Decimal, bool, error) {
	price, ok, err := c.Price(ctx, h.Mint)
	if err != nil || !ok {
		return decimal.Zero, false, err
	}
	return h.UIAmount().Mul(price), true, nil
}

// SOLValue returns the USD value of a lamport balance.
func (c *Client) SOLValue(ctx context.Context, lamports uint64) (decimal.Decimal, bool, error) {
	price, ok, err := c.Price(ctx, solanago.SolMint)
	if err != nil || !ok {
		return decimal.Zero, false, err
	}
	return decimal.NewFromUint64(lamports).Shift(-9).Mul(price), true, nil
}

func (c *Client) recordRequest(endpoint, status string) {
	if c.metrics != nil {
		c.metrics.RecordPriceRequest(endpoint, status)
	}
}

func (c *Client) recordCache(kind string, hit bool) {
	if c.metrics != nil {
		c.metrics.RecordPriceCache(kind, hit)
	}
}
