package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/brojonat/rescuer/service/prices"
	"github.com/brojonat/rescuer/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// WalletReader loads what a wallet holds and what it did.
type WalletReader interface {
	Portfolio(ctx context.Context, wallet solanago.PublicKey) (*solana.Portfolio, error)
	History(ctx context.Context, params solana.HistoryParams) ([]*solana.Transaction, error)
}

// Pricer quotes USD prices by mint.
type Pricer = prices.Quoter

const maxPriceMints = 100

type portfolioResponse struct {
	*solana.Portfolio
	// Values maps mint (and the SOL mint for the native balance) to a USD value.
	Values   map[string]decimal.Decimal `json:"values_usd,omitempty"`
	TotalUSD *decimal.Decimal           `json:"total_usd,omitempty"`
}

// handleGetPortfolio returns a handler that loads a wallet's SOL, tokens, NFTs
// and stake accounts. When a pricer is configured, holdings are valued in USD.
// GET /api/v1/wallets/{address}/portfolio
func handleGetPortfolio(wallets WalletReader, pricer Pricer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet, err := parseAddress("address", r.PathValue("address"))
		if err != nil {
			logger.Debug("invalid address", "address", r.PathValue("address"), "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		portfolio, err := wallets.Portfolio(r.Context(), wallet)
		if err != nil {
			logger.Error("failed to load portfolio", "address", wallet.String(), "error", err)
			writeError(w, "failed to load portfolio: "+err.Error(), http.StatusBadGateway)
			return
		}

		resp := portfolioResponse{Portfolio: portfolio}
		if pricer != nil {
			values, total, err := prices.ValuePortfolio(r.Context(), pricer, portfolio)
			if err != nil {
				// Unpriced portfolios are still returned.
				logger.Warn("failed to price portfolio", "address", wallet.String(), "error", err)
			} else {
				resp.Values = values
				resp.TotalUSD = &total
			}
		}

		logger.Debug("portfolio loaded",
			"address", wallet.String(),
			"tokens", len(portfolio.Tokens),
			"nfts", len(portfolio.NFTs),
			"stake_accounts", len(portfolio.Stake),
		)
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleGetHistory returns a handler that lists a wallet's recent transactions.
// GET /api/v1/wallets/{address}/history?limit=N&before=SIGNATURE
func handleGetHistory(wallets WalletReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet, err := parseAddress("address", r.PathValue("address"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit, err := parseLimit(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		params := solana.HistoryParams{Wallet: wallet, Limit: limit}
		if before := r.URL.Query().Get("before"); before != "" {
			sig, err := solanago.SignatureFromBase58(before)
			if err != nil {
				writeError(w, "invalid before parameter: must be a base58 signature", http.StatusBadRequest)
				return
			}
			params.Before = &sig
		}

		txns, err := wallets.History(r.Context(), params)
		if err != nil {
			logger.Error("failed to load history", "address", wallet.String(), "error", err)
			writeError(w, "failed to load history: "+err.Error(), http.StatusBadGateway)
			return
		}

		logger.Debug("history loaded", "address", wallet.String(), "count", len(txns))
		writeJSON(w, map[string]interface{}{
			"address":      wallet.String(),
			"transactions": txns,
			"count":        len(txns),
			"limit":        limit,
		}, http.StatusOK)
	})
}

// handleGetPrices returns a handler that quotes USD prices.
// GET /api/v1/prices?mints=MINT1,MINT2
func handleGetPrices(pricer Pricer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("mints")
		if raw == "" {
			writeError(w, "mints query parameter is required", http.StatusBadRequest)
			return
		}
		var fields []string
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
		if len(fields) > maxPriceMints {
			writeError(w, "too many mints: maximum is 100", http.StatusBadRequest)
			return
		}
		mints, err := parseAddresses("mints", fields)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		quotes, err := pricer.Prices(r.Context(), mints)
		if err != nil {
			logger.Error("failed to fetch prices", "error", err)
			writeError(w, "failed to fetch prices: "+err.Error(), http.StatusBadGateway)
			return
		}

		out := make(map[string]decimal.Decimal, len(quotes))
		for mint, price := range quotes {
			out[mint.String()] = price
		}
		writeJSON(w, map[string]interface{}{
			"prices": out,
		}, http.StatusOK)
	})
}
