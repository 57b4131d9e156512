package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/rescuer/service/metrics"
	"github.com/brojonat/rescuer/service/txcodec"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/patrickmn/go-cache"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetMultipleAccounts(ctx context.Context, accounts []solana.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error)
	GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error)
	GetProgramAccounts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetEpochInfo(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetEpochInfoResult, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error)
	GetRecentPrioritizationFees(ctx context.Context, accounts solana.PublicKeySlice) ([]rpc.PriorizationFeeResult, error)
	GetSignatureStatuses(ctx context.Context, searchHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	SendRawTransaction(ctx context.Context, raw []byte, opts rpc.TransactionOpts) (solana.Signature, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
}

// ErrLookupTableNotFound is returned when an address lookup table account does not exist.
var ErrLookupTableNotFound = txcodec.ErrLookupTableNotFound

const (
	defaultCommitment   = rpc.CommitmentConfirmed
	maxAttempts         = 3
	maxAccountsPerQuery = 100
)

// Client provides wallet-level reads and transaction plumbing on top of the RPC.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)

	retryBackoff   time.Duration
	requestSpacing time.Duration
	lookupTables   *cache.Cache
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithRetryBackoff sets the base delay for rate-limit retries (doubled per attempt).
func WithRetryBackoff(d time.Duration) ClientOption {
	return func(c *Client) { c.retryBackoff = d }
}

// WithRequestSpacing sets the pause between per-signature transaction fetches.
func WithRequestSpacing(d time.Duration) ClientOption {
	return func(c *Client) { c.requestSpacing = d }
}

// WithLookupTableTTL sets how long resolved address lookup tables are cached.
func WithLookupTableTTL(ttl time.Duration) ClientOption {
	return func(c *Client) { c.lookupTables = cache.New(ttl, 2*ttl) }
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		rpc:            rpcClient,
		logger:         logger,
		metrics:        m,
		endpoint:       endpoint,
		retryBackoff:   2 * time.Second,
		requestSpacing: 200 * time.Millisecond,
		lookupTables:   cache.New(10*time.Minute, 20*time.Minute),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the label used for this client's metrics.
func (c *Client) Endpoint() string {
	return c.endpoint
}

func isRateLimited(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "429") || strings.Contains(strings.ToLower(err.Error()), "too many requests"))
}

// call runs fn with metrics and retries it with exponential backoff when the
// endpoint rate limits us.
func (c *Client) call(ctx context.Context, method string, fn func() error) error {
	var err error
	for attempt := range maxAttempts {
		start := time.Now()
		err = fn()
		duration := time.Since(start).Seconds()

		status := "success"
		if err != nil {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordRPCCall(method, status, c.endpoint, duration)
		}

		if !isRateLimited(err) {
			return err
		}

		backoff := c.retryBackoff * time.Duration(2<<uint(attempt)) / 2 // 1x, 2x, 4x
		c.logger.WarnContext(ctx, "rate limited, sleeping before retry",
			"method", method,
			"attempt", attempt+1,
			"backoff_seconds", backoff.Seconds(),
		)
		if c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.endpoint)
			c.metrics.RecordRPCRetry(method, "rate_limit")
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

// Balance returns the lamport balance of an account.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var out *rpc.GetBalanceResult
	err := c.call(ctx, "GetBalance", func() (err error) {
		out, err = c.rpc.GetBalance(ctx, account, defaultCommitment)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", account, err)
	}
	return out.Value, nil
}

// Account fetches one account. It returns rpc.ErrNotFound when the account does not exist.
func (c *Client) Account(ctx context.Context, address solana.PublicKey) (*rpc.Account, error) {
	var out *rpc.GetAccountInfoResult
	err := c.call(ctx, "GetAccountInfo", func() (err error) {
		out, err = c.rpc.GetAccountInfo(ctx, address, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: defaultCommitment,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	if out == nil || out.Value == nil {
		return nil, rpc.ErrNotFound
	}
	return out.Value, nil
}

// AccountExists reports whether an account is allocated on chain.
func (c *Client) AccountExists(ctx context.Context, address solana.PublicKey) (bool, error) {
	_, err := c.Account(ctx, address)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Accounts fetches several accounts in order. Missing accounts are nil.
func (c *Client) Accounts(ctx context.Context, addresses []solana.PublicKey) ([]*rpc.Account, error) {
	out := make([]*rpc.Account, 0, len(addresses))
	for start := 0; start < len(addresses); start += maxAccountsPerQuery {
		end := min(start+maxAccountsPerQuery, len(addresses))
		var res *rpc.GetMultipleAccountsResult
		err := c.call(ctx, "GetMultipleAccounts", func() (err error) {
			res, err = c.rpc.GetMultipleAccounts(ctx, addresses[start:end], &rpc.GetMultipleAccountsOpts{
				Encoding:   solana.EncodingBase64,
				Commitment: defaultCommitment,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get accounts: %w", err)
		}
		if len(res.Value) != end-start {
			return nil, fmt.Errorf("expected %d accounts, got %d", end-start, len(res.Value))
		}
		out = append(out, res.Value...)
	}
	return out, nil
}

// ResolveLookupTable returns the addresses stored in an address lookup table.
// Tables are cached; entries past the cached length trigger a refetch.
func (c *Client) ResolveLookupTable(ctx context.Context, table solana.PublicKey) (solana.PublicKeySlice, error) {
	if cached, ok := c.lookupTables.Get(table.String()); ok {
		if c.metrics != nil {
			c.metrics.RecordLookupTableCache(true)
		}
		return cached.(solana.PublicKeySlice), nil
	}
	if c.metrics != nil {
		c.metrics.RecordLookupTableCache(false)
	}

	acct, err := c.Account(ctx, table)
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrLookupTableNotFound, table)
	}
	if err != nil {
		return nil, err
	}
	if !acct.Owner.Equals(solana.AddressLookupTableProgramID) {
		return nil, fmt.Errorf("account %s is owned by %s, not the lookup table program", table, acct.Owner)
	}
	state, err := decodeLookupTable(acct.Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("failed to decode lookup table %s: %w", table, err)
	}

	c.lookupTables.SetDefault(table.String(), state)
	c.logger.DebugContext(ctx, "resolved address lookup table",
		"table", table.String(),
		"addresses", len(state),
	)
	return state, nil
}

// LatestBlockhash returns a recent blockhash and the height it expires at.
func (c *Client) LatestBlockhash(ctx context.Context) (*Blockhash, error) {
	var out *rpc.GetLatestBlockhashResult
	err := c.call(ctx, "GetLatestBlockhash", func() (err error) {
		out, err = c.rpc.GetLatestBlockhash(ctx, defaultCommitment)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return nil, errors.New("empty latest blockhash response")
	}
	return &Blockhash{
		Hash:                 out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

// BlockHeight returns the current block height.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	var out uint64
	err := c.call(ctx, "GetBlockHeight", func() (err error) {
		out, err = c.rpc.GetBlockHeight(ctx, defaultCommitment)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get block height: %w", err)
	}
	return out, nil
}

// Epoch returns the current epoch.
func (c *Client) Epoch(ctx context.Context) (uint64, error) {
	var out *rpc.GetEpochInfoResult
	err := c.call(ctx, "GetEpochInfo", func() (err error) {
		out, err = c.rpc.GetEpochInfo(ctx, defaultCommitment)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get epoch info: %w", err)
	}
	return out.Epoch, nil
}

// RentExemption returns the minimum balance for an account of dataSize bytes.
func (c *Client) RentExemption(ctx context.Context, dataSize uint64) (uint64, error) {
	var out uint64
	err := c.call(ctx, "GetMinimumBalanceForRentExemption", func() (err error) {
		out, err = c.rpc.GetMinimumBalanceForRentExemption(ctx, dataSize, defaultCommitment)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get rent exemption for %d bytes: %w", dataSize, err)
	}
	return out, nil
}

// GetRecentPrioritizationFees returns recent per-slot prioritization fees for
// transactions locking the given accounts.
func (c *Client) GetRecentPrioritizationFees(ctx context.Context, accounts solana.PublicKeySlice) ([]rpc.PriorizationFeeResult, error) {
	var out []rpc.PriorizationFeeResult
	err := c.call(ctx, "GetRecentPrioritizationFees", func() (err error) {
		out, err = c.rpc.GetRecentPrioritizationFees(ctx, accounts)
		return err
	})
	return out, err
}

// Send broadcasts a signed transaction once. The node is told not to retry
// on its own; callers own the resend loop.
func (c *Client) Send(ctx context.Context, raw []byte, skipPreflight bool) (solana.Signature, error) {
	maxRetries := uint(0)
	var sig solana.Signature
	err := c.call(ctx, "SendTransaction", func() (err error) {
		sig, err = c.rpc.SendRawTransaction(ctx, raw, rpc.TransactionOpts{
			SkipPreflight:       skipPreflight,
			PreflightCommitment: defaultCommitment,
			MaxRetries:          &maxRetries,
		})
		return err
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// SignatureStatuses looks up the status of each signature, in order.
func (c *Client) SignatureStatuses(ctx context.Context, signatures ...solana.Signature) ([]SignatureStatus, error) {
	var out *rpc.GetSignatureStatusesResult
	err := c.call(ctx, "GetSignatureStatuses", func() (err error) {
		out, err = c.rpc.GetSignatureStatuses(ctx, false, signatures...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get signature statuses: %w", err)
	}

	statuses := make([]SignatureStatus, len(signatures))
	for i, sig := range signatures {
		statuses[i].Signature = sig
		if out == nil || i >= len(out.Value) || out.Value[i] == nil {
			continue
		}
		v := out.Value[i]
		statuses[i].Found = true
		statuses[i].Slot = v.Slot
		statuses[i].Confirmations = v.Confirmations
		statuses[i].ConfirmationStatus = string(v.ConfirmationStatus)
		statuses[i].Err = v.Err
	}
	return statuses, nil
}

// Simulate dry-runs a transaction.
func (c *Client) Simulate(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResult, error) {
	var out *rpc.SimulateTransactionResponse
	err := c.call(ctx, "SimulateTransaction", func() (err error) {
		out, err = c.rpc.SimulateTransaction(ctx, tx, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to simulate transaction: %w", err)
	}
	if out == nil || out.Value == nil {
		return nil, errors.New("empty simulation response")
	}
	return out.Value, nil
}
