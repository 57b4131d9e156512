package solana

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/errgroup"
)

func decodeLookupTable(data []byte) (solana.PublicKeySlice, error) {
	state, err := addresslookuptable.DecodeAddressLookupTableState(data)
	if err != nil {
		return nil, err
	}
	return state.Addresses, nil
}

// TokenHoldings returns every Token and Token-2022 account owned by wallet,
// with decimals read from each mint.
func (c *Client) TokenHoldings(ctx context.Context, wallet solana.PublicKey) ([]TokenHolding, error) {
	var holdings []TokenHolding
	for _, program := range []solana.PublicKey{TokenProgramID, Token2022ProgramID} {
		program := program
		var out *rpc.GetTokenAccountsResult
		err := c.call(ctx, "GetTokenAccountsByOwner", func() (err error) {
			out, err = c.rpc.GetTokenAccountsByOwner(ctx, wallet,
				&rpc.GetTokenAccountsConfig{ProgramId: &program},
				&rpc.GetTokenAccountsOpts{Commitment: defaultCommitment, Encoding: solana.EncodingBase64},
			)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list token accounts of %s: %w", wallet, err)
		}
		if out == nil {
			continue
		}
		for _, ta := range out.Value {
			if ta == nil || ta.Account.Data == nil {
				continue
			}
			parsed, err := ParseTokenAccount(ta.Account.Data.GetBinary())
			if err != nil {
				c.logger.WarnContext(ctx, "skipping unparseable token account",
					"account", ta.Pubkey.String(),
					"error", err,
				)
				continue
			}
			holdings = append(holdings, TokenHolding{
				Account:      ta.Pubkey,
				Owner:        parsed.Owner,
				Mint:         parsed.Mint,
				TokenProgram: program,
				Amount:       parsed.Amount,
				Lamports:     ta.Account.Lamports,
			})
		}
	}

	if err := c.fillDecimals(ctx, holdings); err != nil {
		return nil, err
	}
	return holdings, nil
}

func (c *Client) fillDecimals(ctx context.Context, holdings []TokenHolding) error {
	if len(holdings) == 0 {
		return nil
	}
	index := make(map[solana.PublicKey]int)
	var mints []solana.PublicKey
	for _, h := range holdings {
		if _, ok := index[h.Mint]; !ok {
			index[h.Mint] = len(mints)
			mints = append(mints, h.Mint)
		}
	}
	accounts, err := c.Accounts(ctx, mints)
	if err != nil {
		return fmt.Errorf("failed to load mints: %w", err)
	}
	decimals := make([]uint8, len(mints))
	for i, acct := range accounts {
		if acct == nil || acct.Data == nil {
			continue
		}
		if d, err := ParseMintDecimals(acct.Data.GetBinary()); err == nil {
			decimals[i] = d
		}
	}
	for i := range holdings {
		holdings[i].Decimals = decimals[index[holdings[i].Mint]]
	}
	return nil
}

// NFTs returns the wallet's holdings that look non-fungible.
func (c *Client) NFTs(ctx context.Context, wallet solana.PublicKey) ([]TokenHolding, error) {
	holdings, err := c.TokenHoldings(ctx, wallet)
	if err != nil {
		return nil, err
	}
	_, nfts := splitHoldings(holdings)
	return nfts, nil
}

func splitHoldings(holdings []TokenHolding) (tokens, nfts []TokenHolding) {
	tokens = []TokenHolding{}
	nfts = []TokenHolding{}
	for _, h := range holdings {
		if h.IsNFT() {
			nfts = append(nfts, h)
		} else {
			tokens = append(tokens, h)
		}
	}
	return tokens, nfts
}

// StakeAccounts returns stake accounts where authority is the staker or the withdrawer.
func (c *Client) StakeAccounts(ctx context.Context, authority solana.PublicKey) ([]StakeAccount, error) {
	seen := make(map[solana.PublicKey]struct{})
	out := []StakeAccount{}
	for _, offset := range []uint64{StakeWithdrawerOffset, StakeStakerOffset} {
		offset := offset
		var res rpc.GetProgramAccountsResult
		err := c.call(ctx, "GetProgramAccounts", func() (err error) {
			res, err = c.rpc.GetProgramAccounts(ctx, StakeProgramID, &rpc.GetProgramAccountsOpts{
				Commitment: defaultCommitment,
				Encoding:   solana.EncodingBase64,
				Filters: []rpc.RPCFilter{
					{DataSize: StakeAccountSize},
					{Memcmp: &rpc.RPCFilterMemcmp{Offset: offset, Bytes: solana.Base58(authority.Bytes())}},
				},
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list stake accounts of %s: %w", authority, err)
		}
		for _, ka := range res {
			if ka == nil || ka.Account == nil || ka.Account.Data == nil {
				continue
			}
			if _, dup := seen[ka.Pubkey]; dup {
				continue
			}
			seen[ka.Pubkey] = struct{}{}
			sa, err := ParseStakeAccount(ka.Pubkey, ka.Account.Lamports, ka.Account.Data.GetBinary())
			if err != nil {
				c.logger.WarnContext(ctx, "skipping unparseable stake account",
					"account", ka.Pubkey.String(),
					"error", err,
				)
				continue
			}
			out = append(out, *sa)
		}
	}
	return out, nil
}

// Portfolio loads SOL, tokens, NFTs and stake for a wallet concurrently.
func (c *Client) Portfolio(ctx context.Context, wallet solana.PublicKey) (*Portfolio, error) {
	p := &Portfolio{Wallet: wallet}
	var holdings []TokenHolding

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		p.Lamports, err = c.Balance(gctx, wallet)
		return err
	})
	g.Go(func() (err error) {
		holdings, err = c.TokenHoldings(gctx, wallet)
		return err
	})
	g.Go(func() (err error) {
		p.Stake, err = c.StakeAccounts(gctx, wallet)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.Tokens, p.NFTs = splitHoldings(holdings)
	c.logger.DebugContext(ctx, "loaded portfolio",
		"wallet", wallet.String(),
		"lamports", p.Lamports,
		"tokens", len(p.Tokens),
		"nfts", len(p.NFTs),
		"stake_accounts", len(p.Stake),
	)
	return p, nil
}

// HistoryParams selects a page of a wallet's history.
type HistoryParams struct {
	Wallet solana.PublicKey
	Limit  int
	Before *solana.Signature
}

// History returns the wallet's most recent transactions, newest first.
//
// Each signature is expanded with a full transaction fetch so amounts, mints,
// and memos can be parsed. Transactions that cannot be fetched or parsed are
// returned with signature metadata only.
func (c *Client) History(ctx context.Context, params HistoryParams) ([]*Transaction, error) {
	opts := &rpc.GetSignaturesForAddressOpts{
		Commitment: defaultCommitment,
	}
	if params.Limit > 0 {
		opts.Limit = &params.Limit
	}
	if params.Before != nil {
		opts.Before = *params.Before
	}

	c.logger.DebugContext(ctx, "calling GetSignaturesForAddress",
		"wallet", params.Wallet.String(),
		"limit", params.Limit,
		"before", params.Before,
	)

	var signatures []*rpc.TransactionSignature
	err := c.call(ctx, "GetSignaturesForAddress", func() (err error) {
		signatures, err = c.rpc.GetSignaturesForAddress(ctx, params.Wallet, opts)
		return err
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"wallet", params.Wallet.String(),
			"error", err,
		)
		return nil, err
	}

	transactions := make([]*Transaction, 0, len(signatures))
	for i, sig := range signatures {
		if i > 0 && c.requestSpacing > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.requestSpacing):
			}
		}

		var result *rpc.GetTransactionResult
		err := c.call(ctx, "GetTransaction", func() (err error) {
			result, err = c.rpc.GetTransaction(ctx, sig.Signature, &rpc.GetTransactionOpts{
				Encoding:                       solana.EncodingBase64,
				Commitment:                     defaultCommitment,
				MaxSupportedTransactionVersion: &[]uint64{0}[0],
			})
			return err
		})
		if err != nil {
			// Pruned or unavailable; keep what the signature list told us.
			c.logger.WarnContext(ctx, "failed to get transaction details, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			transactions = append(transactions, signatureToDomain(sig))
			continue
		}

		txn, err := parseTransactionFromResult(sig, result)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to parse transaction, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			transactions = append(transactions, signatureToDomain(sig))
			continue
		}
		transactions = append(transactions, txn)
	}

	c.logger.InfoContext(ctx, "fetched and parsed transactions",
		"wallet", params.Wallet.String(),
		"count", len(transactions),
	)
	return transactions, nil
}
