package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/brojonat/rescuer/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// ErrHoldingNotFound is returned when the compromised wallet holds no account
// matching a request.
var ErrHoldingNotFound = errors.New("holding not found")

// Holdings lists the accounts a wallet controls.
type Holdings interface {
	TokenHoldings(ctx context.Context, wallet solanago.PublicKey) ([]solana.TokenHolding, error)
	StakeAccounts(ctx context.Context, authority solanago.PublicKey) ([]solana.StakeAccount, error)
}

// Request describes a plan by kind and the account it targets.
type Request struct {
	Kind        Kind               `json:"kind"`
	Compromised solanago.PublicKey `json:"compromised"`
	Safe        solanago.PublicKey `json:"safe"`
	// Mint selects the token account for sweep_token and sweep_nft.
	Mint solanago.PublicKey `json:"mint,omitempty"`
	// StakeAccount selects the stake account for recover_stake.
	StakeAccount solanago.PublicKey `json:"stake_account,omitempty"`
	// Space is the allocation size for brick.
	Space uint64 `json:"space,omitempty"`
	// Reserve is left behind by sweep_sol.
	Reserve uint64 `json:"reserve,omitempty"`
}

// Validate checks the fields req.Kind needs.
func (req Request) Validate() error {
	if req.Compromised.IsZero() {
		return errors.New("compromised wallet is required")
	}
	if req.Safe.IsZero() {
		return errors.New("safe wallet is required")
	}
	if req.Compromised.Equals(req.Safe) {
		return errors.New("compromised and safe wallets must differ")
	}
	switch req.Kind {
	case KindSweepSOL:
	case KindSweepToken, KindSweepNFT:
		if req.Mint.IsZero() {
			return fmt.Errorf("mint is required for %s", req.Kind)
		}
	case KindRecoverStake:
		if req.StakeAccount.IsZero() {
			return errors.New("stake account is required for recover_stake")
		}
	case KindBrick:
		if req.Space == 0 || req.Space > MaxAccountSpace {
			return fmt.Errorf("space must be between 1 and %d bytes", MaxAccountSpace)
		}
	default:
		return fmt.Errorf("unknown plan kind %q", req.Kind)
	}
	return nil
}

// Plan builds the plan req describes, looking up the targeted token or stake
// account through holdings.
func (p *Planner) Plan(ctx context.Context, holdings Holdings, req Request) (*Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	switch req.Kind {
	case KindSweepSOL:
		return p.SweepSOL(ctx, req.Compromised, req.Safe, req.Reserve)
	case KindSweepToken, KindSweepNFT:
		holding, err := findHolding(ctx, holdings, req.Compromised, req.Mint)
		if err != nil {
			return nil, err
		}
		if req.Kind == KindSweepNFT {
			return p.SweepNFT(ctx, req.Compromised, req.Safe, holding)
		}
		return p.SweepToken(ctx, req.Compromised, req.Safe, holding)
	case KindRecoverStake:
		accounts, err := holdings.StakeAccounts(ctx, req.Compromised)
		if err != nil {
			return nil, fmt.Errorf("failed to list stake accounts: %w", err)
		}
		for _, a := range accounts {
			if a.Address.Equals(req.StakeAccount) {
				return p.RecoverStake(ctx, req.Compromised, req.Safe, a)
			}
		}
		return nil, fmt.Errorf("%w: no stake account %s under authority %s", ErrHoldingNotFound, req.StakeAccount, req.Compromised)
	default: // KindBrick
		return p.Brick(ctx, req.Compromised, req.Safe, req.Space)
	}
}

// findHolding returns the wallet's largest token account for mint.
func findHolding(ctx context.Context, holdings Holdings, wallet, mint solanago.PublicKey) (solana.TokenHolding, error) {
	all, err := holdings.TokenHoldings(ctx, wallet)
	if err != nil {
		return solana.TokenHolding{}, fmt.Errorf("failed to list token accounts: %w", err)
	}
	var best *solana.TokenHolding
	for i := range all {
		h := &all[i]
		if !h.Mint.Equals(mint) {
			continue
		}
		if best == nil || h.Amount > best.Amount {
			best = h
		}
	}
	if best == nil {
		return solana.TokenHolding{}, fmt.Errorf("%w: %s holds no token account for mint %s", ErrHoldingNotFound, wallet, mint)
	}
	return *best, nil
}
