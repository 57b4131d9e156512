// Package recovery builds the instruction sets that move assets out of a
// compromised wallet. Every plan is paid for by the safe wallet, so the
// compromised wallet never needs to hold SOL for fees.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/brojonat/rescuer/service/fees"
	"github.com/brojonat/rescuer/service/simulate"
	"github.com/brojonat/rescuer/service/txcodec"
	solanago "github.com/gagliardetto/solana-go"
)

// Kind names what a plan recovers.
type Kind string

const (
	KindSweepSOL     Kind = "sweep_sol"
	KindSweepToken   Kind = "sweep_token"
	KindSweepNFT     Kind = "sweep_nft"
	KindRecoverStake Kind = "recover_stake"
	KindBrick        Kind = "brick"
	KindCombined     Kind = "combined"
)

var (
	// ErrNothingToRecover is returned when the source holds nothing movable.
	ErrNothingToRecover = errors.New("nothing to recover")
	// ErrNotAuthority is returned when the compromised wallet has no authority over an account.
	ErrNotAuthority = errors.New("wallet is not an authority of the account")
	// ErrFeePayerMismatch is returned when combining plans paid by different wallets.
	ErrFeePayerMismatch = errors.New("plans have different fee payers")
)

// Plan is an unsigned set of instructions plus the keys that must sign them.
type Plan struct {
	Kind                 Kind                  `json:"kind"`
	Instructions         []txcodec.Instruction `json:"instructions"`
	Signers              []solanago.PublicKey  `json:"signers"`
	FeePayer             solanago.PublicKey    `json:"fee_payer"`
	Description          string                `json:"description"`
	EstimatedFeeLamports uint64                `json:"estimated_fee_lamports"`
}

// Transaction returns an editable legacy transaction for the plan.
func (p *Plan) Transaction(blockhash solanago.Hash) *txcodec.DecodedTransaction {
	dt := &txcodec.DecodedTransaction{
		Version:         txcodec.VersionLegacy,
		Encoding:        txcodec.EncodingBase64,
		FeePayer:        p.FeePayer,
		RecentBlockhash: blockhash.String(),
		Instructions:    append([]txcodec.Instruction(nil), p.Instructions...),
	}
	dt.SetDefaultSigners(p.Signers)
	return dt
}

// SetComputeBudget adds compute-budget instructions to the plan and refreshes
// its fee estimate. A zero limit or price leaves that instruction out.
func (p *Plan) SetComputeBudget(limit uint32, microLamports uint64) error {
	ixs, err := fees.EnsureComputeBudget(p.Instructions, limit, microLamports)
	if err != nil {
		return err
	}
	fee, err := estimateFee(ixs, len(p.Signers))
	if err != nil {
		return err
	}
	p.Instructions = ixs
	p.EstimatedFeeLamports = fee
	return nil
}

// SizeComputeBudget simulates the plan and sets its compute unit limit from
// the units consumed, plus microLamports as the unit price when non-zero.
// The simulation result is returned even when it failed.
func (p *Plan) SizeComputeBudget(ctx context.Context, sim fees.UnitSimulator, blockhash solanago.Hash, microLamports uint64) (*simulate.Result, error) {
	dt := p.Transaction(blockhash)
	res, err := fees.SizeComputeBudget(ctx, sim, dt, microLamports)
	if err != nil {
		return res, err
	}
	fee, err := estimateFee(dt.Instructions, len(p.Signers))
	if err != nil {
		return res, err
	}
	p.Instructions = dt.Instructions
	p.EstimatedFeeLamports = fee
	return res, nil
}

// Build compiles the plan into an unsigned transaction.
func (p *Plan) Build(blockhash solanago.Hash) (*solanago.Transaction, error) {
	return p.Transaction(blockhash).Build()
}

// Combine merges plans into one transaction's worth of instructions. All plans
// must share a fee payer.
func Combine(plans ...*Plan) (*Plan, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("no plans to combine")
	}
	out := &Plan{
		Kind:     KindCombined,
		FeePayer: plans[0].FeePayer,
	}
	seen := map[solanago.PublicKey]struct{}{}
	var descriptions []string
	for _, p := range plans {
		if !p.FeePayer.Equals(out.FeePayer) {
			return nil, fmt.Errorf("%w: %s and %s", ErrFeePayerMismatch, out.FeePayer, p.FeePayer)
		}
		out.Instructions = append(out.Instructions, p.Instructions...)
		for _, s := range p.Signers {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out.Signers = append(out.Signers, s)
		}
		descriptions = append(descriptions, p.Description)
	}
	out.Description = strings.Join(descriptions, "; ")
	fee, err := estimateFee(out.Instructions, len(out.Signers))
	if err != nil {
		return nil, err
	}
	out.EstimatedFeeLamports = fee
	return out, nil
}

func estimateFee(ixs []txcodec.Instruction, signers int) (uint64, error) {
	return fees.TotalFeeLamports(uint64(signers), fees.ReadBudget(ixs))
}
