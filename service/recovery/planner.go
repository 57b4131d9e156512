package recovery

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/brojonat/rescuer/service/metrics"
	"github.com/brojonat/rescuer/service/solana"
	"github.com/brojonat/rescuer/service/txcodec"
	solanago "github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/stake"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// MaxAccountSpace is the largest allocation the system program permits.
const MaxAccountSpace = 10 * 1024 * 1024

// Chain is the on-chain state a Planner reads.
type Chain interface {
	Balance(ctx context.Context, account solanago.PublicKey) (uint64, error)
	AccountExists(ctx context.Context, address solanago.PublicKey) (bool, error)
	RentExemption(ctx context.Context, dataSize uint64) (uint64, error)
	Epoch(ctx context.Context) (uint64, error)
}

// Planner builds recovery plans for a compromised wallet.
type Planner struct {
	chain         Chain
	metrics       *metrics.Metrics
	logger        *slog.Logger
	microLamports uint64
	computeUnits  uint32
}

// NewPlanner creates a Planner. If m is nil, no metrics are recorded.
func NewPlanner(chain Chain, m *metrics.Metrics, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{chain: chain, metrics: m, logger: logger}
}

// WithComputeUnitPrice makes every plan carry a compute unit price instruction.
func (p *Planner) WithComputeUnitPrice(microLamports uint64) *Planner {
	p.microLamports = microLamports
	return p
}

// WithComputeUnitLimit makes every plan carry a compute unit limit
// instruction. Plan.SizeComputeBudget sizes one from simulation instead.
func (p *Planner) WithComputeUnitLimit(units uint32) *Planner {
	p.computeUnits = units
	return p
}

func (p *Planner) finish(ctx context.Context, plan *Plan) (*Plan, error) {
	if err := plan.SetComputeBudget(p.computeUnits, p.microLamports); err != nil {
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.RecordPlanBuilt(string(plan.Kind))
	}
	p.logger.DebugContext(ctx, "built recovery plan",
		"kind", plan.Kind,
		"instructions", len(plan.Instructions),
		"fee_payer", plan.FeePayer.String(),
		"estimated_fee_lamports", plan.EstimatedFeeLamports,
	)
	return plan, nil
}

// SweepSOL moves the compromised wallet's balance, minus reserve, to safe.
func (p *Planner) SweepSOL(ctx context.Context, compromised, safe solanago.PublicKey, reserve uint64) (*Plan, error) {
	balance, err := p.chain.Balance(ctx, compromised)
	if err != nil {
		return nil, err
	}
	if balance <= reserve {
		return nil, fmt.Errorf("%w: balance %d lamports, reserve %d", ErrNothingToRecover, balance, reserve)
	}
	amount := balance - reserve

	ix, err := txcodec.FromSolana(system.NewTransferInstruction(amount, compromised, safe).Build())
	if err != nil {
		return nil, err
	}
	return p.finish(ctx, &Plan{
		Kind:         KindSweepSOL,
		Instructions: []txcodec.Instruction{ix},
		Signers:      []solanago.PublicKey{safe, compromised},
		FeePayer:     safe,
		Description:  fmt.Sprintf("transfer %s SOL from %s to %s", UIAmount(amount, 9), compromised, safe),
	})
}

// SweepToken moves a whole token balance to safe's associated token account,
// creating it if needed, and closes the emptied account so its rent goes to safe.
func (p *Planner) SweepToken(ctx context.Context, compromised, safe solanago.PublicKey, holding solana.TokenHolding) (*Plan, error) {
	return p.sweepToken(ctx, KindSweepToken, compromised, safe, holding)
}

// SweepNFT is SweepToken for a holding of exactly one indivisible token.
func (p *Planner) SweepNFT(ctx context.Context, compromised, safe solanago.PublicKey, holding solana.TokenHolding) (*Plan, error) {
	if !holding.IsNFT() {
		return nil, fmt.Errorf("holding %s is not an NFT (amount %d, decimals %d)", holding.Account, holding.Amount, holding.Decimals)
	}
	return p.sweepToken(ctx, KindSweepNFT, compromised, safe, holding)
}

func (p *Planner) sweepToken(ctx context.Context, kind Kind, compromised, safe solanago.PublicKey, holding solana.TokenHolding) (*Plan, error) {
	if !holding.Owner.Equals(compromised) {
		return nil, fmt.Errorf("%w: token account %s is owned by %s", ErrNotAuthority, holding.Account, holding.Owner)
	}
	program := holding.TokenProgram
	if program.IsZero() {
		program = solana.TokenProgramID
	}

	dest, err := AssociatedTokenAddress(safe, holding.Mint, program)
	if err != nil {
		return nil, err
	}
	exists, err := p.chain.AccountExists(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("failed to check destination token account: %w", err)
	}

	var ixs []txcodec.Instruction
	if !exists {
		create, err := CreateAssociatedTokenAccount(safe, safe, holding.Mint, program)
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, create)
	}

	if holding.Amount > 0 {
		transfer, err := txcodec.FromSolana(token.NewTransferCheckedInstruction(
			holding.Amount, holding.Decimals,
			holding.Account, holding.Mint, dest, compromised, nil,
		).Build())
		if err != nil {
			return nil, err
		}
		transfer.ProgramID = program
		ixs = append(ixs, transfer)
	}

	closeIx, err := txcodec.FromSolana(token.NewCloseAccountInstruction(holding.Account, safe, compromised, nil).Build())
	if err != nil {
		return nil, err
	}
	closeIx.ProgramID = program
	ixs = append(ixs, closeIx)

	return p.finish(ctx, &Plan{
		Kind:         kind,
		Instructions: ixs,
		Signers:      []solanago.PublicKey{safe, compromised},
		FeePayer:     safe,
		Description: fmt.Sprintf("move %s of mint %s to %s and close %s",
			UIAmount(holding.Amount, holding.Decimals), holding.Mint, dest, holding.Account),
	})
}

// RecoverStake withdraws an inactive stake account to safe, or deactivates an
// active one and hands both authorities to safe so it can withdraw later.
func (p *Planner) RecoverStake(ctx context.Context, compromised, safe solanago.PublicKey, account solana.StakeAccount) (*Plan, error) {
	isStaker := account.Staker.Equals(compromised)
	isWithdrawer := account.Withdrawer.Equals(compromised)
	if !isStaker && !isWithdrawer {
		return nil, fmt.Errorf("%w: stake account %s", ErrNotAuthority, account.Address)
	}
	if account.Lamports == 0 {
		return nil, fmt.Errorf("%w: stake account %s is empty", ErrNothingToRecover, account.Address)
	}

	epoch, err := p.chain.Epoch(ctx)
	if err != nil {
		return nil, err
	}

	var ixs []txcodec.Instruction
	var description string
	if isWithdrawer && account.Withdrawable(epoch) {
		ix, err := txcodec.FromSolana(stake.NewWithdrawInstruction(account.Lamports, account.Address, safe, compromised).Build())
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, ix)
		description = fmt.Sprintf("withdraw %s SOL from stake account %s to %s", UIAmount(account.Lamports, 9), account.Address, safe)
	} else {
		if isStaker && account.State == solana.StakeStateDelegated && !account.Deactivating() {
			ix, err := txcodec.FromSolana(stake.NewDeactivateInstruction(account.Address, compromised).Build())
			if err != nil {
				return nil, err
			}
			ixs = append(ixs, ix)
		}
		if isStaker {
			ixs = append(ixs, AuthorizeStake(account.Address, compromised, safe, StakeAuthorizeStaker))
		}
		if isWithdrawer {
			ixs = append(ixs, AuthorizeStake(account.Address, compromised, safe, StakeAuthorizeWithdrawer))
		}
		description = fmt.Sprintf("deactivate stake account %s and hand its authorities to %s", account.Address, safe)
	}

	return p.finish(ctx, &Plan{
		Kind:         KindRecoverStake,
		Instructions: ixs,
		Signers:      []solanago.PublicKey{safe, compromised},
		FeePayer:     safe,
		Description:  description,
	})
}

// Brick allocates space bytes of data on the compromised wallet. An account
// holding data can no longer pay transaction fees, so an attacker cannot use
// the wallet as a fee payer. The safe wallet tops the account up to the rent
// exempt minimum; any balance above it is swept to safe first.
func (p *Planner) Brick(ctx context.Context, compromised, safe solanago.PublicKey, space uint64) (*Plan, error) {
	if space == 0 || space > MaxAccountSpace {
		return nil, fmt.Errorf("space must be between 1 and %d bytes, got %d", MaxAccountSpace, space)
	}
	rent, err := p.chain.RentExemption(ctx, space)
	if err != nil {
		return nil, err
	}
	balance, err := p.chain.Balance(ctx, compromised)
	if err != nil {
		return nil, err
	}

	var built []solanago.Instruction
	switch {
	case balance > rent:
		built = append(built, system.NewTransferInstruction(balance-rent, compromised, safe).Build())
	case balance < rent:
		built = append(built, system.NewTransferInstruction(rent-balance, safe, compromised).Build())
	}
	built = append(built, system.NewAllocateInstruction(space, compromised).Build())

	ixs := make([]txcodec.Instruction, 0, len(built))
	for _, b := range built {
		ix, err := txcodec.FromSolana(b)
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, ix)
	}

	return p.finish(ctx, &Plan{
		Kind:         KindBrick,
		Instructions: ixs,
		Signers:      []solanago.PublicKey{safe, compromised},
		FeePayer:     safe,
		Description:  fmt.Sprintf("allocate %d bytes on %s (rent %d lamports)", space, compromised, rent),
	})
}

// AssociatedTokenAddress derives the associated token account of wallet for
// mint under tokenProgram (Token or Token-2022).
func AssociatedTokenAddress(wallet, mint, tokenProgram solanago.PublicKey) (solanago.PublicKey, error) {
	addr, _, err := solanago.FindProgramAddress([][]byte{
		wallet[:],
		tokenProgram[:],
		mint[:],
	}, solanago.SPLAssociatedTokenAccountProgramID)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("failed to derive associated token account: %w", err)
	}
	return addr, nil
}

// ataCreateIdempotent is the associated token account program's CreateIdempotent discriminator.
const ataCreateIdempotent = 1

// CreateAssociatedTokenAccount returns an instruction creating wallet's
// associated token account for mint, paid by payer. Token-2022 accounts use
// CreateIdempotent because the builder only knows the original token program.
func CreateAssociatedTokenAccount(payer, wallet, mint, tokenProgram solanago.PublicKey) (txcodec.Instruction, error) {
	if tokenProgram.Equals(solana.TokenProgramID) {
		return txcodec.FromSolana(associatedtokenaccount.NewCreateInstruction(payer, wallet, mint).Build())
	}
	ata, err := AssociatedTokenAddress(wallet, mint, tokenProgram)
	if err != nil {
		return txcodec.Instruction{}, err
	}
	return txcodec.Instruction{
		ProgramID: solanago.SPLAssociatedTokenAccountProgramID,
		Accounts: []txcodec.AccountMeta{
			{PublicKey: payer, IsSigner: true, IsWritable: true},
			{PublicKey: ata, IsWritable: true},
			{PublicKey: wallet},
			{PublicKey: mint},
			{PublicKey: solanago.SystemProgramID},
			{PublicKey: tokenProgram},
		},
		Data: []byte{ataCreateIdempotent},
	}, nil
}

// StakeAuthorize selects which stake authority an Authorize instruction changes.
type StakeAuthorize uint32

const (
	StakeAuthorizeStaker     StakeAuthorize = 0
	StakeAuthorizeWithdrawer StakeAuthorize = 1
)

const stakeInstructionAuthorize = 1

// AuthorizeStake returns a stake program Authorize instruction moving role
// from authority to newAuthority.
func AuthorizeStake(stakeAccount, authority, newAuthority solanago.PublicKey, role StakeAuthorize) txcodec.Instruction {
	data := make([]byte, 4+solanago.PublicKeyLength+4)
	binary.LittleEndian.PutUint32(data[0:4], stakeInstructionAuthorize)
	copy(data[4:36], newAuthority[:])
	binary.LittleEndian.PutUint32(data[36:40], uint32(role))
	return txcodec.Instruction{
		ProgramID: solanago.StakeProgramID,
		Accounts: []txcodec.AccountMeta{
			{PublicKey: stakeAccount, IsWritable: true},
			{PublicKey: solanago.SysVarClockPubkey},
			{PublicKey: authority, IsSigner: true},
		},
		Data: data,
	}
}
