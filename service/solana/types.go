package solana

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Transaction represents a parsed Solana transaction in a wallet's history.
// This is our domain model, independent of the RPC response format.
type Transaction struct {
	Signature   string    `json:"signature"`
	Slot        uint64    `json:"slot"`
	BlockTime   time.Time `json:"block_time"`
	Amount      uint64    `json:"amount"`
	TokenMint   *string   `json:"token_mint,omitempty"`   // nil for native SOL transfers
	Memo        *string   `json:"memo,omitempty"`         // parsed from transaction instructions
	FromAddress *string   `json:"from_address,omitempty"` // source wallet (sender), nil if cannot be determined
	ToAddress   *string   `json:"to_address,omitempty"`   // destination of a SOL transfer
	Err         *string   `json:"err,omitempty"`          // nil if transaction succeeded
	Status      string    `json:"confirmation_status,omitempty"`
}

// TokenHolding is one SPL token account owned by a wallet.
type TokenHolding struct {
	Account      solana.PublicKey `json:"account"`
	Owner        solana.PublicKey `json:"owner"`
	Mint         solana.PublicKey `json:"mint"`
	TokenProgram solana.PublicKey `json:"token_program"`
	Amount       uint64           `json:"amount"`
	Decimals     uint8            `json:"decimals"`
	Lamports     uint64           `json:"lamports"`
}

// UIAmount is Amount scaled down by Decimals.
func (h TokenHolding) UIAmount() decimal.Decimal {
	return decimal.NewFromUint64(h.Amount).Shift(-int32(h.Decimals))
}

// IsNFT reports whether the holding looks like a non-fungible token.
func (h TokenHolding) IsNFT() bool {
	return h.Decimals == 0 && h.Amount == 1
}

// StakeState is the on-chain state tag of a stake account.
type StakeState string

const (
	StakeStateUninitialized StakeState = "uninitialized"
	StakeStateInitialized   StakeState = "initialized"
	StakeStateDelegated     StakeState = "delegated"
	StakeStateRewardsPool   StakeState = "rewards_pool"
)

// StakeAccount is a stake account the wallet has authority over.
type StakeAccount struct {
	Address             solana.PublicKey  `json:"address"`
	Lamports            uint64            `json:"lamports"`
	State               StakeState        `json:"state"`
	RentExemptReserve   uint64            `json:"rent_exempt_reserve"`
	Staker              solana.PublicKey  `json:"staker"`
	Withdrawer          solana.PublicKey  `json:"withdrawer"`
	LockupUnixTimestamp int64             `json:"lockup_unix_timestamp"`
	LockupEpoch         uint64            `json:"lockup_epoch"`
	LockupCustodian     solana.PublicKey  `json:"lockup_custodian"`
	Voter               *solana.PublicKey `json:"voter,omitempty"`
	DelegatedStake      uint64            `json:"delegated_stake"`
	ActivationEpoch     uint64            `json:"activation_epoch"`
	DeactivationEpoch   uint64            `json:"deactivation_epoch"`
}

// Deactivating reports whether a deactivation has been requested.
func (s StakeAccount) Deactivating() bool {
	return s.State == StakeStateDelegated && s.DeactivationEpoch != maxEpoch
}

// Withdrawable reports whether all lamports can be withdrawn without a
// further deactivation step. currentEpoch must be the cluster's epoch.
func (s StakeAccount) Withdrawable(currentEpoch uint64) bool {
	switch s.State {
	case StakeStateInitialized, StakeStateUninitialized:
		return true
	case StakeStateDelegated:
		return s.Deactivating() && s.DeactivationEpoch < currentEpoch
	default:
		return false
	}
}

// Portfolio is everything a wallet holds.
type Portfolio struct {
	Wallet   solana.PublicKey `json:"wallet"`
	Lamports uint64           `json:"lamports"`
	Tokens   []TokenHolding   `json:"tokens"`
	NFTs     []TokenHolding   `json:"nfts"`
	Stake    []StakeAccount   `json:"stake"`
}

// Blockhash is a recent blockhash with its expiry height.
type Blockhash struct {
	Hash                 solana.Hash `json:"hash"`
	LastValidBlockHeight uint64      `json:"last_valid_block_height"`
}

// SignatureStatus is the confirmation status of a sent transaction.
type SignatureStatus struct {
	Signature          solana.Signature `json:"signature"`
	Found              bool             `json:"found"`
	Slot               uint64           `json:"slot"`
	Confirmations      *uint64          `json:"confirmations,omitempty"`
	ConfirmationStatus string           `json:"confirmation_status"`
	Err                interface{}      `json:"err,omitempty"`
}
