package client

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountMeta is an account referenced by an instruction.
type AccountMeta struct {
	PublicKey  string `json:"pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

// Instruction is a decompiled instruction with its accounts fully resolved.
type Instruction struct {
	ProgramID string        `json:"program_id"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      []byte        `json:"data"`
}

// DecodedTransaction is a transaction flattened to instructions.
type DecodedTransaction struct {
	Version             string              `json:"version"`
	Encoding            string              `json:"encoding"`
	FeePayer            string              `json:"fee_payer"`
	RecentBlockhash     string              `json:"recent_blockhash"`
	Instructions        []Instruction       `json:"instructions"`
	Signatures          []string            `json:"signatures"`
	LookupTables        map[string][]string `json:"lookup_tables,omitempty"`
	NeedsExternalSigner bool                `json:"needs_external_signer"`
	MessageOnly         bool                `json:"message_only"`
}

// DecodeRequest asks the server to decompile a payload, optionally moving
// the fee onto FeePayer.
type DecodeRequest struct {
	Payload        string   `json:"payload"`
	FeePayer       string   `json:"fee_payer,omitempty"`
	DefaultSigners []string `json:"default_signers,omitempty"`
	// ComputeBudget sizes a compute unit limit from simulation. PriorityFee
	// implies it and adds an estimated unit price.
	ComputeBudget bool `json:"compute_budget,omitempty"`
	PriorityFee   bool `json:"priority_fee,omitempty"`
}

// DecodeResponse is the decompiled payload.
type DecodeResponse struct {
	Transaction     *DecodedTransaction `json:"transaction"`
	ProgramIDs      []string            `json:"program_ids"`
	ExternalSigners []string            `json:"external_signers"`
	// Encoded is the rewritten transaction, set when FeePayer or a compute
	// budget was requested.
	Encoded                  string `json:"encoded,omitempty"`
	ComputeUnitLimit         uint32 `json:"compute_unit_limit,omitempty"`
	PriorityFeeMicroLamports uint64 `json:"priority_fee_micro_lamports,omitempty"`
}

// AccountState is an account before or after a simulation.
type AccountState struct {
	Exists      bool    `json:"exists"`
	Lamports    uint64  `json:"lamports"`
	Owner       string  `json:"owner"`
	DataLen     int     `json:"data_len"`
	TokenMint   *string `json:"token_mint,omitempty"`
	TokenAmount *uint64 `json:"token_amount,omitempty"`
}

// SimulationRow is one account's change in a simulation.
type SimulationRow struct {
	Address       string       `json:"address"`
	Before        AccountState `json:"before"`
	After         AccountState `json:"after"`
	LamportsDelta int64        `json:"lamports_delta"`
	TokenDelta    *int64       `json:"token_delta,omitempty"`
}

// SimulationResult is the outcome of a dry run.
type SimulationResult struct {
	Err           interface{}     `json:"err,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	Logs          []string        `json:"logs"`
	UnitsConsumed uint64          `json:"units_consumed"`
	Rows          []SimulationRow `json:"rows"`
}

// SimulateResponse carries the result and a rendered balance-change table.
type SimulateResponse struct {
	Succeeded bool              `json:"succeeded"`
	Result    *SimulationResult `json:"result"`
	Table     string            `json:"table"`
}

// PlanRequest describes a recovery transaction to build.
type PlanRequest struct {
	Kind         string `json:"kind"`
	Compromised  string `json:"compromised"`
	Safe         string `json:"safe"`
	Mint         string `json:"mint,omitempty"`
	StakeAccount string `json:"stake_account,omitempty"`
	Space        uint64 `json:"space,omitempty"`
	Reserve      uint64 `json:"reserve,omitempty"`
	PriorityFee  bool   `json:"priority_fee,omitempty"`
}

// Plan is a recovery transaction before signing.
type Plan struct {
	Kind                 string        `json:"kind"`
	Instructions         []Instruction `json:"instructions"`
	Signers              []string      `json:"signers"`
	FeePayer             string        `json:"fee_payer"`
	Description          string        `json:"description"`
	EstimatedFeeLamports uint64        `json:"estimated_fee_lamports"`
}

// PlanResponse holds the plan and its unsigned base64 transaction.
type PlanResponse struct {
	Plan                     *Plan  `json:"plan"`
	Transaction              string `json:"transaction"`
	Blockhash                string `json:"blockhash"`
	LastValidBlockHeight     uint64 `json:"last_valid_block_height"`
	PriorityFeeMicroLamports uint64 `json:"priority_fee_micro_lamports,omitempty"`
	ComputeUnitLimit         uint32 `json:"compute_unit_limit,omitempty"`
}

// TokenHolding is a token account owned by a wallet.
type TokenHolding struct {
	Account      string `json:"account"`
	Owner        string `json:"owner"`
	Mint         string `json:"mint"`
	TokenProgram string `json:"token_program"`
	Amount       uint64 `json:"amount"`
	Decimals     uint8  `json:"decimals"`
	Lamports     uint64 `json:"lamports"`
}

// UIAmount is Amount scaled by Decimals.
func (h TokenHolding) UIAmount() decimal.Decimal {
	return decimal.NewFromUint64(h.Amount).Shift(-int32(h.Decimals))
}

// StakeAccount is a stake account the wallet has authority over.
type StakeAccount struct {
	Address           string  `json:"address"`
	Lamports          uint64  `json:"lamports"`
	State             string  `json:"state"`
	RentExemptReserve uint64  `json:"rent_exempt_reserve"`
	Staker            string  `json:"staker"`
	Withdrawer        string  `json:"withdrawer"`
	Voter             *string `json:"voter,omitempty"`
	DelegatedStake    uint64  `json:"delegated_stake"`
	DeactivationEpoch uint64  `json:"deactivation_epoch"`
}

// Portfolio is everything a wallet holds, optionally valued in USD.
type Portfolio struct {
	Wallet   string                     `json:"wallet"`
	Lamports uint64                     `json:"lamports"`
	Tokens   []TokenHolding             `json:"tokens"`
	NFTs     []TokenHolding             `json:"nfts"`
	Stake    []StakeAccount             `json:"stake"`
	Values   map[string]decimal.Decimal `json:"values_usd,omitempty"`
	TotalUSD *decimal.Decimal           `json:"total_usd,omitempty"`
}

// Transaction is a transaction from a wallet's history.
type Transaction struct {
	Signature   string    `json:"signature"`
	Slot        uint64    `json:"slot"`
	BlockTime   time.Time `json:"block_time"`
	Amount      uint64    `json:"amount"`
	TokenMint   *string   `json:"token_mint,omitempty"`
	Memo        *string   `json:"memo,omitempty"`
	FromAddress *string   `json:"from_address,omitempty"`
	ToAddress   *string   `json:"to_address,omitempty"`
	Err         *string   `json:"err,omitempty"`
	Status      string    `json:"confirmation_status,omitempty"`
}

// BroadcastRequest submits a signed transaction for durable broadcast.
type BroadcastRequest struct {
	Payload              string `json:"payload"`
	Kind                 string `json:"kind,omitempty"`
	Compromised          string `json:"compromised"`
	Safe                 string `json:"safe"`
	Network              string `json:"network,omitempty"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height,omitempty"`
	FeeLamports          uint64 `json:"fee_lamports,omitempty"`
	SkipSimulation       bool   `json:"skip_simulation,omitempty"`
}

// Broadcast identifies the workflow broadcasting a transaction.
type Broadcast struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id,omitempty"`
	Signature  string `json:"signature"`
	Network    string `json:"network"`
	Status     string `json:"status"`
}

// BroadcastResult is the final outcome of a broadcast.
type BroadcastResult struct {
	Signature  string    `json:"signature"`
	Status     string    `json:"status"`
	Slot       *uint64   `json:"slot,omitempty"`
	Attempts   int       `json:"attempts"`
	Error      *string   `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// BroadcastStatus is a broadcast workflow's execution state.
type BroadcastStatus struct {
	WorkflowID string           `json:"workflow_id"`
	RunID      string           `json:"run_id,omitempty"`
	Status     string           `json:"status"`
	Result     *BroadcastResult `json:"result,omitempty"`
	Error      *string          `json:"error,omitempty"`
}

// Done reports whether the workflow has stopped running.
func (s *BroadcastStatus) Done() bool {
	return s.Status != "" && s.Status != "Running"
}

// Rescue is a journaled broadcast.
type Rescue struct {
	Signature         string    `json:"signature"`
	Network           string    `json:"network"`
	Kind              string    `json:"kind"`
	CompromisedWallet string    `json:"compromised_wallet"`
	SafeWallet        string    `json:"safe_wallet"`
	Status            string    `json:"status"`
	Slot              *uint64   `json:"slot,omitempty"`
	Attempts          int       `json:"attempts"`
	Error             *string   `json:"error,omitempty"`
	WorkflowID        *string   `json:"workflow_id,omitempty"`
	FeeLamports       uint64    `json:"fee_lamports"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// RescueEvent is a rescue as streamed over server-sent events.
type RescueEvent struct {
	Signature         string    `json:"signature"`
	Network           string    `json:"network"`
	Slot              *uint64   `json:"slot,omitempty"`
	CompromisedWallet string    `json:"compromised_wallet"`
	SafeWallet        string    `json:"safe_wallet"`
	Kind              string    `json:"kind"`
	Status            string    `json:"status"`
	Attempts          int       `json:"attempts"`
	Error             *string   `json:"error,omitempty"`
	FeeLamports       uint64    `json:"fee_lamports"`
	WorkflowID        *string   `json:"workflow_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	PublishedAt       time.Time `json:"published_at"`
}
