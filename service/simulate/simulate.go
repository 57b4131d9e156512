// Package simulate dry-runs transactions and reports how each watched
// account would change.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/brojonat/rescuer/service/metrics"
	"github.com/brojonat/rescuer/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPC is the subset of the Solana client a Simulator needs.
type RPC interface {
	Accounts(ctx context.Context, addresses []solanago.PublicKey) ([]*rpc.Account, error)
	Simulate(ctx context.Context, tx *solanago.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResult, error)
}

// AccountState is an account snapshot before or after the simulated transaction.
type AccountState struct {
	Exists      bool                `json:"exists"`
	Lamports    uint64              `json:"lamports"`
	Owner       solanago.PublicKey  `json:"owner"`
	DataLen     int                 `json:"data_len"`
	TokenMint   *solanago.PublicKey `json:"token_mint,omitempty"`
	TokenAmount *uint64             `json:"token_amount,omitempty"`
}

// Row is the change of one account.
type Row struct {
	Address       solanago.PublicKey `json:"address"`
	Before        AccountState       `json:"before"`
	After         AccountState       `json:"after"`
	LamportsDelta int64              `json:"lamports_delta"`
	TokenDelta    *int64             `json:"token_delta,omitempty"`
}

// Changed reports whether anything observable differs between Before and After.
func (r Row) Changed() bool {
	return r.LamportsDelta != 0 ||
		(r.TokenDelta != nil && *r.TokenDelta != 0) ||
		r.Before.Exists != r.After.Exists ||
		r.Before.DataLen != r.After.DataLen ||
		!r.Before.Owner.Equals(r.After.Owner)
}

// Result is the outcome of a simulation.
type Result struct {
	Err           interface{} `json:"err,omitempty"`
	ErrorKind     ErrorKind   `json:"error_kind,omitempty"`
	Logs          []string    `json:"logs"`
	UnitsConsumed uint64      `json:"units_consumed"`
	Rows          []Row       `json:"rows"`
}

// Succeeded reports whether the simulated transaction executed without error.
func (r *Result) Succeeded() bool {
	return r.Err == nil
}

// Simulator runs transactions against a node without landing them.
type Simulator struct {
	rpc     RPC
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSimulator creates a Simulator. If m is nil, no metrics are recorded.
func NewSimulator(r RPC, m *metrics.Metrics, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{rpc: r, metrics: m, logger: logger}
}

// Run fetches the current state of addresses, simulates tx and diffs the
// post-state the node reports against it. Signatures are not verified and the
// blockhash is replaced, so unsigned transactions can be simulated.
func (s *Simulator) Run(ctx context.Context, tx *solanago.Transaction, addresses []solanago.PublicKey) (*Result, error) {
	before, err := s.rpc.Accounts(ctx, addresses)
	if err != nil {
		s.record("rpc_error", 0, 0)
		return nil, fmt.Errorf("failed to load pre-state: %w", err)
	}

	sim, err := s.rpc.Simulate(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:              false,
		ReplaceRecentBlockhash: true,
		Commitment:             rpc.CommitmentConfirmed,
		Accounts: &rpc.SimulateTransactionAccountsOpts{
			Encoding:  solanago.EncodingBase64,
			Addresses: addresses,
		},
	})
	if err != nil {
		s.record("rpc_error", 0, 0)
		return nil, err
	}
	if sim == nil {
		s.record("rpc_error", 0, 0)
		return nil, errors.New("empty simulation response")
	}

	res := &Result{
		Err:  sim.Err,
		Logs: sim.Logs,
	}
	if res.Logs == nil {
		res.Logs = []string{}
	}
	if sim.UnitsConsumed != nil {
		res.UnitsConsumed = *sim.UnitsConsumed
	}
	if sim.Err != nil {
		res.ErrorKind = Classify(sim.Err)
	}

	// A failed simulation reports no post-state.
	res.Rows = make([]Row, 0, len(addresses))
	if sim.Err == nil {
		for i, addr := range addresses {
			var pre, post *rpc.Account
			if i < len(before) {
				pre = before[i]
			}
			if i < len(sim.Accounts) {
				post = sim.Accounts[i]
			}
			res.Rows = append(res.Rows, diff(addr, pre, post))
		}
	}

	status := "success"
	if sim.Err != nil {
		status = string(res.ErrorKind)
	}
	s.record(status, res.UnitsConsumed, len(res.Rows))
	s.logger.DebugContext(ctx, "simulated transaction",
		"status", status,
		"units_consumed", res.UnitsConsumed,
		"rows", len(res.Rows),
	)
	return res, nil
}

func (s *Simulator) record(status string, units uint64, rows int) {
	if s.metrics != nil {
		s.metrics.RecordSimulation(status, units, rows)
	}
}

func diff(addr solanago.PublicKey, pre, post *rpc.Account) Row {
	row := Row{
		Address: addr,
		Before:  stateOf(pre),
		After:   stateOf(post),
	}
	row.LamportsDelta = delta(row.Before.Lamports, row.After.Lamports)

	if row.Before.TokenAmount != nil || row.After.TokenAmount != nil {
		var b, a uint64
		if row.Before.TokenAmount != nil {
			b = *row.Before.TokenAmount
		}
		if row.After.TokenAmount != nil {
			a = *row.After.TokenAmount
		}
		d := delta(b, a)
		row.TokenDelta = &d
	}
	return row
}

func stateOf(acct *rpc.Account) AccountState {
	if acct == nil {
		return AccountState{}
	}
	data := acct.Data.GetBinary()
	st := AccountState{
		Exists:   acct.Lamports > 0 || len(data) > 0,
		Lamports: acct.Lamports,
		Owner:    acct.Owner,
		DataLen:  len(data),
	}
	if isTokenProgram(acct.Owner) {
		if tok, err := solana.ParseTokenAccount(data); err == nil {
			mint, amount := tok.Mint, tok.Amount
			st.TokenMint = &mint
			st.TokenAmount = &amount
		}
	}
	return st
}

func isTokenProgram(owner solanago.PublicKey) bool {
	return owner.Equals(solana.TokenProgramID) || owner.Equals(solana.Token2022ProgramID)
}

// delta returns after-before, saturated to the int64 range.
func delta(before, after uint64) int64 {
	if after >= before {
		d := after - before
		if d > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(d)
	}
	d := before - after
	if d > math.MaxInt64 {
		return math.MinInt64
	}
	return -int64(d)
}
