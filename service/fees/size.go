package fees

import (
	"context"
	"errors"
	"fmt"

	"github.com/brojonat/rescuer/service/simulate"
	"github.com/brojonat/rescuer/service/txcodec"
	"github.com/gagliardetto/solana-go"
)

// ErrSimulationFailed is returned when the sizing simulation reports an error.
var ErrSimulationFailed = errors.New("simulation failed")

// UnitSimulator dry-runs a transaction and reports the units it consumed.
type UnitSimulator interface {
	Run(ctx context.Context, tx *solana.Transaction, addresses []solana.PublicKey) (*simulate.Result, error)
}

// SizeComputeBudget simulates dt under MaxComputeUnits, then sets its compute
// unit limit to UnitsFromSimulation of what the run consumed. A non-zero
// microLamports sets the unit price as well. dt is only patched when the
// simulation succeeds; the result is returned either way.
func SizeComputeBudget(ctx context.Context, sim UnitSimulator, dt *txcodec.DecodedTransaction, microLamports uint64) (*simulate.Result, error) {
	trialIxs, err := EnsureComputeBudget(dt.Instructions, MaxComputeUnits, microLamports)
	if err != nil {
		return nil, err
	}
	trial := *dt
	trial.Instructions = trialIxs
	tx, err := trial.Build()
	if err != nil {
		return nil, err
	}
	// Simulation skips signature checks but still wants one slot per signer.
	if required := int(tx.Message.Header.NumRequiredSignatures); len(tx.Signatures) < required {
		sigs := make([]solana.Signature, required)
		copy(sigs, tx.Signatures)
		tx.Signatures = sigs
	}

	res, err := sim.Run(ctx, tx, trial.WritableAccounts())
	if err != nil {
		return nil, fmt.Errorf("failed to simulate for compute units: %w", err)
	}
	if !res.Succeeded() {
		return res, fmt.Errorf("%w: %s", ErrSimulationFailed, res.ErrorKind)
	}

	ixs, err := EnsureComputeBudget(dt.Instructions, UnitsFromSimulation(res.UnitsConsumed), microLamports)
	if err != nil {
		return nil, err
	}
	dt.Instructions = ixs
	return res, nil
}
