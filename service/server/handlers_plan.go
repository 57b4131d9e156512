package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/brojonat/rescuer/service/fees"
	"github.com/brojonat/rescuer/service/metrics"
	"github.com/brojonat/rescuer/service/recovery"
	"github.com/brojonat/rescuer/service/simulate"
	"github.com/brojonat/rescuer/service/solana"
	"github.com/brojonat/rescuer/service/txcodec"
	solanago "github.com/gagliardetto/solana-go"
)

// PlanChain is the on-chain state plan building reads.
type PlanChain interface {
	recovery.Chain
	recovery.Holdings
	LatestBlockhash(ctx context.Context) (*solana.Blockhash, error)
}

// FeeEstimator prices compute units from recent prioritization fees.
type FeeEstimator interface {
	Estimate(ctx context.Context, writable []solanago.PublicKey) (uint64, error)
}

type planRequest struct {
	Kind         string `json:"kind"`
	Compromised  string `json:"compromised"`
	Safe         string `json:"safe"`
	Mint         string `json:"mint,omitempty"`
	StakeAccount string `json:"stake_account,omitempty"`
	Space        uint64 `json:"space,omitempty"`
	Reserve      uint64 `json:"reserve,omitempty"`
	// PriorityFee adds a compute unit price estimated from recent fees and a
	// compute unit limit sized by simulating the plan.
	PriorityFee bool `json:"priority_fee,omitempty"`
}

type planResponse struct {
	Plan                     *recovery.Plan `json:"plan"`
	Transaction              string         `json:"transaction"` // unsigned, base64
	Blockhash                string         `json:"blockhash"`
	LastValidBlockHeight     uint64         `json:"last_valid_block_height"`
	PriorityFeeMicroLamports uint64         `json:"priority_fee_micro_lamports,omitempty"`
	// ComputeUnitLimit is set when the plan carries a SetComputeUnitLimit.
	ComputeUnitLimit uint32           `json:"compute_unit_limit,omitempty"`
	Simulation       *simulate.Result `json:"simulation,omitempty"`
}

func computeUnitLimit(plan *recovery.Plan) uint32 {
	if b := fees.ReadBudget(plan.Instructions); b.HasLimit {
		return b.Units
	}
	return 0
}

func (req planRequest) toRecovery() (recovery.Request, error) {
	out := recovery.Request{
		Kind:    recovery.Kind(req.Kind),
		Space:   req.Space,
		Reserve: req.Reserve,
	}
	var err error
	if out.Compromised, err = parseAddress("compromised", req.Compromised); err != nil {
		return out, err
	}
	if out.Safe, err = parseAddress("safe", req.Safe); err != nil {
		return out, err
	}
	if out.Mint, err = parseOptionalAddress("mint", req.Mint); err != nil {
		return out, err
	}
	if out.StakeAccount, err = parseOptionalAddress("stake_account", req.StakeAccount); err != nil {
		return out, err
	}
	if err := out.Validate(); err != nil {
		return out, errorf("%s", err.Error())
	}
	return out, nil
}

// planStatus maps planner errors to HTTP status codes.
func planStatus(err error) int {
	switch {
	case errors.Is(err, recovery.ErrHoldingNotFound):
		return http.StatusNotFound
	case errors.Is(err, recovery.ErrNothingToRecover), errors.Is(err, recovery.ErrNotAuthority):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// handleCreatePlan returns a handler that builds an unsigned recovery
// transaction paid for by the safe wallet.
// POST /api/v1/plans
func handleCreatePlan(chain PlanChain, estimator FeeEstimator, simulator Simulator, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body planRequest
		if !decodeBody(w, r, &body) {
			return
		}
		req, err := body.toRecovery()
		if err != nil {
			logger.Debug("invalid plan request", "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		planner := recovery.NewPlanner(chain, m, logger)
		plan, err := planner.Plan(r.Context(), chain, req)
		if err != nil {
			logger.Info("failed to build plan", "kind", req.Kind, "compromised", req.Compromised.String(), "error", err)
			writeError(w, err.Error(), planStatus(err))
			return
		}

		var priority uint64
		var sim *simulate.Result
		if body.PriorityFee {
			if estimator != nil {
				dt := plan.Transaction(solanago.Hash{})
				priority, err = estimator.Estimate(r.Context(), dt.WritableAccounts())
				if err != nil {
					logger.Warn("failed to estimate priority fee", "error", err)
					writeError(w, "failed to estimate priority fee: "+err.Error(), http.StatusBadGateway)
					return
				}
			}
			if simulator != nil {
				sim, err = plan.SizeComputeBudget(r.Context(), simulator, solanago.Hash{}, priority)
				switch {
				case errors.Is(err, fees.ErrSimulationFailed):
					// Leave the limit implicit; the caller sees why in the simulation.
					logger.Info("plan simulation failed, compute unit limit not sized", "kind", plan.Kind, "error", err)
				case err != nil:
					logger.Warn("failed to size compute budget", "error", err)
					writeError(w, "failed to size compute budget: "+err.Error(), http.StatusBadGateway)
					return
				}
			}
			if !fees.ReadBudget(plan.Instructions).HasPrice {
				if err := plan.SetComputeBudget(0, priority); err != nil {
					writeError(w, err.Error(), http.StatusInternalServerError)
					return
				}
			}
		}

		bh, err := chain.LatestBlockhash(r.Context())
		if err != nil {
			logger.Error("failed to get latest blockhash", "error", err)
			writeError(w, "failed to get latest blockhash: "+err.Error(), http.StatusBadGateway)
			return
		}
		encoded, err := plan.Transaction(bh.Hash).Encode(txcodec.EncodingBase64)
		if err != nil {
			logger.Error("failed to encode plan", "kind", plan.Kind, "error", err)
			writeError(w, "failed to encode transaction: "+err.Error(), http.StatusInternalServerError)
			return
		}

		logger.Info("plan built",
			"kind", plan.Kind,
			"compromised", req.Compromised.String(),
			"safe", req.Safe.String(),
			"instructions", len(plan.Instructions),
			"estimated_fee_lamports", plan.EstimatedFeeLamports,
		)
		writeJSON(w, planResponse{
			Plan:                     plan,
			Transaction:              encoded,
			Blockhash:                bh.Hash.String(),
			LastValidBlockHeight:     bh.LastValidBlockHeight,
			PriorityFeeMicroLamports: priority,
			ComputeUnitLimit:         computeUnitLimit(plan),
			Simulation:               sim,
		}, http.StatusOK)
	})
}
