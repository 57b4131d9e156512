package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/brojonat/rescuer/service/fees"
	"github.com/brojonat/rescuer/service/simulate"
	"github.com/brojonat/rescuer/service/txcodec"
	solanago "github.com/gagliardetto/solana-go"
)

// Decoder decodes transaction payloads.
type Decoder interface {
	Decode(ctx context.Context, payload string, feePayer solanago.PublicKey, defaultSigners []solanago.PublicKey) (*txcodec.DecodedTransaction, error)
}

// Simulator dry-runs a transaction and diffs the touched accounts.
type Simulator interface {
	Run(ctx context.Context, tx *solanago.Transaction, addresses []solanago.PublicKey) (*simulate.Result, error)
}

type decodeRequest struct {
	Payload        string   `json:"payload"`
	FeePayer       string   `json:"fee_payer,omitempty"`
	DefaultSigners []string `json:"default_signers,omitempty"`
	// ComputeBudget simulates the payload and sets its compute unit limit
	// from the units consumed. PriorityFee implies it and sets a unit price.
	ComputeBudget bool `json:"compute_budget,omitempty"`
	PriorityFee   bool `json:"priority_fee,omitempty"`
}

type decodeResponse struct {
	Transaction     *txcodec.DecodedTransaction `json:"transaction"`
	ProgramIDs      []solanago.PublicKey        `json:"program_ids"`
	ExternalSigners []solanago.PublicKey        `json:"external_signers"`
	// Encoded is the rebuilt transaction in the payload's encoding. It is
	// only set when the fee payer or compute budget was rewritten.
	Encoded                  string           `json:"encoded,omitempty"`
	ComputeUnitLimit         uint32           `json:"compute_unit_limit,omitempty"`
	PriorityFeeMicroLamports uint64           `json:"priority_fee_micro_lamports,omitempty"`
	Simulation               *simulate.Result `json:"simulation,omitempty"`
}

// decodeStatus maps decoder errors to HTTP status codes.
func decodeStatus(err error) int {
	switch {
	case errors.Is(err, txcodec.ErrLookupTableNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, txcodec.ErrPayloadTooShort),
		errors.Is(err, txcodec.ErrUnsupportedVersion),
		errors.Is(err, txcodec.ErrMalformedPayload),
		errors.Is(err, txcodec.ErrIndexOutOfRange):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// handleDecode returns a handler that decompiles a transaction payload.
// POST /api/v1/decode
func handleDecode(decoder Decoder, estimator FeeEstimator, simulator Simulator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req decodeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := validatePayload(req.Payload); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		feePayer, err := parseOptionalAddress("fee_payer", req.FeePayer)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		signers, err := parseAddresses("default_signers", req.DefaultSigners)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		dt, err := decoder.Decode(r.Context(), req.Payload, feePayer, signers)
		if err != nil {
			logger.Debug("failed to decode payload", "error", err)
			writeError(w, err.Error(), decodeStatus(err))
			return
		}

		rewritten := !feePayer.IsZero()
		resp := decodeResponse{Transaction: dt}
		if req.ComputeBudget || req.PriorityFee {
			if req.PriorityFee && estimator != nil {
				resp.PriorityFeeMicroLamports, err = estimator.Estimate(r.Context(), dt.WritableAccounts())
				if err != nil {
					logger.Warn("failed to estimate priority fee", "error", err)
					writeError(w, "failed to estimate priority fee: "+err.Error(), http.StatusBadGateway)
					return
				}
			}
			if simulator == nil {
				writeError(w, "compute budget sizing is not available", http.StatusServiceUnavailable)
				return
			}
			resp.Simulation, err = fees.SizeComputeBudget(r.Context(), simulator, dt, resp.PriorityFeeMicroLamports)
			switch {
			case errors.Is(err, fees.ErrSimulationFailed):
				logger.Info("payload failed simulation, compute unit limit left unchanged", "error", err)
				if dt.Instructions, err = fees.EnsureComputeBudget(dt.Instructions, 0, resp.PriorityFeeMicroLamports); err != nil {
					writeError(w, err.Error(), http.StatusUnprocessableEntity)
					return
				}
			case err != nil:
				logger.Warn("failed to size compute budget", "error", err)
				writeError(w, "failed to size compute budget: "+err.Error(), http.StatusBadGateway)
				return
			}
			if b := fees.ReadBudget(dt.Instructions); b.HasLimit {
				resp.ComputeUnitLimit = b.Units
			}
			rewritten = true
		}
		resp.ProgramIDs = dt.ProgramIDs()
		resp.ExternalSigners = txcodec.ExternalSigners(dt, dt.DefaultSigners())
		if rewritten {
			encoded, err := dt.Encode(dt.Encoding)
			if err != nil {
				logger.Warn("failed to re-encode transaction", "error", err)
				writeError(w, "failed to re-encode transaction: "+err.Error(), http.StatusUnprocessableEntity)
				return
			}
			resp.Encoded = encoded
		}

		logger.Debug("payload decoded",
			"version", dt.Version,
			"instructions", len(dt.Instructions),
			"fee_payer_rewritten", !feePayer.IsZero(),
			"compute_unit_limit", resp.ComputeUnitLimit,
		)
		writeJSON(w, resp, http.StatusOK)
	})
}

type simulateRequest struct {
	Payload   string   `json:"payload"`
	Addresses []string `json:"addresses,omitempty"`
}

type simulateResponse struct {
	Succeeded bool             `json:"succeeded"`
	Result    *simulate.Result `json:"result"`
	Table     string           `json:"table"`
}

// handleSimulate returns a handler that dry-runs a payload and diffs the
// given accounts. Without addresses, every writable account is diffed.
// POST /api/v1/simulate
func handleSimulate(decoder Decoder, simulator Simulator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req simulateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := validatePayload(req.Payload); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		addresses, err := parseAddresses("addresses", req.Addresses)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		dt, err := decoder.Decode(r.Context(), req.Payload, solanago.PublicKey{}, nil)
		if err != nil {
			writeError(w, err.Error(), decodeStatus(err))
			return
		}
		tx, err := dt.Build()
		if err != nil {
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		if len(addresses) == 0 {
			addresses = dt.WritableAccounts()
		}

		res, err := simulator.Run(r.Context(), tx, addresses)
		if err != nil {
			logger.Error("failed to simulate transaction", "error", err)
			writeError(w, "failed to simulate transaction: "+err.Error(), http.StatusBadGateway)
			return
		}

		logger.Debug("transaction simulated",
			"succeeded", res.Succeeded(),
			"error_kind", res.ErrorKind,
			"units_consumed", res.UnitsConsumed,
		)
		writeJSON(w, simulateResponse{
			Succeeded: res.Succeeded(),
			Result:    res,
			Table:     simulate.Table(res),
		}, http.StatusOK)
	})
}
