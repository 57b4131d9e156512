package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/brojonat/rescuer/service/db"
	"github.com/brojonat/rescuer/service/recovery"
	"github.com/brojonat/rescuer/service/temporal"
	"github.com/brojonat/rescuer/service/txcodec"
)

// RescueStore reads the rescue journal.
type RescueStore interface {
	GetRescue(ctx context.Context, signature, network string) (*db.Rescue, error)
	ListRescuesByWallet(ctx context.Context, params db.ListRescuesParams) ([]*db.Rescue, error)
	ListRecentRescues(ctx context.Context, network string, limit int32) ([]*db.Rescue, error)
	CountRescuesByWallet(ctx context.Context, wallet, network string) (int64, error)
}

type broadcastRequest struct {
	Payload              string `json:"payload"`
	Kind                 string `json:"kind"`
	Compromised          string `json:"compromised"`
	Safe                 string `json:"safe"`
	Network              string `json:"network,omitempty"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height,omitempty"`
	FeeLamports          uint64 `json:"fee_lamports,omitempty"`
	SkipSimulation       bool   `json:"skip_simulation,omitempty"`
}

type broadcastResponse struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id,omitempty"`
	Signature  string `json:"signature"`
	Network    string `json:"network"`
	Status     string `json:"status"`
}

// validKinds are the plan kinds a broadcast may be journaled as.
var validKinds = map[string]bool{
	string(recovery.KindSweepSOL):     true,
	string(recovery.KindSweepToken):   true,
	string(recovery.KindSweepNFT):     true,
	string(recovery.KindRecoverStake): true,
	string(recovery.KindBrick):        true,
	string(recovery.KindCombined):     true,
	"custom":                          true,
}

// handleCreateBroadcast returns a handler that starts a BroadcastWorkflow for
// a signed transaction. Posting the same transaction twice returns the
// workflow already running for it.
// POST /api/v1/broadcasts
func handleCreateBroadcast(scheduler temporal.Scheduler, defaultNetwork string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req broadcastRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := validatePayload(req.Payload); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Kind == "" {
			req.Kind = "custom"
		}
		if !validKinds[req.Kind] {
			writeError(w, "invalid kind: "+req.Kind, http.StatusBadRequest)
			return
		}
		compromised, err := parseAddress("compromised", req.Compromised)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		safe, err := parseAddress("safe", req.Safe)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		network := req.Network
		if network == "" {
			network = defaultNetwork
		}
		if strings.ContainsAny(network, " /\\") || len(network) > 64 {
			writeError(w, "invalid network", http.StatusBadRequest)
			return
		}

		sniffed, err := txcodec.Sniff(req.Payload)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if sniffed.MessageOnly || len(sniffed.Signatures) == 0 || sniffed.Signatures[0].IsZero() {
			writeError(w, "payload must be a transaction signed by its fee payer", http.StatusBadRequest)
			return
		}
		signature := sniffed.Signatures[0].String()

		workflowID := temporal.BroadcastWorkflowID(network, signature)
		status, err := scheduler.StartBroadcast(r.Context(), workflowID, temporal.BroadcastInput{
			Payload:              req.Payload,
			Network:              network,
			Kind:                 req.Kind,
			CompromisedWallet:    compromised.String(),
			SafeWallet:           safe.String(),
			LastValidBlockHeight: req.LastValidBlockHeight,
			FeeLamports:          req.FeeLamports,
			SkipSimulation:       req.SkipSimulation,
		})
		if err != nil {
			logger.Error("failed to start broadcast", "workflow_id", workflowID, "error", err)
			writeError(w, "failed to start broadcast workflow", http.StatusInternalServerError)
			return
		}

		logger.Info("broadcast started",
			"workflow_id", status.WorkflowID,
			"signature", signature,
			"kind", req.Kind,
			"compromised", compromised.String(),
		)
		writeJSON(w, broadcastResponse{
			WorkflowID: status.WorkflowID,
			RunID:      status.RunID,
			Signature:  signature,
			Network:    network,
			Status:     status.Status,
		}, http.StatusAccepted)
	})
}

// handleGetBroadcast returns a handler that reports a broadcast workflow's status.
// GET /api/v1/broadcasts/{workflow_id}
func handleGetBroadcast(scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workflowID := r.PathValue("workflow_id")
		if workflowID == "" {
			writeError(w, "workflow_id is required", http.StatusBadRequest)
			return
		}

		status, err := scheduler.DescribeBroadcast(r.Context(), workflowID)
		if err != nil {
			if errors.Is(err, temporal.ErrBroadcastNotFound) {
				writeError(w, "broadcast not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to describe broadcast", "workflow_id", workflowID, "error", err)
			writeError(w, "failed to get broadcast status", http.StatusInternalServerError)
			return
		}
		writeJSON(w, status, http.StatusOK)
	})
}

// handleListRescues returns a handler that lists journaled rescues. With a
// wallet it lists that wallet's rescues, otherwise the most recent ones.
// GET /api/v1/rescues?wallet=ADDRESS&network=NETWORK&limit=N&offset=N
func handleListRescues(store RescueStore, defaultNetwork string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		network := query.Get("network")
		if network == "" {
			network = defaultNetwork
		}
		limit, err := parseLimit(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		offset, err := parseOffset(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		wallet := query.Get("wallet")
		if wallet == "" {
			rescues, err := store.ListRecentRescues(r.Context(), network, int32(limit))
			if err != nil {
				logger.Error("failed to list rescues", "network", network, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
			writeJSON(w, map[string]interface{}{
				"rescues": rescues,
				"count":   len(rescues),
				"limit":   limit,
			}, http.StatusOK)
			return
		}

		if err := validateAddress(wallet); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		rescues, err := store.ListRescuesByWallet(r.Context(), db.ListRescuesParams{
			Wallet:  wallet,
			Network: network,
			Limit:   int32(limit),
			Offset:  int32(offset),
		})
		if err != nil {
			logger.Error("failed to list rescues", "wallet", wallet, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		total, err := store.CountRescuesByWallet(r.Context(), wallet, network)
		if err != nil {
			logger.Error("failed to count rescues", "wallet", wallet, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("rescues listed", "wallet", wallet, "count", len(rescues))
		writeJSON(w, map[string]interface{}{
			"rescues": rescues,
			"count":   len(rescues),
			"total":   total,
			"limit":   limit,
			"offset":  offset,
		}, http.StatusOK)
	})
}

// handleGetRescue returns a handler that fetches one journaled rescue.
// GET /api/v1/rescues/{signature}?network=NETWORK
func handleGetRescue(store RescueStore, defaultNetwork string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.PathValue("signature")
		if err := validateAddress(signature); err != nil {
			writeError(w, "invalid signature", http.StatusBadRequest)
			return
		}
		network := r.URL.Query().Get("network")
		if network == "" {
			network = defaultNetwork
		}

		rescue, err := store.GetRescue(r.Context(), signature, network)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "rescue not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get rescue", "signature", signature, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, rescue, http.StatusOK)
	})
}
