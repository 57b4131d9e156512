package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const (
	// StatusPending is journaled before the first send.
	StatusPending = "pending"
	// StatusRejected means simulation failed and nothing was sent.
	StatusRejected = "rejected"
	// StatusFailed is journaled when the send activity gives up.
	StatusFailed = "failed"
)

// BroadcastWorkflow is the Temporal workflow that lands a signed recovery transaction.
//
// The workflow performs these steps:
// 1. Simulate the transaction (SimulateTransaction activity), unless skipped
// 2. Journal the rescue as pending (JournalRescue activity)
// 3. Send and re-broadcast until it lands or expires (SendAndConfirm activity)
// 4. Journal the final status and publish it to NATS (JournalRescue activity)
func BroadcastWorkflow(ctx workflow.Context, input BroadcastInput) (*BroadcastResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("BroadcastWorkflow started",
		"kind", input.Kind,
		"compromised_wallet", input.CompromisedWallet,
		"network", input.Network,
	)

	startedAt := workflow.Now(ctx)
	workflowID := workflow.GetInfo(ctx).WorkflowExecution.ID
	result := &BroadcastResult{}

	// Configure activity options
	shortOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{"InvalidPayload"},
		},
	}
	shortCtx := workflow.WithActivityOptions(ctx, shortOptions)

	journal := func(status string, publish bool) error {
		in := JournalInput{
			Signature:         result.Signature,
			Network:           input.Network,
			Kind:              input.Kind,
			CompromisedWallet: input.CompromisedWallet,
			SafeWallet:        input.SafeWallet,
			Status:            status,
			Slot:              result.Slot,
			Attempts:          result.Attempts,
			Error:             result.Error,
			WorkflowID:        workflowID,
			FeeLamports:       input.FeeLamports,
			Publish:           publish,
			StartedAt:         startedAt,
		}
		return workflow.ExecuteActivity(shortCtx, a.JournalRescue, in).Get(shortCtx, nil)
	}

	// Step 1: Simulate
	if !input.SkipSimulation {
		var sim *SimulateTxResult
		err := workflow.ExecuteActivity(shortCtx, a.SimulateTransaction, SimulateTxInput{Payload: input.Payload}).Get(shortCtx, &sim)
		if err != nil {
			errMsg := fmt.Sprintf("failed to simulate transaction: %v", err)
			result.Error = &errMsg
			return result, fmt.Errorf("failed to simulate transaction: %w", err)
		}
		result.Signature = sim.Signature
		result.Simulation = sim

		if !sim.Succeeded {
			logger.Warn("simulation failed, not broadcasting",
				"signature", sim.Signature,
				"error_kind", sim.ErrorKind,
			)
			result.Status = StatusRejected
			result.Error = sim.Error
			if err := journal(StatusRejected, true); err != nil {
				return result, fmt.Errorf("failed to journal rejected rescue: %w", err)
			}
			result.FinishedAt = workflow.Now(ctx)
			return result, nil
		}

		// Step 2: Journal as pending
		if err := journal(StatusPending, false); err != nil {
			return result, fmt.Errorf("failed to journal pending rescue: %w", err)
		}
	}

	// Step 3: Send and confirm. Resending identical bytes is idempotent, so retries are safe.
	sendOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 3 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        10 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{"InvalidPayload"},
		},
	}
	sendCtx := workflow.WithActivityOptions(ctx, sendOptions)

	var sent *SendTxResult
	err := workflow.ExecuteActivity(sendCtx, a.SendAndConfirm, SendTxInput{
		Payload:              input.Payload,
		LastValidBlockHeight: input.LastValidBlockHeight,
	}).Get(sendCtx, &sent)
	if err != nil {
		logger.Error("failed to send transaction", "error", err)
		errMsg := fmt.Sprintf("failed to send transaction: %v", err)
		result.Error = &errMsg
		result.Status = StatusFailed
		if result.Signature == "" {
			if _, tx, perr := parseSigned(input.Payload); perr == nil {
				result.Signature = tx.Signatures[0].String()
			}
		}
		// Waiters follow the journal and stream, so a failed send still
		// gets a final status.
		if result.Signature != "" {
			if jerr := journal(StatusFailed, true); jerr != nil {
				logger.Error("failed to journal failed rescue", "signature", result.Signature, "error", jerr)
			}
		}
		result.FinishedAt = workflow.Now(ctx)
		return result, fmt.Errorf("failed to send transaction: %w", err)
	}

	result.Signature = sent.Signature
	result.Status = sent.Status
	result.Slot = sent.Slot
	result.Attempts = sent.Attempts
	result.Error = sent.Error

	// Step 4: Journal final status and publish
	if err := journal(result.Status, true); err != nil {
		logger.Error("failed to journal final status", "signature", result.Signature, "error", err)
		return result, fmt.Errorf("failed to journal rescue: %w", err)
	}

	result.FinishedAt = workflow.Now(ctx)
	logger.Info("BroadcastWorkflow completed",
		"signature", result.Signature,
		"status", result.Status,
		"attempts", result.Attempts,
	)
	return result, nil
}

// PruneRescuesWorkflow deletes old journal rows. It is triggered by a Temporal schedule.
func PruneRescuesWorkflow(ctx workflow.Context, input PruneInput) (*PruneResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	})

	var result *PruneResult
	if err := workflow.ExecuteActivity(ctx, a.PruneRescues, input).Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to prune rescues: %w", err)
	}
	workflow.GetLogger(ctx).Info("PruneRescuesWorkflow completed", "deleted", result.Deleted)
	return result, nil
}
