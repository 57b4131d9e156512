package temporal

import (
	"context"
	"errors"
	"time"
)

// ErrBroadcastNotFound is returned when no workflow exists for an id.
var ErrBroadcastNotFound = errors.New("broadcast not found")

// BroadcastStatus is the state of a BroadcastWorkflow execution.
type BroadcastStatus struct {
	WorkflowID string           `json:"workflow_id"`
	RunID      string           `json:"run_id,omitempty"`
	Status     string           `json:"status"` // Temporal execution status, e.g. "Running", "Completed"
	Result     *BroadcastResult `json:"result,omitempty"`
	Error      *string          `json:"error,omitempty"`
}

// Scheduler starts broadcast workflows and manages the journal prune schedule.
type Scheduler interface {
	// StartBroadcast starts a BroadcastWorkflow with the given id. Starting an
	// id that is already running returns the running execution.
	StartBroadcast(ctx context.Context, workflowID string, input BroadcastInput) (*BroadcastStatus, error)

	// DescribeBroadcast returns the status of a broadcast, with its result once completed.
	DescribeBroadcast(ctx context.Context, workflowID string) (*BroadcastStatus, error)

	// UpsertPruneSchedule creates or updates the schedule that prunes old rescues.
	UpsertPruneSchedule(ctx context.Context, every, retention time.Duration) error
}

// BroadcastWorkflowID returns the workflow id used for a signature, so the
// same transaction is never broadcast by two workflows at once.
func BroadcastWorkflowID(network, signature string) string {
	return "broadcast-" + network + "-" + signature
}

// PruneScheduleID is the Temporal schedule ID for journal pruning.
const PruneScheduleID = "prune-rescues"
