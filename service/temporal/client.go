package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartBroadcast starts a BroadcastWorkflow. If a workflow with the same id is
// already running, its execution is returned instead of starting a second one.
func (c *Client) StartBroadcast(ctx context.Context, workflowID string, input BroadcastInput) (*BroadcastStatus, error) {
	c.logger.Debug("starting broadcast workflow",
		"workflow_id", workflowID,
		"kind", input.Kind,
		"network", input.Network,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                c.taskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
		WorkflowExecutionTimeout: 10 * time.Minute,
		Memo: map[string]interface{}{
			"kind":               input.Kind,
			"compromised_wallet": input.CompromisedWallet,
			"safe_wallet":        input.SafeWallet,
			"network":            input.Network,
			"created_by":         "rescuer",
		},
	}, BroadcastWorkflow, input)
	if err != nil {
		c.logger.Error("failed to start broadcast workflow",
			"workflow_id", workflowID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to start workflow %q: %w", workflowID, err)
	}

	c.logger.Info("broadcast workflow started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)

	return &BroadcastStatus{
		WorkflowID: run.GetID(),
		RunID:      run.GetRunID(),
		Status:     enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING.String(),
	}, nil
}

// DescribeBroadcast returns the execution status of a broadcast workflow. The
// workflow result is included once it has completed.
func (c *Client) DescribeBroadcast(ctx context.Context, workflowID string) (*BroadcastStatus, error) {
	resp, err := c.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrBroadcastNotFound, workflowID)
		}
		return nil, fmt.Errorf("failed to describe workflow %q: %w", workflowID, err)
	}

	info := resp.GetWorkflowExecutionInfo()
	status := &BroadcastStatus{
		WorkflowID: workflowID,
		RunID:      info.GetExecution().GetRunId(),
		Status:     info.GetStatus().String(),
	}

	switch info.GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return status, nil
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		var result BroadcastResult
		if err := c.client.GetWorkflow(ctx, workflowID, status.RunID).Get(ctx, &result); err != nil {
			return nil, fmt.Errorf("failed to get workflow result %q: %w", workflowID, err)
		}
		status.Result = &result
	default:
		// Failed, timed out, cancelled or terminated. The error carries the reason.
		if err := c.client.GetWorkflow(ctx, workflowID, status.RunID).Get(ctx, nil); err != nil {
			msg := err.Error()
			status.Error = &msg
		}
	}
	return status, nil
}

// UpsertPruneSchedule creates or updates the schedule that runs PruneRescuesWorkflow.
func (c *Client) UpsertPruneSchedule(ctx context.Context, every, retention time.Duration) error {
	c.logger.Debug("upserting prune schedule",
		"schedule_id", PruneScheduleID,
		"every", every,
		"retention", retention,
	)

	action := &client.ScheduleWorkflowAction{
		ID:        PruneScheduleID,
		Workflow:  PruneRescuesWorkflow,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{PruneInput{Retention: retention}},
	}

	handle := c.client.ScheduleClient().GetHandle(ctx, PruneScheduleID)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", PruneScheduleID,
			"error", err,
		)
		_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID: PruneScheduleID,
			Spec: client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{{Every: every}},
			},
			Action: action,
			Memo: map[string]interface{}{
				"retention":  retention.String(),
				"created_by": "rescuer",
			},
		})
		if err != nil {
			c.logger.Error("failed to create schedule", "schedule_id", PruneScheduleID, "error", err)
			return fmt.Errorf("failed to create schedule %q: %w", PruneScheduleID, err)
		}
		c.logger.Info("prune schedule created", "every", every, "retention", retention)
		return nil
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: every},
			}
			input.Description.Schedule.Action = action
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule", "schedule_id", PruneScheduleID, "error", err)
		return fmt.Errorf("failed to update schedule %q: %w", PruneScheduleID, err)
	}

	c.logger.Info("prune schedule updated", "every", every, "retention", retention)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
