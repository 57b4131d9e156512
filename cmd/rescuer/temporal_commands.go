package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/rescuer/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
)

func describeBroadcastCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe-broadcast",
		Usage:     "Describe a broadcast workflow",
		Aliases:   []string{"desc"},
		ArgsUsage: "<workflow-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: workflow ID")
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			status, err := temporalClient.DescribeBroadcast(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to describe broadcast: %w", err)
			}

			return render(c, status, func(w io.Writer) {
				fmt.Fprintf(w, "Workflow:  %s\n", status.WorkflowID)
				fmt.Fprintf(w, "Run:       %s\n", status.RunID)
				fmt.Fprintf(w, "Execution: %s\n", status.Status)
				if status.Error != nil {
					fmt.Fprintf(w, "Error:     %s\n", *status.Error)
				}
				if r := status.Result; r != nil {
					fmt.Fprintf(w, "Signature: %s\n", r.Signature)
					fmt.Fprintf(w, "Status:    %s\n", r.Status)
					if r.Slot != nil {
						fmt.Fprintf(w, "Slot:      %d\n", *r.Slot)
					}
					fmt.Fprintf(w, "Attempts:  %d\n", r.Attempts)
					if r.Error != nil {
						fmt.Fprintf(w, "Error:     %s\n", *r.Error)
					}
				}
			})
		},
	}
}

type workflowRow struct {
	WorkflowID string    `json:"workflow_id"`
	RunID      string    `json:"run_id"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	StartTime  time.Time `json:"start_time"`
}

func listWorkflowsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-workflows",
		Usage:   "List broadcast workflow executions",
		Aliases: []string{"wf"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "query",
				Usage: "Temporal visibility query",
				Value: "WorkflowType='BroadcastWorkflow'",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of executions",
				Value: 50,
			},
		},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			limit := c.Int("limit")
			var rows []workflowRow
			var token []byte
			for len(rows) < limit {
				resp, err := temporalClient.SDKClient().ListWorkflow(c.Context, &workflowservice.ListWorkflowExecutionsRequest{
					Query:         c.String("query"),
					PageSize:      int32(limit - len(rows)),
					NextPageToken: token,
				})
				if err != nil {
					return fmt.Errorf("failed to list workflows: %w", err)
				}
				for _, info := range resp.GetExecutions() {
					rows = append(rows, workflowRow{
						WorkflowID: info.GetExecution().GetWorkflowId(),
						RunID:      info.GetExecution().GetRunId(),
						Type:       info.GetType().GetName(),
						Status:     info.GetStatus().String(),
						StartTime:  info.GetStartTime().AsTime(),
					})
				}
				token = resp.GetNextPageToken()
				if len(token) == 0 {
					break
				}
			}

			return render(c, rows, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "WORKFLOW ID\tTYPE\tSTATUS\tSTARTED")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.WorkflowID, r.Type, r.Status, r.StartTime.Format(time.RFC3339))
				}
				tw.Flush()
				fmt.Fprintf(os.Stderr, "\nTotal: %d workflows\n", len(rows))
			})
		},
	}
}

func describePruneScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "describe-prune-schedule",
		Usage: "Describe the schedule that prunes old rescues",
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := c.Context
			handle := temporalClient.SDKClient().ScheduleClient().GetHandle(ctx, temporal.PruneScheduleID)
			desc, err := handle.Describe(ctx)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			w := stdout(c)
			fmt.Fprintf(w, "Schedule ID:    %s\n", temporal.PruneScheduleID)
			fmt.Fprintf(w, "State Note:     %s\n", desc.Schedule.State.Note)
			fmt.Fprintf(w, "Paused:         %v\n", desc.Schedule.State.Paused)

			if wa, ok := desc.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
				fmt.Fprintf(w, "\nWorkflow:\n")
				fmt.Fprintf(w, "  Workflow:     %v\n", wa.Workflow)
				fmt.Fprintf(w, "  Task Queue:   %s\n", wa.TaskQueue)
			}

			if desc.Schedule.Spec != nil && len(desc.Schedule.Spec.Intervals) > 0 {
				fmt.Fprintf(w, "\nSchedule Spec:\n")
				for i, interval := range desc.Schedule.Spec.Intervals {
					fmt.Fprintf(w, "  Interval %d:   Every %v\n", i+1, interval.Every)
				}
			}

			fmt.Fprintf(w, "\nRecent Actions: %d\n", len(desc.Info.RecentActions))
			if len(desc.Info.RecentActions) > 0 {
				lastAction := desc.Info.RecentActions[len(desc.Info.RecentActions)-1]
				fmt.Fprintf(w, "Last Action:  %s\n", lastAction.ActualTime.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func upsertPruneScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "upsert-prune-schedule",
		Usage: "Create or update the schedule that prunes old rescues",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "every",
				Usage: "How often to prune",
				Value: 24 * time.Hour,
			},
			&cli.DurationFlag{
				Name:  "retention",
				Usage: "How long journaled rescues are kept",
				Value: 90 * 24 * time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			every, retention := c.Duration("every"), c.Duration("retention")
			if every <= 0 || retention <= 0 {
				return fmt.Errorf("--every and --retention must be positive")
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			if err := temporalClient.UpsertPruneSchedule(c.Context, every, retention); err != nil {
				return fmt.Errorf("failed to upsert prune schedule: %w", err)
			}

			w := stdout(c)
			fmt.Fprintf(w, "✓ Schedule upserted: %s\n", temporal.PruneScheduleID)
			fmt.Fprintf(w, "  Every: %v\n", every)
			fmt.Fprintf(w, "  Retention: %v\n", retention)
			return nil
		},
	}
}

// getTemporalClient creates a Temporal client from the CLI context.
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	temporalClient, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		newLogger(c),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	return temporalClient, nil
}
