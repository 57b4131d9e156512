package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/rescuer/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func newServiceClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server"), nil, newLogger(c))
}

func rescueCommands() *cli.Command {
	return &cli.Command{
		Name:  "rescues",
		Usage: "Query and follow rescues journaled by the rescuer service",
		Subcommands: []*cli.Command{
			rescuesListCommand(),
			rescuesGetCommand(),
			awaitCommand(),
			watchCommand(),
		},
	}
}

func rescuesListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List rescues, most recent first",
		ArgsUsage: "[WALLET_ADDRESS]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "network",
				Usage: "Filter by network",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   50,
				Usage:   "Maximum number of rescues",
			},
		},
		Action: func(c *cli.Context) error {
			rescues, total, err := newServiceClient(c).ListRescues(c.Context, c.Args().First(), c.String("network"), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list rescues: %w", err)
			}
			return render(c, rescues, func(w io.Writer) {
				if len(rescues) == 0 {
					fmt.Fprintln(w, "No rescues found")
					return
				}
				printRescueTable(w, rescues)
				if total >= 0 {
					fmt.Fprintf(os.Stderr, "\nTotal: %d rescues\n", total)
				}
			})
		},
	}
}

func printRescueTable(w io.Writer, rescues []*client.Rescue) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNATURE\tNETWORK\tKIND\tSTATUS\tATTEMPTS\tCOMPROMISED\tUPDATED")
	for _, r := range rescues {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.Signature, r.Network, r.Kind, r.Status, r.Attempts, r.CompromisedWallet, r.UpdatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func rescuesGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one rescue",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "network",
				Usage: "Network the rescue ran on (default: the server's)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}
			r, err := newServiceClient(c).GetRescue(c.Context, c.Args().First(), c.String("network"))
			if err != nil {
				return fmt.Errorf("failed to get rescue: %w", err)
			}
			return render(c, r, func(w io.Writer) { printRescue(w, r) })
		},
	}
}

func printRescue(w io.Writer, r *client.Rescue) {
	fmt.Fprintf(w, "Signature:   %s\n", r.Signature)
	fmt.Fprintf(w, "Network:     %s\n", r.Network)
	fmt.Fprintf(w, "Kind:        %s\n", r.Kind)
	fmt.Fprintf(w, "Status:      %s\n", r.Status)
	fmt.Fprintf(w, "Compromised: %s\n", r.CompromisedWallet)
	fmt.Fprintf(w, "Safe:        %s\n", r.SafeWallet)
	if r.Slot != nil {
		fmt.Fprintf(w, "Slot:        %d\n", *r.Slot)
	}
	fmt.Fprintf(w, "Attempts:    %d\n", r.Attempts)
	fmt.Fprintf(w, "Fee:         %s\n", formatSOL(r.FeeLamports))
	if r.Error != nil {
		fmt.Fprintf(w, "Error:       %s\n", *r.Error)
	}
	if r.WorkflowID != nil {
		fmt.Fprintf(w, "Workflow:    %s\n", *r.WorkflowID)
	}
	fmt.Fprintf(w, "Created:     %s\n", r.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated:     %s\n", r.UpdatedAt.Format(time.RFC3339))
}

func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a rescue matching criteria finishes",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "signature",
				Usage: "Filter by exact transaction signature",
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Filter by recovery kind (e.g. sweep_sol)",
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Filter by final status (e.g. finalized)",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq filter over the rescue that must evaluate to true (repeatable, all must match)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().Get(0)
			signature := c.String("signature")
			kind := c.String("kind")
			status := c.String("status")
			filters := c.StringSlice("must-jq")

			if signature == "" && kind == "" && status == "" && len(filters) == 0 {
				return fmt.Errorf("must specify at least one filter: --signature, --kind, --status, or --must-jq")
			}

			codes := make([]*gojq.Code, 0, len(filters))
			for _, f := range filters {
				code, err := compileJQ(f)
				if err != nil {
					return err
				}
				codes = append(codes, code)
			}

			matcher := func(ev *client.RescueEvent) bool {
				if signature != "" && ev.Signature != signature {
					return false
				}
				if kind != "" && ev.Kind != kind {
					return false
				}
				if status != "" && ev.Status != status {
					return false
				}
				return matchesJQ(codes, ev)
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			if !c.Bool("json") && c.String("jq") == "" {
				fmt.Fprintf(os.Stderr, "⏳ Waiting for a rescue of %s (timeout: %s)...\n", address, c.Duration("timeout"))
			}
			ev, err := newServiceClient(c).Await(ctx, address, matcher)
			if err != nil {
				if ctx.Err() == context.DeadlineExceeded {
					return fmt.Errorf("timeout: no matching rescue within %s", c.Duration("timeout"))
				}
				return fmt.Errorf("failed to await rescue: %w", err)
			}
			return render(c, ev, func(w io.Writer) { printRescueEvent(w, ev) })
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream finished rescues as they happen (all wallets if none given)",
		ArgsUsage: "[WALLET_ADDRESS]",
		Action: func(c *cli.Context) error {
			// Create context that cancels on interrupt
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case <-sigChan:
					cancel()
				case <-ctx.Done():
				}
			}()

			count := 0
			err := newServiceClient(c).Watch(ctx, c.Args().First(), func(ev *client.RescueEvent) bool {
				count++
				if err := render(c, ev, func(w io.Writer) { printRescueEvent(w, ev) }); err != nil {
					newLogger(c).Error("failed to print rescue", "error", err)
				}
				return true
			})
			if err != nil && ctx.Err() == nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "\n✅ Received %d rescues\n", count)
			return nil
		},
	}
}

func printRescueEvent(w io.Writer, ev *client.RescueEvent) {
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Rescue %s: %s\n", ev.Kind, ev.Status)
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Signature:   %s\n", ev.Signature)
	fmt.Fprintf(w, "Network:     %s\n", ev.Network)
	fmt.Fprintf(w, "Compromised: %s\n", ev.CompromisedWallet)
	fmt.Fprintf(w, "Safe:        %s\n", ev.SafeWallet)
	if ev.Slot != nil {
		fmt.Fprintf(w, "Slot:        %d\n", *ev.Slot)
	}
	fmt.Fprintf(w, "Attempts:    %d\n", ev.Attempts)
	if ev.Error != nil {
		fmt.Fprintf(w, "Error:       %s\n", *ev.Error)
	}
	if !ev.Timestamp.IsZero() {
		fmt.Fprintf(w, "Finished:    %s\n", ev.Timestamp.Format(time.RFC3339))
	}
}

func broadcastCommands() *cli.Command {
	return &cli.Command{
		Name:  "broadcast",
		Usage: "Inspect broadcasts running on the rescuer service",
		Subcommands: []*cli.Command{
			{
				Name:      "status",
				Usage:     "Show a broadcast workflow's status",
				ArgsUsage: "WORKFLOW_ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Poll until the broadcast finishes",
					},
					&cli.DurationFlag{
						Name:  "interval",
						Value: 2 * time.Second,
						Usage: "Polling interval with --wait",
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: workflow ID")
					}
					cl := newServiceClient(c)
					var status *client.BroadcastStatus
					var err error
					if c.Bool("wait") {
						status, err = cl.WaitBroadcast(c.Context, c.Args().First(), c.Duration("interval"))
					} else {
						status, err = cl.GetBroadcast(c.Context, c.Args().First())
					}
					if err != nil {
						return fmt.Errorf("failed to get broadcast: %w", err)
					}
					return render(c, status, func(w io.Writer) { printBroadcastStatus(w, status) })
				},
			},
		},
	}
}

func printBroadcastStatus(w io.Writer, s *client.BroadcastStatus) {
	fmt.Fprintf(w, "Workflow:  %s\n", s.WorkflowID)
	fmt.Fprintf(w, "Execution: %s\n", s.Status)
	if s.Error != nil {
		fmt.Fprintf(w, "Error:     %s\n", *s.Error)
	}
	if r := s.Result; r != nil {
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
}
