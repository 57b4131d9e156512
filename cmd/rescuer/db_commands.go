package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/rescuer/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listRescuesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-rescues",
		Usage:   "List journaled rescues",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "wallet",
				Aliases: []string{"w"},
				Usage:   "Filter by compromised or safe wallet address",
			},
			&cli.StringFlag{
				Name:  "network",
				Value: "mainnet",
				Usage: "Network to list",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of rescues",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Skip this many rescues (with --wallet)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := c.Context
			var rescues []*db.Rescue
			if wallet := c.String("wallet"); wallet != "" {
				rescues, err = store.ListRescuesByWallet(ctx, db.ListRescuesParams{
					Wallet:  wallet,
					Network: c.String("network"),
					Limit:   int32(c.Int("limit")),
					Offset:  int32(c.Int("offset")),
				})
			} else {
				rescues, err = store.ListRecentRescues(ctx, c.String("network"), int32(c.Int("limit")))
			}
			if err != nil {
				return fmt.Errorf("failed to list rescues: %w", err)
			}

			return render(c, rescues, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SIGNATURE\tKIND\tSTATUS\tATTEMPTS\tCOMPROMISED\tSAFE\tUPDATED")
				for _, r := range rescues {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
						r.Signature,
						r.Kind,
						r.Status,
						r.Attempts,
						r.CompromisedWallet,
						r.SafeWallet,
						r.UpdatedAt.Format(time.RFC3339),
					)
				}
				tw.Flush()
				fmt.Fprintf(os.Stderr, "\nTotal: %d rescues\n", len(rescues))
			})
		},
	}
}

func getRescueCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-rescue",
		Usage:     "Get a journaled rescue",
		Aliases:   []string{"get"},
		ArgsUsage: "<signature>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "network",
				Value: "mainnet",
				Usage: "Network the rescue ran on",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			r, err := store.GetRescue(c.Context, c.Args().First(), c.String("network"))
			if err != nil {
				return fmt.Errorf("failed to get rescue: %w", err)
			}

			return render(c, r, func(w io.Writer) {
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
			})
		},
	}
}

func pruneRescuesCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete journaled rescues older than a retention window",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:     "older-than",
				Usage:    "Retention window (e.g. 720h)",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			retention := c.Duration("older-than")
			if retention <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			cutoff := time.Now().Add(-retention)
			deleted, err := store.DeleteRescuesOlderThan(c.Context, cutoff)
			if err != nil {
				return fmt.Errorf("failed to prune rescues: %w", err)
			}

			out := map[string]interface{}{"deleted": deleted, "cutoff": cutoff}
			return render(c, out, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Deleted %d rescues older than %s\n", deleted, cutoff.Format(time.RFC3339))
			})
		},
	}
}

// getStore creates a database store from the CLI context.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	closer := func() { pool.Close() }

	return store, closer, nil
}
