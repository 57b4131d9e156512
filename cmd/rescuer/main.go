package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "rescuer",
		Usage: "Move assets out of a compromised Solana wallet",
		Description: `A command-line tool for recovering assets from a compromised Solana wallet.

Plans are paid for by a safe wallet, so the compromised wallet never needs SOL
for fees. Payloads can be decoded, re-paid, simulated, and broadcast with a
resend loop. Most commands talk to an RPC endpoint directly; the rescues,
broadcast, db, temporal, and nats commands inspect a running rescuer service.`,
		Version:  fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: commands(),
		Flags:    globalFlags(),
	}
}

func commands() []*cli.Command {
	return []*cli.Command{
		decodeCommand(),
		simulateCommand(),
		sendCommand(),
		portfolioCommand(),
		historyCommand(),
		priceCommand(),
		planCommands(),
		clusterCommands(),
		walletsCommand(),
		// Service commands (HTTP API)
		rescueCommands(),
		broadcastCommands(),
		// Database inspection commands
		{
			Name:  "db",
			Usage: "Rescue journal inspection commands",
			Subcommands: []*cli.Command{
				listRescuesCommand(),
				getRescueCommand(),
				pruneRescuesCommand(),
			},
		},
		// Temporal inspection and management commands
		{
			Name:  "temporal",
			Usage: "Temporal inspection and management commands",
			Subcommands: []*cli.Command{
				describeBroadcastCommand(),
				listWorkflowsCommand(),
				describePruneScheduleCommand(),
				upsertPruneScheduleCommand(),
			},
		},
		// NATS rescue streaming commands
		{
			Name:  "nats",
			Usage: "NATS rescue streaming commands",
			Subcommands: []*cli.Command{
				subscribeCommand(),
				inspectStreamCommand(),
			},
		},
		// Server utility commands
		{
			Name:  "server",
			Usage: "Server utility commands",
			Subcommands: []*cli.Command{
				healthCommand(),
				versionCommand(),
			},
		},
	}
}

// globalFlags are available to all commands.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "rpc",
			Usage:   "Solana RPC URL (overrides --cluster)",
			EnvVars: []string{"SOLANA_RPC_URL"},
		},
		&cli.StringFlag{
			Name:    "cluster",
			Usage:   "Cluster to use instead of the selected one (see: rescuer cluster list)",
			EnvVars: []string{"SOLANA_CLUSTER"},
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "rescuer service URL",
			EnvVars: []string{"RESCUER_SERVER_URL"},
			Value:   "http://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Preferences file (default: $XDG_CONFIG_HOME/rescuer/config.yaml)",
			EnvVars: []string{"RESCUER_CONFIG"},
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
		&cli.StringFlag{
			Name:  "jq",
			Usage: "jq filter applied to the JSON output (implies --json)",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "Log debug output to stderr",
		},
		&cli.StringFlag{
			Name:    "price-api-url",
			Usage:   "Price API base URL",
			EnvVars: []string{"PRICE_API_URL"},
			Value:   "https://api.jup.ag",
		},
		&cli.StringFlag{
			Name:    "token-api-url",
			Usage:   "Token metadata API base URL",
			EnvVars: []string{"TOKEN_API_URL"},
			Value:   "https://tokens.jup.ag",
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "temporal-host",
			Usage:   "Temporal server address",
			EnvVars: []string{"TEMPORAL_HOST"},
			Value:   "localhost:7233",
		},
		&cli.StringFlag{
			Name:    "temporal-namespace",
			Usage:   "Temporal namespace",
			EnvVars: []string{"TEMPORAL_NAMESPACE"},
			Value:   "default",
		},
		&cli.StringFlag{
			Name:    "temporal-task-queue",
			Usage:   "Temporal task queue",
			EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
			Value:   "rescuer-broadcasts",
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server URL",
			EnvVars: []string{"NATS_URL"},
			Value:   "nats://localhost:4222",
		},
	}
}
