package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/brojonat/rescuer/service/prefs"
	"github.com/urfave/cli/v2"
)

func clusterCommands() *cli.Command {
	return &cli.Command{
		Name:  "cluster",
		Usage: "Manage the RPC clusters commands run against",
		Subcommands: []*cli.Command{
			clusterListCommand(),
			clusterUseCommand(),
			clusterAddCommand(),
			clusterRemoveCommand(),
		},
	}
}

type clusterView struct {
	prefs.Cluster
	Selected bool `json:"selected"`
}

func clusterListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List built-in and user clusters",
		Action: func(c *cli.Context) error {
			store, err := openPrefs(c)
			if err != nil {
				return err
			}
			selected := store.Selected().Name

			var views []clusterView
			for _, cl := range store.Clusters() {
				views = append(views, clusterView{Cluster: cl, Selected: cl.Name == selected})
			}

			return render(c, views, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "\tNAME\tENDPOINTS\tBUILT-IN")
				for _, v := range views {
					marker := ""
					if v.Selected {
						marker = "*"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", marker, v.Name, strings.Join(v.Endpoints, ","), v.Builtin)
				}
				tw.Flush()
			})
		},
	}
}

func clusterUseCommand() *cli.Command {
	return &cli.Command{
		Name:      "use",
		Usage:     "Select the cluster commands run against",
		ArgsUsage: "NAME",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: cluster name")
			}
			store, err := openPrefs(c)
			if err != nil {
				return err
			}
			if err := store.Select(c.Args().First()); err != nil {
				return err
			}
			if err := store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(stdout(c), "✓ Using cluster %s\n", store.Selected().Name)
			return nil
		},
	}
}

func clusterAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Add or replace a user cluster",
		ArgsUsage: "NAME ENDPOINT[,ENDPOINT...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "use",
				Usage: "Select the cluster after adding it",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("requires a cluster name and at least one endpoint")
			}
			name := c.Args().First()
			var endpoints []string
			for _, arg := range c.Args().Tail() {
				endpoints = append(endpoints, splitList(arg)...)
			}

			store, err := openPrefs(c)
			if err != nil {
				return err
			}
			if err := store.AddCluster(name, endpoints); err != nil {
				return err
			}
			if c.Bool("use") {
				if err := store.Select(name); err != nil {
					return err
				}
			}
			if err := store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(stdout(c), "✓ Cluster %s saved (%d endpoints)\n", name, len(endpoints))
			return nil
		},
	}
}

func clusterRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm"},
		Usage:     "Remove a user cluster",
		ArgsUsage: "NAME",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: cluster name")
			}
			store, err := openPrefs(c)
			if err != nil {
				return err
			}
			if err := store.RemoveCluster(c.Args().First()); err != nil {
				return err
			}
			if err := store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(stdout(c), "✓ Cluster %s removed (selected: %s)\n", c.Args().First(), store.Selected().Name)
			return nil
		},
	}
}

func walletsCommand() *cli.Command {
	return &cli.Command{
		Name:  "wallets",
		Usage: "Show or set the remembered compromised and safe wallets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "compromised",
				Usage: "Remember this compromised wallet",
			},
			&cli.StringFlag{
				Name:  "safe",
				Usage: "Remember this safe wallet",
			},
		},
		Action: func(c *cli.Context) error {
			for _, flag := range []string{"compromised", "safe"} {
				if v := c.String(flag); v != "" {
					if _, err := parseKey(flag+" wallet", v); err != nil {
						return err
					}
				}
			}
			compromised, safe, err := rememberedWallets(c, c.String("compromised"), c.String("safe"))
			if err != nil {
				return err
			}
			w := prefs.Wallets{Compromised: compromised, Safe: safe}
			return render(c, w, func(out io.Writer) {
				fmt.Fprintf(out, "Compromised: %s\n", orNone(w.Compromised))
				fmt.Fprintf(out, "Safe:        %s\n", orNone(w.Safe))
			})
		},
	}
}

// rememberedWallets fills empty addresses from preferences and remembers
// the ones given.
func rememberedWallets(c *cli.Context, compromised, safe string) (string, string, error) {
	store, err := openPrefs(c)
	if err != nil {
		if compromised != "" && safe != "" {
			return compromised, safe, nil
		}
		return "", "", err
	}

	saved := store.Wallets()
	if compromised == "" {
		compromised = saved.Compromised
	}
	if safe == "" {
		safe = saved.Safe
	}
	if compromised != saved.Compromised || safe != saved.Safe {
		store.SetWallets(prefs.Wallets{Compromised: compromised, Safe: safe})
		if err := store.Save(); err != nil {
			newLogger(c).Warn("failed to remember wallets", "error", err)
		}
	}
	return compromised, safe, nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
