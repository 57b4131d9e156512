package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/brojonat/rescuer/service/fees"
	"github.com/brojonat/rescuer/service/recovery"
	"github.com/brojonat/rescuer/service/sender"
	"github.com/brojonat/rescuer/service/simulate"
	"github.com/brojonat/rescuer/service/solana"
	"github.com/brojonat/rescuer/service/txcodec"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/urfave/cli/v2"
)

type planOutput struct {
	Plan                     *recovery.Plan   `json:"plan"`
	Transaction              string           `json:"transaction"`
	Blockhash                string           `json:"blockhash"`
	LastValidBlockHeight     uint64           `json:"last_valid_block_height"`
	PriorityFeeMicroLamports uint64           `json:"priority_fee_micro_lamports,omitempty"`
	MissingSigners           []string         `json:"missing_signers"`
	Simulation               *simulate.Result `json:"simulation,omitempty"`
	Result                   *sender.Result   `json:"result,omitempty"`
}

func planCommands() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Build, sign, and optionally send a recovery transaction paid by the safe wallet",
		Description: `Each plan moves one kind of asset out of the compromised wallet. The safe
wallet pays every fee and any rent, so the compromised wallet needs no SOL.

Without --sign the unsigned transaction is printed for signing elsewhere.
With --sign and --send it is signed, simulated, and broadcast with a resend loop.

Example:
  rescuer plan sweep-token --compromised OLD --safe NEW --mint MINT \
    --sign old.json --sign new.json --send`,
		Subcommands: []*cli.Command{
			{
				Name:  "sweep-sol",
				Usage: "Move the SOL balance to the safe wallet",
				Flags: append(planFlags(), &cli.Uint64Flag{
					Name:  "reserve",
					Usage: "Lamports to leave behind",
				}),
				Action: func(c *cli.Context) error {
					return runPlan(c, recovery.KindSweepSOL, func(req *recovery.Request) error {
						req.Reserve = c.Uint64("reserve")
						return nil
					})
				},
			},
			{
				Name:  "sweep-token",
				Usage: "Move a fungible token balance to the safe wallet",
				Flags: append(planFlags(), mintFlag()),
				Action: func(c *cli.Context) error {
					return runPlan(c, recovery.KindSweepToken, mintSetter(c))
				},
			},
			{
				Name:  "sweep-nft",
				Usage: "Move an NFT to the safe wallet",
				Flags: append(planFlags(), mintFlag()),
				Action: func(c *cli.Context) error {
					return runPlan(c, recovery.KindSweepNFT, mintSetter(c))
				},
			},
			{
				Name:  "stake",
				Usage: "Withdraw or take over stake accounts (default: every account the wallet controls)",
				Flags: append(planFlags(), &cli.StringFlag{
					Name:  "stake-account",
					Usage: "Stake account to recover",
				}),
				Action: func(c *cli.Context) error {
					return runPlan(c, recovery.KindRecoverStake, func(req *recovery.Request) error {
						if v := c.String("stake-account"); v != "" {
							pk, err := parseKey("stake account", v)
							if err != nil {
								return err
							}
							req.StakeAccount = pk
						}
						return nil
					})
				},
			},
			{
				Name:  "brick",
				Usage: "Allocate data on the compromised wallet so it can no longer pay fees",
				Flags: append(planFlags(), &cli.Uint64Flag{
					Name:  "space",
					Value: 1,
					Usage: "Bytes of data to allocate",
				}),
				Action: func(c *cli.Context) error {
					return runPlan(c, recovery.KindBrick, func(req *recovery.Request) error {
						req.Space = c.Uint64("space")
						return nil
					})
				},
			},
		},
	}
}

func planFlags() []cli.Flag {
	return append(priorityFeeFlags(),
		&cli.StringFlag{
			Name:  "compromised",
			Usage: "Compromised wallet (default: the remembered one)",
		},
		&cli.StringFlag{
			Name:  "safe",
			Usage: "Safe wallet that pays fees and receives assets (default: the remembered one)",
		},
		&cli.StringSliceFlag{
			Name:  "sign",
			Usage: "solana-keygen keypair file to sign with (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "send",
			Usage: "Broadcast the signed transaction and wait for it to land",
		},
		&cli.BoolFlag{
			Name:  "simulate",
			Usage: "Simulate the transaction and include the balance diff",
		},
		&cli.UintFlag{
			Name:  "compute-units",
			Usage: "Fixed compute unit limit (default: sized by simulation with --simulate or --send)",
		},
		&cli.StringFlag{
			Name:  "commitment",
			Value: string(rpc.CommitmentConfirmed),
			Usage: "Commitment to wait for with --send (confirmed or finalized)",
		},
		&cli.DurationFlag{
			Name:  "resend-interval",
			Value: 2 * time.Second,
			Usage: "How often the transaction is re-sent with --send",
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Value:   2 * time.Minute,
			Usage:   "How long to keep re-sending with --send",
		},
	)
}

func mintFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "mint",
		Usage:    "Mint of the token to move",
		Required: true,
	}
}

func mintSetter(c *cli.Context) func(req *recovery.Request) error {
	return func(req *recovery.Request) error {
		pk, err := parseKey("mint", c.String("mint"))
		if err != nil {
			return err
		}
		req.Mint = pk
		return nil
	}
}

func runPlan(c *cli.Context, kind recovery.Kind, fill func(req *recovery.Request) error) error {
	compromisedStr, safeStr, err := rememberedWallets(c, c.String("compromised"), c.String("safe"))
	if err != nil {
		return err
	}
	req := recovery.Request{Kind: kind}
	if req.Compromised, err = parseKey("compromised wallet", compromisedStr); err != nil {
		return err
	}
	if req.Safe, err = parseKey("safe wallet", safeStr); err != nil {
		return err
	}
	if err := fill(&req); err != nil {
		return err
	}
	keys, err := loadKeypairs(c.StringSlice("sign"))
	if err != nil {
		return err
	}
	if c.Bool("send") && len(keys) == 0 {
		return errors.New("--send requires --sign")
	}

	ctx := c.Context
	logger := newLogger(c)
	chain, _, err := newChain(c)
	if err != nil {
		return err
	}

	fixedUnits := uint32(c.Uint("compute-units"))
	planner := recovery.NewPlanner(chain, nil, logger).WithComputeUnitLimit(fixedUnits)
	plan, err := buildPlan(ctx, planner, chain, req)
	if err != nil {
		return err
	}

	out := planOutput{Plan: plan}
	price, err := estimatePriorityFee(c, chain, plan.Transaction(solanago.Hash{}).WritableAccounts())
	if err != nil {
		return err
	}
	out.PriorityFeeMicroLamports = price

	simulator := simulate.NewSimulator(chain, nil, logger)
	wantSim := c.Bool("simulate") || c.Bool("send")
	if wantSim && fixedUnits == 0 {
		res, err := plan.SizeComputeBudget(ctx, simulator, solanago.Hash{}, price)
		if err != nil && !errors.Is(err, fees.ErrSimulationFailed) {
			return err
		}
		out.Simulation = res
	}
	if err := plan.SetComputeBudget(0, price); err != nil {
		return err
	}

	bh, err := chain.LatestBlockhash(ctx)
	if err != nil {
		return err
	}
	out.Blockhash = bh.Hash.String()
	out.LastValidBlockHeight = bh.LastValidBlockHeight

	tx, err := plan.Build(bh.Hash)
	if err != nil {
		return err
	}
	missing, err := signWith(tx, keys)
	if err != nil {
		return err
	}
	out.MissingSigners = keyStrings(missing)
	if out.Transaction, err = tx.ToBase64(); err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	if wantSim && out.Simulation == nil {
		res, err := simulator.Run(ctx, tx, plan.Transaction(bh.Hash).WritableAccounts())
		if err != nil {
			return err
		}
		out.Simulation = res
	}
	if c.Bool("send") && !out.Simulation.Succeeded() {
		_ = render(c, out, func(w io.Writer) { printPlan(w, out) })
		return fmt.Errorf("simulation failed (%s); not sending", out.Simulation.ErrorKind)
	}

	if !c.Bool("send") {
		return render(c, out, func(w io.Writer) { printPlan(w, out) })
	}
	if len(missing) > 0 {
		return fmt.Errorf("transaction is missing signatures from: %s", strings.Join(out.MissingSigners, ", "))
	}

	commitment := rpc.CommitmentType(c.String("commitment"))
	if commitment != rpc.CommitmentConfirmed && commitment != rpc.CommitmentFinalized {
		return fmt.Errorf("commitment must be confirmed or finalized, got %q", commitment)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to serialize transaction: %w", err)
	}
	sendCtx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()
	s := sender.NewSender(chain, sender.Config{
		ResendInterval: c.Duration("resend-interval"),
		Commitment:     commitment,
	}, nil, logger)
	res, sendErr := s.SendAndConfirm(sendCtx, raw, bh.LastValidBlockHeight)
	out.Result = res
	if err := render(c, out, func(w io.Writer) { printPlan(w, out) }); err != nil {
		return err
	}
	return sendErr
}

// buildPlan builds req, or for a stake request without an account, one
// combined plan covering every stake account the wallet controls.
func buildPlan(ctx context.Context, planner *recovery.Planner, chain *solana.Client, req recovery.Request) (*recovery.Plan, error) {
	if req.Kind != recovery.KindRecoverStake || !req.StakeAccount.IsZero() {
		return planner.Plan(ctx, chain, req)
	}

	accounts, err := chain.StakeAccounts(ctx, req.Compromised)
	if err != nil {
		return nil, fmt.Errorf("failed to list stake accounts: %w", err)
	}
	var plans []*recovery.Plan
	for _, a := range accounts {
		p, err := planner.RecoverStake(ctx, req.Compromised, req.Safe, a)
		if errors.Is(err, recovery.ErrNothingToRecover) || errors.Is(err, recovery.ErrNotAuthority) {
			continue
		}
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: no stake accounts under authority %s", recovery.ErrNothingToRecover, req.Compromised)
	}
	if len(plans) == 1 {
		return plans[0], nil
	}
	return recovery.Combine(plans...)
}

func priorityFeeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "priority-fee",
			Usage: "Add a compute unit price estimated from recent fees",
		},
		&cli.IntFlag{
			Name:  "fee-percentile",
			Value: 75,
			Usage: "Percentile of recent prioritization fees to pay",
		},
		&cli.Uint64Flag{
			Name:  "fee-cap",
			Value: 1_000_000,
			Usage: "Maximum compute unit price in micro-lamports",
		},
	}
}

// estimatePriorityFee returns the compute unit price to pay, or 0 without
// --priority-fee.
func estimatePriorityFee(c *cli.Context, source fees.FeeSource, writable []solanago.PublicKey) (uint64, error) {
	if !c.Bool("priority-fee") {
		return 0, nil
	}
	estimator := fees.NewEstimator(source, fees.EstimatorConfig{
		Strategy:         fees.PercentileStrategy{Percentile: c.Int("fee-percentile")},
		CapMicroLamports: c.Uint64("fee-cap"),
	}, nil, newLogger(c))
	return estimator.Estimate(c.Context, writable)
}

func printPlan(w io.Writer, out planOutput) {
	p := out.Plan
	fmt.Fprintf(w, "Plan:          %s\n", p.Kind)
	fmt.Fprintf(w, "Description:   %s\n", p.Description)
	fmt.Fprintf(w, "Fee Payer:     %s\n", p.FeePayer)
	fmt.Fprintf(w, "Signers:       %s\n", strings.Join(keyStrings(p.Signers), ", "))
	fmt.Fprintf(w, "Instructions:  %d\n", len(p.Instructions))
	fmt.Fprintf(w, "Estimated Fee: %s\n", formatSOL(p.EstimatedFeeLamports))
	if out.PriorityFeeMicroLamports > 0 {
		fmt.Fprintf(w, "Priority Fee:  %d micro-lamports/CU\n", out.PriorityFeeMicroLamports)
	}
	if b := fees.ReadBudget(p.Instructions); b.HasLimit {
		fmt.Fprintf(w, "Compute Units: %d\n", b.Units)
	}
	fmt.Fprintf(w, "Valid Until:   block %d\n", out.LastValidBlockHeight)
	if len(out.MissingSigners) > 0 {
		fmt.Fprintf(w, "Unsigned By:   %s\n", strings.Join(out.MissingSigners, ", "))
	}
	if out.Simulation != nil {
		fmt.Fprintf(w, "\n%s", simulate.Table(out.Simulation))
	}
	if out.Result != nil {
		fmt.Fprintln(w)
		printSendResult(w, out.Result)
		return
	}
	fmt.Fprintf(w, "\nTransaction (%s):\n%s\n", txcodec.EncodingBase64, out.Transaction)
}
