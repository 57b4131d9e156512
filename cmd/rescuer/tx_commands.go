package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/brojonat/rescuer/client"
	"github.com/brojonat/rescuer/service/fees"
	"github.com/brojonat/rescuer/service/sender"
	"github.com/brojonat/rescuer/service/simulate"
	"github.com/brojonat/rescuer/service/solana"
	"github.com/brojonat/rescuer/service/txcodec"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/urfave/cli/v2"
)

type decodeOutput struct {
	Transaction          *txcodec.DecodedTransaction `json:"transaction"`
	ExternalSigners      []string                    `json:"external_signers"`
	Payload              string                      `json:"payload"`
	LastValidBlockHeight uint64                      `json:"last_valid_block_height,omitempty"`
	PriorityFee          uint64                      `json:"priority_fee_micro_lamports,omitempty"`
	ComputeUnitLimit     uint32                      `json:"compute_unit_limit,omitempty"`
	Simulation           *simulate.Result            `json:"simulation,omitempty"`
}

func decodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decompile a transaction or message payload (base58 or base64)",
		ArgsUsage: "[PAYLOAD|-]",
		Description: `Decode a payload, resolving address lookup tables, and optionally re-pay it.

With --fee-payer the fee payer is replaced (and patched into associated token
account creation) and the re-encoded payload is printed. Signatures no longer
match a rewritten message, so it must be signed again before sending.

With --compute-budget the payload is simulated and a compute unit limit sized
from the units it consumed is inserted; --priority-fee also sets a unit price.

Example:
  rescuer decode "$PAYLOAD" --fee-payer SAFE_WALLET --refresh-blockhash --json | jq -r .payload`,
		Flags: append(priorityFeeFlags(),
			&cli.StringFlag{
				Name:  "fee-payer",
				Usage: "Replace the fee payer with this address",
			},
			&cli.StringSliceFlag{
				Name:  "signer",
				Usage: "Addresses you can sign with; any other signer is reported as external",
			},
			&cli.BoolFlag{
				Name:  "refresh-blockhash",
				Usage: "Replace the recent blockhash with the latest one",
			},
			&cli.BoolFlag{
				Name:  "compute-budget",
				Usage: "Simulate and insert a compute unit limit sized from the result (implied by --priority-fee)",
			},
			&cli.StringFlag{
				Name:  "encoding",
				Usage: "Encoding of the printed payload (base58 or base64; default: the input's)",
			},
		),
		Action: func(c *cli.Context) error {
			payload, err := readPayload(c)
			if err != nil {
				return err
			}
			var feePayer solanago.PublicKey
			if v := c.String("fee-payer"); v != "" {
				if feePayer, err = parseKey("fee payer", v); err != nil {
					return err
				}
			}
			signers, err := parseKeys("signer", c.StringSlice("signer"))
			if err != nil {
				return err
			}

			chain, _, err := newChain(c)
			if err != nil {
				return err
			}
			ctx := c.Context
			decoder := txcodec.NewDecoder(chain, nil, newLogger(c))
			dt, err := decoder.Decode(ctx, payload, feePayer, signers)
			if err != nil {
				return err
			}

			out := decodeOutput{Transaction: dt}
			if c.Bool("refresh-blockhash") {
				bh, err := chain.LatestBlockhash(ctx)
				if err != nil {
					return err
				}
				dt.RecentBlockhash = bh.Hash.String()
				out.LastValidBlockHeight = bh.LastValidBlockHeight
			}
			if c.Bool("compute-budget") || c.Bool("priority-fee") {
				if out.PriorityFee, err = estimatePriorityFee(c, chain, dt.WritableAccounts()); err != nil {
					return err
				}
				res, err := fees.SizeComputeBudget(ctx, simulate.NewSimulator(chain, nil, newLogger(c)), dt, out.PriorityFee)
				switch {
				case errors.Is(err, fees.ErrSimulationFailed):
					newLogger(c).Warn("payload failed simulation, compute unit limit left unchanged", "error", err)
					if dt.Instructions, err = fees.EnsureComputeBudget(dt.Instructions, 0, out.PriorityFee); err != nil {
						return err
					}
				case err != nil:
					return err
				}
				out.Simulation = res
				if b := fees.ReadBudget(dt.Instructions); b.HasLimit {
					out.ComputeUnitLimit = b.Units
				}
			}
			out.ExternalSigners = keyStrings(txcodec.ExternalSigners(dt, dt.DefaultSigners()))

			enc := txcodec.Encoding(c.String("encoding"))
			if enc == "" {
				enc = dt.Encoding
			}
			if out.Payload, err = dt.Encode(enc); err != nil {
				return err
			}

			return render(c, out, func(w io.Writer) {
				printDecoded(w, dt)
				if len(out.ExternalSigners) > 0 {
					fmt.Fprintf(w, "External Signers: %s\n", strings.Join(out.ExternalSigners, ", "))
				}
				if out.LastValidBlockHeight > 0 {
					fmt.Fprintf(w, "Valid Until:      block %d\n", out.LastValidBlockHeight)
				}
				if out.ComputeUnitLimit > 0 {
					fmt.Fprintf(w, "Compute Units:    %d\n", out.ComputeUnitLimit)
				}
				if out.Simulation != nil {
					fmt.Fprintf(w, "\n%s", simulate.Table(out.Simulation))
				}
				fmt.Fprintf(w, "\nPayload (%s):\n%s\n", enc, out.Payload)
			})
		},
	}
}

func printDecoded(w io.Writer, dt *txcodec.DecodedTransaction) {
	fmt.Fprintf(w, "Version:          %s\n", dt.Version)
	fmt.Fprintf(w, "Encoding:         %s\n", dt.Encoding)
	fmt.Fprintf(w, "Message Only:     %v\n", dt.MessageOnly)
	fmt.Fprintf(w, "Fee Payer:        %s\n", dt.FeePayer)
	fmt.Fprintf(w, "Recent Blockhash: %s\n", dt.RecentBlockhash)
	for table, addrs := range dt.LookupTables {
		fmt.Fprintf(w, "Lookup Table:     %s (%d addresses)\n", table, len(addrs))
	}
	for i, sig := range dt.Signatures {
		state := sig.String()
		if sig.IsZero() {
			state = "(unsigned)"
		}
		fmt.Fprintf(w, "Signature %d:      %s\n", i, state)
	}
	fmt.Fprintf(w, "\nInstructions (%d):\n", len(dt.Instructions))
	for i, ix := range dt.Instructions {
		fmt.Fprintf(w, "[%d] Program: %s\n", i, ix.ProgramID)
		for _, acc := range ix.Accounts {
			flags := ""
			if acc.IsSigner {
				flags += "s"
			}
			if acc.IsWritable {
				flags += "w"
			}
			fmt.Fprintf(w, "    %-44s %s\n", acc.PublicKey, flags)
		}
		fmt.Fprintf(w, "    Data: %x\n", ix.Data)
	}
	fmt.Fprintf(w, "\nNeeds External Signer: %v\n", dt.NeedsExternalSigner)
}

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:      "simulate",
		Usage:     "Dry-run a payload and show how account balances would change",
		ArgsUsage: "[PAYLOAD|-]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "address",
				Usage: "Accounts to diff (default: every writable account)",
			},
			&cli.StringFlag{
				Name:  "fee-payer",
				Usage: "Replace the fee payer before simulating",
			},
		},
		Action: func(c *cli.Context) error {
			payload, err := readPayload(c)
			if err != nil {
				return err
			}
			var feePayer solanago.PublicKey
			if v := c.String("fee-payer"); v != "" {
				if feePayer, err = parseKey("fee payer", v); err != nil {
					return err
				}
			}
			addresses, err := parseKeys("address", c.StringSlice("address"))
			if err != nil {
				return err
			}

			chain, _, err := newChain(c)
			if err != nil {
				return err
			}
			logger := newLogger(c)
			dt, err := txcodec.NewDecoder(chain, nil, logger).Decode(c.Context, payload, feePayer, nil)
			if err != nil {
				return err
			}
			tx, err := dt.Build()
			if err != nil {
				return err
			}
			if len(addresses) == 0 {
				addresses = dt.WritableAccounts()
			}

			res, err := simulate.NewSimulator(chain, nil, logger).Run(c.Context, tx, addresses)
			if err != nil {
				return err
			}
			return render(c, res, func(w io.Writer) {
				fmt.Fprint(w, simulate.Table(res))
			})
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Sign and broadcast a transaction, re-sending until it lands or expires",
		ArgsUsage: "[PAYLOAD|-]",
		Description: `Broadcast a transaction with a resend loop.

Locally, the same signed bytes are re-sent every --resend-interval until the
transaction reaches --commitment, fails, passes --last-valid-block-height, or
--timeout elapses. With --remote the transaction is submitted to the rescuer
service, which runs the loop in a Temporal workflow and journals the result.`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "sign",
				Usage: "solana-keygen keypair file to sign with (repeatable)",
			},
			&cli.Uint64Flag{
				Name:  "last-valid-block-height",
				Usage: "Stop once the chain passes this height (0: rely on --timeout)",
			},
			&cli.DurationFlag{
				Name:  "resend-interval",
				Value: 2 * time.Second,
				Usage: "How often the transaction is re-sent",
			},
			&cli.StringFlag{
				Name:  "commitment",
				Value: string(rpc.CommitmentConfirmed),
				Usage: "Commitment to wait for (confirmed or finalized)",
			},
			&cli.BoolFlag{
				Name:  "skip-preflight",
				Usage: "Skip preflight checks on the first send",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   2 * time.Minute,
				Usage:   "How long to keep re-sending",
			},
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "Broadcast through the rescuer service instead of locally",
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Recovery kind journaled with a remote broadcast",
			},
			&cli.StringFlag{
				Name:  "compromised",
				Usage: "Compromised wallet journaled with a remote broadcast",
			},
			&cli.StringFlag{
				Name:  "safe",
				Usage: "Safe wallet journaled with a remote broadcast",
			},
		},
		Action: func(c *cli.Context) error {
			payload, err := readPayload(c)
			if err != nil {
				return err
			}
			keys, err := loadKeypairs(c.StringSlice("sign"))
			if err != nil {
				return err
			}

			commitment := rpc.CommitmentType(c.String("commitment"))
			if commitment != rpc.CommitmentConfirmed && commitment != rpc.CommitmentFinalized {
				return fmt.Errorf("commitment must be confirmed or finalized, got %q", commitment)
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			chain, _, err := newChain(c)
			if err != nil {
				return err
			}
			tx, err := payloadTransaction(ctx, c, chain, payload)
			if err != nil {
				return err
			}
			missing, err := signWith(tx, keys)
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				return fmt.Errorf("transaction is missing signatures from: %s", strings.Join(keyStrings(missing), ", "))
			}

			if c.Bool("remote") {
				return sendRemote(ctx, c, tx)
			}

			raw, err := tx.MarshalBinary()
			if err != nil {
				return fmt.Errorf("failed to serialize transaction: %w", err)
			}
			s := sender.NewSender(chain, sender.Config{
				ResendInterval: c.Duration("resend-interval"),
				Commitment:     commitment,
				SkipPreflight:  c.Bool("skip-preflight"),
			}, nil, newLogger(c))

			res, sendErr := s.SendAndConfirm(ctx, raw, c.Uint64("last-valid-block-height"))
			if res == nil {
				return sendErr
			}
			if err := render(c, res, func(w io.Writer) { printSendResult(w, res) }); err != nil {
				return err
			}
			return sendErr
		},
	}
}

// payloadTransaction parses a signed transaction, or compiles a bare message
// into one with empty signatures.
func payloadTransaction(ctx context.Context, c *cli.Context, chain *solana.Client, payload string) (*solanago.Transaction, error) {
	sniffed, err := txcodec.Sniff(payload)
	if err != nil {
		return nil, err
	}
	if !sniffed.MessageOnly {
		tx, err := solanago.TransactionFromBytes(sniffed.Raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", txcodec.ErrMalformedPayload, err)
		}
		return tx, nil
	}
	dt, err := txcodec.NewDecoder(chain, nil, newLogger(c)).Decode(ctx, payload, solanago.PublicKey{}, nil)
	if err != nil {
		return nil, err
	}
	return dt.Build()
}

func sendRemote(ctx context.Context, c *cli.Context, tx *solanago.Transaction) error {
	encoded, err := tx.ToBase64()
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	compromised, safe, err := rememberedWallets(c, c.String("compromised"), c.String("safe"))
	if err != nil {
		return err
	}
	cl := newServiceClient(c)
	b, err := cl.Broadcast(ctx, client.BroadcastRequest{
		Payload:              encoded,
		Kind:                 c.String("kind"),
		Compromised:          compromised,
		Safe:                 safe,
		LastValidBlockHeight: c.Uint64("last-valid-block-height"),
	})
	if err != nil {
		return fmt.Errorf("failed to submit broadcast: %w", err)
	}

	status, err := cl.WaitBroadcast(ctx, b.WorkflowID, 2*time.Second)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("broadcast %s still running (check: rescuer broadcast status %s)", b.WorkflowID, b.WorkflowID)
		}
		return err
	}
	return render(c, status, func(w io.Writer) { printBroadcastStatus(w, status) })
}

func printSendResult(w io.Writer, res *sender.Result) {
	fmt.Fprintf(w, "Signature: %s\n", res.Signature)
	fmt.Fprintf(w, "Status:    %s\n", res.Status)
	if res.Slot > 0 {
		fmt.Fprintf(w, "Slot:      %d\n", res.Slot)
	}
	fmt.Fprintf(w, "Attempts:  %d\n", res.Attempts)
	if res.Err != nil {
		fmt.Fprintf(w, "Error:     %v\n", res.Err)
	}
}
