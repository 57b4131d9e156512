package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/brojonat/rescuer/service/prices"
	"github.com/brojonat/rescuer/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

type portfolioOutput struct {
	*solana.Portfolio
	Values   map[string]decimal.Decimal `json:"values_usd,omitempty"`
	TotalUSD *decimal.Decimal           `json:"total_usd,omitempty"`
}

func newPriceClient(c *cli.Context) *prices.Client {
	return prices.NewClient(c.String("price-api-url"), c.String("token-api-url"), nil, newLogger(c))
}

// walletArg returns the first argument, or the remembered compromised wallet.
func walletArg(c *cli.Context) (solanago.PublicKey, error) {
	address := c.Args().First()
	if address == "" {
		compromised, _, err := rememberedWallets(c, "", "")
		if err != nil {
			return solanago.PublicKey{}, err
		}
		address = compromised
	}
	return parseKey("wallet address", address)
}

func portfolioCommand() *cli.Command {
	return &cli.Command{
		Name:      "portfolio",
		Usage:     "Show a wallet's SOL, tokens, NFTs, and stake accounts",
		ArgsUsage: "[WALLET_ADDRESS]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-prices",
				Usage: "Skip USD valuation",
			},
		},
		Action: func(c *cli.Context) error {
			wallet, err := walletArg(c)
			if err != nil {
				return err
			}
			chain, _, err := newChain(c)
			if err != nil {
				return err
			}
			portfolio, err := chain.Portfolio(c.Context, wallet)
			if err != nil {
				return fmt.Errorf("failed to load portfolio: %w", err)
			}

			out := portfolioOutput{Portfolio: portfolio}
			if !c.Bool("no-prices") {
				values, total, err := prices.ValuePortfolio(c.Context, newPriceClient(c), portfolio)
				if err != nil {
					newLogger(c).Warn("failed to price portfolio", "error", err)
				} else {
					out.Values = values
					out.TotalUSD = &total
				}
			}

			return render(c, out, func(w io.Writer) { printPortfolio(w, out) })
		},
	}
}

func printPortfolio(w io.Writer, out portfolioOutput) {
	p := out.Portfolio
	fmt.Fprintf(w, "Wallet:  %s\n", p.Wallet)
	fmt.Fprintf(w, "Balance: %s%s\n", formatSOL(p.Lamports), usd(out.Values, solanago.SolMint.String()))

	if len(p.Tokens) > 0 {
		fmt.Fprintf(w, "\nTokens (%d):\n", len(p.Tokens))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "MINT\tAMOUNT\tACCOUNT\tUSD")
		for _, t := range p.Tokens {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Mint, t.UIAmount(), t.Account, usd(out.Values, t.Mint.String()))
		}
		tw.Flush()
	}

	if len(p.NFTs) > 0 {
		fmt.Fprintf(w, "\nNFTs (%d):\n", len(p.NFTs))
		for _, n := range p.NFTs {
			fmt.Fprintf(w, "  %s (account %s)\n", n.Mint, n.Account)
		}
	}

	if len(p.Stake) > 0 {
		fmt.Fprintf(w, "\nStake Accounts (%d):\n", len(p.Stake))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ADDRESS\tBALANCE\tSTATE\tSTAKER\tWITHDRAWER")
		for _, s := range p.Stake {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Address, formatSOL(s.Lamports), s.State, s.Staker, s.Withdrawer)
		}
		tw.Flush()
	}

	if out.TotalUSD != nil {
		fmt.Fprintf(w, "\nTotal: $%s\n", out.TotalUSD.StringFixed(2))
	}
}

func usd(values map[string]decimal.Decimal, mint string) string {
	v, ok := values[mint]
	if !ok {
		return ""
	}
	return fmt.Sprintf(" ($%s)", v.StringFixed(2))
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Aliases:   []string{"txns"},
		Usage:     "List a wallet's recent transactions, newest first",
		ArgsUsage: "[WALLET_ADDRESS]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   20,
				Usage:   "Maximum number of transactions",
			},
			&cli.StringFlag{
				Name:  "before",
				Usage: "Page backwards from this signature",
			},
		},
		Action: func(c *cli.Context) error {
			wallet, err := walletArg(c)
			if err != nil {
				return err
			}
			limit := c.Int("limit")
			if limit < 1 || limit > 1000 {
				return fmt.Errorf("limit must be between 1 and 1000")
			}
			params := solana.HistoryParams{Wallet: wallet, Limit: limit}
			if before := c.String("before"); before != "" {
				sig, err := solanago.SignatureFromBase58(before)
				if err != nil {
					return fmt.Errorf("invalid --before signature: %w", err)
				}
				params.Before = &sig
			}

			chain, _, err := newChain(c)
			if err != nil {
				return err
			}
			txns, err := chain.History(c.Context, params)
			if err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}

			return render(c, txns, func(w io.Writer) {
				if len(txns) == 0 {
					fmt.Fprintln(w, "No transactions found")
					return
				}
				fmt.Fprintf(w, "Found %d transaction(s) for wallet %s:\n\n", len(txns), wallet)
				for i, txn := range txns {
					printTransaction(w, i+1, txn)
				}
			})
		},
	}
}

func printTransaction(w io.Writer, n int, txn *solana.Transaction) {
	fmt.Fprintf(w, "[%d] Signature: %s\n", n, txn.Signature)
	if txn.FromAddress != nil {
		fmt.Fprintf(w, "    From:      %s\n", *txn.FromAddress)
	}
	if txn.ToAddress != nil {
		fmt.Fprintf(w, "    To:        %s\n", *txn.ToAddress)
	}
	if txn.TokenMint != nil {
		fmt.Fprintf(w, "    Amount:    %d (mint %s)\n", txn.Amount, *txn.TokenMint)
	} else if txn.Amount > 0 {
		fmt.Fprintf(w, "    Amount:    %s\n", formatSOL(txn.Amount))
	}
	fmt.Fprintf(w, "    Slot:      %d\n", txn.Slot)
	if txn.Status != "" {
		fmt.Fprintf(w, "    Status:    %s\n", txn.Status)
	}
	if !txn.BlockTime.IsZero() {
		fmt.Fprintf(w, "    Block Time: %s\n", txn.BlockTime.Format(time.RFC3339))
	}
	if txn.Memo != nil {
		fmt.Fprintf(w, "    Memo:      %s\n", *txn.Memo)
	}
	if txn.Err != nil {
		fmt.Fprintf(w, "    Error:     %s\n", *txn.Err)
	}
	fmt.Fprintln(w)
}

type priceOutput struct {
	Mint   string          `json:"mint"`
	Symbol string          `json:"symbol,omitempty"`
	Name   string          `json:"name,omitempty"`
	Price  decimal.Decimal `json:"price_usd"`
}

func priceCommand() *cli.Command {
	return &cli.Command{
		Name:      "price",
		Usage:     "Quote USD prices for mints (default: SOL)",
		ArgsUsage: "[MINT...]",
		Action: func(c *cli.Context) error {
			args := c.Args().Slice()
			if len(args) == 0 {
				args = []string{solanago.SolMint.String()}
			}
			mints, err := parseKeys("mint", args)
			if err != nil {
				return err
			}

			pc := newPriceClient(c)
			quotes, err := pc.Prices(c.Context, mints)
			if err != nil {
				return fmt.Errorf("failed to fetch prices: %w", err)
			}

			var out []priceOutput
			for _, mint := range mints {
				price, ok := quotes[mint]
				if !ok {
					newLogger(c).Warn("no price for mint", "mint", mint.String())
					continue
				}
				row := priceOutput{Mint: mint.String(), Price: price}
				if info, err := pc.Token(c.Context, mint); err == nil {
					row.Symbol = info.Symbol
					row.Name = info.Name
				}
				out = append(out, row)
			}

			return render(c, out, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "MINT\tSYMBOL\tPRICE (USD)")
				for _, row := range out {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Mint, row.Symbol, row.Price.String())
				}
				tw.Flush()
			})
		},
	}
}
