package prices

import (
	"context"

	"github.com/brojonat/rescuer/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Quoter quotes USD prices by mint.
type Quoter interface {
	Prices(ctx context.Context, mints []solanago.PublicKey) (map[solanago.PublicKey]decimal.Decimal, error)
}

// ValuePortfolio prices the native balance and every fungible token. Values
// are keyed by mint, with the native balance under the SOL mint. Unpriced
// mints are left out of both the map and the total.
func ValuePortfolio(ctx context.Context, q Quoter, p *solana.Portfolio) (map[string]decimal.Decimal, decimal.Decimal, error) {
	mints := []solanago.PublicKey{solanago.SolMint}
	for _, t := range p.Tokens {
		mints = append(mints, t.Mint)
	}
	quotes, err := q.Prices(ctx, mints)
	if err != nil {
		return nil, decimal.Zero, err
	}

	values := map[string]decimal.Decimal{}
	total := decimal.Zero
	if price, ok := quotes[solanago.SolMint]; ok {
		v := decimal.NewFromUint64(p.Lamports).Shift(-9).Mul(price)
		values[solanago.SolMint.String()] = v
		total = total.Add(v)
	}
	for _, t := range p.Tokens {
		price, ok := quotes[t.Mint]
		if !ok {
			continue
		}
		v := t.UIAmount().Mul(price)
		values[t.Mint.String()] = values[t.Mint.String()].Add(v)
		total = total.Add(v)
	}
	return values, total, nil
}
