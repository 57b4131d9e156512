package recovery

import (
	"context"
	"testing"

	"github.com/brojonat/rescuer/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeHoldings struct {
	tokens []solana.TokenHolding
	stake  []solana.StakeAccount
}

func (f *fakeHoldings) TokenHoldings(ctx context.Context, wallet solanago.PublicKey) ([]solana.TokenHolding, error) {
	return f.tokens, nil
}

func (f *fakeHoldings) StakeAccounts(ctx context.Context, authority solanago.PublicKey) ([]solana.StakeAccount, error) {
	return f.stake, nil
}

func TestRequest_Validate(t *testing.T) {
	compromised, safe := wallets()
	mint := solanago.NewWallet().PublicKey()

	tests := []struct {
		name    string
		req     Request
		wantErr string
	}{
		{name: "sweep sol", req: Request{Kind: KindSweepSOL, Compromised: compromised, Safe: safe}},
		{name: "sweep token", req: Request{Kind: KindSweepToken, Compromised: compromised, Safe: safe, Mint: mint}},
		{name: "missing compromised", req: Request{Kind: KindSweepSOL, Safe: safe}, wantErr: "compromised wallet is required"},
		{name: "same wallets", req: Request{Kind: KindSweepSOL, Compromised: safe, Safe: safe}, wantErr: "must differ"},
		{name: "token without mint", req: Request{Kind: KindSweepToken, Compromised: compromised, Safe: safe}, wantErr: "mint is required"},
		{name: "stake without account", req: Request{Kind: KindRecoverStake, Compromised: compromised, Safe: safe}, wantErr: "stake account is required"},
		{name: "brick without space", req: Request{Kind: KindBrick, Compromised: compromised, Safe: safe}, wantErr: "space must be between"},
		{name: "brick too large", req: Request{Kind: KindBrick, Compromised: compromised, Safe: safe, Space: MaxAccountSpace + 1}, wantErr: "space must be between"},
		{name: "unknown kind", req: Request{Kind: "drain", Compromised: compromised, Safe: safe}, wantErr: "unknown plan kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPlanner_Plan(t *testing.T) {
	ctx := context.Background()
	compromised, safe := wallets()
	mint := solanago.NewWallet().PublicKey()
	small := solana.TokenHolding{Account: solanago.NewWallet().PublicKey(), Owner: compromised, Mint: mint, Amount: 5, Decimals: 6}
	large := solana.TokenHolding{Account: solanago.NewWallet().PublicKey(), Owner: compromised, Mint: mint, Amount: 500, Decimals: 6}
	holdings := &fakeHoldings{tokens: []solana.TokenHolding{small, large}}

	t.Run("sweep token picks the largest account", func(t *testing.T) {
		chain := new(MockChain)
		chain.On("AccountExists", ctx, mock.Anything).Return(true, nil)

		plan, err := NewPlanner(chain, nil, nil).Plan(ctx, holdings, Request{
			Kind: KindSweepToken, Compromised: compromised, Safe: safe, Mint: mint,
		})

		require.NoError(t, err)
		assert.Equal(t, KindSweepToken, plan.Kind)
		// transfer then close
		require.Len(t, plan.Instructions, 2)
		assert.Equal(t, large.Account, plan.Instructions[0].Accounts[0].PublicKey)
	})

	t.Run("unknown mint", func(t *testing.T) {
		_, err := NewPlanner(new(MockChain), nil, nil).Plan(ctx, holdings, Request{
			Kind: KindSweepToken, Compromised: compromised, Safe: safe, Mint: solanago.NewWallet().PublicKey(),
		})
		assert.ErrorIs(t, err, ErrHoldingNotFound)
	})

	t.Run("unknown stake account", func(t *testing.T) {
		_, err := NewPlanner(new(MockChain), nil, nil).Plan(ctx, holdings, Request{
			Kind: KindRecoverStake, Compromised: compromised, Safe: safe, StakeAccount: solanago.NewWallet().PublicKey(),
		})
		assert.ErrorIs(t, err, ErrHoldingNotFound)
	})

	t.Run("sweep sol passes the reserve", func(t *testing.T) {
		chain := new(MockChain)
		chain.On("Balance", ctx, compromised).Return(uint64(10_000), nil)

		plan, err := NewPlanner(chain, nil, nil).Plan(ctx, holdings, Request{
			Kind: KindSweepSOL, Compromised: compromised, Safe: safe, Reserve: 1_000,
		})

		require.NoError(t, err)
		assert.Contains(t, plan.Description, "0.000009 SOL")
	})
}
