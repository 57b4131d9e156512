package prices

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/brojonat/rescuer/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var usdc = solanago.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

func TestPrices(t *testing.T) {
	// Setup
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/price/v2", r.URL.Path)
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		assert.Len(t, ids, 2)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{` +
			`"So11111111111111111111111111111111111111112":{"id":"So11111111111111111111111111111111111111112","type":"derivedPrice","price":"150.25"},` +
			`"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v":null}}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, srv.URL, nil, nil)

	// Act
	got, err := c.Prices(context.Background(), []solanago.PublicKey{solanago.SolMint, usdc, solanago.SolMint})

	// Assert
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, decimal.RequireFromString("150.25").Equal(got[solanago.SolMint]))
	_, ok := got[usdc]
	assert.False(t, ok, "null entries are treated as unpriced")

	// Act: cached price is served without a request
	p, ok, err := c.Price(context.Background(), solanago.SolMint)

	// Assert
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "150.25", p.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPrices_HTTPError(t *testing.T) {
	// Setup
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, srv.URL, nil, nil)

	// Act
	_, err := c.Prices(context.Background(), []solanago.PublicKey{usdc})

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestToken(t *testing.T) {
	// Setup
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		switch r.URL.Path {
		case "/token/" + usdc.String():
			w.Write([]byte(`{"address":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v","name":"USD Coin","symbol":"USDC","decimals":6,"logoURI":"https://example.com/usdc.png"}`))
		default:
			w.Write([]byte(`null`))
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, srv.URL, nil, nil)

	tests := []struct {
		name    string
		mint    solanago.PublicKey
		symbol  string
		wantErr error
	}{
		{name: "known mint", mint: usdc, symbol: "USDC"},
		{name: "unknown mint", mint: solanago.NewWallet().PublicKey(), wantErr: ErrTokenNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			info, err := c.Token(context.Background(), tt.mint)

			// Assert
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.symbol, info.Symbol)
			assert.Equal(t, uint8(6), info.Decimals)
		})
	}

	// Act: metadata is cached
	_, err := c.Token(context.Background(), usdc)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestValue(t *testing.T) {
	// Setup
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{` +
			`"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v":{"id":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v","price":"0.9998"},` +
			`"So11111111111111111111111111111111111111112":{"id":"So11111111111111111111111111111111111111112","price":"200"}}}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, srv.URL, nil, nil)
	holding := solana.TokenHolding{Mint: usdc, Amount: 12_500_000, Decimals: 6}

	// Act
	value, ok, err := c.Value(context.Background(), holding)
	solValue, solOK, solErr := c.SOLValue(context.Background(), 1_500_000_000)

	// Assert
	require.NoError(t, err)
	require.NoError(t, solErr)
	assert.True(t, ok)
	assert.True(t, solOK)
	assert.Equal(t, "12.4975", value.String())
	assert.Equal(t, "300", solValue.String())
}
