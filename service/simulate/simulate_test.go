package simulate

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/brojonat/rescuer/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRPC struct {
	before    []*rpc.Account
	result    *rpc.SimulateTransactionResult
	loadErr   error
	simErr    error
	gotOpts   *rpc.SimulateTransactionOpts
	gotLoaded []solanago.PublicKey
}

func (f *fakeRPC) Accounts(ctx context.Context, addresses []solanago.PublicKey) ([]*rpc.Account, error) {
	f.gotLoaded = addresses
	return f.before, f.loadErr
}

func (f *fakeRPC) Simulate(ctx context.Context, tx *solanago.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResult, error) {
	f.gotOpts = opts
	return f.result, f.simErr
}

func tokenAccount(mint, owner solanago.PublicKey, amount uint64) []byte {
	data := make([]byte, solana.TokenAccountSize)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	return data
}

func TestRun_Diff(t *testing.T) {
	// Setup: a wallet pays 0.5 SOL and moves 40 tokens out of its token account
	wallet := solanago.NewWallet().PublicKey()
	tokenAcct := solanago.NewWallet().PublicKey()
	fresh := solanago.NewWallet().PublicKey()
	mint := solanago.NewWallet().PublicKey()
	units := uint64(4_321)

	f := &fakeRPC{
		before: []*rpc.Account{
			{Lamports: 1_000_000_000, Owner: solanago.SystemProgramID},
			{Lamports: 2_039_280, Owner: solana.TokenProgramID, Data: rpc.DataBytesOrJSONFromBytes(tokenAccount(mint, wallet, 100))},
			nil,
		},
		result: &rpc.SimulateTransactionResult{
			Logs:          []string{"Program 11111111111111111111111111111111 success"},
			UnitsConsumed: &units,
			Accounts: []*rpc.Account{
				{Lamports: 499_995_000, Owner: solanago.SystemProgramID},
				{Lamports: 2_039_280, Owner: solana.TokenProgramID, Data: rpc.DataBytesOrJSONFromBytes(tokenAccount(mint, wallet, 60))},
				{Lamports: 500_000_000, Owner: solanago.SystemProgramID},
			},
		},
	}
	sim := NewSimulator(f, nil, nil)
	addresses := []solanago.PublicKey{wallet, tokenAcct, fresh}

	// Act
	res, err := sim.Run(context.Background(), &solanago.Transaction{}, addresses)

	// Assert
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, uint64(4_321), res.UnitsConsumed)
	assert.Len(t, res.Logs, 1)
	require.Len(t, res.Rows, 3)

	assert.Equal(t, int64(-500_005_000), res.Rows[0].LamportsDelta)
	assert.Nil(t, res.Rows[0].TokenDelta)

	require.NotNil(t, res.Rows[1].TokenDelta)
	assert.Equal(t, int64(-40), *res.Rows[1].TokenDelta)
	assert.Equal(t, mint, *res.Rows[1].After.TokenMint)
	assert.Zero(t, res.Rows[1].LamportsDelta)

	assert.False(t, res.Rows[2].Before.Exists)
	assert.True(t, res.Rows[2].After.Exists)
	assert.True(t, res.Rows[2].Changed())

	// unsigned transactions must be simulatable
	require.NotNil(t, f.gotOpts)
	assert.False(t, f.gotOpts.SigVerify)
	assert.True(t, f.gotOpts.ReplaceRecentBlockhash)
	assert.Equal(t, addresses, f.gotOpts.Accounts.Addresses)
	assert.Equal(t, addresses, f.gotLoaded)
}

func TestRun_ClosedAccount(t *testing.T) {
	acct := solanago.NewWallet().PublicKey()
	mint := solanago.NewWallet().PublicKey()
	f := &fakeRPC{
		before: []*rpc.Account{{Lamports: 2_039_280, Owner: solana.TokenProgramID, Data: rpc.DataBytesOrJSONFromBytes(tokenAccount(mint, acct, 5))}},
		result: &rpc.SimulateTransactionResult{Accounts: []*rpc.Account{nil}},
	}

	res, err := NewSimulator(f, nil, nil).Run(context.Background(), &solanago.Transaction{}, []solanago.PublicKey{acct})

	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(-2_039_280), res.Rows[0].LamportsDelta)
	assert.Equal(t, int64(-5), *res.Rows[0].TokenDelta)
	assert.False(t, res.Rows[0].After.Exists)
}

func TestRun_FailedSimulation(t *testing.T) {
	f := &fakeRPC{
		before: []*rpc.Account{{Lamports: 1}},
		result: &rpc.SimulateTransactionResult{
			Err:  map[string]interface{}{"InstructionError": []interface{}{float64(1), map[string]interface{}{"Custom": float64(1)}}},
			Logs: []string{"Program log: Error: insufficient funds"},
		},
	}

	res, err := NewSimulator(f, nil, nil).Run(context.Background(), &solanago.Transaction{}, []solanago.PublicKey{solanago.NewWallet().PublicKey()})

	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, ErrorKindInstructionError, res.ErrorKind)
	assert.Empty(t, res.Rows)
	assert.Contains(t, Table(res), "simulation failed (instruction_error)")
}

func TestRun_RPCErrors(t *testing.T) {
	boom := errors.New("boom")

	_, err := NewSimulator(&fakeRPC{loadErr: boom}, nil, nil).Run(context.Background(), &solanago.Transaction{}, nil)
	assert.ErrorIs(t, err, boom)

	_, err = NewSimulator(&fakeRPC{simErr: boom}, nil, nil).Run(context.Background(), &solanago.Transaction{}, nil)
	assert.ErrorIs(t, err, boom)

	_, err = NewSimulator(&fakeRPC{}, nil, nil).Run(context.Background(), &solanago.Transaction{}, nil)
	assert.ErrorContains(t, err, "empty simulation response")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"blockhash variant", "BlockhashNotFound", ErrorKindBlockhashNotFound},
		{"blockhash preflight", errors.New("Transaction simulation failed: Blockhash not found"), ErrorKindBlockhashNotFound},
		{"fee", "InsufficientFundsForFee", ErrorKindInsufficientFunds},
		{"rent", map[string]interface{}{"InsufficientFundsForRent": map[string]interface{}{"account_index": 2}}, ErrorKindInsufficientFunds},
		{"already processed", errors.New("This transaction has already been processed"), ErrorKindAlreadyProcessed},
		{"account not found", "AccountNotFound", ErrorKindAccountNotFound},
		{"instruction", map[string]interface{}{"InstructionError": []interface{}{0, "InvalidAccountData"}}, ErrorKindInstructionError},
		{"unknown", "SomethingNew", ErrorKindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in))
		})
	}
}

func TestTable(t *testing.T) {
	mint := solanago.NewWallet().PublicKey()
	d := int64(-3)
	res := &Result{
		UnitsConsumed: 150,
		Rows: []Row{
			{Address: solanago.NewWallet().PublicKey(), Before: AccountState{Lamports: 10}, After: AccountState{Lamports: 15}, LamportsDelta: 5},
			{Address: solanago.NewWallet().PublicKey(), After: AccountState{TokenMint: &mint}, TokenDelta: &d},
		},
	}

	out := Table(res)

	assert.Contains(t, out, "units consumed: 150")
	assert.Contains(t, out, "ACCOUNT")
	assert.Contains(t, out, "+5")
	assert.Contains(t, out, mint.String())
	assert.Contains(t, out, "-3")
}
