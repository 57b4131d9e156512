package solana

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	mu sync.Mutex

	signatures    []*rpc.TransactionSignature
	transactions  map[string]*rpc.GetTransactionResult
	balance       uint64
	accounts      map[solana.PublicKey]*rpc.Account
	tokenAccounts map[solana.PublicKey][]*rpc.TokenAccount // by token program
	stakeByOffset map[uint64]rpc.GetProgramAccountsResult
	blockhash     solana.Hash
	blockHeight   uint64
	epoch         uint64
	statuses      []*rpc.SignatureStatusesResult
	sent          [][]byte
	sendOpts      []rpc.TransactionOpts

	err          error
	failuresLeft int // return a 429 this many times before succeeding
	calls        map[string]int
}

func (m *mockRPCClient) record(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
	if m.failuresLeft > 0 {
		m.failuresLeft--
		return errors.New("HTTP status code 429: Too Many Requests")
	}
	return m.err
}

func (m *mockRPCClient) GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	if err := m.record("GetSignaturesForAddress"); err != nil {
		return nil, err
	}
	return m.signatures, nil
}

func (m *mockRPCClient) GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	if err := m.record("GetTransaction"); err != nil {
		return nil, err
	}
	if m.transactions == nil {
		return nil, nil
	}
	return m.transactions[signature.String()], nil
}

func (m *mockRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	if err := m.record("GetBalance"); err != nil {
		return nil, err
	}
	return &rpc.GetBalanceResult{Value: m.balance}, nil
}

func (m *mockRPCClient) GetAccountInfo(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	if err := m.record("GetAccountInfo"); err != nil {
		return nil, err
	}
	acct, ok := m.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: acct}, nil
}

func (m *mockRPCClient) GetMultipleAccounts(ctx context.Context, accounts []solana.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error) {
	if err := m.record("GetMultipleAccounts"); err != nil {
		return nil, err
	}
	out := &rpc.GetMultipleAccountsResult{Value: make([]*rpc.Account, len(accounts))}
	for i, a := range accounts {
		out.Value[i] = m.accounts[a]
	}
	return out, nil
}

func (m *mockRPCClient) GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error) {
	if err := m.record("GetTokenAccountsByOwner"); err != nil {
		return nil, err
	}
	return &rpc.GetTokenAccountsResult{Value: m.tokenAccounts[*conf.ProgramId]}, nil
}

func (m *mockRPCClient) GetProgramAccounts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	if err := m.record("GetProgramAccounts"); err != nil {
		return nil, err
	}
	for _, f := range opts.Filters {
		if f.Memcmp != nil {
			return m.stakeByOffset[f.Memcmp.Offset], nil
		}
	}
	return nil, nil
}

func (m *mockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	if err := m.record("GetLatestBlockhash"); err != nil {
		return nil, err
	}
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{
		Blockhash:            m.blockhash,
		LastValidBlockHeight: m.blockHeight + 150,
	}}, nil
}

func (m *mockRPCClient) GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	if err := m.record("GetBlockHeight"); err != nil {
		return 0, err
	}
	return m.blockHeight, nil
}

func (m *mockRPCClient) GetEpochInfo(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetEpochInfoResult, error) {
	if err := m.record("GetEpochInfo"); err != nil {
		return nil, err
	}
	return &rpc.GetEpochInfoResult{Epoch: m.epoch}, nil
}

func (m *mockRPCClient) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error) {
	if err := m.record("GetMinimumBalanceForRentExemption"); err != nil {
		return 0, err
	}
	return (dataSize + 128) * 6960, nil
}

func (m *mockRPCClient) GetRecentPrioritizationFees(ctx context.Context, accounts solana.PublicKeySlice) ([]rpc.PriorizationFeeResult, error) {
	if err := m.record("GetRecentPrioritizationFees"); err != nil {
		return nil, err
	}
	return []rpc.PriorizationFeeResult{{Slot: 1, PrioritizationFee: 42}}, nil
}

func (m *mockRPCClient) GetSignatureStatuses(ctx context.Context, searchHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	if err := m.record("GetSignatureStatuses"); err != nil {
		return nil, err
	}
	return &rpc.GetSignatureStatusesResult{Value: m.statuses}, nil
}

func (m *mockRPCClient) SendRawTransaction(ctx context.Context, raw []byte, opts rpc.TransactionOpts) (solana.Signature, error) {
	if err := m.record("SendRawTransaction"); err != nil {
		return solana.Signature{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, raw)
	m.sendOpts = append(m.sendOpts, opts)
	var sig solana.Signature
	copy(sig[:], raw)
	return sig, nil
}

func (m *mockRPCClient) SimulateTransaction(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
	if err := m.record("SimulateTransaction"); err != nil {
		return nil, err
	}
	units := uint64(1234)
	return &rpc.SimulateTransactionResponse{Value: &rpc.SimulateTransactionResult{UnitsConsumed: &units}}, nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, "test", nil, logger,
		WithRetryBackoff(time.Millisecond),
		WithRequestSpacing(0),
	)
}

func testSignature(b byte) solana.Signature {
	var sig solana.Signature
	for i := range sig {
		sig[i] = b
	}
	return sig
}

func tokenAccountData(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, TokenAccountSize)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	return data
}

func mintData(decimals uint8) []byte {
	data := make([]byte, MintSize)
	data[mintDecimalsOffset] = decimals
	return data
}

func stakeData(tag uint32, staker, withdrawer solana.PublicKey) []byte {
	data := make([]byte, StakeAccountSize)
	binary.LittleEndian.PutUint32(data[0:4], tag)
	binary.LittleEndian.PutUint64(data[4:12], 2_282_880)
	copy(data[StakeStakerOffset:StakeStakerOffset+32], staker[:])
	copy(data[StakeWithdrawerOffset:StakeWithdrawerOffset+32], withdrawer[:])
	return data
}

func lookupTableData(t *testing.T, addresses ...solana.PublicKey) []byte {
	t.Helper()
	var buf bytes.Buffer
	state := addresslookuptable.AddressLookupTableState{
		TypeIndex:        1,
		DeactivationSlot: ^uint64(0),
		Addresses:        addresses,
	}
	require.NoError(t, state.MarshalWithEncoder(bin.NewBinEncoder(&buf)))
	return buf.Bytes()
}

func TestHistory_MetadataOnly(t *testing.T) {
	ctx := context.Background()

	// Setup: Mock RPC returns 3 recent signatures without transaction bodies
	now := solana.UnixTimeSeconds(time.Now().Unix())
	past := solana.UnixTimeSeconds(time.Now().Unix() - 10)
	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{
			{Signature: testSignature(1), Slot: 100, BlockTime: &now, ConfirmationStatus: rpc.ConfirmationStatusFinalized},
			{Signature: testSignature(2), Slot: 99, BlockTime: &past},
			{Signature: testSignature(3), Slot: 98, Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}},
		},
	}
	client := newTestClient(mock)

	// Act
	txns, err := client.History(ctx, HistoryParams{Wallet: solana.NewWallet().PublicKey(), Limit: 10})

	// Assert
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, testSignature(1).String(), txns[0].Signature)
	assert.Equal(t, uint64(100), txns[0].Slot)
	assert.Equal(t, "finalized", txns[0].Status)
	assert.Equal(t, time.Unix(int64(now), 0), txns[0].BlockTime)
	assert.Nil(t, txns[1].Err)
	require.NotNil(t, txns[2].Err)
	assert.Contains(t, *txns[2].Err, "transaction failed")
	assert.Equal(t, 3, mock.calls["GetTransaction"])
}

func TestHistory_RPCError(t *testing.T) {
	mock := &mockRPCClient{err: errors.New("RPC connection failed")}
	client := newTestClient(mock)

	txns, err := client.History(context.Background(), HistoryParams{Wallet: solana.NewWallet().PublicKey()})

	assert.Error(t, err)
	assert.Nil(t, txns)
}

func TestCall_RetriesRateLimits(t *testing.T) {
	mock := &mockRPCClient{balance: 7, failuresLeft: 2}
	client := newTestClient(mock)

	got, err := client.Balance(context.Background(), solana.NewWallet().PublicKey())

	require.NoError(t, err)
	assert.Equal(t, uint64(7), got)
	assert.Equal(t, 3, mock.calls["GetBalance"])
}

func TestCall_GivesUpAfterMaxAttempts(t *testing.T) {
	mock := &mockRPCClient{failuresLeft: 10}
	client := newTestClient(mock)

	_, err := client.Balance(context.Background(), solana.NewWallet().PublicKey())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, maxAttempts, mock.calls["GetBalance"])
}

func TestTokenHoldings(t *testing.T) {
	ctx := context.Background()

	// Setup: one USDC-like holding on Token and one NFT on Token-2022
	owner := solana.NewWallet().PublicKey()
	usdc := solana.NewWallet().PublicKey()
	nftMint := solana.NewWallet().PublicKey()
	usdcAcct := solana.NewWallet().PublicKey()
	nftAcct := solana.NewWallet().PublicKey()

	mock := &mockRPCClient{
		tokenAccounts: map[solana.PublicKey][]*rpc.TokenAccount{
			TokenProgramID: {{
				Pubkey:  usdcAcct,
				Account: rpc.Account{Lamports: 2_039_280, Data: rpc.DataBytesOrJSONFromBytes(tokenAccountData(usdc, owner, 1_500_000))},
			}},
			Token2022ProgramID: {{
				Pubkey:  nftAcct,
				Account: rpc.Account{Lamports: 2_074_080, Data: rpc.DataBytesOrJSONFromBytes(tokenAccountData(nftMint, owner, 1))},
			}},
		},
		accounts: map[solana.PublicKey]*rpc.Account{
			usdc:    {Data: rpc.DataBytesOrJSONFromBytes(mintData(6))},
			nftMint: {Data: rpc.DataBytesOrJSONFromBytes(mintData(0))},
		},
	}
	client := newTestClient(mock)

	// Act
	holdings, err := client.TokenHoldings(ctx, owner)

	// Assert
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	assert.Equal(t, usdcAcct, holdings[0].Account)
	assert.Equal(t, TokenProgramID, holdings[0].TokenProgram)
	assert.Equal(t, uint8(6), holdings[0].Decimals)
	assert.Equal(t, "1.5", holdings[0].UIAmount().String())
	assert.False(t, holdings[0].IsNFT())

	assert.Equal(t, Token2022ProgramID, holdings[1].TokenProgram)
	assert.True(t, holdings[1].IsNFT())

	nfts, err := client.NFTs(ctx, owner)
	require.NoError(t, err)
	require.Len(t, nfts, 1)
	assert.Equal(t, nftMint, nfts[0].Mint)
}

func TestStakeAccounts_Deduplicates(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	both := solana.NewWallet().PublicKey()
	stakerOnly := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()

	shared := &rpc.KeyedAccount{Pubkey: both, Account: &rpc.Account{
		Lamports: 5_000_000_000,
		Data:     rpc.DataBytesOrJSONFromBytes(stakeData(1, authority, authority)),
	}}
	mock := &mockRPCClient{stakeByOffset: map[uint64]rpc.GetProgramAccountsResult{
		StakeWithdrawerOffset: {shared},
		StakeStakerOffset: {shared, {Pubkey: stakerOnly, Account: &rpc.Account{
			Lamports: 3_000_000_000,
			Data:     rpc.DataBytesOrJSONFromBytes(stakeData(1, authority, other)),
		}}},
	}}
	client := newTestClient(mock)

	accounts, err := client.StakeAccounts(context.Background(), authority)

	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, both, accounts[0].Address)
	assert.Equal(t, stakerOnly, accounts[1].Address)
	assert.Equal(t, other, accounts[1].Withdrawer)
	assert.Equal(t, StakeStateInitialized, accounts[1].State)
	assert.True(t, accounts[1].Withdrawable(100))
}

func TestPortfolio(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	mock := &mockRPCClient{
		balance: 1_000_000_000,
		tokenAccounts: map[solana.PublicKey][]*rpc.TokenAccount{
			TokenProgramID: {{
				Pubkey:  solana.NewWallet().PublicKey(),
				Account: rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(tokenAccountData(mint, owner, 10))},
			}},
		},
		accounts: map[solana.PublicKey]*rpc.Account{
			mint: {Data: rpc.DataBytesOrJSONFromBytes(mintData(2))},
		},
	}
	client := newTestClient(mock)

	p, err := client.Portfolio(context.Background(), owner)

	require.NoError(t, err)
	assert.Equal(t, owner, p.Wallet)
	assert.Equal(t, uint64(1_000_000_000), p.Lamports)
	require.Len(t, p.Tokens, 1)
	assert.Empty(t, p.NFTs)
	assert.Empty(t, p.Stake)
}

func TestResolveLookupTable(t *testing.T) {
	ctx := context.Background()
	table := solana.NewWallet().PublicKey()
	a, b := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	mock := &mockRPCClient{accounts: map[solana.PublicKey]*rpc.Account{
		table: {Owner: solana.AddressLookupTableProgramID, Data: rpc.DataBytesOrJSONFromBytes(lookupTableData(t, a, b))},
	}}
	client := newTestClient(mock)

	t.Run("decodes and caches", func(t *testing.T) {
		got, err := client.ResolveLookupTable(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, solana.PublicKeySlice{a, b}, got)

		_, err = client.ResolveLookupTable(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, 1, mock.calls["GetAccountInfo"])
	})

	t.Run("missing table", func(t *testing.T) {
		_, err := client.ResolveLookupTable(ctx, solana.NewWallet().PublicKey())
		assert.ErrorIs(t, err, ErrLookupTableNotFound)
	})

	t.Run("wrong owner", func(t *testing.T) {
		notTable := solana.NewWallet().PublicKey()
		mock.accounts[notTable] = &rpc.Account{Owner: solana.SystemProgramID, Data: rpc.DataBytesOrJSONFromBytes(nil)}
		_, err := client.ResolveLookupTable(ctx, notTable)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrLookupTableNotFound)
	})
}

func TestAccountExists(t *testing.T) {
	present := solana.NewWallet().PublicKey()
	mock := &mockRPCClient{accounts: map[solana.PublicKey]*rpc.Account{present: {Lamports: 1}}}
	client := newTestClient(mock)

	ok, err := client.AccountExists(context.Background(), present)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.AccountExists(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSend_DisablesNodeRetries(t *testing.T) {
	mock := &mockRPCClient{}
	client := newTestClient(mock)
	raw := bytes.Repeat([]byte{9}, 100)

	sig, err := client.Send(context.Background(), raw, true)

	require.NoError(t, err)
	assert.Equal(t, testSignature(9), sig)
	require.Len(t, mock.sendOpts, 1)
	require.NotNil(t, mock.sendOpts[0].MaxRetries)
	assert.Equal(t, uint(0), *mock.sendOpts[0].MaxRetries)
	assert.True(t, mock.sendOpts[0].SkipPreflight)
}

func TestSignatureStatuses(t *testing.T) {
	mock := &mockRPCClient{statuses: []*rpc.SignatureStatusesResult{
		{Slot: 10, ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
		nil,
	}}
	client := newTestClient(mock)

	got, err := client.SignatureStatuses(context.Background(), testSignature(1), testSignature(2))

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Found)
	assert.Equal(t, "confirmed", got[0].ConfirmationStatus)
	assert.Equal(t, testSignature(2), got[1].Signature)
	assert.False(t, got[1].Found)
}

func TestLatestBlockhashAndEpoch(t *testing.T) {
	mock := &mockRPCClient{blockhash: solana.HashFromBytes(bytes.Repeat([]byte{3}, 32)), blockHeight: 500, epoch: 612}
	client := newTestClient(mock)

	bh, err := client.LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mock.blockhash, bh.Hash)
	assert.Equal(t, uint64(650), bh.LastValidBlockHeight)

	epoch, err := client.Epoch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(612), epoch)
}
