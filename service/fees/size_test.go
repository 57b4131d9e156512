package fees

import (
	"context"
	"errors"
	"testing"

	"github.com/brojonat/rescuer/service/simulate"
	"github.com/brojonat/rescuer/service/txcodec"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUnitSimulator struct {
	result  *simulate.Result
	err     error
	gotTx   *solana.Transaction
	gotAddr []solana.PublicKey
}

func (f *fakeUnitSimulator) Run(ctx context.Context, tx *solana.Transaction, addresses []solana.PublicKey) (*simulate.Result, error) {
	f.gotTx = tx
	f.gotAddr = addresses
	return f.result, f.err
}

func transferTx(t *testing.T) *txcodec.DecodedTransaction {
	t.Helper()
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()
	ix, err := txcodec.FromSolana(system.NewTransferInstruction(1_000, from, to).Build())
	require.NoError(t, err)
	return &txcodec.DecodedTransaction{
		Version:         txcodec.VersionLegacy,
		Encoding:        txcodec.EncodingBase64,
		FeePayer:        from,
		RecentBlockhash: solana.Hash{1, 2, 3}.String(),
		Instructions:    []txcodec.Instruction{ix},
	}
}

func TestSizeComputeBudget(t *testing.T) {
	t.Run("sets the limit from units consumed", func(t *testing.T) {
		dt := transferTx(t)
		sim := &fakeUnitSimulator{result: &simulate.Result{UnitsConsumed: 150_000}}

		res, err := SizeComputeBudget(context.Background(), sim, dt, 2_500)
		require.NoError(t, err)
		assert.Equal(t, uint64(150_000), res.UnitsConsumed)

		require.Len(t, dt.Instructions, 3)
		b := ReadBudget(dt.Instructions)
		assert.True(t, b.HasLimit)
		assert.Equal(t, UnitsFromSimulation(150_000), b.Units)
		assert.Equal(t, uint32(180_000), b.Units)
		assert.Equal(t, uint64(2_500), b.MicroLamports)

		// the trial run asks for the ceiling and carries a slot per signer
		require.NotNil(t, sim.gotTx)
		assert.Len(t, sim.gotTx.Signatures, int(sim.gotTx.Message.Header.NumRequiredSignatures))
		trial, err := txcodec.FromSolana(computeLimitOf(t, sim.gotTx))
		require.NoError(t, err)
		assert.Equal(t, MaxComputeUnits, ReadBudget([]txcodec.Instruction{trial}).Units)
		assert.Contains(t, sim.gotAddr, dt.FeePayer)
	})

	t.Run("small runs clamp to the minimum", func(t *testing.T) {
		dt := transferTx(t)
		_, err := SizeComputeBudget(context.Background(), &fakeUnitSimulator{result: &simulate.Result{UnitsConsumed: 150}}, dt, 0)
		require.NoError(t, err)

		require.Len(t, dt.Instructions, 2)
		b := ReadBudget(dt.Instructions)
		assert.Equal(t, MinComputeUnits, b.Units)
		assert.False(t, b.HasPrice)
	})

	t.Run("failed simulation leaves the transaction alone", func(t *testing.T) {
		dt := transferTx(t)
		before := append([]txcodec.Instruction(nil), dt.Instructions...)
		sim := &fakeUnitSimulator{result: &simulate.Result{
			Err:       map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
			ErrorKind: simulate.ErrorKindInstructionError,
		}}

		res, err := SizeComputeBudget(context.Background(), sim, dt, 2_500)
		assert.ErrorIs(t, err, ErrSimulationFailed)
		require.NotNil(t, res)
		assert.Equal(t, before, dt.Instructions)
	})

	t.Run("rpc error", func(t *testing.T) {
		dt := transferTx(t)
		boom := errors.New("boom")

		res, err := SizeComputeBudget(context.Background(), &fakeUnitSimulator{err: boom}, dt, 0)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrSimulationFailed)
		assert.Nil(t, res)
		assert.Len(t, dt.Instructions, 1)
	})
}

func computeLimitOf(t *testing.T, tx *solana.Transaction) solana.Instruction {
	t.Helper()
	for _, compiled := range tx.Message.Instructions {
		program, err := tx.Message.Program(compiled.ProgramIDIndex)
		require.NoError(t, err)
		if program.Equals(solana.ComputeBudget) && len(compiled.Data) > 0 && compiled.Data[0] == 2 {
			return solana.NewInstruction(program, solana.AccountMetaSlice{}, compiled.Data)
		}
	}
	t.Fatal("no SetComputeUnitLimit instruction")
	return nil
}
