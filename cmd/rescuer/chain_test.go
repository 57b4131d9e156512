package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeygenFile(t *testing.T, key solanago.PrivateKey) string {
	t.Helper()
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), key.PublicKey().String()+".json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadKeypairs(t *testing.T) {
	a := solanago.NewWallet().PrivateKey
	b := solanago.NewWallet().PrivateKey

	keys, err := loadKeypairs([]string{writeKeygenFile(t, a), writeKeygenFile(t, b)})
	require.NoError(t, err)
	assert.Equal(t, []solanago.PublicKey{a.PublicKey(), b.PublicKey()}, publicKeys(keys))

	_, err = loadKeypairs([]string{filepath.Join(t.TempDir(), "missing.json")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load keypair")
}

func TestSignWith(t *testing.T) {
	compromised := solanago.NewWallet().PrivateKey
	safe := solanago.NewWallet().PrivateKey

	newTx := func(t *testing.T) *solanago.Transaction {
		t.Helper()
		tx, err := solanago.NewTransaction(
			[]solanago.Instruction{
				system.NewTransferInstruction(1_000, compromised.PublicKey(), safe.PublicKey()).Build(),
			},
			solanago.Hash{1, 2, 3},
			solanago.TransactionPayer(safe.PublicKey()),
		)
		require.NoError(t, err)
		return tx
	}

	t.Run("unsigned", func(t *testing.T) {
		missing, err := signWith(newTx(t), nil)
		require.NoError(t, err)
		assert.Equal(t, []solanago.PublicKey{safe.PublicKey(), compromised.PublicKey()}, missing)
	})

	t.Run("fee payer only", func(t *testing.T) {
		tx := newTx(t)
		missing, err := signWith(tx, []solanago.PrivateKey{safe})
		require.NoError(t, err)
		assert.Equal(t, []solanago.PublicKey{compromised.PublicKey()}, missing)
		assert.False(t, tx.Signatures[0].IsZero())
	})

	t.Run("both signers across calls", func(t *testing.T) {
		tx := newTx(t)
		_, err := signWith(tx, []solanago.PrivateKey{safe})
		require.NoError(t, err)
		missing, err := signWith(tx, []solanago.PrivateKey{compromised})
		require.NoError(t, err)
		assert.Empty(t, missing)
		require.NoError(t, tx.VerifySignatures())
	})

	t.Run("unrelated keys are ignored", func(t *testing.T) {
		missing, err := signWith(newTx(t), []solanago.PrivateKey{solanago.NewWallet().PrivateKey})
		require.NoError(t, err)
		assert.Len(t, missing, 2)
	})
}

func TestParseKeys(t *testing.T) {
	a := solanago.NewWallet().PublicKey()
	b := solanago.NewWallet().PublicKey()
	c := solanago.NewWallet().PublicKey()

	keys, err := parseKeys("signer", []string{a.String() + ", " + b.String(), c.String()})
	require.NoError(t, err)
	assert.Equal(t, []solanago.PublicKey{a, b, c}, keys)
	assert.Equal(t, []string{a.String(), b.String(), c.String()}, keyStrings(keys))

	_, err = parseKeys("signer", []string{"not-base58-0OIl"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid signer")

	_, err = parseKey("safe wallet", "")
	require.EqualError(t, err, "safe wallet is required")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList(" a, b,,c ,"))
	assert.Nil(t, splitList(""))
}

func TestFormatSOL(t *testing.T) {
	assert.Equal(t, "1.500000000 SOL", formatSOL(1_500_000_000))
	assert.Equal(t, "0.000005000 SOL", formatSOL(5_000))
	assert.Equal(t, "0.000000000 SOL", formatSOL(0))
}
