package txcodec

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// DefaultSigners returns the keys the caller can sign with, including a fee
// payer set through Decode or RewriteFeePayer.
func (dt *DecodedTransaction) DefaultSigners() []solana.PublicKey {
	return append([]solana.PublicKey(nil), dt.defaultSigners...)
}

// SetDefaultSigners replaces the keys the caller can sign with and
// re-evaluates NeedsExternalSigner.
func (dt *DecodedTransaction) SetDefaultSigners(signers []solana.PublicKey) {
	dt.defaultSigners = append([]solana.PublicKey(nil), signers...)
	dt.NeedsExternalSigner = NeedsExternalSigner(dt, dt.defaultSigners)
}

// Append adds instructions at the end.
func (dt *DecodedTransaction) Append(ixs ...Instruction) {
	dt.Instructions = append(dt.Instructions, ixs...)
	dt.NeedsExternalSigner = NeedsExternalSigner(dt, dt.defaultSigners)
}

// Insert adds ix at position i, shifting later instructions back.
func (dt *DecodedTransaction) Insert(i int, ix Instruction) error {
	if i < 0 || i > len(dt.Instructions) {
		return fmt.Errorf("insert position %d out of range [0, %d]", i, len(dt.Instructions))
	}
	dt.Instructions = append(dt.Instructions, Instruction{})
	copy(dt.Instructions[i+1:], dt.Instructions[i:])
	dt.Instructions[i] = ix
	dt.NeedsExternalSigner = NeedsExternalSigner(dt, dt.defaultSigners)
	return nil
}

// Remove deletes the instruction at position i.
func (dt *DecodedTransaction) Remove(i int) error {
	if i < 0 || i >= len(dt.Instructions) {
		return fmt.Errorf("instruction %d out of range [0, %d)", i, len(dt.Instructions))
	}
	dt.Instructions = append(dt.Instructions[:i], dt.Instructions[i+1:]...)
	dt.NeedsExternalSigner = NeedsExternalSigner(dt, dt.defaultSigners)
	return nil
}

// Move relocates the instruction at from to position to.
func (dt *DecodedTransaction) Move(from, to int) error {
	n := len(dt.Instructions)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("move %d -> %d out of range [0, %d)", from, to, n)
	}
	if from == to {
		return nil
	}
	ix := dt.Instructions[from]
	if from < to {
		copy(dt.Instructions[from:to], dt.Instructions[from+1:to+1])
	} else {
		copy(dt.Instructions[to+1:from+1], dt.Instructions[to:from])
	}
	dt.Instructions[to] = ix
	dt.NeedsExternalSigner = NeedsExternalSigner(dt, dt.defaultSigners)
	return nil
}

// Build compiles the instructions into a transaction paid by FeePayer,
// compressing accounts through LookupTables and keeping the message version.
// Existing signatures are carried over only when the compiled message is
// byte-identical to the decoded one.
func (dt *DecodedTransaction) Build() (*solana.Transaction, error) {
	if len(dt.Instructions) == 0 {
		return nil, fmt.Errorf("transaction has no instructions")
	}
	blockhash, err := solana.HashFromBase58(dt.RecentBlockhash)
	if err != nil {
		return nil, fmt.Errorf("invalid recent blockhash %q: %w", dt.RecentBlockhash, err)
	}

	ixs := make([]solana.Instruction, 0, len(dt.Instructions))
	for _, ix := range dt.Instructions {
		ixs = append(ixs, ix.ToSolana())
	}

	opts := []solana.TransactionOption{}
	if !dt.FeePayer.IsZero() {
		opts = append(opts, solana.TransactionPayer(dt.FeePayer))
	}
	if dt.Version == VersionV0 && len(dt.LookupTables) > 0 {
		opts = append(opts, solana.TransactionAddressTables(dt.LookupTables))
	}

	tx, err := solana.NewTransaction(ixs, blockhash, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to compile transaction: %w", err)
	}
	if dt.Version == VersionV0 {
		tx.Message.SetVersion(solana.MessageVersionV0)
	}

	msgBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if len(dt.message) > 0 && bytes.Equal(msgBytes, dt.message) {
		tx.Signatures = append([]solana.Signature(nil), dt.Signatures...)
	}
	return tx, nil
}

// Encode builds the transaction and serializes it in enc. Missing signatures
// are written as all-zero placeholders.
func (dt *DecodedTransaction) Encode(enc Encoding) (string, error) {
	tx, err := dt.Build()
	if err != nil {
		return "", err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return EncodeBytes(raw, enc)
}

// EncodeBytes renders raw transaction bytes in enc.
func EncodeBytes(raw []byte, enc Encoding) (string, error) {
	switch enc {
	case EncodingBase58:
		return base58.Encode(raw), nil
	case EncodingBase64, "":
		return base64.StdEncoding.EncodeToString(raw), nil
	default:
		return "", fmt.Errorf("unknown encoding %q", enc)
	}
}
