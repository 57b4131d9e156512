package txcodec

import (
	"github.com/gagliardetto/solana-go"
)

// RewriteFeePayer makes feePayer the transaction's fee payer.
//
// Every associated-token-account instruction also gets its first account (the
// funding account) replaced by feePayer, so account creation rent is paid by
// the fee payer rather than by whoever built the payload. Instructions are
// patched in place; none are added or removed.
func RewriteFeePayer(dt *DecodedTransaction, feePayer solana.PublicKey) {
	dt.FeePayer = feePayer
	for i := range dt.Instructions {
		ix := &dt.Instructions[i]
		if !ix.ProgramID.Equals(solana.SPLAssociatedTokenAccountProgramID) || len(ix.Accounts) == 0 {
			continue
		}
		ix.Accounts[0] = AccountMeta{
			PublicKey:  feePayer,
			IsSigner:   true,
			IsWritable: true,
		}
	}
	dt.NeedsExternalSigner = NeedsExternalSigner(dt, dt.defaultSigners)
}

// NeedsExternalSigner reports whether any instruction requires a signature
// from a key outside defaultSigners. The payload's own fee payer gets no
// exemption: it must be listed to count as known.
func NeedsExternalSigner(dt *DecodedTransaction, defaultSigners []solana.PublicKey) bool {
	return len(ExternalSigners(dt, defaultSigners)) > 0
}

// ExternalSigners lists, in first-seen order, the signer keys missing from
// defaultSigners.
func ExternalSigners(dt *DecodedTransaction, defaultSigners []solana.PublicKey) []solana.PublicKey {
	known := make(map[solana.PublicKey]struct{}, len(defaultSigners))
	for _, k := range defaultSigners {
		known[k] = struct{}{}
	}

	var out []solana.PublicKey
	for _, ix := range dt.Instructions {
		for _, acc := range ix.Accounts {
			if !acc.IsSigner {
				continue
			}
			if _, ok := known[acc.PublicKey]; ok {
				continue
			}
			known[acc.PublicKey] = struct{}{}
			out = append(out, acc.PublicKey)
		}
	}
	return out
}

func containsKey(keys []solana.PublicKey, key solana.PublicKey) bool {
	for _, k := range keys {
		if k.Equals(key) {
			return true
		}
	}
	return false
}
