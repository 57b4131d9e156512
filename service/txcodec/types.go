package txcodec

import (
	"errors"

	"github.com/gagliardetto/solana-go"
)

// Encoding is the text encoding a payload arrived in.
type Encoding string

const (
	EncodingBase58 Encoding = "base58"
	EncodingBase64 Encoding = "base64"
)

// Version is the message version of a decoded transaction.
type Version string

const (
	VersionLegacy Version = "legacy"
	VersionV0     Version = "0"
)

var (
	// ErrPayloadTooShort is returned when a payload cannot even hold a message header.
	ErrPayloadTooShort = errors.New("payload too short")
	// ErrUnsupportedVersion is returned for versioned messages other than v0.
	ErrUnsupportedVersion = errors.New("unsupported message version")
	// ErrMalformedPayload is returned when the bytes do not form a valid transaction or message.
	ErrMalformedPayload = errors.New("malformed transaction payload")
	// ErrLookupTableNotFound is returned when an address lookup table cannot be loaded.
	ErrLookupTableNotFound = errors.New("address lookup table not found")
	// ErrIndexOutOfRange is returned when a compiled instruction points past the account list.
	ErrIndexOutOfRange = errors.New("account index out of range")
)

// AccountMeta is one account reference of an instruction.
type AccountMeta struct {
	PublicKey  solana.PublicKey `json:"pubkey"`
	IsSigner   bool             `json:"is_signer"`
	IsWritable bool             `json:"is_writable"`
}

// Instruction is a decompiled instruction with its accounts fully resolved.
type Instruction struct {
	ProgramID solana.PublicKey `json:"program_id"`
	Accounts  []AccountMeta    `json:"accounts"`
	Data      []byte           `json:"data"`
}

// FromSolana converts a solana-go instruction (for example one produced by a
// program builder) into an Instruction.
func FromSolana(ix solana.Instruction) (Instruction, error) {
	data, err := ix.Data()
	if err != nil {
		return Instruction{}, err
	}
	out := Instruction{
		ProgramID: ix.ProgramID(),
		Data:      data,
	}
	for _, acc := range ix.Accounts() {
		out.Accounts = append(out.Accounts, AccountMeta{
			PublicKey:  acc.PublicKey,
			IsSigner:   acc.IsSigner,
			IsWritable: acc.IsWritable,
		})
	}
	return out, nil
}

// ToSolana returns a solana-go instruction with freshly allocated account metas.
// solana.NewTransaction mutates the metas it is given, so each call copies.
func (ix Instruction) ToSolana() solana.Instruction {
	accounts := make(solana.AccountMetaSlice, 0, len(ix.Accounts))
	for _, acc := range ix.Accounts {
		accounts = append(accounts, solana.NewAccountMeta(acc.PublicKey, acc.IsWritable, acc.IsSigner))
	}
	data := make([]byte, len(ix.Data))
	copy(data, ix.Data)
	return solana.NewInstruction(ix.ProgramID, accounts, data)
}

// DecodedTransaction is an editable view of a transaction payload.
type DecodedTransaction struct {
	Version             Version                                    `json:"version"`
	Encoding            Encoding                                   `json:"encoding"`
	FeePayer            solana.PublicKey                           `json:"fee_payer"`
	RecentBlockhash     string                                     `json:"recent_blockhash"`
	Instructions        []Instruction                              `json:"instructions"`
	Signatures          []solana.Signature                         `json:"signatures"`
	LookupTables        map[solana.PublicKey]solana.PublicKeySlice `json:"lookup_tables,omitempty"`
	NeedsExternalSigner bool                                       `json:"needs_external_signer"`
	MessageOnly         bool                                       `json:"message_only"`

	defaultSigners []solana.PublicKey
	// message bytes as decoded; signatures are only valid against these
	message []byte
}

// ProgramIDs returns the program id of every instruction, in order.
func (dt *DecodedTransaction) ProgramIDs() []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(dt.Instructions))
	for _, ix := range dt.Instructions {
		out = append(out, ix.ProgramID)
	}
	return out
}

// WritableAccounts returns the fee payer followed by every other account an
// instruction marks writable, without duplicates.
func (dt *DecodedTransaction) WritableAccounts() []solana.PublicKey {
	seen := map[solana.PublicKey]struct{}{}
	var out []solana.PublicKey
	add := func(pk solana.PublicKey) {
		if pk.IsZero() {
			return
		}
		if _, ok := seen[pk]; ok {
			return
		}
		seen[pk] = struct{}{}
		out = append(out, pk)
	}
	add(dt.FeePayer)
	for _, ix := range dt.Instructions {
		for _, acc := range ix.Accounts {
			if acc.IsWritable {
				add(acc.PublicKey)
			}
		}
	}
	return out
}
