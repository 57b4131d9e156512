package txcodec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/rescuer/service/metrics"
	"github.com/gagliardetto/solana-go"
)

// LookupResolver loads the addresses stored in an address lookup table.
type LookupResolver interface {
	ResolveLookupTable(ctx context.Context, table solana.PublicKey) (solana.PublicKeySlice, error)
}

// Decoder turns opaque payloads into DecodedTransactions.
type Decoder struct {
	resolver LookupResolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewDecoder creates a Decoder. resolver may be nil when only legacy
// payloads (or v0 payloads without lookups) are expected.
func NewDecoder(resolver LookupResolver, m *metrics.Metrics, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		resolver: resolver,
		metrics:  m,
		logger:   logger,
	}
}

// Decode sniffs and decompiles payload.
//
// When feePayer is non-zero it replaces the message's fee payer, is patched
// into associated-token-account instructions and counts as a default signer.
// defaultSigners are the keys the caller can sign with; any other signer,
// including an unlisted payload fee payer, sets NeedsExternalSigner.
func (d *Decoder) Decode(
	ctx context.Context,
	payload string,
	feePayer solana.PublicKey,
	defaultSigners []solana.PublicKey,
) (*DecodedTransaction, error) {
	sniffed, err := Sniff(payload)
	if err != nil {
		d.record("unknown", "unknown", "error")
		return nil, fmt.Errorf("failed to sniff payload: %w", err)
	}

	dt, err := d.decompile(ctx, sniffed)
	if err != nil {
		d.record(string(sniffed.Encoding), string(sniffed.Version), "error")
		return nil, err
	}

	dt.defaultSigners = append([]solana.PublicKey(nil), defaultSigners...)
	if !feePayer.IsZero() {
		RewriteFeePayer(dt, feePayer)
	}
	dt.NeedsExternalSigner = NeedsExternalSigner(dt, dt.defaultSigners)

	d.record(string(sniffed.Encoding), string(sniffed.Version), "success")
	d.logger.DebugContext(ctx, "decoded transaction payload",
		"encoding", dt.Encoding,
		"version", dt.Version,
		"instructions", len(dt.Instructions),
		"lookup_tables", len(dt.LookupTables),
		"message_only", dt.MessageOnly,
		"needs_external_signer", dt.NeedsExternalSigner,
	)
	return dt, nil
}

func (d *Decoder) record(encoding, version, status string) {
	if d.metrics != nil {
		d.metrics.RecordDecode(encoding, version, status)
	}
}

func (d *Decoder) decompile(ctx context.Context, s *Sniffed) (*DecodedTransaction, error) {
	msg := s.message

	tables := make(map[solana.PublicKey]solana.PublicKeySlice)
	for _, table := range msg.GetAddressTableLookups().GetTableIDs() {
		if _, ok := tables[table]; ok {
			continue
		}
		if d.resolver == nil {
			return nil, fmt.Errorf("%w: %s (no resolver configured)", ErrLookupTableNotFound, table)
		}
		addresses, err := d.resolver.ResolveLookupTable(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve lookup table %s: %w", table, err)
		}
		tables[table] = addresses
	}

	keys, err := accountList(msg, tables)
	if err != nil {
		return nil, err
	}

	instructions := make([]Instruction, 0, len(msg.Instructions))
	for i, ci := range msg.Instructions {
		if int(ci.ProgramIDIndex) >= len(keys) {
			return nil, fmt.Errorf("%w: instruction %d program index %d of %d keys",
				ErrIndexOutOfRange, i, ci.ProgramIDIndex, len(keys))
		}
		ix := Instruction{
			ProgramID: keys[ci.ProgramIDIndex].PublicKey,
			Accounts:  make([]AccountMeta, 0, len(ci.Accounts)),
			Data:      append([]byte(nil), ci.Data...),
		}
		for j, idx := range ci.Accounts {
			if int(idx) >= len(keys) {
				return nil, fmt.Errorf("%w: instruction %d account %d index %d of %d keys",
					ErrIndexOutOfRange, i, j, idx, len(keys))
			}
			ix.Accounts = append(ix.Accounts, keys[idx])
		}
		instructions = append(instructions, ix)
	}

	required := int(msg.Header.NumRequiredSignatures)
	sigs := make([]solana.Signature, required)
	copy(sigs, s.Signatures)

	dt := &DecodedTransaction{
		Version:         s.Version,
		Encoding:        s.Encoding,
		FeePayer:        msg.AccountKeys[0],
		RecentBlockhash: msg.RecentBlockhash.String(),
		Instructions:    instructions,
		Signatures:      sigs,
		MessageOnly:     s.MessageOnly,
		message:         append([]byte(nil), s.messageBytes...),
	}
	if len(tables) > 0 {
		dt.LookupTables = tables
	}
	return dt, nil
}

// accountList expands the static keys and lookup entries of msg into metas:
// static keys first, then writable lookups of every table, then readonly ones.
func accountList(msg *solana.Message, tables map[solana.PublicKey]solana.PublicKeySlice) ([]AccountMeta, error) {
	h := msg.Header
	numStatic := len(msg.AccountKeys)
	numSigners := int(h.NumRequiredSignatures)
	writableSigners := numSigners - int(h.NumReadonlySignedAccounts)
	writableStatic := numStatic - int(h.NumReadonlyUnsignedAccounts)

	keys := make([]AccountMeta, 0, numStatic+msg.NumLookups())
	for i, key := range msg.AccountKeys {
		meta := AccountMeta{PublicKey: key}
		if i < numSigners {
			meta.IsSigner = true
			meta.IsWritable = i < writableSigners
		} else {
			meta.IsWritable = i < writableStatic
		}
		keys = append(keys, meta)
	}

	var readonly []AccountMeta
	for _, lookup := range msg.AddressTableLookups {
		addresses := tables[lookup.AccountKey]
		for _, idx := range lookup.WritableIndexes {
			if int(idx) >= len(addresses) {
				return nil, fmt.Errorf("%w: writable index %d of lookup table %s (%d entries)",
					ErrIndexOutOfRange, idx, lookup.AccountKey, len(addresses))
			}
			keys = append(keys, AccountMeta{PublicKey: addresses[idx], IsWritable: true})
		}
		for _, idx := range lookup.ReadonlyIndexes {
			if int(idx) >= len(addresses) {
				return nil, fmt.Errorf("%w: readonly index %d of lookup table %s (%d entries)",
					ErrIndexOutOfRange, idx, lookup.AccountKey, len(addresses))
			}
			readonly = append(readonly, AccountMeta{PublicKey: addresses[idx]})
		}
	}
	return append(keys, readonly...), nil
}
