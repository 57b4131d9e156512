package solana

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.SystemProgramID

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.TokenProgramID

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.Token2022ProgramID

	// StakeProgramID is the native stake program
	StakeProgramID = solana.StakeProgramID

	// MemoProgramIDSPL is the SPL Memo program (most common)
	MemoProgramIDSPL = solana.MemoProgramID

	// MemoProgramIDLegacy is the legacy memo program (v1)
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// Account layouts
const (
	// TokenAccountSize is the size of a plain SPL token account.
	TokenAccountSize = 165
	// MintSize is the size of a plain SPL mint.
	MintSize = 82
	// StakeAccountSize is the size of a stake account (StakeStateV2).
	StakeAccountSize = 200

	mintDecimalsOffset = 44

	tokenAccountTypeAccount = 2

	// StakeStakerOffset and StakeWithdrawerOffset locate the authorities for memcmp filters.
	StakeStakerOffset     = 12
	StakeWithdrawerOffset = 44
)

const maxEpoch = uint64(math.MaxUint64)

// signatureToDomain converts an RPC TransactionSignature to our domain Transaction.
// Note: This only includes metadata from the signature list, not full transaction details.
// For full details (amount, token mint, memo), call GetTransaction separately.
func signatureToDomain(sig *rpc.TransactionSignature) *Transaction {
	txn := &Transaction{
		Signature: sig.Signature.String(),
		Slot:      sig.Slot,
		Status:    string(sig.ConfirmationStatus),
	}

	if sig.BlockTime != nil {
		txn.BlockTime = sig.BlockTime.Time()
	} else {
		txn.BlockTime = time.Time{}
	}

	if sig.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", sig.Err)
		txn.Err = &errMsg
	}

	if sig.Memo != nil {
		memo := *sig.Memo
		txn.Memo = &memo
	}

	return txn
}

// parseTransactionFromResult parses a full GetTransactionResult to extract transaction details.
// This extracts amount, token mint, and memo from the transaction instructions.
func parseTransactionFromResult(sig *rpc.TransactionSignature, result *rpc.GetTransactionResult) (*Transaction, error) {
	txn := signatureToDomain(sig)

	if sig.Err != nil || result == nil || result.Transaction == nil {
		return txn, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	// Lookup-table keys are appended after the static keys
	accountKeys := append(solana.PublicKeySlice{}, tx.Message.AccountKeys...)
	if result.Meta != nil {
		accountKeys = append(accountKeys, result.Meta.LoadedAddresses.Writable...)
		accountKeys = append(accountKeys, result.Meta.LoadedAddresses.ReadOnly...)
	}

	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		switch {
		case programID.Equals(SystemProgramID):
			if amount, fromAddr, toAddr, err := parseSystemTransferWithSource(instruction, accountKeys); err == nil {
				txn.Amount = amount
				if fromAddr != nil {
					fromStr := fromAddr.String()
					txn.FromAddress = &fromStr
				}
				if toAddr != nil {
					toStr := toAddr.String()
					txn.ToAddress = &toStr
				}
			}

		case programID.Equals(TokenProgramID) || programID.Equals(Token2022ProgramID):
			if amount, mint, fromAddr, err := parseTokenTransferWithSource(instruction, accountKeys); err == nil {
				txn.Amount = amount
				if !mint.IsZero() {
					mintStr := mint.String()
					txn.TokenMint = &mintStr
				}
				if fromAddr != nil {
					fromStr := fromAddr.String()
					txn.FromAddress = &fromStr
				}
			}

		case programID.Equals(MemoProgramIDSPL) || programID.Equals(MemoProgramIDLegacy):
			if memo := parseMemo(instruction.Data); memo != "" {
				txn.Memo = &memo
			}
		}
	}

	return txn, nil
}

// parseSystemTransferWithSource extracts the amount, source and destination from a System Program Transfer instruction.
func parseSystemTransferWithSource(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (uint64, *solana.PublicKey, *solana.PublicKey, error) {
	// System Transfer instruction format:
	// [0..4]  = instruction type (u32, should be 2 for Transfer)
	// [4..12] = lamports (u64)
	if len(instruction.Data) < 12 {
		return 0, nil, nil, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return 0, nil, nil, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	amount := binary.LittleEndian.Uint64(instruction.Data[4:12])

	// System Transfer accounts: [from, to]
	var fromAddr, toAddr *solana.PublicKey
	if len(instruction.Accounts) >= 1 && int(instruction.Accounts[0]) < len(accountKeys) {
		addr := accountKeys[instruction.Accounts[0]]
		fromAddr = &addr
	}
	if len(instruction.Accounts) >= 2 && int(instruction.Accounts[1]) < len(accountKeys) {
		addr := accountKeys[instruction.Accounts[1]]
		toAddr = &addr
	}

	return amount, fromAddr, toAddr, nil
}

// parseTokenTransferWithSource extracts amount, token mint, and source address from an SPL Token transfer instruction.
func parseTokenTransferWithSource(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (amount uint64, mint solana.PublicKey, fromAddr *solana.PublicKey, err error) {
	if len(instruction.Data) == 0 {
		return 0, solana.PublicKey{}, nil, fmt.Errorf("empty instruction data")
	}

	switch instruction.Data[0] {
	case TokenProgramTransferInstruction:
		// [0] = 3, [1..9] = amount; accounts: [source, destination, authority]
		if len(instruction.Data) < 9 {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("transfer instruction data too short")
		}
		amount = binary.LittleEndian.Uint64(instruction.Data[1:9])
		if len(instruction.Accounts) >= 3 && int(instruction.Accounts[2]) < len(accountKeys) {
			addr := accountKeys[instruction.Accounts[2]]
			fromAddr = &addr
		}
		return amount, solana.PublicKey{}, fromAddr, nil

	case TokenProgramTransferCheckedInstruction:
		// [0] = 12, [1..9] = amount, [9] = decimals
		// accounts: [source, mint, destination, authority, ...]
		if len(instruction.Data) < 10 {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("transferChecked instruction data too short")
		}
		amount = binary.LittleEndian.Uint64(instruction.Data[1:9])
		if len(instruction.Accounts) < 4 {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("transferChecked missing accounts")
		}
		mintAccountIndex := instruction.Accounts[1]
		if int(mintAccountIndex) >= len(accountKeys) {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("mint account index out of bounds")
		}
		mint = accountKeys[mintAccountIndex]

		authorityIndex := instruction.Accounts[3]
		if int(authorityIndex) < len(accountKeys) {
			addr := accountKeys[authorityIndex]
			fromAddr = &addr
		}
		return amount, mint, fromAddr, nil

	default:
		return 0, solana.PublicKey{}, nil, fmt.Errorf("unknown token instruction type: %d", instruction.Data[0])
	}
}

// parseMemo extracts the memo text from a Memo Program instruction.
// Some memos are base64 encoded, others are plain text.
func parseMemo(data []byte) string {
	memo := string(data)
	if decoded, err := base64.StdEncoding.DecodeString(memo); err == nil && len(decoded) > 0 {
		if utf8.Valid(decoded) && !containsNUL(decoded) {
			return string(decoded)
		}
	}
	return memo
}

func containsNUL(b []byte) bool {
	for _, c := range b {
		if c == 0 {
			return true
		}
	}
	return false
}

// TokenAccountData is the prefix of an SPL token account shared by Token and Token-2022.
type TokenAccountData struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}

// ParseTokenAccount decodes mint, owner and amount from token account data.
func ParseTokenAccount(data []byte) (*TokenAccountData, error) {
	if len(data) < TokenAccountSize {
		return nil, fmt.Errorf("token account data too short: %d bytes", len(data))
	}
	// Token-2022 accounts with extensions carry an account type byte after the base layout.
	if len(data) > TokenAccountSize && data[TokenAccountSize] != tokenAccountTypeAccount {
		return nil, fmt.Errorf("not a token account: account type %d", data[TokenAccountSize])
	}
	return &TokenAccountData{
		Mint:   solana.PublicKeyFromBytes(data[0:32]),
		Owner:  solana.PublicKeyFromBytes(data[32:64]),
		Amount: binary.LittleEndian.Uint64(data[64:72]),
	}, nil
}

// ParseMintDecimals reads the decimals byte of a mint account.
func ParseMintDecimals(data []byte) (uint8, error) {
	if len(data) < MintSize {
		return 0, fmt.Errorf("mint data too short: %d bytes", len(data))
	}
	return data[mintDecimalsOffset], nil
}

// ParseStakeAccount decodes a StakeStateV2 account.
func ParseStakeAccount(address solana.PublicKey, lamports uint64, data []byte) (*StakeAccount, error) {
	dec := bin.NewBinDecoder(data)
	tag, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("failed to read stake state: %w", err)
	}

	out := &StakeAccount{
		Address:           address,
		Lamports:          lamports,
		DeactivationEpoch: maxEpoch,
	}
	switch tag {
	case 0:
		out.State = StakeStateUninitialized
		return out, nil
	case 1:
		out.State = StakeStateInitialized
	case 2:
		out.State = StakeStateDelegated
	case 3:
		out.State = StakeStateRewardsPool
		return out, nil
	default:
		return nil, fmt.Errorf("unknown stake state %d", tag)
	}

	if out.RentExemptReserve, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("failed to read rent exempt reserve: %w", err)
	}
	if out.Staker, err = readPublicKey(dec); err != nil {
		return nil, fmt.Errorf("failed to read staker: %w", err)
	}
	if out.Withdrawer, err = readPublicKey(dec); err != nil {
		return nil, fmt.Errorf("failed to read withdrawer: %w", err)
	}
	if out.LockupUnixTimestamp, err = dec.ReadInt64(bin.LE); err != nil {
		return nil, fmt.Errorf("failed to read lockup timestamp: %w", err)
	}
	if out.LockupEpoch, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("failed to read lockup epoch: %w", err)
	}
	if out.LockupCustodian, err = readPublicKey(dec); err != nil {
		return nil, fmt.Errorf("failed to read lockup custodian: %w", err)
	}

	if out.State != StakeStateDelegated {
		return out, nil
	}

	voter, err := readPublicKey(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to read voter: %w", err)
	}
	out.Voter = &voter
	if out.DelegatedStake, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("failed to read delegated stake: %w", err)
	}
	if out.ActivationEpoch, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("failed to read activation epoch: %w", err)
	}
	if out.DeactivationEpoch, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("failed to read deactivation epoch: %w", err)
	}
	return out, nil
}

func readPublicKey(dec *bin.Decoder) (solana.PublicKey, error) {
	b, err := dec.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(b), nil
}
