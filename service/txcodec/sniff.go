package txcodec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

const (
	// header (3) + key count (1) + blockhash (32) + instruction count (1)
	minMessageLen = 3 + 1 + solana.PublicKeyLength + 1
	signatureLen  = solana.SignatureLength
	versionPrefix = 0x80
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Sniffed describes what a payload turned out to be.
type Sniffed struct {
	Encoding    Encoding
	Version     Version
	MessageOnly bool
	Raw         []byte
	Signatures  []solana.Signature

	message      *solana.Message
	messageBytes []byte
}

// Sniff detects the encoding and message version of a payload.
//
// A payload made only of base58 characters is tried as base58 first; base64
// (standard, then URL-safe unpadded) is used otherwise or when the base58
// bytes do not parse. Both full transactions and bare messages are accepted.
func Sniff(payload string) (*Sniffed, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrPayloadTooShort)
	}

	type candidate struct {
		enc Encoding
		raw []byte
	}
	var candidates []candidate
	if isBase58(payload) {
		if raw, err := base58.Decode(payload); err == nil {
			candidates = append(candidates, candidate{EncodingBase58, raw})
		}
	}
	if raw, err := decodeBase64(payload); err == nil {
		candidates = append(candidates, candidate{EncodingBase64, raw})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: payload is neither base58 nor base64", ErrMalformedPayload)
	}

	var errs []error
	for _, c := range candidates {
		s, err := inspect(c.raw)
		if err == nil {
			s.Encoding = c.enc
			return s, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", c.enc, err))
	}
	return nil, pickError(errs)
}

// SniffBytes inspects an already decoded payload.
func SniffBytes(raw []byte) (*Sniffed, error) {
	return inspect(raw)
}

// pickError reports the most specific failure across all candidate decodings.
func pickError(errs []error) error {
	allShort := true
	for _, err := range errs {
		if !errors.Is(err, ErrPayloadTooShort) {
			allShort = false
		}
	}
	if allShort {
		return errs[0]
	}
	for _, err := range errs {
		if errors.Is(err, ErrUnsupportedVersion) {
			return err
		}
	}
	for _, err := range errs {
		if !errors.Is(err, ErrPayloadTooShort) {
			return err
		}
	}
	return errs[0]
}

func isBase58(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}

func decodeBase64(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return raw, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// inspect tries the bytes as a full transaction and then as a bare message.
func inspect(raw []byte) (*Sniffed, error) {
	if len(raw) < minMessageLen {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrPayloadTooShort, len(raw), minMessageLen)
	}

	txSniff, txErr := inspectTransaction(raw)
	if txErr == nil {
		return txSniff, nil
	}

	msg, version, err := parseMessage(raw)
	if err == nil {
		return &Sniffed{
			Version:      version,
			MessageOnly:  true,
			Raw:          raw,
			message:      msg,
			messageBytes: raw,
		}, nil
	}

	// An unsupported version byte at the message offset wins over whatever the
	// bare-message reading produced.
	if errors.Is(txErr, ErrUnsupportedVersion) {
		return nil, txErr
	}
	if errors.Is(txErr, ErrPayloadTooShort) && !errors.Is(err, ErrPayloadTooShort) {
		return nil, err
	}
	return nil, txErr
}

func inspectTransaction(raw []byte) (*Sniffed, error) {
	n, size, err := bin.DecodeCompactU16(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: signature count: %v", ErrMalformedPayload, err)
	}
	offset := size + n*signatureLen
	if len(raw) < offset+minMessageLen {
		return nil, fmt.Errorf("%w: %d signatures need %d bytes, have %d",
			ErrPayloadTooShort, n, offset+minMessageLen, len(raw))
	}

	msg, version, err := parseMessage(raw[offset:])
	if err != nil {
		return nil, err
	}
	if n > int(msg.Header.NumRequiredSignatures) {
		return nil, fmt.Errorf("%w: %d signatures for %d required signers",
			ErrMalformedPayload, n, msg.Header.NumRequiredSignatures)
	}

	sigs := make([]solana.Signature, 0, n)
	for i := 0; i < n; i++ {
		start := size + i*signatureLen
		sigs = append(sigs, solana.SignatureFromBytes(raw[start:start+signatureLen]))
	}
	return &Sniffed{
		Version:      version,
		Raw:          raw,
		Signatures:   sigs,
		message:      msg,
		messageBytes: raw[offset:],
	}, nil
}

// parseMessage decodes a legacy or v0 message that must span all of raw.
func parseMessage(raw []byte) (msg *solana.Message, version Version, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg = nil
			err = fmt.Errorf("%w: %v", ErrMalformedPayload, r)
		}
	}()

	if len(raw) < minMessageLen {
		return nil, "", fmt.Errorf("%w: message is %d bytes", ErrPayloadTooShort, len(raw))
	}

	msg = new(solana.Message)
	decoder := bin.NewBinDecoder(raw)
	if raw[0]&versionPrefix != 0 {
		if v := raw[0] &^ versionPrefix; v != 0 {
			return nil, "", fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
		}
		if len(raw) < minMessageLen+1 {
			return nil, "", fmt.Errorf("%w: versioned message is %d bytes", ErrPayloadTooShort, len(raw))
		}
		version = VersionV0
		err = msg.UnmarshalV0(decoder)
	} else {
		version = VersionLegacy
		err = msg.UnmarshalLegacy(decoder)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if rest := decoder.Remaining(); rest != 0 {
		return nil, "", fmt.Errorf("%w: %d trailing bytes", ErrMalformedPayload, rest)
	}
	h := msg.Header
	if h.NumRequiredSignatures == 0 {
		return nil, "", fmt.Errorf("%w: message has no signers", ErrMalformedPayload)
	}
	if int(h.NumRequiredSignatures) > len(msg.AccountKeys) ||
		h.NumReadonlySignedAccounts >= h.NumRequiredSignatures ||
		int(h.NumRequiredSignatures)+int(h.NumReadonlyUnsignedAccounts) > len(msg.AccountKeys) {
		return nil, "", fmt.Errorf("%w: header does not match %d account keys", ErrMalformedPayload, len(msg.AccountKeys))
	}
	return msg, version, nil
}
