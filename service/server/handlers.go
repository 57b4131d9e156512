package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - a transaction is at most 1232 bytes
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxPayloadLength   = 4096
	defaultListLimit   = 50
	maxListLimit       = 1000
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// decodeBody reads a size-limited JSON request body into v. It writes the
// error response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// validateAddress checks an address for pathological input before parsing.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// parseAddress validates and decodes a base58 public key. field names the
// value in error messages.
func parseAddress(field, address string) (solanago.PublicKey, error) {
	if err := validateAddress(address); err != nil {
		return solanago.PublicKey{}, errorf("%s: %s", field, err.Error())
	}
	pk, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return solanago.PublicKey{}, errorf("%s: invalid public key: %s", field, err.Error())
	}
	return pk, nil
}

// parseOptionalAddress is parseAddress that allows an empty value.
func parseOptionalAddress(field, address string) (solanago.PublicKey, error) {
	if address == "" {
		return solanago.PublicKey{}, nil
	}
	return parseAddress(field, address)
}

func parseAddresses(field string, addresses []string) ([]solanago.PublicKey, error) {
	out := make([]solanago.PublicKey, 0, len(addresses))
	for i, a := range addresses {
		pk, err := parseAddress(fmt.Sprintf("%s[%d]", field, i), a)
		if err != nil {
			return nil, err
		}
		out = append(out, pk)
	}
	return out, nil
}

func validatePayload(payload string) error {
	if strings.TrimSpace(payload) == "" {
		return errorf("payload is required")
	}
	if len(payload) > maxPayloadLength {
		return errorf("payload too long: maximum length is %d characters", maxPayloadLength)
	}
	return nil
}

// parseLimit parses the limit query parameter (default 50, max 1000).
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, errorf("invalid limit parameter: must be an integer")
	}
	if limit < 1 {
		return 0, errorf("limit must be at least 1")
	}
	if limit > maxListLimit {
		return 0, errorf("limit cannot exceed %d", maxListLimit)
	}
	return limit, nil
}

// parseOffset parses the offset query parameter (default 0).
func parseOffset(r *http.Request) (int, error) {
	offsetStr := r.URL.Query().Get("offset")
	if offsetStr == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(offsetStr)
	if err != nil {
		return 0, errorf("invalid offset parameter: must be an integer")
	}
	if offset < 0 {
		return 0, errorf("offset cannot be negative")
	}
	return offset, nil
}

func errorf(format string, args ...interface{}) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
