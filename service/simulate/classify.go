package simulate

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// ErrorKind is a coarse category of transaction failure.
type ErrorKind string

const (
	ErrorKindBlockhashNotFound ErrorKind = "blockhash_not_found"
	ErrorKindInsufficientFunds ErrorKind = "insufficient_funds"
	ErrorKindInstructionError  ErrorKind = "instruction_error"
	ErrorKindAlreadyProcessed  ErrorKind = "already_processed"
	ErrorKindAccountNotFound   ErrorKind = "account_not_found"
	ErrorKindSignatureFailure  ErrorKind = "signature_failure"
	ErrorKindUnknown           ErrorKind = "unknown"
)

// Each pattern matches both the TransactionError variant name the node
// returns in simulation results and the message it uses for preflight failures.
// https://github.com/anza-xyz/agave/blob/master/sdk/src/transaction/error.rs
var errorPatterns = []struct {
	pattern *regexp.Regexp
	kind    ErrorKind
}{
	{regexp.MustCompile(`BlockhashNotFound|Blockhash not found`), ErrorKindBlockhashNotFound},
	{regexp.MustCompile(`AlreadyProcessed|This transaction has already been processed`), ErrorKindAlreadyProcessed},
	{regexp.MustCompile(`InsufficientFundsForFee|Insufficient funds for fee`), ErrorKindInsufficientFunds},
	{regexp.MustCompile(`InsufficientFundsForRent|insufficient funds for rent`), ErrorKindInsufficientFunds},
	{regexp.MustCompile(`AccountNotFound|Attempt to debit an account but found no record of a prior credit`), ErrorKindAccountNotFound},
	{regexp.MustCompile(`SignatureFailure|Transaction did not pass signature verification`), ErrorKindSignatureFailure},
	{regexp.MustCompile(`InstructionError|Error processing Instruction \d+`), ErrorKindInstructionError},
}

// Classify maps a transaction error, either the structured value from a
// simulation result or an RPC error, to an ErrorKind.
func Classify(txErr interface{}) ErrorKind {
	if txErr == nil {
		return ""
	}
	msg := errorText(txErr)
	for _, p := range errorPatterns {
		if p.pattern.MatchString(msg) {
			return p.kind
		}
	}
	return ErrorKindUnknown
}

func errorText(v interface{}) string {
	switch e := v.(type) {
	case error:
		return e.Error()
	case string:
		return e
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}
