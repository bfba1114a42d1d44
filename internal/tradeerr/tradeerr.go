// Package tradeerr defines the tagged errors returned by negotiation,
// readiness checks and settlement. Callers branch on Code rather than on
// concrete error types.
package tradeerr

import (
	"errors"
	"fmt"
)

// Code tags a trade failure.
type Code int

const (
	CodeUnknown Code = iota
	CodeConnectFailed
	CodeUnsyncedChain
	CodeWalletLocked
	CodeInvalidToken
	CodeChecksumMismatch
	CodeTokenReused
	CodeDuplicateCurrency
	CodeDuplicateAddress
	CodeSymbolMismatch
	CodeSymbolConflict
	CodeAmountMismatch
	CodeAddressMismatch
	CodeParamMismatch
	CodeInvalidAddress
	CodeForeignAddress
	CodeInsufficientBalance
	CodeBelowMinimumSpend
	CodeDustRejected
	CodeRPC
	CodeInvalidRounds
	CodeAborted
	CodeLedgerWrite
)

var codeNames = map[Code]string{
	CodeUnknown:             "unknown",
	CodeConnectFailed:       "connect_failed",
	CodeUnsyncedChain:       "unsynced_chain",
	CodeWalletLocked:        "wallet_locked",
	CodeInvalidToken:        "invalid_token",
	CodeChecksumMismatch:    "checksum_mismatch",
	CodeTokenReused:         "token_reused",
	CodeDuplicateCurrency:   "duplicate_currency",
	CodeDuplicateAddress:    "duplicate_address",
	CodeSymbolMismatch:      "symbol_mismatch",
	CodeSymbolConflict:      "symbol_conflict",
	CodeAmountMismatch:      "amount_mismatch",
	CodeAddressMismatch:     "address_mismatch",
	CodeParamMismatch:       "param_mismatch",
	CodeInvalidAddress:      "invalid_address",
	CodeForeignAddress:      "foreign_address",
	CodeInsufficientBalance: "insufficient_balance",
	CodeBelowMinimumSpend:   "below_minimum_spend",
	CodeDustRejected:        "dust_rejected",
	CodeRPC:                 "rpc_error",
	CodeInvalidRounds:       "invalid_rounds",
	CodeAborted:             "aborted",
	CodeLedgerWrite:         "ledger_write",
}

// String returns the snake_case name of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Reasons attached to CodeInvalidToken.
const (
	ReasonInvalidFormat    = "invalid format"
	ReasonChecksumMismatch = "checksum mismatch"
	ReasonOwnToken         = "own token"
)

// Error is a tagged trade failure.
type Error struct {
	Code Code
	Msg  string

	// Reason qualifies CodeInvalidToken.
	Reason string
	// Status carries the ledger status for CodeTokenReused.
	Status string
	// Symbol is the currency the failure relates to, if any.
	Symbol string

	Err error
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so the sentinels below work
// with errors.Is regardless of message or context.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrConnectFailed       = &Error{Code: CodeConnectFailed}
	ErrUnsyncedChain       = &Error{Code: CodeUnsyncedChain}
	ErrWalletLocked        = &Error{Code: CodeWalletLocked}
	ErrInvalidToken        = &Error{Code: CodeInvalidToken}
	ErrChecksumMismatch    = &Error{Code: CodeChecksumMismatch}
	ErrTokenReused         = &Error{Code: CodeTokenReused}
	ErrDuplicateCurrency   = &Error{Code: CodeDuplicateCurrency}
	ErrDuplicateAddress    = &Error{Code: CodeDuplicateAddress}
	ErrSymbolMismatch      = &Error{Code: CodeSymbolMismatch}
	ErrSymbolConflict      = &Error{Code: CodeSymbolConflict}
	ErrAmountMismatch      = &Error{Code: CodeAmountMismatch}
	ErrAddressMismatch     = &Error{Code: CodeAddressMismatch}
	ErrParamMismatch       = &Error{Code: CodeParamMismatch}
	ErrInvalidAddress      = &Error{Code: CodeInvalidAddress}
	ErrForeignAddress      = &Error{Code: CodeForeignAddress}
	ErrInsufficientBalance = &Error{Code: CodeInsufficientBalance}
	ErrBelowMinimumSpend   = &Error{Code: CodeBelowMinimumSpend}
	ErrDustRejected        = &Error{Code: CodeDustRejected}
	ErrRPC                 = &Error{Code: CodeRPC}
	ErrInvalidRounds       = &Error{Code: CodeInvalidRounds}
	ErrAborted             = &Error{Code: CodeAborted}
	ErrLedgerWrite         = &Error{Code: CodeLedgerWrite}
)

// New returns an error with the given code and formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with code.
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithSymbol sets the currency context and returns e.
func (e *Error) WithSymbol(symbol string) *Error {
	e.Symbol = symbol
	return e
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Resumable reports whether a trade that failed with err can be resumed
// later with identical parameters.
func Resumable(err error) bool {
	switch CodeOf(err) {
	case CodeLedgerWrite, CodeUnknown:
		return false
	}
	return true
}
