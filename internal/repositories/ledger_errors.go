package repositories

import "fmt"

// LedgerErrorCode enumerates repository error causes for loyalty ledger operations.
type LedgerErrorCode string

const (
	// LedgerErrorUnknown represents an unspecified failure.
	LedgerErrorUnknown LedgerErrorCode = "ledger_unknown"
	// LedgerErrorDuplicateReference indicates a transaction already exists for the reference key.
	LedgerErrorDuplicateReference LedgerErrorCode = "ledger_duplicate_reference"
	// LedgerErrorBalanceBelowZero indicates the write would drive the account balance negative.
	LedgerErrorBalanceBelowZero LedgerErrorCode = "ledger_balance_below_zero"
	// LedgerErrorAccountNotFound indicates the loyalty account document is missing.
	LedgerErrorAccountNotFound LedgerErrorCode = "ledger_account_not_found"
)

// LedgerError wraps loyalty-ledger failures with machine readable codes.
type LedgerError struct {
	Op      string
	Code    LedgerErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *LedgerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *LedgerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewLedgerError constructs a typed ledger error.
func NewLedgerError(code LedgerErrorCode, message string, err error) *LedgerError {
	if message == "" {
		message = string(code)
	}
	return &LedgerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
