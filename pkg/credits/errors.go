package credits

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the credit service.
//
// ErrAccountNotFound is reserved for Store implementations that do not
// auto-create profiles; the bundled stores create missing profiles at zero
// balance and never return it.
var (
	ErrInsufficientCredits     = errors.New("insufficient credits")
	ErrAccountNotFound         = errors.New("account not found")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrLedgerReconciliation    = errors.New("ledger reconciliation required")
	ErrActionFailed            = errors.New("action failed")
	ErrChargeAfterAction       = errors.New("charge failed after completed action")
	ErrUnknownAction           = errors.New("unknown action")
	ErrUnknownPlan             = errors.New("unknown plan")
	ErrInvalidUserID           = errors.New("invalid user id")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidTransactionType  = errors.New("invalid transaction type")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
)

func isDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey)
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
