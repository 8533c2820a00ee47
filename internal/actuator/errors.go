package actuator

import (
	"errors"
	"fmt"
)

// Kind classifies a validation or execution failure
type Kind string

// Validation failure kinds, in the order the checks run
const (
	KindMalformedContract    Kind = "MalformedContract"
	KindInvalidAddress       Kind = "InvalidAddress"
	KindSelfTransfer         Kind = "SelfTransfer"
	KindNonPositiveAmount    Kind = "NonPositiveAmount"
	KindUnknownOwner         Kind = "UnknownOwner"
	KindInsufficientBalance  Kind = "InsufficientBalance"
	KindBelowCreationMinimum Kind = "BelowCreationMinimum"
	KindRecipientOverflow    Kind = "RecipientOverflow"
	// KindStoreUnavailable is a ledger read or insert error hit while validating
	KindStoreUnavailable Kind = "StoreUnavailable"
)

// Execution failure kinds
const (
	KindArithmeticOverflow   Kind = "ArithmeticOverflow"
	KindStoreMutationFailure Kind = "StoreMutationFailure"
)

var (
	ErrNotValidated    = errors.New("actuator: execute called before a successful validate")
	ErrAlreadyExecuted = errors.New("actuator: transaction already executed")
)

// ValidationError rejects a transaction before any balance mutation
type ValidationError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func rejected(kind Kind, err error, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ExecutionError is returned after the outcome has been recorded as FAILED
type ExecutionError struct {
	Kind    Kind
	Message string
	Fee     int64
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from a validation or execution error
func KindOf(err error) (Kind, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return "", false
}
