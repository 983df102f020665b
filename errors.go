package credits

import (
	"errors"
	"fmt"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/types"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("credits: not found")
	ErrInvalidInput = errors.New("credits: invalid input")
	ErrDuplicate    = errors.New("credits: duplicate")

	// Amount errors
	ErrOverflow      = types.ErrOverflow
	ErrInvalidAmount = types.ErrInvalidAmount

	// Spend errors
	ErrInsufficientFunds = errors.New("credits: insufficient funds")
	ErrBudgetExhausted   = errors.New("credits: budget exhausted")
	ErrTransferCooldown  = errors.New("credits: transfer cooldown active")

	// Deposit errors
	ErrNoVerifier          = errors.New("credits: no deposit verifier configured")
	ErrDepositFailed       = errors.New("credits: deposit transaction failed")
	ErrDepositUnconfirmed  = errors.New("credits: deposit not sufficiently confirmed")
	ErrDepositMismatch     = errors.New("credits: deposit receipt does not match request")
	ErrDepositAlreadyKnown = errors.New("credits: deposit already bridged to another account")

	// Store errors
	ErrTableMissing      = reconcile.ErrTableMissing
	ErrStoreNotReady     = errors.New("credits: store not ready")
	ErrStoreClosed       = errors.New("credits: store is closed")
	ErrTransactionFailed = errors.New("credits: transaction failed")
	ErrMigrationFailed   = errors.New("credits: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("credits: validation failed for %s: %s", e.Field, e.Message)
}

// Is reports ValidationError as ErrInvalidInput.
func (e ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// Invalid returns a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown lot, reservation, account or other record.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("credits: %s not found", e.Resource)
	}
	return fmt.Sprintf("credits: %s %s not found", e.Resource, e.ID)
}

// Is reports NotFoundError as ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound returns a NotFoundError for resource.
func NotFound(resource, key string) error {
	return NotFoundError{Resource: resource, ID: key}
}

// InsufficientFundsError is returned when a reservation or transfer asks for
// more than the spendable balance. Nothing is mutated.
type InsufficientFundsError struct {
	AccountID id.AccountID
	PoolID    string
	Available types.Micro
	Requested types.Micro
}

func (e InsufficientFundsError) Error() string {
	return fmt.Sprintf("credits: insufficient funds in %s/%s: requested %s, available %s",
		e.AccountID, e.PoolID, e.Requested, e.Available)
}

// Is reports InsufficientFundsError as ErrInsufficientFunds.
func (e InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// BudgetExhaustedError is returned by Reserve when the account's circuit is
// open.
type BudgetExhaustedError struct {
	AccountID id.AccountID
	DailyCap  types.Micro
	Spent     types.Micro
}

func (e BudgetExhaustedError) Error() string {
	return fmt.Sprintf("credits: budget exhausted for %s: spent %s of %s",
		e.AccountID, e.Spent, e.DailyCap)
}

// Is reports BudgetExhaustedError as ErrBudgetExhausted.
func (e BudgetExhaustedError) Is(target error) bool { return target == ErrBudgetExhausted }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "credits: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("credits: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation returns true if the error is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrOverflow)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, ErrTransferCooldown)
}
