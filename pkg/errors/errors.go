package errors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Domain errors
var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("concurrent modification")
	ErrExternalService    = errors.New("external service failure")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrDatabase           = errors.New("database failure")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	ErrCodeInvariantViolation = "INVARIANT_VIOLATION"
	ErrCodeDatabaseError      = "DATABASE_ERROR"
)

func WrapObligationNotFound(obligationID string) *BusinessError {
	return NewBusinessError(
		ErrCodeNotFound,
		fmt.Sprintf("Obligation with ID %s not found", obligationID),
		ErrNotFound,
	)
}

func WrapPlanNotFound(planID string) *BusinessError {
	return NewBusinessError(
		ErrCodeNotFound,
		fmt.Sprintf("Plan with ID %s not found", planID),
		ErrNotFound,
	)
}

func WrapInvalidPaymentAmount(amount decimal.Decimal) *BusinessError {
	return NewBusinessError(
		ErrCodeValidation,
		fmt.Sprintf("Invalid payment amount: %s", amount.StringFixed(2)),
		ErrValidation,
	)
}

func WrapTerminalObligation(obligationID, status string) *BusinessError {
	return NewBusinessError(
		ErrCodeValidation,
		fmt.Sprintf("Obligation %s is %s and cannot accept payments", obligationID, status),
		ErrValidation,
	)
}

func WrapValidation(message string, err error) *BusinessError {
	if err == nil {
		err = ErrValidation
	} else {
		err = fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return NewBusinessError(ErrCodeValidation, message, err)
}

func WrapConflict(key string) *BusinessError {
	return NewBusinessError(
		ErrCodeConflict,
		fmt.Sprintf("%s was modified concurrently", key),
		ErrConflict,
	)
}

func WrapExternalService(service string, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeExternalService,
		fmt.Sprintf("%s call failed", service),
		fmt.Errorf("%w: %v", ErrExternalService, err),
	)
}

func WrapInvariantViolation(message string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvariantViolation,
		message,
		ErrInvariantViolation,
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		fmt.Errorf("%w: %v", ErrDatabase, err),
	)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func IsInvariantViolation(err error) bool { return errors.Is(err, ErrInvariantViolation) }

// IsRetryable reports whether the operation may succeed when repeated against fresh state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Code extracts the business error code, or DATABASE_ERROR for anything unclassified.
func Code(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ErrCodeDatabaseError
}
