package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Error kinds used across the client and the lambda. Mark errors with one of
// these through the builder and check them with the IsX helpers.
var (
	ErrConfiguration     = new(ErrCodeConfiguration, "configuration error")
	ErrValidation        = new(ErrCodeValidation, "validation error")
	ErrAuthentication    = new(ErrCodeAuthentication, "authentication failed")
	ErrIPNRegistration   = new(ErrCodeIPNRegistration, "ipn registration failed")
	ErrOrderSubmission   = new(ErrCodeOrderSubmission, "order submission failed")
	ErrTransactionStatus = new(ErrCodeTransactionStatus, "transaction status lookup failed")
	ErrTransport         = new(ErrCodeTransport, "transport error")
	ErrNotFound          = new(ErrCodeNotFound, "resource not found")
	ErrSystem            = new(ErrCodeSystemError, "system error")
	// maps errors to http status codes
	statusCodeMap = map[error]int{
		ErrConfiguration:     http.StatusInternalServerError,
		ErrValidation:        http.StatusBadRequest,
		ErrAuthentication:    http.StatusBadGateway,
		ErrIPNRegistration:   http.StatusBadGateway,
		ErrOrderSubmission:   http.StatusBadGateway,
		ErrTransactionStatus: http.StatusBadGateway,
		ErrTransport:         http.StatusBadGateway,
		ErrNotFound:          http.StatusNotFound,
		ErrSystem:            http.StatusInternalServerError,
	}
)

const (
	ErrCodeConfiguration     = "configuration_error"
	ErrCodeValidation        = "validation_error"
	ErrCodeAuthentication    = "authentication_error"
	ErrCodeIPNRegistration   = "ipn_registration_error"
	ErrCodeOrderSubmission   = "order_submission_error"
	ErrCodeTransactionStatus = "transaction_status_error"
	ErrCodeTransport         = "transport_error"
	ErrCodeNotFound          = "not_found"
	ErrCodeSystemError       = "system_error"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Op      string // Logical operation name
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

// New creates a new InternalError
func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsConfiguration checks if an error is a configuration error
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsAuthentication checks if the gateway rejected the credentials
func IsAuthentication(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// IsIPNRegistration checks if an error came from the IPN endpoints
func IsIPNRegistration(err error) bool {
	return errors.Is(err, ErrIPNRegistration)
}

// IsOrderSubmission checks if an error came from the order submission endpoint
func IsOrderSubmission(err error) bool {
	return errors.Is(err, ErrOrderSubmission)
}

// IsTransactionStatus checks if an error came from the transaction status endpoint
func IsTransactionStatus(err error) bool {
	return errors.Is(err, ErrTransactionStatus)
}

// IsTransport checks if an error is a transport error
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func HTTPStatusFromErr(err error) int {
	for e, status := range statusCodeMap {
		if errors.Is(err, e) {
			return status
		}
	}
	return http.StatusInternalServerError
}
