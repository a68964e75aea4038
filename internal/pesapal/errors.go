package pesapal

import (
	"fmt"

	ierr "github.com/berniyo/pesapal-lambda/internal/errors"
)

// GatewayError is a failure reported by Pesapal in a response body. It is
// always marked with the ierr kind of the endpoint that produced it
// (ErrAuthentication, ErrIPNRegistration, ErrOrderSubmission or
// ErrTransactionStatus) and can be extracted with errors.As.
type GatewayError struct {
	Op     string
	Detail PesapalError
	Status string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("pesapal %s: status=%s %s", e.Op, e.Status, e.Detail)
}

// Code is the gateway error code, e.g. "invalid_consumer_key_or_secret_provided".
func (e *GatewayError) Code() string {
	return e.Detail.Code
}

func gatewayError(op string, f *Failure, kind error) error {
	return ierr.WithError(&GatewayError{Op: op, Detail: f.Detail, Status: f.Status}).
		WithHintf("Pesapal rejected the %s request: %s", op, f.Detail.Message).
		Mark(kind)
}

func validationError(msg string) error {
	return ierr.NewError(msg).
		WithHint("Check the arguments passed to the Pesapal client").
		Mark(ierr.ErrValidation)
}

func configurationError(msg string) error {
	return ierr.NewError(msg).
		WithHint("Check the Pesapal client configuration").
		Mark(ierr.ErrConfiguration)
}
