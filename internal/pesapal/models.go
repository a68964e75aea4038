package pesapal

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Environment selects the Pesapal deployment the client talks to.
type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

const (
	sandboxBaseURL    = "https://cybqa.pesapal.com/pesapalv3/api"
	productionBaseURL = "https://pay.pesapal.com/v3/api"
)

// BaseURL returns the API root for the environment, or false when the
// environment is unknown.
func (e Environment) BaseURL() (string, bool) {
	switch e {
	case EnvironmentSandbox:
		return sandboxBaseURL, true
	case EnvironmentProduction:
		return productionBaseURL, true
	default:
		return "", false
	}
}

// RedirectMode controls where Pesapal sends the customer after payment.
type RedirectMode string

const (
	RedirectTopWindow    RedirectMode = "TOP_WINDOW"
	RedirectParentWindow RedirectMode = "PARENT_WINDOW"
)

// Credentials are the consumer key pair issued by Pesapal.
type Credentials struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

// PesapalError is the error object the gateway nests in its responses.
type PesapalError struct {
	ErrorType string `json:"error_type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e PesapalError) String() string {
	return fmt.Sprintf("error_type: %s, code: %s, message: %s", e.ErrorType, e.Code, e.Message)
}

func (e PesapalError) empty() bool {
	return e.ErrorType == "" && e.Code == "" && e.Message == ""
}

// AccessToken is the payload returned by the token endpoint.
type AccessToken struct {
	Token      string        `json:"token"`
	ExpiryDate string        `json:"expiryDate"`
	Status     string        `json:"status"`
	Message    string        `json:"message"`
	Error      *PesapalError `json:"error"`
}

// IPNRegistration is the gateway's acknowledgment of a registered IPN URL.
type IPNRegistration struct {
	ID                             int           `json:"id"`
	URL                            string        `json:"url"`
	IPNID                          string        `json:"ipn_id"`
	Status                         string        `json:"status"`
	IPNStatus                      int           `json:"ipn_status"`
	CreatedDate                    string        `json:"created_date"`
	NotificationType               int           `json:"notification_type"`
	IPNStatusDescription           string        `json:"ipn_status_description"`
	IPNNotificationTypeDescription string        `json:"ipn_notification_type_description"`
	Error                          *PesapalError `json:"error"`
}

// UnmarshalJSON accepts the gateway's "ipn_status_decription" spelling too.
func (r *IPNRegistration) UnmarshalJSON(data []byte) error {
	type alias IPNRegistration
	aux := struct {
		*alias
		Misspelled string `json:"ipn_status_decription"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if r.IPNStatusDescription == "" {
		r.IPNStatusDescription = aux.Misspelled
	}
	return nil
}

// BillingAddress describes the paying customer. Pesapal requires either an
// email address or a phone number.
type BillingAddress struct {
	EmailAddress string `json:"email_address,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	MiddleName   string `json:"middle_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Line1        string `json:"line_1,omitempty"`
	Line2        string `json:"line_2,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	ZipCode      string `json:"zip_code,omitempty"`
}

// OrderRequest is the payload for SubmitOrderRequest.
type OrderRequest struct {
	ID              string          `json:"id"`
	Currency        string          `json:"currency"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	CallbackURL     string          `json:"callback_url"`
	CancellationURL string          `json:"cancellation_url,omitempty"`
	NotificationID  string          `json:"notification_id"`
	Branch          string          `json:"branch,omitempty"`
	BillingAddress  BillingAddress  `json:"billing_address"`
	RedirectMode    RedirectMode    `json:"redirect_mode,omitempty"`
}

// MarshalJSON writes amount as a JSON number; decimal.Decimal defaults to a quoted string.
func (o OrderRequest) MarshalJSON() ([]byte, error) {
	type alias OrderRequest
	return json.Marshal(struct {
		alias
		Amount json.Number `json:"amount"`
	}{
		alias:  alias(o),
		Amount: json.Number(o.Amount.String()),
	})
}

// OrderRequestResponse is returned by SubmitOrderRequest.
type OrderRequestResponse struct {
	OrderTrackingID   string        `json:"order_tracking_id"`
	MerchantReference string        `json:"merchant_reference"`
	RedirectURL       string        `json:"redirect_url"`
	Error             *PesapalError `json:"error"`
	Status            string        `json:"status"`
}

// Transaction status codes reported in TransactionStatus.StatusCode.
const (
	TransactionInvalid   = 0
	TransactionCompleted = 1
	TransactionFailed    = 2
	TransactionReversed  = 3
)

// TransactionStatus is the payload returned by GetTransactionStatus.
type TransactionStatus struct {
	PaymentMethod            string          `json:"payment_method"`
	Amount                   decimal.Decimal `json:"amount"`
	CreatedDate              string          `json:"created_date"`
	ConfirmationCode         string          `json:"confirmation_code"`
	PaymentStatusDescription string          `json:"payment_status_description"`
	Description              string          `json:"description"`
	Message                  string          `json:"message"`
	PaymentAccount           string          `json:"payment_account"`
	CallbackURL              string          `json:"call_back_url"`
	StatusCode               int             `json:"status_code"`
	MerchantReference        string          `json:"merchant_reference"`
	PaymentStatusCode        string          `json:"payment_status_code"`
	Currency                 string          `json:"currency"`
	Error                    *PesapalError   `json:"error"`
	Status                   string          `json:"status"`
}

// Completed reports whether the payment went through.
func (t TransactionStatus) Completed() bool {
	return t.StatusCode == TransactionCompleted
}

// IPNNotification is what Pesapal sends to a registered IPN URL.
type IPNNotification struct {
	OrderTrackingID        string `json:"OrderTrackingId" validate:"required"`
	OrderNotificationType  string `json:"OrderNotificationType"`
	OrderMerchantReference string `json:"OrderMerchantReference"`
}
