package pesapal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	ierr "github.com/berniyo/pesapal-lambda/internal/errors"
	"github.com/berniyo/pesapal-lambda/internal/httpclient"
	"github.com/berniyo/pesapal-lambda/internal/logger"
)

const (
	registerIPNPath       = "/URLSetup/RegisterIPN"
	listIPNPath           = "/URLSetup/GetIpnList"
	submitOrderPath       = "/Transactions/SubmitOrderRequest"
	transactionStatusPath = "/Transactions/GetTransactionStatus"

	// DefaultNotificationMethod is the HTTP method Pesapal uses for IPN calls
	// unless told otherwise.
	DefaultNotificationMethod = "GET"
)

// Client is a Pesapal v3 API client. It is safe for concurrent use.
type Client struct {
	httpClient httpclient.Client
	baseURL    string
	logger     *logger.Logger
	tokens     *tokenManager
}

type options struct {
	environment Environment
	baseURL     string
	httpClient  httpclient.Client
	logger      *logger.Logger
	now         func() time.Time
}

// Option customizes the client.
type Option func(*options)

// WithEnvironment selects sandbox or production. Defaults to sandbox.
func WithEnvironment(env Environment) Option {
	return func(o *options) {
		o.environment = env
	}
}

// WithBaseURL overrides the environment's API root, e.g. for a proxy or a test server.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	}
}

// WithHTTPClient swaps the transport.
func WithHTTPClient(c httpclient.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithLogger lets callers supply a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source used for token freshness.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// NewClient validates the credentials, picks the API root and authenticates
// once before returning.
func NewClient(ctx context.Context, creds Credentials, opts ...Option) (*Client, error) {
	if creds.ConsumerKey == "" {
		return nil, configurationError("consumer_key cannot be empty")
	}
	if creds.ConsumerSecret == "" {
		return nil, configurationError("consumer_secret cannot be empty")
	}

	o := options{
		environment: EnvironmentSandbox,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	baseURL := o.baseURL
	if baseURL == "" {
		var ok bool
		baseURL, ok = o.environment.BaseURL()
		if !ok {
			return nil, configurationError("unknown environment " + strconv.Quote(string(o.environment)))
		}
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.NewDefaultClient(httpclient.ClientConfig{Logger: o.logger})
	}
	if o.logger == nil {
		o.logger = logger.NewNop()
	}

	c := &Client{
		httpClient: o.httpClient,
		baseURL:    baseURL,
		logger:     o.logger,
	}
	c.tokens = newTokenManager(creds, c.send, o.now, o.logger)

	if _, err := c.tokens.authenticate(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// Authenticate requests a new access token regardless of the current one's age.
func (c *Client) Authenticate(ctx context.Context) (*AccessToken, error) {
	return c.tokens.authenticate(ctx)
}

// Token returns a copy of the current access token.
func (c *Client) Token() *AccessToken {
	return c.tokens.current()
}

// Headers returns a copy of the headers sent with every request.
func (c *Client) Headers() map[string]string {
	return c.tokens.snapshot()
}

// UpdateHeaders merges extra into the outbound headers. Existing keys are overwritten.
func (c *Client) UpdateHeaders(extra map[string]string) {
	c.tokens.updateHeaders(extra)
}

// RegisterCallbackURL registers ipnURL as an Instant Payment Notification
// endpoint. notificationMethod is the HTTP method Pesapal will use for the
// notification, GET or POST.
func (c *Client) RegisterCallbackURL(ctx context.Context, ipnURL, notificationMethod string) (*IPNRegistration, error) {
	if ipnURL == "" {
		return nil, validationError("ipn url cannot be empty")
	}
	if notificationMethod == "" {
		return nil, validationError("ipn notification type cannot be empty")
	}

	payload := map[string]string{
		"url":                   ipnURL,
		"ipn_notification_type": notificationMethod,
	}

	reg, err := call[IPNRegistration](ctx, c, http.MethodPost, registerIPNPath, payload, "register ipn", ierr.ErrIPNRegistration)
	if err != nil {
		return nil, err
	}

	c.logger.Infow("registered pesapal ipn url", "ipn_id", reg.IPNID, "url", reg.URL)
	return reg, nil
}

// GetRegisteredIPNs lists the IPN URLs registered for the merchant account.
func (c *Client) GetRegisteredIPNs(ctx context.Context) ([]IPNRegistration, error) {
	list, err := call[[]IPNRegistration](ctx, c, http.MethodGet, listIPNPath, nil, "list ipns", ierr.ErrIPNRegistration)
	if err != nil {
		return nil, err
	}
	return *list, nil
}

// SubmitOrderRequest creates a payment request and returns the URL the
// customer must be redirected to.
func (c *Client) SubmitOrderRequest(ctx context.Context, order OrderRequest) (*OrderRequestResponse, error) {
	resp, err := call[OrderRequestResponse](ctx, c, http.MethodPost, submitOrderPath, order, "submit order", ierr.ErrOrderSubmission)
	if err != nil {
		return nil, err
	}

	c.logger.Infow("submitted pesapal order",
		"merchant_reference", resp.MerchantReference,
		"order_tracking_id", resp.OrderTrackingID)
	return resp, nil
}

// GetTransactionStatus fetches the payment state of an order.
func (c *Client) GetTransactionStatus(ctx context.Context, orderTrackingID string) (*TransactionStatus, error) {
	if orderTrackingID == "" {
		return nil, validationError("order tracking id cannot be empty")
	}

	path := transactionStatusPath + "?orderTrackingId=" + url.QueryEscape(orderTrackingID)
	return call[TransactionStatus](ctx, c, http.MethodGet, path, nil, "get transaction status", ierr.ErrTransactionStatus)
}

// call refreshes the token if needed, performs the request and decodes the
// response into T. Gateway failures are marked with kind.
func call[T any](ctx context.Context, c *Client, method, path string, payload any, op string, kind error) (*T, error) {
	headers, err := c.tokens.ensureFresh(ctx)
	if err != nil {
		return nil, err
	}

	body, status, err := c.send(ctx, method, path, headers, payload)
	if err != nil {
		return nil, err
	}

	res, err := decode[T](body)
	if err != nil {
		if status >= http.StatusBadRequest {
			return nil, statusError(op, status, body)
		}
		return nil, err
	}
	if res.failure != nil {
		c.logger.Warnw("pesapal reported an error",
			"op", op,
			"code", res.failure.Detail.Code,
			"status", res.failure.Status)
		return nil, gatewayError(op, res.failure, kind)
	}
	if status >= http.StatusBadRequest {
		return nil, statusError(op, status, body)
	}

	return &res.value, nil
}

// send is the single place requests leave the client.
func (c *Client) send(ctx context.Context, method, path string, headers map[string]string, payload any) ([]byte, int, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, 0, ierr.WithError(err).
				WithHint("Failed to encode request payload").
				Mark(ierr.ErrValidation)
		}
	}

	resp, err := c.httpClient.Send(ctx, &httpclient.Request{
		Method:  method,
		URL:     c.baseURL + path,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		if ierr.IsTransport(err) {
			return nil, 0, err
		}
		return nil, 0, ierr.WithError(err).
			WithHintf("Request to %s failed", path).
			Mark(ierr.ErrTransport)
	}
	return resp.Body, resp.StatusCode, nil
}

func statusError(op string, status int, body []byte) error {
	return ierr.WithError(httpclient.NewError(status, body)).
		WithHintf("Pesapal returned HTTP %d for %s", status, op).
		Mark(ierr.ErrTransport)
}

func httpStatus(code int) string {
	if code == 0 {
		return defaultFailureStatus
	}
	return strconv.Itoa(code)
}
