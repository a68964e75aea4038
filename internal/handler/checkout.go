package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	ierr "github.com/berniyo/pesapal-lambda/internal/errors"
	"github.com/berniyo/pesapal-lambda/internal/logger"
	"github.com/berniyo/pesapal-lambda/internal/pesapal"
	"github.com/berniyo/pesapal-lambda/internal/validator"
	"github.com/oklog/ulid/v2"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

const defaultIPNCacheTTL = 24 * time.Hour

// PaymentClient defines the subset of the Pesapal client used by the processor.
type PaymentClient interface {
	RegisterCallbackURL(ctx context.Context, ipnURL, notificationMethod string) (*pesapal.IPNRegistration, error)
	SubmitOrderRequest(ctx context.Context, order pesapal.OrderRequest) (*pesapal.OrderRequestResponse, error)
	GetTransactionStatus(ctx context.Context, orderTrackingID string) (*pesapal.TransactionStatus, error)
}

// Settings are the merchant URLs attached to every order.
type Settings struct {
	IPNURL          string
	CallbackURL     string
	CancellationURL string
	Branch          string
}

// CheckoutEvent starts a payment.
type CheckoutEvent struct {
	Reference    string                 `json:"reference,omitempty" validate:"omitempty,max=50"`
	Amount       decimal.Decimal        `json:"amount"`
	Currency     string                 `json:"currency" validate:"required,len=3"`
	Description  string                 `json:"description" validate:"required,max=100"`
	RedirectMode string                 `json:"redirect_mode,omitempty" validate:"omitempty,oneof=TOP_WINDOW PARENT_WINDOW"`
	Customer     pesapal.BillingAddress `json:"customer"`
}

// CheckoutResponse tells the caller where to send the customer.
type CheckoutResponse struct {
	OrderTrackingID   string `json:"order_tracking_id"`
	MerchantReference string `json:"merchant_reference"`
	RedirectURL       string `json:"redirect_url"`
}

// NotificationAck is the body Pesapal expects back from an IPN endpoint.
type NotificationAck struct {
	OrderNotificationType  string `json:"orderNotificationType"`
	OrderTrackingID        string `json:"orderTrackingId"`
	OrderMerchantReference string `json:"orderMerchantReference"`
	Status                 int    `json:"status"`
}

// PaymentOutcome is forwarded downstream once a notification is resolved.
type PaymentOutcome struct {
	OrderTrackingID   string          `json:"order_tracking_id"`
	MerchantReference string          `json:"merchant_reference"`
	NotificationType  string          `json:"notification_type"`
	Status            string          `json:"status"`
	StatusCode        int             `json:"status_code"`
	Completed         bool            `json:"completed"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	ConfirmationCode  string          `json:"confirmation_code,omitempty"`
	CreatedDate       string          `json:"created_date,omitempty"`
}

// CallbackSender delivers payment outcomes to downstream systems.
type CallbackSender interface {
	Send(ctx context.Context, payload PaymentOutcome) error
}

// Processor coordinates checkouts and IPN handling.
type Processor struct {
	client           PaymentClient
	settings         Settings
	notificationType string
	ipnCacheTTL      time.Duration
	ipnCache         *gocache.Cache
	logger           *logger.Logger
	callback         CallbackSender
}

// Option customizes the processor.
type Option func(*Processor)

// WithNotificationType sets the HTTP method Pesapal uses for IPN calls.
func WithNotificationType(method string) Option {
	return func(p *Processor) {
		if method != "" {
			p.notificationType = strings.ToUpper(method)
		}
	}
}

// WithIPNCacheTTL controls how long a registered IPN id is reused.
func WithIPNCacheTTL(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.ipnCacheTTL = d
		}
	}
}

// WithLogger lets callers supply a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithCallbackSender wires a callback destination invoked after a notification is resolved.
func WithCallbackSender(sender CallbackSender) Option {
	return func(p *Processor) {
		p.callback = sender
	}
}

// NewProcessor builds a Processor with sane defaults.
func NewProcessor(client PaymentClient, settings Settings, opts ...Option) *Processor {
	p := &Processor{
		client:           client,
		settings:         settings,
		notificationType: pesapal.DefaultNotificationMethod,
		ipnCacheTTL:      defaultIPNCacheTTL,
		logger:           logger.NewNop(),
	}

	for _, opt := range opts {
		opt(p)
	}
	p.ipnCache = gocache.New(p.ipnCacheTTL, 2*p.ipnCacheTTL)

	return p
}

// Checkout submits an order to Pesapal and returns the payment page URL.
func (p *Processor) Checkout(ctx context.Context, event CheckoutEvent) (CheckoutResponse, error) {
	if err := validateCheckout(event); err != nil {
		return CheckoutResponse{}, err
	}

	notificationID, err := p.notificationID(ctx)
	if err != nil {
		return CheckoutResponse{}, err
	}

	reference := event.Reference
	if reference == "" {
		reference = ulid.Make().String()
	}

	order := pesapal.OrderRequest{
		ID:              reference,
		Currency:        strings.ToUpper(event.Currency),
		Amount:          event.Amount,
		Description:     event.Description,
		CallbackURL:     p.settings.CallbackURL,
		CancellationURL: p.settings.CancellationURL,
		NotificationID:  notificationID,
		Branch:          p.settings.Branch,
		BillingAddress:  event.Customer,
		RedirectMode:    pesapal.RedirectMode(event.RedirectMode),
	}

	p.logger.Infow("submitting checkout",
		"merchant_reference", reference,
		"amount", event.Amount.String(),
		"currency", order.Currency)

	resp, err := p.client.SubmitOrderRequest(ctx, order)
	if err != nil {
		p.logger.Errorw("checkout failed", "merchant_reference", reference, "error", err)
		return CheckoutResponse{}, err
	}

	return CheckoutResponse{
		OrderTrackingID:   resp.OrderTrackingID,
		MerchantReference: reference,
		RedirectURL:       resp.RedirectURL,
	}, nil
}

// HandleNotification resolves an IPN call into a payment outcome and builds
// the acknowledgment Pesapal expects. A failed status lookup yields an ack
// with status 500 so Pesapal retries the notification.
func (p *Processor) HandleNotification(ctx context.Context, n pesapal.IPNNotification) (NotificationAck, error) {
	ack := NotificationAck{
		OrderNotificationType:  n.OrderNotificationType,
		OrderTrackingID:        n.OrderTrackingID,
		OrderMerchantReference: n.OrderMerchantReference,
		Status:                 http.StatusOK,
	}

	if err := validator.ValidateRequest(n); err != nil {
		ack.Status = http.StatusInternalServerError
		return ack, err
	}

	p.logger.Infow("received ipn",
		"order_tracking_id", n.OrderTrackingID,
		"notification_type", n.OrderNotificationType)

	txn, err := p.client.GetTransactionStatus(ctx, n.OrderTrackingID)
	if err != nil {
		p.logger.Errorw("transaction status lookup failed", "order_tracking_id", n.OrderTrackingID, "error", err)
		ack.Status = http.StatusInternalServerError
		return ack, err
	}

	outcome := PaymentOutcome{
		OrderTrackingID:   n.OrderTrackingID,
		MerchantReference: txn.MerchantReference,
		NotificationType:  n.OrderNotificationType,
		Status:            txn.PaymentStatusDescription,
		StatusCode:        txn.StatusCode,
		Completed:         txn.Completed(),
		Amount:            txn.Amount,
		Currency:          txn.Currency,
		PaymentMethod:     txn.PaymentMethod,
		ConfirmationCode:  txn.ConfirmationCode,
		CreatedDate:       txn.CreatedDate,
	}
	if outcome.MerchantReference == "" {
		outcome.MerchantReference = n.OrderMerchantReference
	}

	p.logger.Infow("transaction resolved",
		"order_tracking_id", n.OrderTrackingID,
		"status", outcome.Status,
		"completed", outcome.Completed)

	p.emitCallback(ctx, outcome)
	return ack, nil
}

// notificationID returns the IPN id for the configured URL, registering it
// on a cache miss.
func (p *Processor) notificationID(ctx context.Context) (string, error) {
	key := p.notificationType + " " + p.settings.IPNURL
	if id, ok := p.ipnCache.Get(key); ok {
		return id.(string), nil
	}

	reg, err := p.client.RegisterCallbackURL(ctx, p.settings.IPNURL, p.notificationType)
	if err != nil {
		return "", err
	}

	p.ipnCache.Set(key, reg.IPNID, gocache.DefaultExpiration)
	return reg.IPNID, nil
}

func validateCheckout(event CheckoutEvent) error {
	if err := validator.ValidateRequest(event); err != nil {
		return err
	}
	if !event.Amount.IsPositive() {
		return ierr.NewError("amount must be positive").
			WithHint("Provide an amount greater than zero").
			Mark(ierr.ErrValidation)
	}
	if strings.TrimSpace(event.Customer.EmailAddress) == "" && strings.TrimSpace(event.Customer.PhoneNumber) == "" {
		return ierr.NewError("customer email or phone is required").
			WithHint("Pesapal needs an email address or phone number for the billing address").
			Mark(ierr.ErrValidation)
	}
	return nil
}

func (p *Processor) emitCallback(ctx context.Context, outcome PaymentOutcome) {
	if p.callback == nil {
		return
	}
	if err := p.callback.Send(ctx, outcome); err != nil {
		p.logger.Warnw("callback delivery failed", "order_tracking_id", outcome.OrderTrackingID, "error", err)
	}
}
