package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	ierr "github.com/berniyo/pesapal-lambda/internal/errors"
	"github.com/berniyo/pesapal-lambda/internal/logger"
	"github.com/berniyo/pesapal-lambda/internal/pesapal"
)

// API exposes the processor behind an API Gateway HTTP API or a Lambda function URL.
//
//	POST /checkout  CheckoutEvent JSON -> CheckoutResponse
//	GET  /ipn       Pesapal IPN query parameters -> NotificationAck
//	POST /ipn       Pesapal IPN JSON body -> NotificationAck
type API struct {
	processor *Processor
	logger    *logger.Logger
}

// NewAPI wraps a processor.
func NewAPI(processor *Processor, log *logger.Logger) *API {
	if log == nil {
		log = logger.NewNop()
	}
	return &API{processor: processor, logger: log}
}

// Handle implements the AWS Lambda handler entry point.
func (a *API) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := req.RequestContext.HTTP.Method
	path := req.RawPath
	if path == "" {
		path = req.RequestContext.HTTP.Path
	}
	path = strings.TrimSuffix(path, "/")

	switch {
	case method == http.MethodPost && path == "/checkout":
		return a.checkout(ctx, req)
	case (method == http.MethodGet || method == http.MethodPost) && path == "/ipn":
		return a.notification(ctx, req)
	default:
		return jsonResponse(http.StatusNotFound, map[string]string{"error": "route not found"}), nil
	}
}

func (a *API) checkout(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	var event CheckoutEvent
	if err := decodeBody(req, &event); err != nil {
		return a.errorResponse(err), nil
	}

	resp, err := a.processor.Checkout(ctx, event)
	if err != nil {
		return a.errorResponse(err), nil
	}
	return jsonResponse(http.StatusCreated, resp), nil
}

func (a *API) notification(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	var n pesapal.IPNNotification
	if req.RequestContext.HTTP.Method == http.MethodGet {
		n = pesapal.IPNNotification{
			OrderTrackingID:        req.QueryStringParameters["OrderTrackingId"],
			OrderNotificationType:  req.QueryStringParameters["OrderNotificationType"],
			OrderMerchantReference: req.QueryStringParameters["OrderMerchantReference"],
		}
	} else if err := decodeBody(req, &n); err != nil {
		return a.errorResponse(err), nil
	}

	ack, err := a.processor.HandleNotification(ctx, n)
	if err != nil {
		return jsonResponse(ierr.HTTPStatusFromErr(err), ack), nil
	}
	return jsonResponse(http.StatusOK, ack), nil
}

func (a *API) errorResponse(err error) events.APIGatewayV2HTTPResponse {
	status := ierr.HTTPStatusFromErr(err)
	if status >= http.StatusInternalServerError {
		a.logger.Errorw("request failed", "error", err, "status", status)
	}
	body := map[string]any{"error": err.Error()}
	if hints := ierr.Hints(err); len(hints) > 0 {
		body["hints"] = hints
	}
	return jsonResponse(status, body)
}

func decodeBody(req events.APIGatewayV2HTTPRequest, v any) error {
	data := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Request body is not valid base64").
				Mark(ierr.ErrValidation)
		}
		data = decoded
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ierr.WithError(err).
			WithHint("Request body must be valid JSON").
			Mark(ierr.ErrValidation)
	}
	return nil
}

func jsonResponse(status int, v any) events.APIGatewayV2HTTPResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response"}`)
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
