package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	ierr "github.com/berniyo/pesapal-lambda/internal/errors"
	"github.com/berniyo/pesapal-lambda/internal/httpclient"
)

const defaultCallbackTimeout = 15 * time.Second

// HTTPSCallbackSender posts payment outcomes to an HTTPS endpoint.
type HTTPSCallbackSender struct {
	url        string
	secret     string
	httpClient httpclient.Client
}

// NewHTTPSCallbackSender builds an HTTPS callback client.
func NewHTTPSCallbackSender(url, secret string, client httpclient.Client) (*HTTPSCallbackSender, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ierr.NewError("callback URL is required").
			Mark(ierr.ErrConfiguration)
	}

	if client == nil {
		client = httpclient.NewDefaultClient(httpclient.ClientConfig{Timeout: defaultCallbackTimeout})
	}

	return &HTTPSCallbackSender{
		url:        url,
		secret:     secret,
		httpClient: client,
	}, nil
}

// Send transmits the payment outcome as JSON to the configured endpoint.
func (h *HTTPSCallbackSender) Send(ctx context.Context, payload PaymentOutcome) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode callback payload: %w", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if h.secret != "" {
		headers["X-Callback-Secret"] = h.secret
	}

	resp, err := h.httpClient.Send(ctx, &httpclient.Request{
		Method:  http.MethodPost,
		URL:     h.url,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("send callback request: %w", err)
	}

	if resp.StatusCode >= 300 {
		data := resp.Body
		if len(data) > 4096 {
			data = data[:4096]
		}
		return fmt.Errorf("callback endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return nil
}
