package httpclient

import (
	"context"
	"io"
	"net/http"
	"time"

	ierr "github.com/berniyo/pesapal-lambda/internal/errors"
	"github.com/berniyo/pesapal-lambda/internal/logger"
	"github.com/hashicorp/go-retryablehttp"
)

// Request represents an HTTP request
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// Client interface for making HTTP requests
type Client interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// ClientConfig holds configuration for the HTTP client
type ClientConfig struct {
	Timeout time.Duration
	// RetryMax is the number of extra attempts for connection errors and 5xx
	// responses. Zero disables retries.
	RetryMax int
	Logger   *logger.Logger
}

// DefaultClient implements the Client interface on top of go-retryablehttp.
// Responses are returned whatever their status code; callers decide what a
// non-2xx status means.
type DefaultClient struct {
	client *retryablehttp.Client
}

// NewDefaultClient creates a new DefaultClient
func NewDefaultClient(cfg ClientConfig) Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	rc.RetryMax = cfg.RetryMax
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.Logger != nil {
		rc.Logger = leveledLogger{cfg.Logger}
	} else {
		rc.Logger = nil
	}

	return &DefaultClient{client: rc}
}

// Send makes an HTTP request and returns the response
func (c *DefaultClient) Send(ctx context.Context, req *Request) (*Response, error) {
	var body interface{}
	if req.Body != nil {
		body = req.Body
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Please check the request payload").
			Mark(ierr.ErrTransport)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Request to %s failed", req.URL).
			Mark(ierr.ErrTransport)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read response body").
			Mark(ierr.ErrTransport)
	}

	headers := make(map[string]string)
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Headers:    headers,
	}, nil
}

// leveledLogger adapts the zap sugared logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	l *logger.Logger
}

func (z leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	z.l.Errorw(msg, keysAndValues...)
}

func (z leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	z.l.Infow(msg, keysAndValues...)
}

func (z leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	z.l.Debugw(msg, keysAndValues...)
}

func (z leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	z.l.Warnw(msg, keysAndValues...)
}
