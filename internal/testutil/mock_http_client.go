package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/berniyo/pesapal-lambda/internal/httpclient"
)

// MockHTTPClient implements httpclient.Client for tests. Responses are
// matched by URL suffix and consumed in registration order; once a route's
// queue is drained the last response served is repeated.
type MockHTTPClient struct {
	mu       sync.Mutex
	routes   map[string][]MockResponse
	last     map[string]MockResponse
	order    []string
	requests []httpclient.Request
}

// MockResponse represents a mock HTTP response. A non-nil Err is returned
// from Send instead of a response.
type MockResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
	Err        error
}

// NewMockHTTPClient creates a new mock HTTP client
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{
		routes: make(map[string][]MockResponse),
		last:   make(map[string]MockResponse),
	}
}

// RegisterResponse queues a mock response for a URL suffix
func (m *MockHTTPClient) RegisterResponse(route string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[route]; !ok {
		m.order = append(m.order, route)
	}
	m.routes[route] = append(m.routes[route], resp)
}

// RegisterJSONResponse queues a 200 response whose body is v encoded as JSON.
// Strings and byte slices are used verbatim.
func (m *MockHTTPClient) RegisterJSONResponse(route string, v any) {
	var body []byte
	switch b := v.(type) {
	case string:
		body = []byte(b)
	case []byte:
		body = b
	default:
		var err error
		body, err = json.Marshal(v)
		if err != nil {
			panic(err)
		}
	}
	m.RegisterResponse(route, MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json"},
	})
}

// Send implements the httpclient.Client interface
func (m *MockHTTPClient) Send(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recorded := *req
	recorded.Headers = make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		recorded.Headers[k] = v
	}
	m.requests = append(m.requests, recorded)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := req.URL
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}

	for _, route := range m.order {
		if !strings.HasSuffix(path, route) {
			continue
		}
		resp := m.last[route]
		if queue := m.routes[route]; len(queue) > 0 {
			resp = queue[0]
			m.routes[route] = queue[1:]
			m.last[route] = resp
		}
		if resp.Err != nil {
			return nil, resp.Err
		}
		return &httpclient.Response{
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
			Headers:    resp.Headers,
		}, nil
	}

	return &httpclient.Response{
		StatusCode: http.StatusNotFound,
		Body:       []byte("Not Found"),
		Headers:    map[string]string{},
	}, nil
}

// Requests returns a copy of every request seen so far.
func (m *MockHTTPClient) Requests() []httpclient.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]httpclient.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestsTo returns the recorded requests whose URL path ends with route.
func (m *MockHTTPClient) RequestsTo(route string) []httpclient.Request {
	var out []httpclient.Request
	for _, req := range m.Requests() {
		path := req.URL
		if i := strings.Index(path, "?"); i >= 0 {
			path = path[:i]
		}
		if strings.HasSuffix(path, route) {
			out = append(out, req)
		}
	}
	return out
}

// Clear removes all registered routes and recorded requests
func (m *MockHTTPClient) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = make(map[string][]MockResponse)
	m.last = make(map[string]MockResponse)
	m.order = nil
	m.requests = nil
}
