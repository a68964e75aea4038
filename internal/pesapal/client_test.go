package pesapal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	ierr "github.com/berniyo/pesapal-lambda/internal/errors"
	"github.com/berniyo/pesapal-lambda/internal/httpclient"
	"github.com/berniyo/pesapal-lambda/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func tokenBody(token string) string {
	return `{"token":"` + token + `","expiryDate":"2026-10-19T10:05:00Z","error":null,"status":"200","message":"Request processed successfully"}`
}

func newTestClient(t *testing.T, mock *testutil.MockHTTPClient, clock *fakeClock) *Client {
	t.Helper()
	mock.RegisterJSONResponse(tokenPath, tokenBody("tok-1"))
	client, err := NewClient(context.Background(),
		Credentials{ConsumerKey: "key", ConsumerSecret: "secret"},
		WithHTTPClient(mock),
		WithClock(clock.Now),
	)
	require.NoError(t, err)
	return client
}

func TestNewClientRejectsEmptyCredentials(t *testing.T) {
	cases := []Credentials{
		{ConsumerKey: "", ConsumerSecret: "secret"},
		{ConsumerKey: "key", ConsumerSecret: ""},
		{},
	}
	for _, creds := range cases {
		mock := testutil.NewMockHTTPClient()
		_, err := NewClient(context.Background(), creds, WithHTTPClient(mock))
		require.Error(t, err)
		require.True(t, ierr.IsConfiguration(err))
		require.Empty(t, mock.Requests())
	}
}

func TestNewClientRejectsUnknownEnvironment(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	_, err := NewClient(context.Background(),
		Credentials{ConsumerKey: "key", ConsumerSecret: "secret"},
		WithHTTPClient(mock),
		WithEnvironment("staging"),
	)
	require.True(t, ierr.IsConfiguration(err))
	require.Empty(t, mock.Requests())
}

func TestNewClientAuthenticates(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)}
	client := newTestClient(t, mock, clock)

	reqs := mock.RequestsTo(tokenPath)
	require.Len(t, reqs, 1)
	require.Equal(t, sandboxBaseURL+tokenPath, reqs[0].URL)
	require.Equal(t, http.MethodPost, reqs[0].Method)
	require.JSONEq(t, `{"consumer_key":"key","consumer_secret":"secret"}`, string(reqs[0].Body))
	require.NotContains(t, reqs[0].Headers, "Authorization")

	require.Equal(t, "tok-1", client.Token().Token)
	require.Equal(t, map[string]string{
		"Accept":        "application/json",
		"Content-Type":  "application/json",
		"Authorization": "Bearer tok-1",
	}, client.Headers())
}

func TestProductionEnvironmentURL(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	mock.RegisterJSONResponse(tokenPath, tokenBody("tok-1"))
	_, err := NewClient(context.Background(),
		Credentials{ConsumerKey: "key", ConsumerSecret: "secret"},
		WithHTTPClient(mock),
		WithEnvironment(EnvironmentProduction),
	)
	require.NoError(t, err)
	require.Equal(t, productionBaseURL+tokenPath, mock.Requests()[0].URL)
}

func TestAuthenticateFailureKeepsToken(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)}
	client := newTestClient(t, mock, clock)

	mock.RegisterJSONResponse(tokenPath, `{"error":{"error_type":"api_error","code":"invalid_consumer_key_or_secret_provided","message":"Invalid consumer_key or consumer_secret provided"},"status":"500"}`)

	_, err := client.Authenticate(context.Background())
	require.Error(t, err)
	require.True(t, ierr.IsAuthentication(err))

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, "invalid_consumer_key_or_secret_provided", gwErr.Code())
	require.Equal(t, "Invalid consumer_key or consumer_secret provided", gwErr.Detail.Message)
	require.Equal(t, "500", gwErr.Status)

	require.Equal(t, "tok-1", client.Token().Token)
	require.Equal(t, "Bearer tok-1", client.Headers()["Authorization"])
}

func TestNewClientAuthenticationFailure(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	mock.RegisterJSONResponse(tokenPath, `{"error":{"error_type":"api_error","code":"invalid_consumer_key_or_secret_provided","message":"bad"},"status":"401"}`)

	_, err := NewClient(context.Background(),
		Credentials{ConsumerKey: "key", ConsumerSecret: "secret"},
		WithHTTPClient(mock),
	)
	require.True(t, ierr.IsAuthentication(err))
}

func TestMissingTokenIsAuthenticationError(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	mock.RegisterJSONResponse(tokenPath, `{"token":"","status":"200"}`)

	_, err := NewClient(context.Background(),
		Credentials{ConsumerKey: "key", ConsumerSecret: "secret"},
		WithHTTPClient(mock),
	)
	require.True(t, ierr.IsAuthentication(err))
}

func TestRenewalReplacesAuthorizationHeader(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)}
	client := newTestClient(t, mock, clock)

	mock.RegisterJSONResponse(tokenPath, tokenBody("tok-2"))
	_, err := client.Authenticate(context.Background())
	require.NoError(t, err)

	headers := client.Headers()
	require.Len(t, headers, 3)
	require.Equal(t, "Bearer tok-2", headers["Authorization"])
	require.Equal(t, "tok-2", client.Token().Token)
}

func TestTokenFreshness(t *testing.T) {
	cases := []struct {
		name    string
		issued  time.Time
		advance time.Duration
		renew   bool
	}{
		{"same minute", time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC), 10 * time.Second, false},
		{"minute boundary", time.Date(2026, 10, 19, 10, 0, 59, 0, time.UTC), time.Second, true},
		{"past ttl", time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC), 5*time.Minute + time.Second, true},
		{"an hour later", time.Date(2026, 10, 19, 10, 0, 30, 0, time.UTC), time.Hour, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock := testutil.NewMockHTTPClient()
			clock := &fakeClock{now: tc.issued}
			client := newTestClient(t, mock, clock)
			mock.RegisterJSONResponse(tokenPath, tokenBody("tok-2"))
			mock.RegisterJSONResponse(registerIPNPath, `{"ipn_id":"ipn-1","url":"https://example.com/ipn","status":"200"}`)

			clock.Advance(tc.advance)
			_, err := client.RegisterCallbackURL(context.Background(), "https://example.com/ipn", "GET")
			require.NoError(t, err)

			tokenCalls := len(mock.RequestsTo(tokenPath))
			ipnReq := mock.RequestsTo(registerIPNPath)[0]
			if tc.renew {
				require.Equal(t, 2, tokenCalls)
				require.Equal(t, "Bearer tok-2", ipnReq.Headers["Authorization"])
			} else {
				require.Equal(t, 1, tokenCalls)
				require.Equal(t, "Bearer tok-1", ipnReq.Headers["Authorization"])
			}
		})
	}
}

func TestRenewalIsSerialized(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)}
	client := newTestClient(t, mock, clock)
	mock.RegisterJSONResponse(tokenPath, tokenBody("tok-2"))
	mock.RegisterJSONResponse(submitOrderPath, `{"order_tracking_id":"trk","status":"200"}`)

	clock.Advance(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.SubmitOrderRequest(context.Background(), OrderRequest{ID: "o"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, mock.RequestsTo(tokenPath), 2)
	require.Len(t, mock.RequestsTo(submitOrderPath), 8)
}

func TestRegisterCallbackURLValidation(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)}
	client := newTestClient(t, mock, clock)
	mock.Clear()

	_, err := client.RegisterCallbackURL(context.Background(), "", "GET")
	require.True(t, ierr.IsValidation(err))

	_, err = client.RegisterCallbackURL(context.Background(), "https://example.com/ipn", "")
	require.True(t, ierr.IsValidation(err))

	require.Empty(t, mock.Requests())
}

func TestRegisterCallbackURL(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)}
	client := newTestClient(t, mock, clock)

	mock.RegisterJSONResponse(registerIPNPath, `{
		"url":"https://example.com/ipn",
		"created_date":"2026-10-19T10:00:06Z",
		"ipn_id":"e32182ca-0983-4fa0-91bc-c3bb813ba750",
		"notification_type":0,
		"ipn_notification_type_description":"GET",
		"ipn_status":1,
		"ipn_status_decription":"Active",
		"error":null,
		"status":"200"
	}`)

	reg, err := client.RegisterCallbackURL(context.Background(), "https://example.com/ipn", "GET")
	require.NoError(t, err)
	require.Equal(t, "e32182ca-0983-4fa0-91bc-c3bb813ba750", reg.IPNID)
	require.Equal(t, "Active", reg.IPNStatusDescription)
	require.Equal(t, 1, reg.IPNStatus)

	req := mock.RequestsTo(registerIPNPath)[0]
	require.JSONEq(t, `{"url":"https://example.com/ipn","ipn_notification_type":"GET"}`, string(req.Body))
	require.Equal(t, "Bearer tok-1", req.Headers["Authorization"])
	require.Equal(t, "application/json", req.Headers["Accept"])
}

func TestRegisterCallbackURLEmbeddedError(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)}
	client := newTestClient(t, mock, clock)

	inner, err := json.Marshal(`{"error":{"error_type":"api_error","code":"invalid_url","message":"Invalid URL"},"status":"500"}`)
	require.NoError(t, err)
	mock.RegisterJSONResponse(registerIPNPath, `{"message":`+string(inner)+`}`)

	_, err = client.RegisterCallbackURL(context.Background(), "notaurl", "GET")
	require.True(t, ierr.IsIPNRegistration(err))

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, "invalid_url", gwErr.Code())
	require.Equal(t, "500", gwErr.Status)
}

func TestGetRegisteredIPNs(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)}
	client := newTestClient(t, mock, clock)

	mock.RegisterJSONResponse(listIPNPath, `[
		{"url":"https://example.com/ipn","ipn_id":"ipn-1","ipn_status":1},
		{"url":"https://example.com/ipn2","ipn_id":"ipn-2","ipn_status":1}
	]`)

	ipns, err := client.GetRegisteredIPNs(context.Background())
	require.NoError(t, err)
	require.Len(t, ipns, 2)
	require.Equal(t, "ipn-2", ipns[1].IPNID)
	require.Equal(t, http.MethodGet, mock.RequestsTo(listIPNPath)[0].Method)
}

func TestSubmitOrderRequest(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)}
	client := newTestClient(t, mock, clock)

	mock.RegisterJSONResponse(submitOrderPath, `{
		"order_tracking_id":"b945e4af-80a5-4ec1-8706-e03f8332fb04",
		"merchant_reference":"order-1",
		"redirect_url":"https://cybqa.pesapal.com/pesapaliframe/PesapalIframe3/Index?OrderTrackingId=b945e4af",
		"error":null,
		"status":"200"
	}`)

	order := OrderRequest{
		ID:             "order-1",
		Currency:       "KES",
		Amount:         decimal.RequireFromString("350.00"),
		Description:    "Thank you for this SDK",
		CallbackURL:    "https://example.com/return",
		NotificationID: "ipn-1",
		BillingAddress: BillingAddress{EmailAddress: "john.doe@example.com", FirstName: "John", LastName: "Doe", CountryCode: "KE"},
		RedirectMode:   RedirectTopWindow,
	}

	resp, err := client.SubmitOrderRequest(context.Background(), order)
	require.NoError(t, err)
	require.Equal(t, "b945e4af-80a5-4ec1-8706-e03f8332fb04", resp.OrderTrackingID)
	require.Equal(t, "order-1", resp.MerchantReference)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(mock.RequestsTo(submitOrderPath)[0].Body, &sent))
	require.Equal(t, float64(350), sent["amount"])
	require.Equal(t, "ipn-1", sent["notification_id"])
	require.Equal(t, "TOP_WINDOW", sent["redirect_mode"])
	require.NotContains(t, sent, "branch")
}

func TestSubmitOrderRequestGatewayError(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)}
	client := newTestClient(t, mock, clock)

	mock.RegisterJSONResponse(submitOrderPath, `{"error":{"error_type":"api_error","code":"E1","message":"bad"},"status":"500"}`)

	_, err := client.SubmitOrderRequest(context.Background(), OrderRequest{ID: "order-1"})
	require.True(t, ierr.IsOrderSubmission(err))

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, "E1", gwErr.Code())
	require.Equal(t, "bad", gwErr.Detail.Message)
}

func TestGetTransactionStatus(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)}
	client := newTestClient(t, mock, clock)

	mock.RegisterJSONResponse(transactionStatusPath, `{
		"payment_method":"Visa",
		"amount":350.5,
		"created_date":"2026-10-19T10:01:00Z",
		"confirmation_code":"6513008693186320103009",
		"payment_status_description":"Completed",
		"status_code":1,
		"merchant_reference":"order-1",
		"currency":"KES",
		"error":{"error_type":null,"code":null,"message":null},
		"status":"200"
	}`)

	status, err := client.GetTransactionStatus(context.Background(), "trk 1")
	require.NoError(t, err)
	require.True(t, status.Completed())
	require.True(t, decimal.RequireFromString("350.5").Equal(status.Amount))
	require.Equal(t, sandboxBaseURL+transactionStatusPath+"?orderTrackingId=trk+1", mock.RequestsTo(transactionStatusPath)[0].URL)

	_, err = client.GetTransactionStatus(context.Background(), "")
	require.True(t, ierr.IsValidation(err))
}

func TestTransportFailureIsNotDecoded(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)}
	client := newTestClient(t, mock, clock)

	mock.RegisterResponse(submitOrderPath, testutil.MockResponse{Err: errors.New("connection reset by peer")})

	_, err := client.SubmitOrderRequest(context.Background(), OrderRequest{ID: "order-1"})
	require.True(t, ierr.IsTransport(err))
	require.False(t, ierr.IsOrderSubmission(err))
}

func TestHTTPErrorWithoutGatewayError(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)}
	client := newTestClient(t, mock, clock)

	mock.RegisterResponse(submitOrderPath, testutil.MockResponse{StatusCode: http.StatusBadGateway, Body: []byte("upstream down")})

	_, err := client.SubmitOrderRequest(context.Background(), OrderRequest{ID: "order-1"})
	require.True(t, ierr.IsTransport(err))
	httpErr, ok := httpclient.IsHTTPError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
}

func TestUpdateHeaders(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)}
	client := newTestClient(t, mock, clock)

	client.UpdateHeaders(map[string]string{"Accept": "application/vnd.pesapal+json", "X-Trace": "abc"})

	headers := client.Headers()
	require.Equal(t, "application/vnd.pesapal+json", headers["Accept"])
	require.Equal(t, "abc", headers["X-Trace"])
	require.Equal(t, "application/json", headers["Content-Type"])
	require.Equal(t, "Bearer tok-1", headers["Authorization"])

	mock.RegisterJSONResponse(listIPNPath, `[]`)
	_, err := client.GetRegisteredIPNs(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", mock.RequestsTo(listIPNPath)[0].Headers["X-Trace"])
}
