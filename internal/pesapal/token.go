package pesapal

import (
	"context"
	"net/http"
	"sync"
	"time"

	ierr "github.com/berniyo/pesapal-lambda/internal/errors"
	"github.com/berniyo/pesapal-lambda/internal/logger"
	"github.com/samber/lo"
)

const (
	tokenPath = "/Auth/RequestToken"

	// tokenTTL is how long a token is trusted before it is renewed. A token is
	// also renewed whenever the wall-clock minute changes after issuance.
	tokenTTL = 5 * time.Minute
)

// sendFunc performs one round trip against the gateway and returns the raw
// response body with its HTTP status.
type sendFunc func(ctx context.Context, method, path string, headers map[string]string, payload any) ([]byte, int, error)

// tokenManager owns the access token, its issuance time and the outbound
// header set. mu is held across renewals so concurrent callers never
// authenticate twice for the same stale token.
type tokenManager struct {
	creds Credentials
	send  sendFunc
	now   func() time.Time
	log   *logger.Logger

	mu       sync.Mutex
	headers  map[string]string
	token    *AccessToken
	issuedAt time.Time
}

func newTokenManager(creds Credentials, send sendFunc, now func() time.Time, log *logger.Logger) *tokenManager {
	return &tokenManager{
		creds: creds,
		send:  send,
		now:   now,
		log:   log,
		headers: map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		},
	}
}

// authenticate requests a new token unconditionally.
func (m *tokenManager) authenticate(ctx context.Context) (*AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticateLocked(ctx)
}

func (m *tokenManager) authenticateLocked(ctx context.Context) (*AccessToken, error) {
	body, status, err := m.send(ctx, http.MethodPost, tokenPath, lo.Assign(m.headers), m.creds)
	if err != nil {
		m.log.Errorw("pesapal token request failed", "error", err)
		return nil, err
	}

	res, err := decode[AccessToken](body)
	if err != nil {
		return nil, err
	}
	if res.failure != nil {
		m.log.Errorw("pesapal rejected credentials",
			"code", res.failure.Detail.Code,
			"status", res.failure.Status)
		return nil, gatewayError("authenticate", res.failure, ierr.ErrAuthentication)
	}
	if res.value.Token == "" {
		f := &Failure{
			Detail: PesapalError{ErrorType: "api_error", Code: "missing_token", Message: "token response missing access token"},
			Status: lo.Ternary(res.value.Status != "", res.value.Status, httpStatus(status)),
		}
		return nil, gatewayError("authenticate", f, ierr.ErrAuthentication)
	}

	token := res.value
	m.token = &token
	m.issuedAt = m.now()
	m.headers["Authorization"] = "Bearer " + token.Token

	m.log.Debugw("pesapal token issued", "expiry_date", token.ExpiryDate)
	return &token, nil
}

// ensureFresh renews the token when it is stale and returns a copy of the
// header set to use for the next call.
func (m *tokenManager) ensureFresh(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stale(m.now()) {
		m.log.Debugw("pesapal token stale, renewing", "issued_at", m.issuedAt)
		if _, err := m.authenticateLocked(ctx); err != nil {
			return nil, err
		}
	}
	return lo.Assign(m.headers), nil
}

// stale reports whether a token issued at m.issuedAt should be renewed at now.
func (m *tokenManager) stale(now time.Time) bool {
	if m.token == nil {
		return true
	}
	return now.Sub(m.issuedAt) > tokenTTL || now.Minute() != m.issuedAt.Minute()
}

// updateHeaders merges extra into the header set; existing keys are overwritten.
func (m *tokenManager) updateHeaders(extra map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headers = lo.Assign(m.headers, extra)
}

func (m *tokenManager) snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Assign(m.headers)
}

func (m *tokenManager) current() *AccessToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return nil
	}
	token := *m.token
	return &token
}
