package provider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/guard"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Signature Tests ---

func TestNormalizeSignature(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ABCDEF", "abcdef"},
		{"  abc  ", "abc"},
		{"sha256=ABC", "abc"},
		{"HMAC-SHA256=abc", "abc"},
		{"sha256= abc", "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSignature(tt.in), tt.in)
	}
}

func TestVerifyCallbackSignature(t *testing.T) {
	secret := "gw_secret"
	valid := ComputeSignature(secret, "order_1", "pay_1")

	tests := []struct {
		name     string
		secret   string
		enforced bool
		in       SignatureInput
		verified bool
		code     string
	}{
		{
			name:     "valid",
			secret:   secret,
			in:       SignatureInput{GatewayOrderID: "order_1", GatewayPaymentID: "pay_1", GatewaySignature: valid},
			verified: true,
		},
		{
			name:     "valid with prefix and upper case",
			secret:   secret,
			in:       SignatureInput{GatewayOrderID: "order_1", GatewayPaymentID: "pay_1", GatewaySignature: "sha256=" + strings.ToUpper(valid)},
			verified: true,
		},
		{
			name:   "wrong payment id",
			secret: secret,
			in:     SignatureInput{GatewayOrderID: "order_1", GatewayPaymentID: "pay_2", GatewaySignature: valid},
			code:   domain.CodeInvalidGatewaySignature,
		},
		{
			name:   "empty signature",
			secret: secret,
			in:     SignatureInput{GatewayOrderID: "order_1", GatewayPaymentID: "pay_1"},
			code:   domain.CodeInvalidGatewaySignature,
		},
		{
			name:     "missing secret enforced",
			enforced: true,
			in:       SignatureInput{GatewayOrderID: "order_1", GatewayPaymentID: "pay_1", GatewaySignature: valid},
			code:     domain.CodeSignatureSecretMissing,
		},
		{
			name:     "missing secret permissive",
			in:       SignatureInput{GatewayOrderID: "order_1", GatewayPaymentID: "pay_1", GatewaySignature: "anything"},
			verified: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewStubGateway(tt.secret, tt.enforced)
			res := g.VerifyCallbackSignature(tt.in)
			assert.Equal(t, tt.verified, res.Verified)
			assert.Equal(t, tt.code, res.ErrorCode)
		})
	}
}

// --- Stub Tests ---

func TestStubGateway_CreateOrder(t *testing.T) {
	g := NewStubGateway("", false)
	res, err := g.CreateOrder(context.Background(), OrderRequest{PaymentID: uuid.New(), Amount: 500, Currency: "INR"})
	require.NoError(t, err)
	assert.Contains(t, res.GatewayOrderID, "order_stub_")
	assert.Equal(t, StubName, res.ProviderName)

	other, err := g.CreateOrder(context.Background(), OrderRequest{PaymentID: uuid.New(), Amount: 500, Currency: "INR"})
	require.NoError(t, err)
	assert.NotEqual(t, res.GatewayOrderID, other.GatewayOrderID)

	_, err = g.CreateOrder(context.Background(), OrderRequest{Amount: 0})
	assert.Error(t, err)
}

// --- Registry Tests ---

func TestRegistry(t *testing.T) {
	stub := NewStubGateway("", false)
	r := NewRegistry(stub)

	g, err := r.Primary()
	require.NoError(t, err)
	assert.Equal(t, StubName, g.Name())

	_, err = r.Get("razorpay")
	assert.Error(t, err)
	assert.Equal(t, []string{StubName}, r.Names())
}

// --- Razorpay Tests ---

func newTestRazorpay(t *testing.T, baseURL string, retries int, breaker *guard.CircuitBreaker) *RazorpayGateway {
	t.Helper()
	g, err := NewRazorpayGateway(RazorpayConfig{
		BaseURL:    baseURL,
		KeyID:      "rzp_test",
		KeySecret:  "secret",
		Secret:     "secret",
		Enforced:   true,
		Timeout:    2 * time.Second,
		MaxRetries: retries,
		Breaker:    breaker,
	}, testLogger())
	require.NoError(t, err)
	g.backoff = func(int) time.Duration { return time.Millisecond }
	return g
}

func TestRazorpay_CreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test", user)
		assert.Equal(t, "secret", pass)

		var body razorpayOrderRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(50_000), body.Amount)
		assert.Equal(t, "INR", body.Currency)
		assert.Equal(t, "ARN-1", body.Notes["arn"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"order_Rz1","entity":"order","status":"created"}`))
	}))
	defer srv.Close()

	g := newTestRazorpay(t, srv.URL, 0, nil)
	res, err := g.CreateOrder(context.Background(), OrderRequest{
		PaymentID: uuid.New(), ARN: "ARN-1", DemandID: uuid.New(), Amount: 50_000, Currency: "INR",
	})
	require.NoError(t, err)
	assert.Equal(t, "order_Rz1", res.GatewayOrderID)
	assert.Equal(t, RazorpayName, res.ProviderName)
}

func TestRazorpay_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"order_after_retry"}`))
	}))
	defer srv.Close()

	g := newTestRazorpay(t, srv.URL, 2, guard.NewCircuitBreaker(10, time.Minute))
	res, err := g.CreateOrder(context.Background(), OrderRequest{PaymentID: uuid.New(), Amount: 100, Currency: "INR"})
	require.NoError(t, err)
	assert.Equal(t, "order_after_retry", res.GatewayOrderID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRazorpay_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"description":"amount too small"}}`))
	}))
	defer srv.Close()

	g := newTestRazorpay(t, srv.URL, 3, nil)
	_, err := g.CreateOrder(context.Background(), OrderRequest{PaymentID: uuid.New(), Amount: 1, Currency: "INR"})
	require.Error(t, err)
	assert.Equal(t, domain.CodeGatewayUnavailable, domain.CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRazorpay_BreakerOpensAndShortCircuits(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	breaker := guard.NewCircuitBreaker(2, time.Minute)
	g := newTestRazorpay(t, srv.URL, 5, breaker)

	_, err := g.CreateOrder(context.Background(), OrderRequest{PaymentID: uuid.New(), Amount: 100, Currency: "INR"})
	require.Error(t, err)
	assert.Equal(t, domain.CodeGatewayUnavailable, domain.CodeOf(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "breaker stops retries after threshold")

	_, err = g.CreateOrder(context.Background(), OrderRequest{PaymentID: uuid.New(), Amount: 100, Currency: "INR"})
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open circuit makes no request")
}

func TestRazorpay_ConfigValidation(t *testing.T) {
	_, err := NewRazorpayGateway(RazorpayConfig{BaseURL: "not a url", KeyID: "k", KeySecret: "s"}, testLogger())
	assert.Error(t, err)

	_, err = NewRazorpayGateway(RazorpayConfig{BaseURL: "https://api.razorpay.com"}, testLogger())
	assert.Error(t, err)
}

func TestExponentialBackoff(t *testing.T) {
	b := exponentialBackoff(100*time.Millisecond, time.Second)
	assert.Equal(t, 100*time.Millisecond, b(1))
	assert.Equal(t, 200*time.Millisecond, b(2))
	assert.Equal(t, 400*time.Millisecond, b(3))
	assert.Equal(t, time.Second, b(5))
	assert.Equal(t, time.Second, b(70))
}
