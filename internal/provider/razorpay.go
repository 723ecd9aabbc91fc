package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/guard"
)

// RazorpayName is the provider name recorded on live gateway payments.
const RazorpayName = "razorpay"

// RazorpayConfig configures the live gateway client.
type RazorpayConfig struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	Secret     string // signature HMAC key
	Enforced   bool
	Timeout    time.Duration
	MaxRetries int
	Breaker    *guard.CircuitBreaker
}

// RazorpayGateway creates orders through the Razorpay Orders API.
type RazorpayGateway struct {
	signatureVerifier
	cfg     RazorpayConfig
	host    string
	client  *http.Client
	breaker *guard.CircuitBreaker
	logger  *slog.Logger
	backoff func(attempt int) time.Duration
}

// NewRazorpayGateway creates a live gateway client.
func NewRazorpayGateway(cfg RazorpayConfig, logger *slog.Logger) (*RazorpayGateway, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway base url %q", cfg.BaseURL)
	}
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, fmt.Errorf("razorpay key id and secret are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = guard.NewCircuitBreaker(5, 30*time.Second)
	}
	return &RazorpayGateway{
		signatureVerifier: signatureVerifier{secret: cfg.Secret, enforced: cfg.Enforced},
		cfg:               cfg,
		host:              u.Host,
		client:            &http.Client{Timeout: cfg.Timeout},
		breaker:           breaker,
		logger:            logger,
		backoff:           exponentialBackoff(200*time.Millisecond, 2*time.Second),
	}, nil
}

func (g *RazorpayGateway) Name() string { return RazorpayName }

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrderResponse struct {
	ID     string `json:"id"`
	Entity string `json:"entity"`
	Status string `json:"status"`
}

// errRetryable marks failures worth another attempt (transport errors, 5xx, 429).
var errRetryable = errors.New("retryable gateway failure")

// CreateOrder posts a new order. Transport errors and 5xx/429 responses are
// retried with exponential backoff; every failed attempt counts against the
// host's circuit breaker.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.PaymentID.String(),
		Notes: map[string]string{
			"arn":       req.ARN,
			"demand_id": req.DemandID.String(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(g.backoff(attempt)):
			case <-ctx.Done():
				return nil, domain.ErrGatewayUnavailable(ctx.Err())
			}
		}

		if check := g.breaker.Check(ctx, g.host); !check.Allowed {
			return nil, domain.ErrGatewayUnavailable(errors.New(check.Reason))
		}

		order, err := g.postOrder(ctx, body)
		if err == nil {
			g.breaker.RecordSuccess(g.host)
			return &OrderResult{
				GatewayOrderID:        order.ID,
				ProviderTransactionID: order.ID,
				ProviderName:          RazorpayName,
			}, nil
		}

		lastErr = err
		if !errors.Is(err, errRetryable) {
			// The gateway answered; it is reachable even though it refused us.
			g.breaker.RecordSuccess(g.host)
			return nil, domain.ErrGatewayUnavailable(err)
		}
		g.breaker.RecordFailure(g.host)
		g.logger.Warn("gateway order attempt failed",
			"provider", RazorpayName, "attempt", attempt+1, "payment_id", req.PaymentID, "error", err)
	}
	return nil, domain.ErrGatewayUnavailable(lastErr)
}

func (g *RazorpayGateway) postOrder(ctx context.Context, body []byte) (*razorpayOrderResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.SetBasicAuth(g.cfg.KeyID, g.cfg.KeySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("gateway rejected order (status %d): %s", resp.StatusCode, string(msg))
	}

	var order razorpayOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("gateway returned an order without id")
	}
	return &order, nil
}

func (g *RazorpayGateway) VerifyCallbackSignature(in SignatureInput) SignatureResult {
	return g.verify(in)
}

// exponentialBackoff doubles base per attempt up to ceiling.
func exponentialBackoff(base, ceiling time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base << uint(attempt-1)
		if d <= 0 || d > ceiling {
			return ceiling
		}
		return d
	}
}
