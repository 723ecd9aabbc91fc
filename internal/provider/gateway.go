package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/civicflow/platform/internal/domain"
	"github.com/google/uuid"
)

// OrderRequest is what the ledger asks a gateway to create.
type OrderRequest struct {
	PaymentID uuid.UUID
	ARN       string
	DemandID  uuid.UUID
	Amount    int64 // minor units
	Currency  string
}

// OrderResult identifies the order created at the gateway.
type OrderResult struct {
	GatewayOrderID        string
	ProviderTransactionID string
	ProviderName          string
}

// SignatureInput carries the fields a gateway signs on payment completion.
type SignatureInput struct {
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
}

// SignatureResult is the outcome of a signature check. ErrorCode is one of the
// domain signature codes when Verified is false.
type SignatureResult struct {
	Verified            bool
	NormalizedSignature string
	ErrorCode           string
}

// Gateway creates orders and verifies callback signatures for one payment provider.
type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	VerifyCallbackSignature(in SignatureInput) SignatureResult
}

// Registry resolves gateways by provider name. It is built once at startup.
type Registry struct {
	gateways map[string]Gateway
	primary  string
}

// NewRegistry registers gateways; the first one is used for new orders.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		if r.primary == "" {
			r.primary = g.Name()
		}
		r.gateways[g.Name()] = g
	}
	return r
}

// Primary returns the gateway used to create new orders.
func (r *Registry) Primary() (Gateway, error) {
	return r.Get(r.primary)
}

// Get returns the gateway registered under name.
func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("payment gateway %q is not configured", name)
	}
	return g, nil
}

// Names lists registered gateways in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for n := range r.gateways {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NormalizeSignature trims, lower-cases and strips an optional scheme prefix.
func NormalizeSignature(sig string) string {
	s := strings.ToLower(strings.TrimSpace(sig))
	for _, prefix := range []string{"hmac-sha256=", "sha256="} {
		if strings.HasPrefix(s, prefix) {
			return strings.TrimSpace(s[len(prefix):])
		}
	}
	return s
}

// ComputeSignature returns hex(HMAC-SHA256(secret, orderID|paymentID)).
func ComputeSignature(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// signatureVerifier is shared by every gateway; they all sign order|payment.
type signatureVerifier struct {
	secret   string
	enforced bool
}

func (v signatureVerifier) verify(in SignatureInput) SignatureResult {
	normalized := NormalizeSignature(in.GatewaySignature)
	if v.secret == "" {
		if v.enforced {
			return SignatureResult{ErrorCode: domain.CodeSignatureSecretMissing}
		}
		return SignatureResult{Verified: true, NormalizedSignature: normalized}
	}
	if normalized == "" || in.GatewayOrderID == "" || in.GatewayPaymentID == "" {
		return SignatureResult{ErrorCode: domain.CodeInvalidGatewaySignature}
	}
	expected := ComputeSignature(v.secret, in.GatewayOrderID, in.GatewayPaymentID)
	if !hmac.Equal([]byte(expected), []byte(normalized)) {
		return SignatureResult{ErrorCode: domain.CodeInvalidGatewaySignature}
	}
	return SignatureResult{Verified: true, NormalizedSignature: normalized}
}
