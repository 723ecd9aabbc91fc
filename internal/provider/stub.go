package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// StubName is the provider name recorded on stub payments.
const StubName = "stub"

// StubGateway creates orders locally. It is the default outside production and
// verifies signatures exactly like a live gateway when given a secret.
type StubGateway struct {
	signatureVerifier
}

// NewStubGateway creates a stub gateway.
func NewStubGateway(secret string, enforced bool) *StubGateway {
	return &StubGateway{signatureVerifier{secret: secret, enforced: enforced}}
}

func (g *StubGateway) Name() string { return StubName }

func (g *StubGateway) CreateOrder(_ context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("stub order: amount must be positive")
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return &OrderResult{
		GatewayOrderID:        "order_stub_" + id[:16],
		ProviderTransactionID: "txn_stub_" + id[16:],
		ProviderName:          StubName,
	}, nil
}

func (g *StubGateway) VerifyCallbackSignature(in SignatureInput) SignatureResult {
	return g.verify(in)
}
