package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/provider"
	"github.com/civicflow/platform/internal/repository"
	"github.com/jackc/pgx/v5"
)

// VerifyGatewayPayment settles an INITIATED gateway payment once the gateway
// signature checks out.
// Pattern: Signature → Idempotency → Replay → Lock demand → Lock payment → Re-check → Mark verified → Credit → Audit + Outbox
func (e *Engine) VerifyGatewayPayment(ctx context.Context, tx pgx.Tx, params domain.VerifyGatewayParams) (*domain.PaymentResult, error) {
	if params.GatewayPaymentID == "" {
		return nil, domain.ErrValidation("gateway payment id is required")
	}
	payment, err := e.payments.FindByID(ctx, tx, params.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	if payment == nil {
		return nil, domain.ErrNotFound("payment", params.PaymentID.String())
	}
	if payment.Mode != domain.PaymentModeGateway || payment.GatewayOrderID == nil {
		return nil, domain.ErrInvalidState("only gateway payments can be verified")
	}

	sig, err := e.checkSignature(payment, params.GatewayPaymentID, params.GatewaySignature)
	if err != nil {
		return nil, err
	}
	return e.verifyAndSettle(ctx, tx, payment, settleInput{
		gatewayPaymentID: params.GatewayPaymentID,
		signature:        sig,
		actor:            actorOr(params.ActorType, domain.ActorCitizen),
		actorID:          params.VerifiedBy,
	})
}

type settleInput struct {
	gatewayPaymentID string
	signature        string
	actor            domain.ActorType
	actorID          string
}

// checkSignature verifies the callback signature with the gateway that created
// the order. The error never says which part of the check failed.
func (e *Engine) checkSignature(p *domain.Payment, gatewayPaymentID, signature string) (string, error) {
	g, err := e.gatewayFor(p)
	if err != nil {
		return "", err
	}
	res := g.VerifyCallbackSignature(provider.SignatureInput{
		GatewayOrderID:   *p.GatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
		GatewaySignature: signature,
	})
	if res.Verified {
		return res.NormalizedSignature, nil
	}
	if res.ErrorCode == domain.CodeSignatureSecretMissing {
		return "", domain.ErrSignatureSecretMissing()
	}
	return "", domain.ErrInvalidGatewaySignature()
}

func (e *Engine) gatewayFor(p *domain.Payment) (provider.Gateway, error) {
	if p.ProviderName != nil && *p.ProviderName != "" {
		g, err := e.gateways.Get(*p.ProviderName)
		if err != nil {
			return nil, domain.ErrGatewayUnavailable(err)
		}
		return g, nil
	}
	g, err := e.gateways.Primary()
	if err != nil {
		return nil, domain.ErrGatewayUnavailable(err)
	}
	return g, nil
}

// verifyAndSettle runs the unlocked idempotency and replay checks, then
// repeats them under the demand and payment locks before crediting.
func (e *Engine) verifyAndSettle(ctx context.Context, tx pgx.Tx, p *domain.Payment, in settleInput) (*domain.PaymentResult, error) {
	if res, done, err := e.replayOrIdempotent(ctx, tx, p, in.gatewayPaymentID); done {
		return res, err
	}

	demand, err := e.LockDemandForUpdate(ctx, tx, p.DemandID)
	if err != nil {
		return nil, err
	}
	locked, err := e.LockPaymentForUpdate(ctx, tx, p.ID)
	if err != nil {
		return nil, err
	}

	if res, done, err := e.replayOrIdempotent(ctx, tx, locked, in.gatewayPaymentID); done {
		return res, err
	}
	if locked.Status != domain.PaymentStatusInitiated {
		return nil, domain.ErrInvalidState(fmt.Sprintf("payment is %s", locked.Status))
	}
	if locked.Amount > demand.Remaining() {
		return nil, domain.ErrAmountExceedsBalance(locked.Amount, demand.Remaining())
	}

	verified, err := e.payments.MarkVerified(ctx, tx, locked.ID, in.gatewayPaymentID, in.signature, in.actorID)
	if errors.Is(err, repository.ErrGatewayPaymentIDTaken) {
		return nil, domain.ErrPaymentReplayDetected()
	}
	if err != nil {
		return nil, fmt.Errorf("mark payment verified: %w", err)
	}
	if verified == nil {
		return nil, domain.ErrInvalidState("payment is no longer INITIATED")
	}

	updated, err := e.CreditDemand(ctx, tx, demand, verified.Amount)
	if err != nil {
		return nil, err
	}

	evt := domain.NewPaymentEvent(domain.EventPaymentVerified, verified, updated)
	audit := paymentAudit(domain.AuditPaymentVerified, verified, updated, in.actor, in.actorID)
	if err := e.PostTrail(ctx, tx, audit, evt); err != nil {
		return nil, err
	}
	return &domain.PaymentResult{
		Payment:    verified,
		Demand:     updated,
		DemandPaid: updated.Status == domain.DemandPaid,
		Events:     []domain.OutboxDraft{evt},
	}, nil
}

// replayOrIdempotent reports done when p already carries gatewayPaymentID
// (idempotent success) or the id is bound to another payment (replay).
func (e *Engine) replayOrIdempotent(ctx context.Context, tx pgx.Tx, p *domain.Payment, gatewayPaymentID string) (*domain.PaymentResult, bool, error) {
	if p.Status == domain.PaymentStatusVerified && p.GatewayPaymentID != nil && *p.GatewayPaymentID == gatewayPaymentID {
		demand, err := e.fees.FindDemand(ctx, tx, p.DemandID)
		if err != nil {
			return nil, true, fmt.Errorf("find demand: %w", err)
		}
		return &domain.PaymentResult{Payment: p, Demand: demand, Idempotent: true}, true, nil
	}

	bound, err := e.payments.FindByGatewayPaymentID(ctx, tx, gatewayPaymentID)
	if err != nil {
		return nil, true, fmt.Errorf("find payment by gateway payment id: %w", err)
	}
	if bound != nil && bound.ID != p.ID {
		return nil, true, domain.ErrPaymentReplayDetected()
	}
	return nil, false, nil
}
