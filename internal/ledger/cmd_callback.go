package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	callbackSuccess = "SUCCESS"
	callbackFailed  = "FAILED"

	defaultFailureReason = "GATEWAY_PAYMENT_FAILED"
)

// ProcessGatewayCallback applies a gateway webhook. It returns (nil, nil)
// when the order is unknown so the caller can acknowledge it without detail.
func (e *Engine) ProcessGatewayCallback(ctx context.Context, tx pgx.Tx, payload domain.CallbackPayload) (*domain.PaymentResult, error) {
	orderID := strings.TrimSpace(payload.GatewayOrderID)
	gpid := strings.TrimSpace(payload.GatewayPaymentID)
	status := strings.ToUpper(strings.TrimSpace(payload.Status))
	if orderID == "" || gpid == "" || status == "" {
		return nil, domain.ErrCallbackFieldsRequired()
	}
	if status != callbackSuccess && status != callbackFailed {
		return nil, domain.ErrInvalidPaymentStatus(payload.Status)
	}

	payment, err := e.payments.FindByGatewayOrderID(ctx, tx, orderID)
	if err != nil {
		return nil, fmt.Errorf("find payment by order: %w", err)
	}
	if payment == nil {
		return nil, nil
	}

	sig, err := e.checkSignature(payment, gpid, payload.GatewaySignature)
	if err != nil {
		return nil, err
	}

	actorID := "gateway"
	if payment.ProviderName != nil {
		actorID = "gateway:" + *payment.ProviderName
	}

	if status == callbackSuccess {
		return e.verifyAndSettle(ctx, tx, payment, settleInput{
			gatewayPaymentID: gpid,
			signature:        sig,
			actor:            domain.ActorSystem,
			actorID:          actorID,
		})
	}

	reason := strings.TrimSpace(payload.FailureReason)
	if reason == "" {
		reason = defaultFailureReason
	}
	return e.failPayment(ctx, tx, payment.ID, reason, &gpid, actorID)
}

// FailPayment moves an INITIATED gateway payment to FAILED. The demand is not
// touched. Already terminal payments are returned unchanged.
func (e *Engine) FailPayment(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID, reason string) (*domain.PaymentResult, error) {
	if strings.TrimSpace(reason) == "" {
		reason = defaultFailureReason
	}
	return e.failPayment(ctx, tx, paymentID, reason, nil, "system")
}

func (e *Engine) failPayment(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID, reason string, gpid *string, actorID string) (*domain.PaymentResult, error) {
	locked, err := e.LockPaymentForUpdate(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	if locked.Status.Terminal() {
		return &domain.PaymentResult{Payment: locked, Idempotent: true}, nil
	}
	if locked.Mode != domain.PaymentModeGateway {
		return nil, domain.ErrInvalidState("only gateway payments can fail")
	}

	failed, err := e.payments.MarkFailed(ctx, tx, locked.ID, reason, gpid)
	if errors.Is(err, repository.ErrGatewayPaymentIDTaken) {
		return nil, domain.ErrPaymentReplayDetected()
	}
	if err != nil {
		return nil, fmt.Errorf("mark payment failed: %w", err)
	}
	if failed == nil {
		return &domain.PaymentResult{Payment: locked, Idempotent: true}, nil
	}

	evt := domain.NewPaymentEvent(domain.EventPaymentFailed, failed, nil)
	audit := paymentAudit(domain.AuditPaymentFailed, failed, nil, domain.ActorSystem, actorID)
	if err := e.PostTrail(ctx, tx, audit, evt); err != nil {
		return nil, err
	}
	return &domain.PaymentResult{Payment: failed, Events: []domain.OutboxDraft{evt}}, nil
}
