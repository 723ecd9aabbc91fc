package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/civicflow/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateRefundRequest opens a refund against a settled payment.
// Pattern: Lock payment → Settled check → Amount check against open refunds → Insert → Audit + Outbox
func (e *Engine) CreateRefundRequest(ctx context.Context, tx pgx.Tx, params domain.CreateRefundParams) (*domain.RefundRequest, error) {
	if params.Amount < 0 {
		return nil, domain.ErrPaymentAmountInvalid()
	}

	payment, err := e.LockPaymentForUpdate(ctx, tx, params.PaymentID)
	if err != nil {
		return nil, err
	}
	if !payment.Status.Settled() {
		return nil, domain.ErrInvalidState(fmt.Sprintf("payment is %s; only settled payments can be refunded", payment.Status))
	}

	amount := params.Amount
	if amount == 0 {
		amount = payment.Amount
	}
	if amount > payment.Amount {
		return nil, domain.ErrValidation(fmt.Sprintf("refund amount %d exceeds payment amount %d", amount, payment.Amount))
	}

	open, err := e.refunds.SumOpenByPayment(ctx, tx, payment.ID)
	if err != nil {
		return nil, fmt.Errorf("sum open refunds: %w", err)
	}
	if open+amount > payment.Amount {
		return nil, domain.ErrAmountExceedsBalance(amount, payment.Amount-open)
	}

	refund := &domain.RefundRequest{
		ID:          uuid.New(),
		PaymentID:   payment.ID,
		ARN:         payment.ARN,
		Amount:      amount,
		Reason:      strings.TrimSpace(params.Reason),
		Status:      domain.RefundRequested,
		RequestedBy: params.RequestedBy,
	}
	if err := e.refunds.Create(ctx, tx, refund); err != nil {
		return nil, fmt.Errorf("insert refund: %w", err)
	}

	audit := domain.NewAuditEvent(refund.ARN, domain.AuditRefundRequested, domain.ActorOfficer, params.RequestedBy, map[string]interface{}{
		"refund_id":  refund.ID,
		"payment_id": payment.ID,
		"amount":     amount,
		"reason":     refund.Reason,
	})
	if err := e.PostTrail(ctx, tx, audit, domain.NewRefundEvent(domain.EventRefundRequested, refund)); err != nil {
		return nil, err
	}
	return refund, nil
}

// ApproveRefundRequest moves REQUESTED → APPROVED.
func (e *Engine) ApproveRefundRequest(ctx context.Context, tx pgx.Tx, id uuid.UUID, actor string) (*domain.RefundRequest, error) {
	return e.transitionRefund(ctx, tx, id, domain.RefundApprove, actor)
}

// RejectRefundRequest moves REQUESTED → REJECTED.
func (e *Engine) RejectRefundRequest(ctx context.Context, tx pgx.Tx, id uuid.UUID, actor string) (*domain.RefundRequest, error) {
	return e.transitionRefund(ctx, tx, id, domain.RefundReject, actor)
}

// ProcessRefundRequest moves APPROVED → PROCESSED.
func (e *Engine) ProcessRefundRequest(ctx context.Context, tx pgx.Tx, id uuid.UUID, actor string) (*domain.RefundRequest, error) {
	return e.transitionRefund(ctx, tx, id, domain.RefundProcess, actor)
}

// transitionRefund applies t with a conditional update. A refund in any other
// status is returned unchanged.
func (e *Engine) transitionRefund(ctx context.Context, tx pgx.Tx, id uuid.UUID, t domain.RefundTransition, actor string) (*domain.RefundRequest, error) {
	updated, err := e.refunds.Transition(ctx, tx, id, t, actor)
	if err != nil {
		return nil, fmt.Errorf("transition refund: %w", err)
	}
	if updated == nil {
		current, err := e.refunds.FindByID(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("find refund: %w", err)
		}
		if current == nil {
			return nil, domain.ErrNotFound("refund", id.String())
		}
		return current, nil
	}

	audit := domain.NewAuditEvent(updated.ARN, domain.AuditRefundStatus, domain.ActorOfficer, actor, map[string]interface{}{
		"refund_id":   updated.ID,
		"from_status": t.From,
		"to_status":   t.To,
	})
	if err := e.PostTrail(ctx, tx, audit, domain.NewRefundEvent(domain.EventRefundStatusChanged, updated)); err != nil {
		return nil, err
	}
	return updated, nil
}
