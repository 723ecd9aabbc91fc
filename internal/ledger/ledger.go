package ledger

import (
	"context"
	"fmt"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/provider"
	"github.com/civicflow/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReceiptIssuer generates counter receipt numbers.
type ReceiptIssuer interface {
	ReceiptNumber() string
}

// ScheduleSource returns the fee schedule of a pinned service version.
type ScheduleSource interface {
	FeeSchedule(ctx context.Context, serviceKey string, version int) (domain.FeeScheduleDef, error)
}

// Deps holds the collaborators of the Engine.
type Deps struct {
	Applications repository.ApplicationRepository
	Fees         repository.FeeRepository
	Payments     repository.PaymentRepository
	Refunds      repository.RefundRepository
	Audit        repository.AuditRepository
	Outbox       repository.OutboxRepository
	Gateways     *provider.Registry
	Receipts     ReceiptIssuer
	Schedules    ScheduleSource
	Currency     string
}

// Engine owns the fee demand and payment ledger. Every command runs inside
// the caller's transaction and follows one pattern:
//
//	validate → lock demand (then payment) → idempotency/replay → check balance → write + audit + outbox
//
// The demand row lock is the only serialization point for paid_amount.
type Engine struct {
	apps      repository.ApplicationRepository
	fees      repository.FeeRepository
	payments  repository.PaymentRepository
	refunds   repository.RefundRepository
	audit     repository.AuditRepository
	outbox    repository.OutboxRepository
	gateways  *provider.Registry
	receipts  ReceiptIssuer
	schedules ScheduleSource
	currency  string
}

// NewEngine creates a ledger engine.
func NewEngine(d Deps) *Engine {
	currency := d.Currency
	if currency == "" {
		currency = "INR"
	}
	return &Engine{
		apps:      d.Applications,
		fees:      d.Fees,
		payments:  d.Payments,
		refunds:   d.Refunds,
		audit:     d.Audit,
		outbox:    d.Outbox,
		gateways:  d.Gateways,
		receipts:  d.Receipts,
		schedules: d.Schedules,
		currency:  currency,
	}
}

// LockDemandForUpdate acquires the demand row lock.
func (e *Engine) LockDemandForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.FeeDemand, error) {
	d, err := e.fees.LockDemandForUpdate(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("lock demand: %w", err)
	}
	if d == nil {
		return nil, domain.ErrNotFound("demand", id.String())
	}
	return d, nil
}

// LockPaymentForUpdate acquires the payment row lock. Callers touching the
// balance must already hold the demand lock.
func (e *Engine) LockPaymentForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error) {
	p, err := e.payments.LockForUpdate(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("lock payment: %w", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound("payment", id.String())
	}
	return p, nil
}

// CreditDemand re-checks the remaining balance of a locked demand and credits it.
func (e *Engine) CreditDemand(ctx context.Context, tx pgx.Tx, demand *domain.FeeDemand, amount int64) (*domain.FeeDemand, error) {
	if amount > demand.Remaining() {
		return nil, domain.ErrAmountExceedsBalance(amount, demand.Remaining())
	}
	updated, err := e.fees.CreditDemand(ctx, tx, demand.ID, amount)
	if err != nil {
		return nil, fmt.Errorf("credit demand: %w", err)
	}
	return updated, nil
}

// PostTrail writes the audit event and outbox events of one ledger action.
func (e *Engine) PostTrail(ctx context.Context, tx pgx.Tx, audit domain.AuditEvent, events ...domain.OutboxDraft) error {
	if err := e.audit.Insert(ctx, tx, audit); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	for _, evt := range events {
		if err := e.outbox.Insert(ctx, tx, evt); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}
	return nil
}

// GetDemand returns a demand with its line items and payments.
func (e *Engine) GetDemand(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.DemandDetail, error) {
	d, err := e.fees.FindDemand(ctx, db, id)
	if err != nil {
		return nil, fmt.Errorf("find demand: %w", err)
	}
	if d == nil {
		return nil, domain.ErrNotFound("demand", id.String())
	}
	items, err := e.fees.ListLineItemsByDemand(ctx, db, id)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	payments, err := e.payments.ListByDemand(ctx, db, id)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	if items == nil {
		items = []domain.FeeLineItem{}
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	return &domain.DemandDetail{Demand: *d, LineItems: items, Payments: payments}, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func actorOr(a, fallback domain.ActorType) domain.ActorType {
	if a == "" {
		return fallback
	}
	return a
}

func paymentAudit(eventType string, p *domain.Payment, d *domain.FeeDemand, actor domain.ActorType, actorID string) domain.AuditEvent {
	payload := map[string]interface{}{
		"payment_id": p.ID,
		"demand_id":  p.DemandID,
		"mode":       p.Mode,
		"status":     p.Status,
		"amount":     p.Amount,
	}
	if p.GatewayOrderID != nil {
		payload["gateway_order_id"] = *p.GatewayOrderID
	}
	if p.GatewayPaymentID != nil {
		payload["gateway_payment_id"] = *p.GatewayPaymentID
	}
	if p.FailureReason != nil {
		payload["failure_reason"] = *p.FailureReason
	}
	if d != nil {
		payload["demand_paid_amount"] = d.PaidAmount
		payload["demand_status"] = d.Status
	}
	return domain.NewAuditEvent(p.ARN, eventType, actor, actorID, payload)
}
