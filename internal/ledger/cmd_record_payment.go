package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/provider"
	"github.com/civicflow/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RecordPayment records a counter receipt (settled immediately) or opens a
// gateway payment (INITIATED, no credit until verified).
// Pattern: Validate → [create gateway order] → Lock demand → Check balance → Insert payment → Credit → Audit + Outbox
func (e *Engine) RecordPayment(ctx context.Context, tx pgx.Tx, params domain.RecordPaymentParams) (*domain.PaymentResult, error) {
	if params.Amount <= 0 {
		return nil, domain.ErrPaymentAmountInvalid()
	}
	if err := domain.ValidatePaymentMode(params.Mode); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	currency := params.Currency
	if currency == "" {
		currency = e.currency
	}
	if err := domain.ValidateCurrency(currency); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	paymentID := uuid.New()
	orderID := params.GatewayOrderID
	var providerName string

	// The order is created before the demand lock is taken so a slow gateway
	// never holds the balance row. The balance is re-checked under the lock.
	if params.Mode == domain.PaymentModeGateway && orderID == "" {
		demand, err := e.fees.FindDemand(ctx, tx, params.DemandID)
		if err != nil {
			return nil, fmt.Errorf("find demand: %w", err)
		}
		if err := checkDemand(demand, params.DemandID, params.ARN, params.Amount); err != nil {
			return nil, err
		}
		order, err := e.createOrder(ctx, provider.OrderRequest{
			PaymentID: paymentID,
			ARN:       params.ARN,
			DemandID:  params.DemandID,
			Amount:    params.Amount,
			Currency:  currency,
		})
		if err != nil {
			return nil, err
		}
		orderID = order.GatewayOrderID
		providerName = order.ProviderName
	}

	demand, err := e.LockDemandForUpdate(ctx, tx, params.DemandID)
	if err != nil {
		return nil, err
	}
	if err := checkDemand(demand, params.DemandID, params.ARN, params.Amount); err != nil {
		return nil, err
	}

	payment := &domain.Payment{
		ID:         paymentID,
		ARN:        params.ARN,
		DemandID:   demand.ID,
		Mode:       params.Mode,
		Amount:     params.Amount,
		Currency:   currency,
		RecordedBy: strPtr(params.RecordedBy),
	}

	actor := actorOr(params.ActorType, domain.ActorOfficer)
	result := &domain.PaymentResult{Payment: payment, Demand: demand}

	switch params.Mode {
	case domain.PaymentModeCounter:
		receipt := params.ReceiptNumber
		if receipt == "" {
			receipt = e.receipts.ReceiptNumber()
		}
		payment.Status = domain.PaymentStatusSuccess
		payment.ReceiptNumber = &receipt
		if err := e.insertPayment(ctx, tx, payment); err != nil {
			return nil, err
		}
		updated, err := e.CreditDemand(ctx, tx, demand, payment.Amount)
		if err != nil {
			return nil, err
		}
		result.Demand = updated
		result.DemandPaid = updated.Status == domain.DemandPaid

	case domain.PaymentModeGateway:
		if providerName == "" {
			if g, err := e.gateways.Primary(); err == nil {
				providerName = g.Name()
			}
		}
		payment.Status = domain.PaymentStatusInitiated
		payment.GatewayOrderID = &orderID
		payment.ProviderName = strPtr(providerName)
		if err := e.insertPayment(ctx, tx, payment); err != nil {
			return nil, err
		}
	}

	evt := domain.NewPaymentEvent(domain.EventPaymentRecorded, payment, result.Demand)
	audit := paymentAudit(domain.AuditPaymentRecorded, payment, result.Demand, actor, params.RecordedBy)
	if err := e.PostTrail(ctx, tx, audit, evt); err != nil {
		return nil, err
	}
	result.Events = []domain.OutboxDraft{evt}
	return result, nil
}

func (e *Engine) createOrder(ctx context.Context, req provider.OrderRequest) (*provider.OrderResult, error) {
	g, err := e.gateways.Primary()
	if err != nil {
		return nil, domain.ErrGatewayUnavailable(err)
	}
	order, err := g.CreateOrder(ctx, req)
	if err != nil {
		if domain.CodeOf(err) != "" {
			return nil, err
		}
		return nil, domain.ErrGatewayUnavailable(err)
	}
	if order.ProviderName == "" {
		order.ProviderName = g.Name()
	}
	return order, nil
}

// checkDemand validates ownership and remaining balance for a payment of amount.
func checkDemand(d *domain.FeeDemand, id uuid.UUID, arn string, amount int64) error {
	if d == nil {
		return domain.ErrNotFound("demand", id.String())
	}
	if d.ARN != arn {
		return domain.ErrValidation(fmt.Sprintf("demand %s does not belong to application %s", id, arn))
	}
	if amount > d.Remaining() {
		return domain.ErrAmountExceedsBalance(amount, d.Remaining())
	}
	return nil
}

// insertPayment maps duplicate receipt numbers and gateway orders to conflicts.
func (e *Engine) insertPayment(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	err := e.payments.Create(ctx, tx, p)
	switch {
	case errors.Is(err, repository.ErrReceiptNumberTaken):
		return domain.ErrConflict("receipt number already recorded")
	case errors.Is(err, repository.ErrGatewayOrderTaken):
		return domain.ErrConflict("gateway order already has a payment")
	case err != nil:
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}
