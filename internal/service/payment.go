package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/ledger"
	"github.com/civicflow/platform/internal/projection"
	"github.com/civicflow/platform/internal/repository"
	"github.com/civicflow/platform/internal/workflow"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Failure reason recorded on gateway payments the expiry job gives up on.
const ReasonGatewayPaymentExpired = "GATEWAY_PAYMENT_EXPIRED"

// PaymentService orchestrates fee demands and payments. Every call runs in
// its own transaction; the demand projection is refreshed after commit.
type PaymentService struct {
	db          repository.TxBeginner
	reader      repository.DBTX
	payments    repository.PaymentRepository
	engine      *ledger.Engine
	executor    *workflow.Executor
	projections projection.Store
	logger      *slog.Logger
	now         func() time.Time
}

// NewPaymentService creates a PaymentService.
func NewPaymentService(
	db repository.TxBeginner,
	reader repository.DBTX,
	payments repository.PaymentRepository,
	engine *ledger.Engine,
	executor *workflow.Executor,
	projections projection.Store,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		db:          db,
		reader:      reader,
		payments:    payments,
		engine:      engine,
		executor:    executor,
		projections: projections,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// AssessFees records officer-entered fee line items.
func (s *PaymentService) AssessFees(ctx context.Context, arn string, items []domain.FeeLineInput, actor domain.Actor) ([]domain.FeeLineItem, error) {
	var out []domain.FeeLineItem
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = s.engine.AssessFees(ctx, tx, arn, items, actor.ID)
		return err
	})
	return out, err
}

// AssessFromSchedule records the fee lines configured for the application's
// authority.
func (s *PaymentService) AssessFromSchedule(ctx context.Context, arn string, actor domain.Actor) ([]domain.FeeLineItem, error) {
	var out []domain.FeeLineItem
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = s.engine.AssessFromSchedule(ctx, tx, arn, actor.ID)
		return err
	})
	return out, err
}

// CreateDemand groups line items into a payable demand.
func (s *PaymentService) CreateDemand(ctx context.Context, params domain.CreateDemandParams) (*domain.DemandDetail, error) {
	var detail *domain.DemandDetail
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		detail, err = s.engine.CreateDemand(ctx, tx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, &detail.Demand)
	return detail, nil
}

// GetDemand returns the demand with its line items and payments.
func (s *PaymentService) GetDemand(ctx context.Context, id uuid.UUID) (*domain.DemandDetail, error) {
	return s.engine.GetDemand(ctx, s.reader, id)
}

// GetPayment returns a single payment.
func (s *PaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	p, err := s.payments.FindByID(ctx, s.reader, id)
	if err != nil {
		return nil, domain.ErrInternal("find payment", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound("payment", id.String())
	}
	return p, nil
}

// DemandSummary serves the balance projection, rebuilding it from the ledger
// on a miss.
func (s *PaymentService) DemandSummary(ctx context.Context, id uuid.UUID) (*projection.DemandSummary, error) {
	summary, err := projection.GetDemand(ctx, s.projections, id.String())
	if err == nil {
		return summary, nil
	}
	if !errors.Is(err, projection.ErrMiss) {
		s.logger.Warn("demand projection read failed", "demand_id", id, "error", err)
	}

	detail, err := s.engine.GetDemand(ctx, s.reader, id)
	if err != nil {
		return nil, err
	}
	fresh := projection.SummarizeDemand(&detail.Demand)
	if err := projection.UpdateDemand(ctx, s.projections, fresh); err != nil {
		s.logger.Warn("demand projection write failed", "demand_id", id, "error", err)
	}
	return &fresh, nil
}

// RecordPayment records a counter receipt or initiates a gateway payment.
func (s *PaymentService) RecordPayment(ctx context.Context, params domain.RecordPaymentParams) (*domain.PaymentResult, error) {
	return s.settle(ctx, func(tx pgx.Tx) (*domain.PaymentResult, error) {
		return s.engine.RecordPayment(ctx, tx, params)
	})
}

// VerifyPayment checks a gateway signature and credits the demand.
func (s *PaymentService) VerifyPayment(ctx context.Context, params domain.VerifyGatewayParams) (*domain.PaymentResult, error) {
	return s.settle(ctx, func(tx pgx.Tx) (*domain.PaymentResult, error) {
		return s.engine.VerifyGatewayPayment(ctx, tx, params)
	})
}

// HandleCallback applies a gateway webhook. A nil result means the order is
// unknown to this ledger.
func (s *PaymentService) HandleCallback(ctx context.Context, payload domain.CallbackPayload) (*domain.PaymentResult, error) {
	return s.settle(ctx, func(tx pgx.Tx) (*domain.PaymentResult, error) {
		return s.engine.ProcessGatewayCallback(ctx, tx, payload)
	})
}

// FailPayment marks an INITIATED gateway payment as failed.
func (s *PaymentService) FailPayment(ctx context.Context, id uuid.UUID, reason string) (*domain.PaymentResult, error) {
	return s.settle(ctx, func(tx pgx.Tx) (*domain.PaymentResult, error) {
		return s.engine.FailPayment(ctx, tx, id, reason)
	})
}

// ExpireStale fails gateway payments left INITIATED for longer than ttl.
// One payment failing to expire does not stop the batch.
func (s *PaymentService) ExpireStale(ctx context.Context, ttl time.Duration, limit int) (int, error) {
	stale, err := s.payments.ListStaleInitiated(ctx, s.reader, s.now().Add(-ttl), limit)
	if err != nil {
		return 0, domain.ErrInternal("list stale payments", err)
	}

	expired := 0
	for _, p := range stale {
		result, err := s.FailPayment(ctx, p.ID, ReasonGatewayPaymentExpired)
		if err != nil {
			s.logger.Error("expire payment failed", "payment_id", p.ID, "arn", p.ARN, "error", err)
			continue
		}
		if !result.Idempotent {
			expired++
		}
	}
	if expired > 0 {
		s.logger.Info("expired stale gateway payments", "count", expired, "scanned", len(stale))
	}
	return expired, nil
}

// settle runs a ledger operation, advances the workflow when the demand was
// just paid, commits, and refreshes the projection.
func (s *PaymentService) settle(ctx context.Context, op func(tx pgx.Tx) (*domain.PaymentResult, error)) (*domain.PaymentResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, domain.ErrInternal("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	result, err := op(tx)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	if result.DemandPaid {
		if err := s.paymentReceived(ctx, tx, result.Payment); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, domain.ErrInternal("commit tx", err)
	}

	if result.Demand != nil {
		s.refresh(ctx, result.Demand)
	}
	if !result.Idempotent {
		s.logger.Info("payment updated",
			"payment_id", result.Payment.ID, "arn", result.Payment.ARN,
			"status", result.Payment.Status, "amount", result.Payment.Amount,
			"demand_paid", result.DemandPaid)
	}
	return result, nil
}

// paymentReceived moves the application on once its demand is fully paid.
// Workflows without the transition keep the payment; a refusal rolls it back.
func (s *PaymentService) paymentReceived(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	result, err := s.executor.Execute(ctx, tx, workflow.TransitionRequest{
		ARN:          p.ARN,
		TransitionID: workflow.TransitionPaymentReceived,
		ActorID:      string(domain.ActorSystem),
		ActorType:    domain.ActorSystem,
		Metadata:     map[string]interface{}{"payment_id": p.ID.String(), "demand_id": p.DemandID.String()},
	})
	if err != nil {
		return err
	}
	if !result.Success && !result.IsNotFound() {
		s.logger.Warn("payment received transition refused",
			"arn", p.ARN, "payment_id", p.ID, "code", result.Code, "message", result.Message)
		return transitionError(result)
	}
	return nil
}

func (s *PaymentService) refresh(ctx context.Context, d *domain.FeeDemand) {
	if err := projection.UpdateDemand(ctx, s.projections, projection.SummarizeDemand(d)); err != nil {
		s.logger.Warn("demand projection refresh failed", "demand_id", d.ID, "error", err)
	}
}

func (s *PaymentService) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.ErrInternal("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.ErrInternal("commit tx", err)
	}
	return nil
}
