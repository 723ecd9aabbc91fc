package service

import (
	"context"
	"log/slog"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/ledger"
	"github.com/civicflow/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RefundService runs officer refund decisions.
type RefundService struct {
	db     repository.TxBeginner
	engine *ledger.Engine
	logger *slog.Logger
}

// NewRefundService creates a RefundService.
func NewRefundService(db repository.TxBeginner, engine *ledger.Engine, logger *slog.Logger) *RefundService {
	return &RefundService{db: db, engine: engine, logger: logger}
}

// Request opens a refund against a settled payment.
func (s *RefundService) Request(ctx context.Context, params domain.CreateRefundParams) (*domain.RefundRequest, error) {
	r, err := s.run(ctx, func(tx pgx.Tx) (*domain.RefundRequest, error) {
		return s.engine.CreateRefundRequest(ctx, tx, params)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("refund requested", "refund_id", r.ID, "payment_id", r.PaymentID, "amount", r.Amount)
	return r, nil
}

// Approve moves a REQUESTED refund to APPROVED.
func (s *RefundService) Approve(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.RefundRequest, error) {
	return s.run(ctx, func(tx pgx.Tx) (*domain.RefundRequest, error) {
		return s.engine.ApproveRefundRequest(ctx, tx, id, actor.ID)
	})
}

// Reject moves a REQUESTED refund to REJECTED.
func (s *RefundService) Reject(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.RefundRequest, error) {
	return s.run(ctx, func(tx pgx.Tx) (*domain.RefundRequest, error) {
		return s.engine.RejectRefundRequest(ctx, tx, id, actor.ID)
	})
}

// Process moves an APPROVED refund to PROCESSED.
func (s *RefundService) Process(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.RefundRequest, error) {
	return s.run(ctx, func(tx pgx.Tx) (*domain.RefundRequest, error) {
		return s.engine.ProcessRefundRequest(ctx, tx, id, actor.ID)
	})
}

func (s *RefundService) run(ctx context.Context, fn func(tx pgx.Tx) (*domain.RefundRequest, error)) (*domain.RefundRequest, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, domain.ErrInternal("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	r, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, domain.ErrInternal("commit tx", err)
	}
	return r, nil
}
