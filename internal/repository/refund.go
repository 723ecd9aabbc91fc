package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type refundRepo struct{}

// NewRefundRepository returns a pgx-backed RefundRepository.
func NewRefundRepository() RefundRepository {
	return &refundRepo{}
}

const refundColumns = `id, payment_id, arn, amount, reason, status, requested_by,
	decided_by, decided_at, processed_at, created_at, updated_at`

func (r *refundRepo) Create(ctx context.Context, db DBTX, rr *domain.RefundRequest) error {
	row := db.QueryRow(ctx, `
		INSERT INTO refund_requests (id, payment_id, arn, amount, reason, status, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+refundColumns,
		rr.ID, rr.PaymentID, rr.ARN, infra.Int64ToNumeric(rr.Amount), rr.Reason,
		string(rr.Status), rr.RequestedBy)
	created, err := scanRefund(row)
	if err != nil {
		return fmt.Errorf("insert refund request: %w", err)
	}
	*rr = *created
	return nil
}

func (r *refundRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.RefundRequest, error) {
	row := db.QueryRow(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE id = $1`, id)
	return scanRefund(row)
}

func (r *refundRepo) SumOpenByPayment(ctx context.Context, db DBTX, paymentID uuid.UUID) (int64, error) {
	var total pgtype.Numeric
	err := db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::numeric(15,0)
		FROM refund_requests
		WHERE payment_id = $1 AND status <> 'REJECTED'`, paymentID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum refunds: %w", err)
	}
	return infra.NumericToInt64(total)
}

// Transition is a conditional update, so two callers racing on the same
// request cannot both move it and no state can be skipped.
func (r *refundRepo) Transition(ctx context.Context, db DBTX, id uuid.UUID, t domain.RefundTransition, actor string) (*domain.RefundRequest, error) {
	row := db.QueryRow(ctx, `
		UPDATE refund_requests
		SET status = $3,
		    decided_by = CASE WHEN $2 = 'REQUESTED' THEN $4 ELSE decided_by END,
		    decided_at = CASE WHEN $2 = 'REQUESTED' THEN now() ELSE decided_at END,
		    processed_at = CASE WHEN $3 = 'PROCESSED' THEN now() ELSE processed_at END,
		    updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+refundColumns,
		id, string(t.From), string(t.To), actor)
	return scanRefund(row)
}

func scanRefund(row pgx.Row) (*domain.RefundRequest, error) {
	var rr domain.RefundRequest
	var amountNum pgtype.Numeric
	err := row.Scan(&rr.ID, &rr.PaymentID, &rr.ARN, &amountNum, &rr.Reason, &rr.Status,
		&rr.RequestedBy, &rr.DecidedBy, &rr.DecidedAt, &rr.ProcessedAt, &rr.CreatedAt, &rr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan refund request: %w", err)
	}
	var convErr error
	rr.Amount, convErr = infra.NumericToInt64(amountNum)
	if convErr != nil {
		return nil, fmt.Errorf("convert refund amount: %w", convErr)
	}
	return &rr, nil
}
