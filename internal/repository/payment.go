package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type paymentRepo struct{}

// NewPaymentRepository returns a pgx-backed PaymentRepository.
func NewPaymentRepository() PaymentRepository {
	return &paymentRepo{}
}

const paymentColumns = `id, arn, demand_id, mode, status, amount, currency, receipt_number,
	provider_name, gateway_order_id, gateway_payment_id, gateway_signature, failure_reason,
	recorded_by, verified_by, verified_at, created_at, updated_at`

func (r *paymentRepo) Create(ctx context.Context, db DBTX, p *domain.Payment) error {
	row := db.QueryRow(ctx, `
		INSERT INTO payments (id, arn, demand_id, mode, status, amount, currency, receipt_number,
			provider_name, gateway_order_id, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+paymentColumns,
		p.ID, p.ARN, p.DemandID, string(p.Mode), string(p.Status),
		infra.Int64ToNumeric(p.Amount), p.Currency, p.ReceiptNumber,
		p.ProviderName, p.GatewayOrderID, p.RecordedBy,
	)
	created, err := scanPayment(row)
	switch {
	case isUniqueViolation(err, receiptNumberIdx):
		return ErrReceiptNumberTaken
	case isUniqueViolation(err, gatewayOrderIdx):
		return ErrGatewayOrderTaken
	case err != nil:
		return fmt.Errorf("insert payment: %w", err)
	}
	*p = *created
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payment, error) {
	row := db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (r *paymentRepo) FindByGatewayOrderID(ctx context.Context, db DBTX, orderID string) (*domain.Payment, error) {
	row := db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id = $1`, orderID)
	return scanPayment(row)
}

func (r *paymentRepo) FindByGatewayPaymentID(ctx context.Context, db DBTX, gatewayPaymentID string) (*domain.Payment, error) {
	row := db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_payment_id = $1`, gatewayPaymentID)
	return scanPayment(row)
}

func (r *paymentRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error) {
	row := tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
	return scanPayment(row)
}

func (r *paymentRepo) ListByDemand(ctx context.Context, db DBTX, demandID uuid.UUID) ([]domain.Payment, error) {
	rows, err := db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments WHERE demand_id = $1
		ORDER BY created_at`, demandID)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *paymentRepo) MarkVerified(ctx context.Context, tx pgx.Tx, id uuid.UUID, gatewayPaymentID, signature, verifiedBy string) (*domain.Payment, error) {
	row := tx.QueryRow(ctx, `
		UPDATE payments
		SET status = 'VERIFIED', gateway_payment_id = $2, gateway_signature = $3,
		    verified_by = $4, verified_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'INITIATED'
		RETURNING `+paymentColumns,
		id, gatewayPaymentID, nullable(signature), nullable(verifiedBy))
	p, err := scanPayment(row)
	if isUniqueViolation(err, gatewayPaymentIdx) {
		return nil, ErrGatewayPaymentIDTaken
	}
	return p, err
}

func (r *paymentRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string, gatewayPaymentID *string) (*domain.Payment, error) {
	row := tx.QueryRow(ctx, `
		UPDATE payments
		SET status = 'FAILED', failure_reason = $2,
		    gateway_payment_id = COALESCE($3, gateway_payment_id), updated_at = now()
		WHERE id = $1 AND status = 'INITIATED'
		RETURNING `+paymentColumns,
		id, reason, gatewayPaymentID)
	p, err := scanPayment(row)
	if isUniqueViolation(err, gatewayPaymentIdx) {
		return nil, ErrGatewayPaymentIDTaken
	}
	return p, err
}

func (r *paymentRepo) ListStaleInitiated(ctx context.Context, db DBTX, cutoff time.Time, limit int) ([]domain.Payment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'INITIATED' AND mode = 'GATEWAY' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale payments: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func collectPayments(rows pgx.Rows) ([]domain.Payment, error) {
	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var amountNum pgtype.Numeric
	err := row.Scan(
		&p.ID, &p.ARN, &p.DemandID, &p.Mode, &p.Status, &amountNum, &p.Currency, &p.ReceiptNumber,
		&p.ProviderName, &p.GatewayOrderID, &p.GatewayPaymentID, &p.GatewaySignature, &p.FailureReason,
		&p.RecordedBy, &p.VerifiedBy, &p.VerifiedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	var convErr error
	p.Amount, convErr = infra.NumericToInt64(amountNum)
	if convErr != nil {
		return nil, fmt.Errorf("convert payment amount: %w", convErr)
	}
	return &p, nil
}
