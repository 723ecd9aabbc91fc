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

type feeRepo struct{}

// NewFeeRepository returns a pgx-backed FeeRepository.
func NewFeeRepository() FeeRepository {
	return &feeRepo{}
}

const lineItemColumns = `id, arn, head_code, description, amount, demand_id, assessed_by, created_at`

const demandColumns = `id, arn, total_amount, paid_amount, status, created_by, created_at, updated_at`

func (r *feeRepo) InsertLineItems(ctx context.Context, db DBTX, items []domain.FeeLineItem) error {
	for i := range items {
		it := &items[i]
		err := db.QueryRow(ctx, `
			INSERT INTO fee_line_items (id, arn, head_code, description, amount, assessed_by)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at`,
			it.ID, it.ARN, it.HeadCode, it.Description, infra.Int64ToNumeric(it.Amount), it.AssessedBy,
		).Scan(&it.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert fee line item %d: %w", i+1, err)
		}
	}
	return nil
}

// LockLineItems locks in id order so concurrent demand creation cannot deadlock.
func (r *feeRepo) LockLineItems(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) ([]domain.FeeLineItem, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+lineItemColumns+`
		FROM fee_line_items
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock fee line items: %w", err)
	}
	defer rows.Close()
	return collectLineItems(rows)
}

func (r *feeRepo) AttachLineItems(ctx context.Context, tx pgx.Tx, demandID uuid.UUID, ids []uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE fee_line_items SET demand_id = $1
		WHERE id = ANY($2) AND demand_id IS NULL`, demandID, ids)
	if err != nil {
		return fmt.Errorf("attach fee line items: %w", err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return fmt.Errorf("attach fee line items: attached %d of %d", tag.RowsAffected(), len(ids))
	}
	return nil
}

func (r *feeRepo) ListLineItemsByDemand(ctx context.Context, db DBTX, demandID uuid.UUID) ([]domain.FeeLineItem, error) {
	rows, err := db.Query(ctx, `
		SELECT `+lineItemColumns+`
		FROM fee_line_items WHERE demand_id = $1
		ORDER BY created_at, id`, demandID)
	if err != nil {
		return nil, fmt.Errorf("query fee line items: %w", err)
	}
	defer rows.Close()
	return collectLineItems(rows)
}

func (r *feeRepo) CreateDemand(ctx context.Context, tx pgx.Tx, d *domain.FeeDemand) error {
	row := tx.QueryRow(ctx, `
		INSERT INTO fee_demands (id, arn, total_amount, paid_amount, status, created_by)
		VALUES ($1, $2, $3, 0, $4, $5)
		RETURNING `+demandColumns,
		d.ID, d.ARN, infra.Int64ToNumeric(d.TotalAmount), string(domain.DemandPending), d.CreatedBy)
	created, err := scanDemand(row)
	if err != nil {
		return fmt.Errorf("insert fee demand: %w", err)
	}
	*d = *created
	return nil
}

func (r *feeRepo) FindDemand(ctx context.Context, db DBTX, id uuid.UUID) (*domain.FeeDemand, error) {
	row := db.QueryRow(ctx, `SELECT `+demandColumns+` FROM fee_demands WHERE id = $1`, id)
	return scanDemand(row)
}

func (r *feeRepo) LockDemandForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.FeeDemand, error) {
	row := tx.QueryRow(ctx, `SELECT `+demandColumns+` FROM fee_demands WHERE id = $1 FOR UPDATE`, id)
	return scanDemand(row)
}

// CreditDemand uses server-side arithmetic; the CHECK constraints reject any
// credit that would push paid_amount past total_amount.
func (r *feeRepo) CreditDemand(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) (*domain.FeeDemand, error) {
	row := tx.QueryRow(ctx, `
		UPDATE fee_demands
		SET paid_amount = paid_amount + $2,
		    status = CASE
		        WHEN paid_amount + $2 >= total_amount THEN 'PAID'
		        WHEN paid_amount + $2 > 0 THEN 'PARTIALLY_PAID'
		        ELSE 'PENDING'
		    END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+demandColumns,
		id, infra.Int64ToNumeric(amount))
	d, err := scanDemand(row)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("credit demand: demand %s not found", id)
	}
	return d, nil
}

func collectLineItems(rows pgx.Rows) ([]domain.FeeLineItem, error) {
	var items []domain.FeeLineItem
	for rows.Next() {
		var it domain.FeeLineItem
		var amountNum pgtype.Numeric
		if err := rows.Scan(&it.ID, &it.ARN, &it.HeadCode, &it.Description, &amountNum,
			&it.DemandID, &it.AssessedBy, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fee line item: %w", err)
		}
		amount, err := infra.NumericToInt64(amountNum)
		if err != nil {
			return nil, fmt.Errorf("convert line item amount: %w", err)
		}
		it.Amount = amount
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanDemand(row pgx.Row) (*domain.FeeDemand, error) {
	var d domain.FeeDemand
	var totalNum, paidNum pgtype.Numeric
	err := row.Scan(&d.ID, &d.ARN, &totalNum, &paidNum, &d.Status, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan fee demand: %w", err)
	}

	var convErr error
	d.TotalAmount, convErr = infra.NumericToInt64(totalNum)
	if convErr != nil {
		return nil, fmt.Errorf("convert total_amount: %w", convErr)
	}
	d.PaidAmount, convErr = infra.NumericToInt64(paidNum)
	if convErr != nil {
		return nil, fmt.Errorf("convert paid_amount: %w", convErr)
	}
	return &d, nil
}
