package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/civicflow/platform/internal/domain"
	"github.com/jackc/pgx/v5"
)

type applicationRepo struct{}

// NewApplicationRepository returns a pgx-backed ApplicationRepository.
func NewApplicationRepository() ApplicationRepository {
	return &applicationRepo{}
}

const applicationColumns = `arn, public_arn, service_key, service_version, authority_id, applicant_id,
	state_id, row_version, data, state_entered_at, sla_due_at, submitted_at, disposed_at,
	created_at, updated_at`

func (r *applicationRepo) Create(ctx context.Context, db DBTX, a *domain.Application) error {
	data := a.Data
	if data == nil {
		data = json.RawMessage(`{}`)
	}
	row := db.QueryRow(ctx, `
		INSERT INTO applications (arn, service_key, service_version, authority_id, applicant_id,
			state_id, row_version, data, state_entered_at, sla_due_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8, $9)
		RETURNING `+applicationColumns,
		a.ARN, a.ServiceKey, a.ServiceVersion, a.AuthorityID, a.ApplicantID,
		a.StateID, data, a.StateEnteredAt, a.SLADueAt,
	)
	created, err := scanApplication(row)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	*a = *created
	return nil
}

func (r *applicationRepo) FindByARN(ctx context.Context, db DBTX, arn string) (*domain.Application, error) {
	row := db.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE arn = $1`, arn)
	return scanApplication(row)
}

func (r *applicationRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, arn string) (*domain.Application, error) {
	row := tx.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE arn = $1 FOR UPDATE`, arn)
	return scanApplication(row)
}

func (r *applicationRepo) UpdateData(ctx context.Context, db DBTX, arn string, expectedVersion int64, data json.RawMessage) (*domain.Application, error) {
	row := db.QueryRow(ctx, `
		UPDATE applications
		SET data = $3, row_version = row_version + 1, updated_at = now()
		WHERE arn = $1 AND row_version = $2
		RETURNING `+applicationColumns,
		arn, expectedVersion, data)
	return scanApplication(row)
}

func (r *applicationRepo) ApplyStateChange(ctx context.Context, tx pgx.Tx, c domain.StateChange) (*domain.Application, error) {
	row := tx.QueryRow(ctx, `
		UPDATE applications
		SET state_id = $2,
		    state_entered_at = $3,
		    sla_due_at = $4,
		    disposed_at = CASE WHEN $5 THEN $3 ELSE disposed_at END,
		    updated_at = now()
		WHERE arn = $1
		RETURNING `+applicationColumns,
		c.ARN, c.ToState, c.StateEnteredAt, c.SLADueAt, c.Disposed)
	app, err := scanApplication(row)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, fmt.Errorf("apply state change: application %s vanished under lock", c.ARN)
	}
	return app, nil
}

func (r *applicationRepo) AssignPublicARN(ctx context.Context, tx pgx.Tx, arn, publicARN string, submittedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE applications
		SET public_arn = $2, submitted_at = $3, updated_at = now()
		WHERE arn = $1 AND public_arn IS NULL`,
		arn, publicARN, submittedAt)
	if err != nil {
		return fmt.Errorf("assign public arn: %w", err)
	}
	return nil
}

func (r *applicationRepo) ListSLABreached(ctx context.Context, db DBTX, now time.Time, limit int) ([]domain.Application, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.Query(ctx, `
		SELECT `+applicationColumns+`
		FROM applications
		WHERE disposed_at IS NULL AND sla_due_at IS NOT NULL AND sla_due_at < $1
		ORDER BY sla_due_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query sla breached: %w", err)
	}
	defer rows.Close()

	var apps []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *a)
	}
	return apps, rows.Err()
}

func scanApplication(row pgx.Row) (*domain.Application, error) {
	var a domain.Application
	err := row.Scan(
		&a.ARN, &a.PublicARN, &a.ServiceKey, &a.ServiceVersion, &a.AuthorityID, &a.ApplicantID,
		&a.StateID, &a.RowVersion, &a.Data, &a.StateEnteredAt, &a.SLADueAt, &a.SubmittedAt, &a.DisposedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan application: %w", err)
	}
	return &a, nil
}
