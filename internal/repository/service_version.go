package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/civicflow/platform/internal/domain"
	"github.com/jackc/pgx/v5"
)

type serviceVersionRepo struct{}

// NewServiceVersionRepository returns a pgx-backed ServiceVersionRepository.
func NewServiceVersionRepository() ServiceVersionRepository {
	return &serviceVersionRepo{}
}

const serviceVersionColumns = `service_key, version, status, config, published_at, created_at`

func (r *serviceVersionRepo) Find(ctx context.Context, db DBTX, serviceKey string, version int) (*domain.ServiceVersion, error) {
	row := db.QueryRow(ctx, `
		SELECT `+serviceVersionColumns+`
		FROM service_versions WHERE service_key = $1 AND version = $2`, serviceKey, version)
	return scanServiceVersion(row)
}

func (r *serviceVersionRepo) FindLatestPublished(ctx context.Context, db DBTX, serviceKey string) (*domain.ServiceVersion, error) {
	row := db.QueryRow(ctx, `
		SELECT `+serviceVersionColumns+`
		FROM service_versions
		WHERE service_key = $1 AND status = 'PUBLISHED'
		ORDER BY version DESC
		LIMIT 1`, serviceKey)
	return scanServiceVersion(row)
}

func (r *serviceVersionRepo) SaveDraft(ctx context.Context, db DBTX, sv *domain.ServiceVersion) error {
	tag, err := db.Exec(ctx, `
		INSERT INTO service_versions (service_key, version, status, config)
		VALUES ($1, $2, 'DRAFT', $3)
		ON CONFLICT (service_key, version) DO UPDATE
		SET config = EXCLUDED.config
		WHERE service_versions.status = 'DRAFT'`,
		sv.ServiceKey, sv.Version, sv.Config)
	if err != nil {
		return fmt.Errorf("save service version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("service %s version %d is already published", sv.ServiceKey, sv.Version)
	}
	return nil
}

func (r *serviceVersionRepo) Publish(ctx context.Context, db DBTX, serviceKey string, version int) error {
	tag, err := db.Exec(ctx, `
		UPDATE service_versions
		SET status = 'PUBLISHED', published_at = now()
		WHERE service_key = $1 AND version = $2 AND status = 'DRAFT'`,
		serviceKey, version)
	if err != nil {
		return fmt.Errorf("publish service version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("service %s version %d is not a draft", serviceKey, version)
	}
	return nil
}

func scanServiceVersion(row pgx.Row) (*domain.ServiceVersion, error) {
	var sv domain.ServiceVersion
	err := row.Scan(&sv.ServiceKey, &sv.Version, &sv.Status, &sv.Config, &sv.PublishedAt, &sv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan service version: %w", err)
	}
	return &sv, nil
}
