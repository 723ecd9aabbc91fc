package repository

import (
	"context"
	"fmt"

	"github.com/civicflow/platform/internal/domain"
)

type propertyRepo struct{}

// NewPropertyRepository returns a pgx-backed PropertyRepository.
func NewPropertyRepository() PropertyRepository {
	return &propertyRepo{}
}

func (r *propertyRepo) Upsert(ctx context.Context, db DBTX, p *domain.ApplicationProperty) error {
	_, err := db.Exec(ctx, `
		INSERT INTO application_properties
		  (arn, plot_number, khasra_number, village, tehsil, district, area_sq_meters, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (arn) DO UPDATE SET
		  plot_number = EXCLUDED.plot_number,
		  khasra_number = EXCLUDED.khasra_number,
		  village = EXCLUDED.village,
		  tehsil = EXCLUDED.tehsil,
		  district = EXCLUDED.district,
		  area_sq_meters = EXCLUDED.area_sq_meters,
		  updated_at = now()`,
		p.ARN, nullable(p.PlotNumber), nullable(p.KhasraNumber), nullable(p.Village),
		nullable(p.Tehsil), nullable(p.District), p.AreaSqMeters)
	if err != nil {
		return fmt.Errorf("upsert application property: %w", err)
	}
	return nil
}
