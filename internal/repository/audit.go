package repository

import (
	"context"
	"fmt"

	"github.com/civicflow/platform/internal/domain"
)

type auditRepo struct{}

// NewAuditRepository returns a pgx-backed AuditRepository.
func NewAuditRepository() AuditRepository {
	return &auditRepo{}
}

func (r *auditRepo) Insert(ctx context.Context, db DBTX, e domain.AuditEvent) error {
	_, err := db.Exec(ctx, `
		INSERT INTO audit_events (id, arn, event_type, actor_type, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.ARN, e.EventType, string(e.ActorType), e.ActorID, e.Payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *auditRepo) ListByARN(ctx context.Context, db DBTX, arn string, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.Query(ctx, `
		SELECT id, arn, event_type, actor_type, actor_id, payload, created_at
		FROM audit_events WHERE arn = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`, arn, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.ARN, &e.EventType, &e.ActorType, &e.ActorID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
