package ledger

import (
	"context"
	"fmt"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/feeschedule"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AssessFees inserts line items for an application. No balance changes.
// Head codes are normalized the same way schedule fee types are.
func (e *Engine) AssessFees(ctx context.Context, tx pgx.Tx, arn string, items []domain.FeeLineInput, assessedBy string) ([]domain.FeeLineItem, error) {
	normalized := make([]domain.FeeLineInput, len(items))
	for i, it := range items {
		it.HeadCode = domain.NormalizeHeadCode(it.HeadCode)
		normalized[i] = it
	}
	items = normalized
	if err := domain.ValidateFeeLines(items); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	app, err := e.apps.FindByARN(ctx, tx, arn)
	if err != nil {
		return nil, fmt.Errorf("find application: %w", err)
	}
	if app == nil {
		return nil, domain.ErrNotFound("application", arn)
	}
	return e.insertLineItems(ctx, tx, arn, items, domain.ActorOfficer, assessedBy)
}

// AssessFromSchedule assesses the fees configured for the application's
// authority in the service version it is pinned to.
func (e *Engine) AssessFromSchedule(ctx context.Context, tx pgx.Tx, arn, assessedBy string) ([]domain.FeeLineItem, error) {
	app, err := e.apps.FindByARN(ctx, tx, arn)
	if err != nil {
		return nil, fmt.Errorf("find application: %w", err)
	}
	if app == nil {
		return nil, domain.ErrNotFound("application", arn)
	}

	schedule, err := e.schedules.FeeSchedule(ctx, app.ServiceKey, app.ServiceVersion)
	if err != nil {
		return nil, err
	}
	items, err := feeschedule.Resolve(schedule, app.AuthorityID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.ErrValidation(fmt.Sprintf("no fees are configured for authority %s", app.AuthorityID))
	}

	actor := domain.ActorOfficer
	if assessedBy == "" {
		actor = domain.ActorSystem
	}
	return e.insertLineItems(ctx, tx, arn, items, actor, assessedBy)
}

func (e *Engine) insertLineItems(ctx context.Context, tx pgx.Tx, arn string, inputs []domain.FeeLineInput, actor domain.ActorType, actorID string) ([]domain.FeeLineItem, error) {
	items := make([]domain.FeeLineItem, len(inputs))
	for i, in := range inputs {
		items[i] = domain.FeeLineItem{
			ID:          uuid.New(),
			ARN:         arn,
			HeadCode:    in.HeadCode,
			Description: in.Description,
			Amount:      in.Amount,
			AssessedBy:  strPtr(actorID),
		}
	}
	if err := e.fees.InsertLineItems(ctx, tx, items); err != nil {
		return nil, fmt.Errorf("insert line items: %w", err)
	}

	var total int64
	ids := make([]uuid.UUID, len(items))
	for i, it := range items {
		total += it.Amount
		ids[i] = it.ID
	}
	audit := domain.NewAuditEvent(arn, domain.AuditFeesAssessed, actor, actorID, map[string]interface{}{
		"line_item_ids": ids,
		"total":         total,
	})
	if err := e.PostTrail(ctx, tx, audit, domain.NewFeesAssessedEvent(arn, items)); err != nil {
		return nil, err
	}
	return items, nil
}
