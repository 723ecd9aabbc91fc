package ledger

import (
	"context"
	"fmt"

	"github.com/civicflow/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateDemand rolls assessed line items into a new PENDING demand.
// Pattern: Lock line items → ownership/already-demanded check → insert demand → attach
func (e *Engine) CreateDemand(ctx context.Context, tx pgx.Tx, params domain.CreateDemandParams) (*domain.DemandDetail, error) {
	ids := uniqueIDs(params.LineItemIDs)
	if params.ARN == "" || len(ids) == 0 {
		return nil, domain.ErrValidation("arn and at least one line item id are required")
	}

	items, err := e.fees.LockLineItems(ctx, tx, ids)
	if err != nil {
		return nil, fmt.Errorf("lock line items: %w", err)
	}
	found := make(map[uuid.UUID]bool, len(items))
	for _, it := range items {
		found[it.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return nil, domain.ErrNotFound("line item", id.String())
		}
	}

	var total int64
	for _, it := range items {
		if it.ARN != params.ARN {
			return nil, domain.ErrValidation(fmt.Sprintf("line item %s belongs to another application", it.ID))
		}
		if it.DemandID != nil {
			return nil, domain.ErrLineItemAlreadyDemanded(it.ID.String())
		}
		total += it.Amount
	}

	demand := &domain.FeeDemand{
		ID:          uuid.New(),
		ARN:         params.ARN,
		TotalAmount: total,
		CreatedBy:   strPtr(params.CreatedBy),
	}
	if err := e.fees.CreateDemand(ctx, tx, demand); err != nil {
		return nil, fmt.Errorf("create demand: %w", err)
	}
	if err := e.fees.AttachLineItems(ctx, tx, demand.ID, ids); err != nil {
		return nil, fmt.Errorf("attach line items: %w", err)
	}
	for i := range items {
		items[i].DemandID = &demand.ID
	}

	audit := domain.NewAuditEvent(params.ARN, domain.AuditDemandCreated, domain.ActorOfficer, params.CreatedBy, map[string]interface{}{
		"demand_id":     demand.ID,
		"total_amount":  total,
		"line_item_ids": ids,
	})
	if err := e.PostTrail(ctx, tx, audit, domain.NewDemandCreatedEvent(demand)); err != nil {
		return nil, err
	}

	return &domain.DemandDetail{Demand: *demand, LineItems: items, Payments: []domain.Payment{}}, nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
