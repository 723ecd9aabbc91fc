package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/civicflow/platform/internal/domain"
)

// DemandSummary is the cached balance view of a fee demand.
type DemandSummary struct {
	DemandID  string              `json:"demand_id"`
	ARN       string              `json:"arn"`
	Total     int64               `json:"total_amount"`
	Paid      int64               `json:"paid_amount"`
	Remaining int64               `json:"remaining_amount"`
	Status    domain.DemandStatus `json:"status"`
	UpdatedAt string              `json:"updated_at"`
}

const demandTTL = 10 * time.Minute

func demandKey(id string) string {
	return fmt.Sprintf("projection:demand:%s", id)
}

// SummarizeDemand builds the summary for d.
func SummarizeDemand(d *domain.FeeDemand) DemandSummary {
	return DemandSummary{
		DemandID:  d.ID.String(),
		ARN:       d.ARN,
		Total:     d.TotalAmount,
		Paid:      d.PaidAmount,
		Remaining: d.Remaining(),
		Status:    d.Status,
	}
}

// UpdateDemand caches a demand summary. Call only after the balance change committed.
func UpdateDemand(ctx context.Context, store Store, s DemandSummary) error {
	s.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return SetJSON(ctx, store, demandKey(s.DemandID), s, demandTTL)
}

// GetDemand retrieves a cached demand summary. A miss returns ErrMiss.
func GetDemand(ctx context.Context, store Store, demandID string) (*DemandSummary, error) {
	var s DemandSummary
	if err := GetJSON(ctx, store, demandKey(demandID), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// InvalidateDemand removes a cached demand summary.
func InvalidateDemand(ctx context.Context, store Store, demandID string) error {
	return store.Delete(ctx, demandKey(demandID))
}
