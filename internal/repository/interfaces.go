package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/civicflow/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ApplicationRepository provides access to applications.
type ApplicationRepository interface {
	Create(ctx context.Context, db DBTX, app *domain.Application) error
	FindByARN(ctx context.Context, db DBTX, arn string) (*domain.Application, error)

	// LockForUpdate acquires a row-level lock (SELECT FOR UPDATE) and returns the application.
	LockForUpdate(ctx context.Context, tx pgx.Tx, arn string) (*domain.Application, error)

	// UpdateData replaces data if row_version still equals expectedVersion.
	// Returns nil when the compare-and-swap missed (stale version or unknown ARN).
	UpdateData(ctx context.Context, db DBTX, arn string, expectedVersion int64, data json.RawMessage) (*domain.Application, error)

	// ApplyStateChange writes the target state and SLA stamps. Caller holds the row lock.
	ApplyStateChange(ctx context.Context, tx pgx.Tx, change domain.StateChange) (*domain.Application, error)

	// AssignPublicARN sets public_arn and submitted_at once; later calls are no-ops.
	AssignPublicARN(ctx context.Context, tx pgx.Tx, arn, publicARN string, submittedAt time.Time) error

	// ListSLABreached returns open applications whose sla_due_at is before now.
	ListSLABreached(ctx context.Context, db DBTX, now time.Time, limit int) ([]domain.Application, error)
}

// FeeRepository provides access to fee_line_items and fee_demands.
type FeeRepository interface {
	InsertLineItems(ctx context.Context, db DBTX, items []domain.FeeLineItem) error
	LockLineItems(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) ([]domain.FeeLineItem, error)
	AttachLineItems(ctx context.Context, tx pgx.Tx, demandID uuid.UUID, ids []uuid.UUID) error
	ListLineItemsByDemand(ctx context.Context, db DBTX, demandID uuid.UUID) ([]domain.FeeLineItem, error)

	CreateDemand(ctx context.Context, tx pgx.Tx, demand *domain.FeeDemand) error
	FindDemand(ctx context.Context, db DBTX, id uuid.UUID) (*domain.FeeDemand, error)

	// LockDemandForUpdate is the serialization point for every balance change.
	LockDemandForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.FeeDemand, error)

	// CreditDemand adds amount to paid_amount and re-derives status server-side.
	// Caller must hold the demand lock and have checked the remaining balance.
	CreditDemand(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) (*domain.FeeDemand, error)
}

// PaymentRepository provides access to payments.
type PaymentRepository interface {
	Create(ctx context.Context, db DBTX, payment *domain.Payment) error
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payment, error)
	FindByGatewayOrderID(ctx context.Context, db DBTX, orderID string) (*domain.Payment, error)
	FindByGatewayPaymentID(ctx context.Context, db DBTX, gatewayPaymentID string) (*domain.Payment, error)
	LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error)
	ListByDemand(ctx context.Context, db DBTX, demandID uuid.UUID) ([]domain.Payment, error)

	// MarkVerified moves the payment to VERIFIED. Returns ErrGatewayPaymentIDTaken
	// when the gateway payment id is already bound to another payment.
	MarkVerified(ctx context.Context, tx pgx.Tx, id uuid.UUID, gatewayPaymentID, signature, verifiedBy string) (*domain.Payment, error)

	// MarkFailed moves an INITIATED payment to FAILED.
	MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string, gatewayPaymentID *string) (*domain.Payment, error)

	// ListStaleInitiated returns gateway payments still INITIATED that were created before cutoff.
	ListStaleInitiated(ctx context.Context, db DBTX, cutoff time.Time, limit int) ([]domain.Payment, error)
}

// RefundRepository provides access to refund_requests.
type RefundRepository interface {
	Create(ctx context.Context, db DBTX, refund *domain.RefundRequest) error
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.RefundRequest, error)

	// SumOpenByPayment totals refunds for a payment that are not REJECTED.
	SumOpenByPayment(ctx context.Context, db DBTX, paymentID uuid.UUID) (int64, error)

	// Transition applies t only if the current status equals t.From.
	// Returns (nil, nil) when the row was not in t.From.
	Transition(ctx context.Context, db DBTX, id uuid.UUID, t domain.RefundTransition, actor string) (*domain.RefundRequest, error)
}

// AuditRepository provides access to the append-only audit_events table.
type AuditRepository interface {
	Insert(ctx context.Context, db DBTX, event domain.AuditEvent) error
	ListByARN(ctx context.Context, db DBTX, arn string, limit int) ([]domain.AuditEvent, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the ledger entry).
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// PurgePublished deletes events published before cutoff.
	PurgePublished(ctx context.Context, db DBTX, cutoff time.Time) (int64, error)
}

// ServiceVersionRepository provides access to service_versions.
type ServiceVersionRepository interface {
	Find(ctx context.Context, db DBTX, serviceKey string, version int) (*domain.ServiceVersion, error)
	FindLatestPublished(ctx context.Context, db DBTX, serviceKey string) (*domain.ServiceVersion, error)

	// SaveDraft inserts or replaces a DRAFT version. Published versions are never overwritten.
	SaveDraft(ctx context.Context, db DBTX, sv *domain.ServiceVersion) error
	Publish(ctx context.Context, db DBTX, serviceKey string, version int) error
}

// PropertyRepository provides access to application_properties.
type PropertyRepository interface {
	Upsert(ctx context.Context, db DBTX, prop *domain.ApplicationProperty) error
}
