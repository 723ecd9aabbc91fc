package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- applications ---

type appRepo struct{ s *Store }

func (r *appRepo) Create(ctx context.Context, db repository.DBTX, a *domain.Application) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("applications.Create"); err != nil {
		return err
	}
	if _, exists := s.apps[a.ARN]; exists {
		return fmt.Errorf("insert application: duplicate arn %s", a.ARN)
	}
	cp := *a
	if cp.Data == nil {
		cp.Data = json.RawMessage(`{}`)
	}
	cp.RowVersion = 1
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	s.apps[cp.ARN] = &cp
	record(db, func() { delete(s.apps, cp.ARN) })
	*a = cp
	return nil
}

func (r *appRepo) FindByARN(ctx context.Context, db repository.DBTX, arn string) (*domain.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return copyApp(r.s.apps[arn]), nil
}

func (r *appRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, arn string) (*domain.Application, error) {
	if err := r.s.lock(ctx, tx, "application:"+arn); err != nil {
		return nil, err
	}
	return r.FindByARN(ctx, tx, arn)
}

func (r *appRepo) UpdateData(ctx context.Context, db repository.DBTX, arn string, expectedVersion int64, data json.RawMessage) (*domain.Application, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.apps[arn]
	if !ok || a.RowVersion != expectedVersion {
		return nil, nil
	}
	prev := *a
	a.Data = data
	a.RowVersion++
	a.UpdatedAt = s.now()
	record(db, func() { *a = prev })
	return copyApp(a), nil
}

func (r *appRepo) ApplyStateChange(ctx context.Context, tx pgx.Tx, c domain.StateChange) (*domain.Application, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.apps[c.ARN]
	if !ok {
		return nil, fmt.Errorf("apply state change: application %s vanished under lock", c.ARN)
	}
	prev := *a
	a.StateID = c.ToState
	a.StateEnteredAt = c.StateEnteredAt
	a.SLADueAt = c.SLADueAt
	if c.Disposed {
		at := c.StateEnteredAt
		a.DisposedAt = &at
	}
	a.UpdatedAt = s.now()
	record(tx, func() { *a = prev })
	return copyApp(a), nil
}

func (r *appRepo) AssignPublicARN(ctx context.Context, tx pgx.Tx, arn, publicARN string, submittedAt time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.apps[arn]
	if !ok || a.PublicARN != nil {
		return nil
	}
	prev := *a
	a.PublicARN = &publicARN
	a.SubmittedAt = &submittedAt
	record(tx, func() { *a = prev })
	return nil
}

func (r *appRepo) ListSLABreached(ctx context.Context, db repository.DBTX, now time.Time, limit int) ([]domain.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Application
	for _, a := range r.s.apps {
		if a.DisposedAt == nil && a.SLADueAt != nil && a.SLADueAt.Before(now) {
			out = append(out, *copyApp(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SLADueAt.Before(*out[j].SLADueAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyApp(a *domain.Application) *domain.Application {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Data = append(json.RawMessage(nil), a.Data...)
	return &cp
}

// --- fees ---

type feeRepo struct{ s *Store }

func (r *feeRepo) InsertLineItems(ctx context.Context, db repository.DBTX, items []domain.FeeLineItem) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range items {
		items[i].CreatedAt = s.now()
		cp := items[i]
		s.lineItems[cp.ID] = &cp
		id := cp.ID
		record(db, func() { delete(s.lineItems, id) })
	}
	return nil
}

func (r *feeRepo) LockLineItems(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) ([]domain.FeeLineItem, error) {
	ordered := sortedIDs(ids)
	for _, id := range ordered {
		if err := r.s.lock(ctx, tx, "line_item:"+id.String()); err != nil {
			return nil, err
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.FeeLineItem
	for _, id := range ordered {
		if it, ok := r.s.lineItems[id]; ok {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (r *feeRepo) AttachLineItems(ctx context.Context, tx pgx.Tx, demandID uuid.UUID, ids []uuid.UUID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		it, ok := s.lineItems[id]
		if !ok || it.DemandID != nil {
			continue
		}
		d := demandID
		it.DemandID = &d
		record(tx, func() { it.DemandID = nil })
	}
	return nil
}

func (r *feeRepo) ListLineItemsByDemand(ctx context.Context, db repository.DBTX, demandID uuid.UUID) ([]domain.FeeLineItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.FeeLineItem
	for _, it := range r.s.lineItems {
		if it.DemandID != nil && *it.DemandID == demandID {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *feeRepo) CreateDemand(ctx context.Context, tx pgx.Tx, d *domain.FeeDemand) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	cp.PaidAmount = 0
	cp.Status = domain.DemandPending
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	s.demands[cp.ID] = &cp
	record(tx, func() { delete(s.demands, cp.ID) })
	*d = cp
	return nil
}

func (r *feeRepo) FindDemand(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.FeeDemand, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.demands[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *feeRepo) LockDemandForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.FeeDemand, error) {
	if err := r.s.lock(ctx, tx, "demand:"+id.String()); err != nil {
		return nil, err
	}
	return r.FindDemand(ctx, tx, id)
}

// CreditDemand enforces the same bounds as the fee_demands CHECK constraints.
func (r *feeRepo) CreditDemand(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) (*domain.FeeDemand, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.demands[id]
	if !ok {
		return nil, fmt.Errorf("credit demand: demand %s not found", id)
	}
	paid := d.PaidAmount + amount
	if paid < 0 || paid > d.TotalAmount {
		return nil, fmt.Errorf("credit demand: paid_amount %d outside [0, %d]", paid, d.TotalAmount)
	}
	prev := *d
	d.PaidAmount = paid
	d.Status = domain.DeriveDemandStatus(paid, d.TotalAmount)
	d.UpdatedAt = s.now()
	record(tx, func() { *d = prev })
	cp := *d
	return &cp, nil
}

// --- payments ---

type paymentRepo struct{ s *Store }

func (r *paymentRepo) Create(ctx context.Context, db repository.DBTX, p *domain.Payment) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("payments.Create"); err != nil {
		return err
	}
	for _, other := range s.payments {
		if sameString(other.ReceiptNumber, p.ReceiptNumber) {
			return repository.ErrReceiptNumberTaken
		}
		if sameString(other.GatewayOrderID, p.GatewayOrderID) {
			return repository.ErrGatewayOrderTaken
		}
	}
	cp := *p
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	s.payments[cp.ID] = &cp
	record(db, func() { delete(s.payments, cp.ID) })
	*p = cp
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return copyPayment(r.s.payments[id]), nil
}

func (r *paymentRepo) FindByGatewayOrderID(ctx context.Context, db repository.DBTX, orderID string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.GatewayOrderID != nil && *p.GatewayOrderID == orderID {
			return copyPayment(p), nil
		}
	}
	return nil, nil
}

func (r *paymentRepo) FindByGatewayPaymentID(ctx context.Context, db repository.DBTX, gatewayPaymentID string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return copyPayment(r.s.paymentByGatewayID(gatewayPaymentID)), nil
}

func (r *paymentRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error) {
	if err := r.s.lock(ctx, tx, "payment:"+id.String()); err != nil {
		return nil, err
	}
	return r.FindByID(ctx, tx, id)
}

func (r *paymentRepo) ListByDemand(ctx context.Context, db repository.DBTX, demandID uuid.UUID) ([]domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.s.payments {
		if p.DemandID == demandID {
			out = append(out, *copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *paymentRepo) MarkVerified(ctx context.Context, tx pgx.Tx, id uuid.UUID, gatewayPaymentID, signature, verifiedBy string) (*domain.Payment, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != domain.PaymentStatusInitiated {
		return nil, nil
	}
	if other := s.paymentByGatewayID(gatewayPaymentID); other != nil && other.ID != id {
		return nil, repository.ErrGatewayPaymentIDTaken
	}
	prev := *p
	now := s.now()
	p.Status = domain.PaymentStatusVerified
	p.GatewayPaymentID = &gatewayPaymentID
	p.GatewaySignature = optional(signature)
	p.VerifiedBy = optional(verifiedBy)
	p.VerifiedAt = &now
	p.UpdatedAt = now
	record(tx, func() { *p = prev })
	return copyPayment(p), nil
}

func (r *paymentRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string, gatewayPaymentID *string) (*domain.Payment, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != domain.PaymentStatusInitiated {
		return nil, nil
	}
	if gatewayPaymentID != nil {
		if other := s.paymentByGatewayID(*gatewayPaymentID); other != nil && other.ID != id {
			return nil, repository.ErrGatewayPaymentIDTaken
		}
	}
	prev := *p
	p.Status = domain.PaymentStatusFailed
	p.FailureReason = &reason
	if gatewayPaymentID != nil {
		gpid := *gatewayPaymentID
		p.GatewayPaymentID = &gpid
	}
	p.UpdatedAt = s.now()
	record(tx, func() { *p = prev })
	return copyPayment(p), nil
}

func (r *paymentRepo) ListStaleInitiated(ctx context.Context, db repository.DBTX, cutoff time.Time, limit int) ([]domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.s.payments {
		if p.Mode == domain.PaymentModeGateway && p.Status == domain.PaymentStatusInitiated && p.CreatedAt.Before(cutoff) {
			out = append(out, *copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Caller holds s.mu.
func (s *Store) paymentByGatewayID(gpid string) *domain.Payment {
	for _, p := range s.payments {
		if p.GatewayPaymentID != nil && *p.GatewayPaymentID == gpid {
			return p
		}
	}
	return nil
}

func copyPayment(p *domain.Payment) *domain.Payment {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func sameString(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// --- refunds ---

type refundRepo struct{ s *Store }

func (r *refundRepo) Create(ctx context.Context, db repository.DBTX, rr *domain.RefundRequest) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rr
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	s.refunds[cp.ID] = &cp
	record(db, func() { delete(s.refunds, cp.ID) })
	*rr = cp
	return nil
}

func (r *refundRepo) FindByID(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.RefundRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rr, ok := r.s.refunds[id]
	if !ok {
		return nil, nil
	}
	cp := *rr
	return &cp, nil
}

func (r *refundRepo) SumOpenByPayment(ctx context.Context, db repository.DBTX, paymentID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var total int64
	for _, rr := range r.s.refunds {
		if rr.PaymentID == paymentID && rr.Status != domain.RefundRejected {
			total += rr.Amount
		}
	}
	return total, nil
}

func (r *refundRepo) Transition(ctx context.Context, db repository.DBTX, id uuid.UUID, t domain.RefundTransition, actor string) (*domain.RefundRequest, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	rr, ok := s.refunds[id]
	if !ok || rr.Status != t.From {
		return nil, nil
	}
	prev := *rr
	now := s.now()
	rr.Status = t.To
	if t.From == domain.RefundRequested {
		a := actor
		rr.DecidedBy = &a
		rr.DecidedAt = &now
	}
	if t.To == domain.RefundProcessed {
		rr.ProcessedAt = &now
	}
	rr.UpdatedAt = now
	record(db, func() { *rr = prev })
	cp := *rr
	return &cp, nil
}

// --- audit ---

type auditRepo struct{ s *Store }

func (r *auditRepo) Insert(ctx context.Context, db repository.DBTX, e domain.AuditEvent) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("audit.Insert"); err != nil {
		return err
	}
	s.audit = append(s.audit, e)
	record(db, func() {
		for i := range s.audit {
			if s.audit[i].ID == e.ID {
				s.audit = append(s.audit[:i], s.audit[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r *auditRepo) ListByARN(ctx context.Context, db repository.DBTX, arn string, limit int) ([]domain.AuditEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range r.s.audit {
		if e.ARN == arn {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- outbox ---

type outboxRepo struct{ s *Store }

func (r *outboxRepo) Insert(ctx context.Context, db repository.DBTX, draft domain.OutboxDraft) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("outbox.Insert"); err != nil {
		return err
	}
	s.outbox = append(s.outbox, draft)
	record(db, func() {
		for i := range s.outbox {
			if s.outbox[i].EventID == draft.EventID {
				s.outbox = append(s.outbox[:i], s.outbox[i+1:]...)
				return
			}
		}
	})
	return nil
}

// PurgePublished is a no-op: nothing relays events out of the memstore.
func (r *outboxRepo) PurgePublished(ctx context.Context, db repository.DBTX, cutoff time.Time) (int64, error) {
	return 0, nil
}

// --- service versions ---

type versionRepo struct{ s *Store }

func (r *versionRepo) Find(ctx context.Context, db repository.DBTX, serviceKey string, version int) (*domain.ServiceVersion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sv, ok := r.s.versions[versionKey{serviceKey, version}]
	if !ok {
		return nil, nil
	}
	cp := *sv
	return &cp, nil
}

func (r *versionRepo) FindLatestPublished(ctx context.Context, db repository.DBTX, serviceKey string) (*domain.ServiceVersion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *domain.ServiceVersion
	for k, sv := range r.s.versions {
		if k.serviceKey != serviceKey || sv.Status != domain.ServiceVersionPublished {
			continue
		}
		if best == nil || sv.Version > best.Version {
			best = sv
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *versionRepo) SaveDraft(ctx context.Context, db repository.DBTX, sv *domain.ServiceVersion) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	key := versionKey{sv.ServiceKey, sv.Version}
	if existing, ok := s.versions[key]; ok && existing.Status != domain.ServiceVersionDraft {
		return fmt.Errorf("service %s version %d is already published", sv.ServiceKey, sv.Version)
	}
	cp := *sv
	cp.Status = domain.ServiceVersionDraft
	cp.CreatedAt = s.now()
	s.versions[key] = &cp
	return nil
}

func (r *versionRepo) Publish(ctx context.Context, db repository.DBTX, serviceKey string, version int) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	sv, ok := s.versions[versionKey{serviceKey, version}]
	if !ok || sv.Status != domain.ServiceVersionDraft {
		return fmt.Errorf("service %s version %d is not a draft", serviceKey, version)
	}
	now := s.now()
	sv.Status = domain.ServiceVersionPublished
	sv.PublishedAt = &now
	return nil
}

// --- properties ---

type propertyRepo struct{ s *Store }

func (r *propertyRepo) Upsert(ctx context.Context, db repository.DBTX, p *domain.ApplicationProperty) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("property.Upsert"); err != nil {
		return err
	}
	cp := *p
	cp.UpdatedAt = s.now()
	prev, had := s.properties[cp.ARN]
	s.properties[cp.ARN] = &cp
	record(db, func() {
		if had {
			s.properties[cp.ARN] = prev
		} else {
			delete(s.properties, cp.ARN)
		}
	})
	return nil
}
