// Package memstore implements the repository interfaces in memory, including
// row locks held until commit and rollback of writes made inside a
// transaction. Unit tests use it in place of Postgres.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrUnsupported is returned for raw SQL calls, which the store cannot run.
var ErrUnsupported = errors.New("memstore: raw SQL is not supported")

type versionKey struct {
	serviceKey string
	version    int
}

// Store holds every table in memory.
type Store struct {
	mu    sync.Mutex
	locks map[string]chan struct{}

	apps       map[string]*domain.Application
	lineItems  map[uuid.UUID]*domain.FeeLineItem
	demands    map[uuid.UUID]*domain.FeeDemand
	payments   map[uuid.UUID]*domain.Payment
	refunds    map[uuid.UUID]*domain.RefundRequest
	audit      []domain.AuditEvent
	outbox     []domain.OutboxDraft
	versions   map[versionKey]*domain.ServiceVersion
	properties map[string]*domain.ApplicationProperty

	seq    int64
	faults map[string]error
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		locks:      make(map[string]chan struct{}),
		apps:       make(map[string]*domain.Application),
		lineItems:  make(map[uuid.UUID]*domain.FeeLineItem),
		demands:    make(map[uuid.UUID]*domain.FeeDemand),
		payments:   make(map[uuid.UUID]*domain.Payment),
		refunds:    make(map[uuid.UUID]*domain.RefundRequest),
		versions:   make(map[versionKey]*domain.ServiceVersion),
		properties: make(map[string]*domain.ApplicationProperty),
		faults:     make(map[string]error),
	}
}

// Repositories bundles one of each repository backed by the same Store.
type Repositories struct {
	Applications    repository.ApplicationRepository
	Fees            repository.FeeRepository
	Payments        repository.PaymentRepository
	Refunds         repository.RefundRepository
	Audit           repository.AuditRepository
	Outbox          repository.OutboxRepository
	ServiceVersions repository.ServiceVersionRepository
	Properties      repository.PropertyRepository
}

// Repositories returns repositories reading and writing this Store.
func (s *Store) Repositories() Repositories {
	return Repositories{
		Applications:    &appRepo{s},
		Fees:            &feeRepo{s},
		Payments:        &paymentRepo{s},
		Refunds:         &refundRepo{s},
		Audit:           &auditRepo{s},
		Outbox:          &outboxRepo{s},
		ServiceVersions: &versionRepo{s},
		Properties:      &propertyRepo{s},
	}
}

// FailOn makes the named operation (for example "outbox.Insert") return err
// until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	return s.faults[op]
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return &Tx{store: s}, nil
}

func (s *Store) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, ErrUnsupported
}

func (s *Store) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, ErrUnsupported
}

func (s *Store) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return errRow{}
}

// AuditTypes returns the audit event types recorded for arn, oldest first.
func (s *Store) AuditTypes(arn string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.audit {
		if e.ARN == arn {
			out = append(out, e.EventType)
		}
	}
	return out
}

// OutboxEvents returns a copy of every outbox row.
func (s *Store) OutboxEvents() []domain.OutboxDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxDraft(nil), s.outbox...)
}

// PutServiceVersion stores a service version as-is.
func (s *Store) PutServiceVersion(sv domain.ServiceVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv.CreatedAt.IsZero() {
		sv.CreatedAt = s.now()
	}
	s.versions[versionKey{sv.ServiceKey, sv.Version}] = &sv
}

// Property returns the projected property row for arn.
func (s *Store) Property(arn string) *domain.ApplicationProperty {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.properties[arn]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// BackdatePayment moves a payment's created_at into the past.
func (s *Store) BackdatePayment(id uuid.UUID, by time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		p.CreatedAt = p.CreatedAt.Add(-by)
	}
}

// now returns strictly increasing timestamps so ordering by time is stable.
// Caller holds s.mu.
func (s *Store) now() time.Time {
	s.seq++
	return time.Now().UTC().Add(time.Duration(s.seq) * time.Microsecond)
}

// lock acquires the row lock key for tx, blocking while another tx holds it.
func (s *Store) lock(ctx context.Context, q pgx.Tx, key string) error {
	tx, ok := q.(*Tx)
	if !ok {
		return fmt.Errorf("memstore: lock %s requires a memstore transaction", key)
	}
	if tx.holds(key) {
		return nil
	}

	s.mu.Lock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		tx.held = append(tx.held, key)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		<-s.locks[k]
	}
}

// record registers an undo step when the write happens inside a transaction.
// Caller holds s.mu.
func record(db repository.DBTX, undo func()) {
	if tx, ok := db.(*Tx); ok {
		tx.undo = append(tx.undo, undo)
	}
}

// Tx is a memstore transaction. Unimplemented pgx.Tx methods panic.
type Tx struct {
	pgx.Tx

	store *Store
	held  []string
	undo  []func()
	done  bool
}

func (t *Tx) holds(key string) bool {
	for _, k := range t.held {
		if k == key {
			return true
		}
	}
	return false
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.release(t.held)
	t.held, t.undo = nil, nil
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()
	t.store.release(t.held)
	t.held, t.undo = nil, nil
	return nil
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, ErrUnsupported
}

func (t *Tx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, ErrUnsupported
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return errRow{}
}

type errRow struct{}

func (errRow) Scan(...interface{}) error { return ErrUnsupported }

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := append([]uuid.UUID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
