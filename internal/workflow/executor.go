package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/policy"
	"github.com/civicflow/platform/internal/repository"
	"github.com/jackc/pgx/v5"
)

// TransitionRequest asks the executor to move one application along one edge.
type TransitionRequest struct {
	ARN          string
	TransitionID string
	ActorID      string
	ActorType    domain.ActorType
	// Context is the guard evaluation input. The executor adds an "application"
	// entry (state, service, authority, data) unless the caller supplied one.
	Context  map[string]interface{}
	Remarks  string
	Metadata map[string]interface{}
}

// TransitionResult reports the outcome of an Execute call.
// A refused transition is a result, not an error; Err converts it when the
// caller needs the enclosing transaction to roll back.
type TransitionResult struct {
	Success     bool                `json:"success"`
	Code        string              `json:"code,omitempty"`
	Message     string              `json:"message,omitempty"`
	FromState   string              `json:"from_state"`
	ToState     string              `json:"to_state,omitempty"`
	Application *domain.Application `json:"application,omitempty"`
}

// IsNotFound reports whether no transition with that id leaves the current state.
func (r *TransitionResult) IsNotFound() bool {
	return !r.Success && r.Code == domain.CodeTransitionNotFound
}

// Err returns nil on success and a TRANSITION_FAILED AppError otherwise.
func (r *TransitionResult) Err() error {
	if r.Success {
		return nil
	}
	return domain.ErrTransitionFailed(r.Message)
}

// Executor applies guarded workflow transitions.
type Executor struct {
	db       repository.TxBeginner
	apps     repository.ApplicationRepository
	audit    repository.AuditRepository
	outbox   repository.OutboxRepository
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(
	db repository.TxBeginner,
	apps repository.ApplicationRepository,
	audit repository.AuditRepository,
	outbox repository.OutboxRepository,
	registry *Registry,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		db:       db,
		apps:     apps,
		audit:    audit,
		outbox:   outbox,
		registry: registry,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs the transition inside tx. With a nil tx the executor opens its
// own transaction and commits it only when the transition succeeds.
func (e *Executor) Execute(ctx context.Context, tx pgx.Tx, req TransitionRequest) (*TransitionResult, error) {
	if tx != nil {
		return e.execute(ctx, tx, req)
	}

	own, err := e.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer own.Rollback(ctx) //nolint:errcheck

	result, err := e.execute(ctx, own, req)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, nil
	}
	if err := own.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return result, nil
}

func (e *Executor) execute(ctx context.Context, tx pgx.Tx, req TransitionRequest) (*TransitionResult, error) {
	if req.ARN == "" || req.TransitionID == "" {
		return nil, domain.ErrValidation("arn and transition id are required")
	}

	app, err := e.apps.LockForUpdate(ctx, tx, req.ARN)
	if err != nil {
		return nil, fmt.Errorf("lock application: %w", err)
	}
	if app == nil {
		return nil, domain.ErrNotFound("application", req.ARN)
	}

	def, err := e.registry.Get(ctx, app.ServiceKey, app.ServiceVersion)
	if err != nil {
		return nil, err
	}

	from := app.StateID
	t, ok := def.Lookup(from, req.TransitionID)
	if !ok {
		return &TransitionResult{
			Code:      domain.CodeTransitionNotFound,
			Message:   fmt.Sprintf("transition %s is not available from state %s", req.TransitionID, from),
			FromState: from,
		}, nil
	}

	if !t.Allows(req.ActorType) {
		return refused(from, fmt.Sprintf("%s may not perform transition %s", req.ActorType, t.ID)), nil
	}

	passed, err := policy.Evaluate(t.Guard, e.guardVars(app, req.Context))
	if err != nil {
		e.logger.Warn("guard evaluation failed", "arn", app.ARN, "transition", t.ID, "error", err)
		return refused(from, fmt.Sprintf("guard for transition %s could not be evaluated", t.ID)), nil
	}
	if !passed {
		msg := t.Message
		if msg == "" {
			msg = fmt.Sprintf("conditions for transition %s are not met", t.ID)
		}
		return refused(from, msg), nil
	}

	target, _ := def.State(t.To)
	now := e.now()
	change := domain.StateChange{
		ARN:            app.ARN,
		ToState:        t.To,
		StateEnteredAt: now,
		Disposed:       target.Terminal,
	}
	if target.SLADays > 0 {
		due := now.AddDate(0, 0, target.SLADays)
		change.SLADueAt = &due
	}

	updated, err := e.apps.ApplyStateChange(ctx, tx, change)
	if err != nil {
		return nil, fmt.Errorf("apply state change: %w", err)
	}

	auditPayload := map[string]interface{}{
		"transition_id": t.ID,
		"from_state":    from,
		"to_state":      t.To,
	}
	if req.Remarks != "" {
		auditPayload["remarks"] = req.Remarks
	}
	if len(req.Metadata) > 0 {
		auditPayload["metadata"] = req.Metadata
	}
	if err := e.audit.Insert(ctx, tx, domain.NewAuditEvent(app.ARN, domain.AuditStateChanged, req.ActorType, req.ActorID, auditPayload)); err != nil {
		return nil, fmt.Errorf("insert audit: %w", err)
	}
	if err := e.outbox.Insert(ctx, tx, domain.NewStateChangedEvent(app.ARN, t.ID, from, t.To, req.ActorType, req.ActorID)); err != nil {
		return nil, fmt.Errorf("insert outbox: %w", err)
	}

	return &TransitionResult{
		Success:     true,
		FromState:   from,
		ToState:     t.To,
		Application: updated,
	}, nil
}

func refused(from, msg string) *TransitionResult {
	return &TransitionResult{
		Code:      domain.CodeTransitionFailed,
		Message:   msg,
		FromState: from,
	}
}

// guardVars builds the guard context. Undecodable application data is logged
// and exposed as nil.
func (e *Executor) guardVars(app *domain.Application, supplied map[string]interface{}) map[string]interface{} {
	vars := make(map[string]interface{}, len(supplied)+1)
	for k, v := range supplied {
		vars[k] = v
	}
	if _, ok := vars["application"]; !ok {
		var data map[string]interface{}
		if len(app.Data) > 0 {
			if err := json.Unmarshal(app.Data, &data); err != nil {
				e.logger.Warn("application data could not be decoded for guard",
					"arn", app.ARN, "error", err)
				data = nil
			}
		}
		vars["application"] = map[string]interface{}{
			"arn":          app.ARN,
			"state_id":     app.StateID,
			"service_key":  app.ServiceKey,
			"authority_id": app.AuthorityID,
			"submitted":    app.SubmittedAt != nil,
			"data":         data,
		}
	}
	return vars
}
