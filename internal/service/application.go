package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/repository"
	"github.com/civicflow/platform/internal/workflow"
	"github.com/jackc/pgx/v5"
)

// ARNIssuer issues application reference numbers.
type ARNIssuer interface {
	InternalARN() string
	PublicARN(authorityID string, at time.Time) string
}

const defaultAuditLimit = 100

// ApplicationService handles the citizen-facing application lifecycle.
type ApplicationService struct {
	db         repository.TxBeginner
	reader     repository.DBTX
	apps       repository.ApplicationRepository
	audit      repository.AuditRepository
	outbox     repository.OutboxRepository
	properties repository.PropertyRepository
	registry   *workflow.Registry
	executor   *workflow.Executor
	arns       ARNIssuer
	logger     *slog.Logger
	now        func() time.Time
}

// NewApplicationService creates an ApplicationService.
func NewApplicationService(
	db repository.TxBeginner,
	reader repository.DBTX,
	apps repository.ApplicationRepository,
	audit repository.AuditRepository,
	outbox repository.OutboxRepository,
	properties repository.PropertyRepository,
	registry *workflow.Registry,
	executor *workflow.Executor,
	arns ARNIssuer,
	logger *slog.Logger,
) *ApplicationService {
	return &ApplicationService{
		db:         db,
		reader:     reader,
		apps:       apps,
		audit:      audit,
		outbox:     outbox,
		properties: properties,
		registry:   registry,
		executor:   executor,
		arns:       arns,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a draft application in the initial state of the service's
// workflow. ServiceVersion 0 pins the latest published version.
func (s *ApplicationService) Create(ctx context.Context, params domain.CreateApplicationParams, actor domain.Actor) (*domain.Application, error) {
	if err := domain.ValidateServiceKey(params.ServiceKey); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if strings.TrimSpace(params.AuthorityID) == "" {
		return nil, domain.ErrValidation("authority_id is required")
	}
	data, err := ensureObject(params.Data)
	if err != nil {
		return nil, err
	}

	var def *workflow.Definition
	if params.ServiceVersion > 0 {
		def, err = s.registry.Get(ctx, params.ServiceKey, params.ServiceVersion)
	} else {
		def, err = s.registry.LatestPublished(ctx, params.ServiceKey)
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	app := &domain.Application{
		ARN:            s.arns.InternalARN(),
		ServiceKey:     def.ServiceKey(),
		ServiceVersion: def.Version(),
		AuthorityID:    strings.TrimSpace(params.AuthorityID),
		ApplicantID:    params.ApplicantID,
		StateID:        def.InitialState(),
		Data:           data,
		StateEnteredAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, domain.ErrInternal("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.apps.Create(ctx, tx, app); err != nil {
		return nil, domain.ErrInternal("create application", err)
	}
	audit := domain.NewAuditEvent(app.ARN, domain.AuditApplicationCreated, actor.Type, actor.ID, map[string]interface{}{
		"service_key":     app.ServiceKey,
		"service_version": app.ServiceVersion,
		"authority_id":    app.AuthorityID,
		"state_id":        app.StateID,
	})
	if err := s.trail(ctx, tx, audit, domain.NewApplicationCreatedEvent(app)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, domain.ErrInternal("commit tx", err)
	}

	s.logger.Info("application created", "arn", app.ARN, "service", app.ServiceKey, "version", app.ServiceVersion)
	return app, nil
}

// Get returns the application, enforcing that citizens only see their own.
func (s *ApplicationService) Get(ctx context.Context, arn string, actor domain.Actor) (*domain.Application, error) {
	app, err := s.apps.FindByARN(ctx, s.reader, arn)
	if err != nil {
		return nil, domain.ErrInternal("find application", err)
	}
	if app == nil {
		return nil, domain.ErrNotFound("application", arn)
	}
	if err := authorize(app, actor); err != nil {
		return nil, err
	}
	return app, nil
}

// UpdateData replaces the form data when expectedVersion still matches.
func (s *ApplicationService) UpdateData(ctx context.Context, arn string, expectedVersion int64, data json.RawMessage, actor domain.Actor) (*domain.Application, error) {
	data, err := ensureObject(data)
	if err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, arn, actor); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, domain.ErrInternal("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	app, err := s.updateData(ctx, tx, arn, expectedVersion, data, actor)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, domain.ErrInternal("commit tx", err)
	}
	return app, nil
}

func (s *ApplicationService) updateData(ctx context.Context, tx pgx.Tx, arn string, expectedVersion int64, data json.RawMessage, actor domain.Actor) (*domain.Application, error) {
	app, err := s.apps.UpdateData(ctx, tx, arn, expectedVersion, data)
	if err != nil {
		return nil, domain.ErrInternal("update application data", err)
	}
	if app == nil {
		return nil, domain.ErrConflict("application was modified concurrently; reload and retry")
	}
	audit := domain.NewAuditEvent(arn, domain.AuditDataUpdated, actor.Type, actor.ID, map[string]interface{}{
		"row_version": app.RowVersion,
	})
	if err := s.trail(ctx, tx, audit, domain.NewApplicationUpdatedEvent(arn, app.RowVersion)); err != nil {
		return nil, err
	}
	return app, nil
}

// Submit assigns the public ARN and runs SUBMIT, then ASSIGN_AUTO when the
// workflow has one. The property projection is refreshed afterwards and its
// failures never fail the submission.
func (s *ApplicationService) Submit(ctx context.Context, arn string, actor domain.Actor) (*domain.Application, error) {
	current, err := s.Get(ctx, arn, actor)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, domain.ErrInternal("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	result, err := s.executor.Execute(ctx, tx, workflow.TransitionRequest{
		ARN:          arn,
		TransitionID: workflow.TransitionSubmit,
		ActorID:      actor.ID,
		ActorType:    actor.Type,
	})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, transitionError(result)
	}

	now := s.now()
	if current.PublicARN == nil {
		publicARN := s.arns.PublicARN(current.AuthorityID, now)
		if err := s.apps.AssignPublicARN(ctx, tx, arn, publicARN, now); err != nil {
			return nil, domain.ErrInternal("assign public arn", err)
		}
	}

	auto, err := s.executor.Execute(ctx, tx, workflow.TransitionRequest{
		ARN:          arn,
		TransitionID: workflow.TransitionAssignAuto,
		ActorID:      string(domain.ActorSystem),
		ActorType:    domain.ActorSystem,
	})
	if err != nil {
		return nil, err
	}
	if !auto.Success && !auto.IsNotFound() {
		s.logger.Warn("auto assignment refused", "arn", arn, "code", auto.Code, "message", auto.Message)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, domain.ErrInternal("commit tx", err)
	}

	app, err := s.apps.FindByARN(ctx, s.reader, arn)
	if err != nil || app == nil {
		return nil, domain.ErrInternal("reload application", err)
	}
	s.projectProperty(ctx, app)

	s.logger.Info("application submitted", "arn", arn, "state", app.StateID)
	return app, nil
}

// RespondToQuery merges the citizen's response into the form data and runs
// QUERY_RESPOND in one transaction.
func (s *ApplicationService) RespondToQuery(ctx context.Context, arn string, expectedVersion int64, response json.RawMessage, actor domain.Actor) (*domain.Application, error) {
	response, err := ensureObject(response)
	if err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, arn, actor)
	if err != nil {
		return nil, err
	}
	merged, err := mergeObjects(current.Data, response)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, domain.ErrInternal("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := s.updateData(ctx, tx, arn, expectedVersion, merged, actor); err != nil {
		return nil, err
	}
	result, err := s.executor.Execute(ctx, tx, workflow.TransitionRequest{
		ARN:          arn,
		TransitionID: workflow.TransitionQueryRespond,
		ActorID:      actor.ID,
		ActorType:    actor.Type,
	})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, transitionError(result)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, domain.ErrInternal("commit tx", err)
	}
	return result.Application, nil
}

// ExecuteTransition runs an officer-requested transition in its own transaction.
func (s *ApplicationService) ExecuteTransition(ctx context.Context, req workflow.TransitionRequest) (*workflow.TransitionResult, error) {
	result, err := s.executor.Execute(ctx, nil, req)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, transitionError(result)
	}
	s.logger.Info("transition applied",
		"arn", req.ARN, "transition", req.TransitionID,
		"from", result.FromState, "to", result.ToState, "actor", req.ActorID)
	return result, nil
}

// ListAudit returns the newest audit events for the application.
func (s *ApplicationService) ListAudit(ctx context.Context, arn string, limit int, actor domain.Actor) ([]domain.AuditEvent, error) {
	if _, err := s.Get(ctx, arn, actor); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > defaultAuditLimit {
		limit = defaultAuditLimit
	}
	events, err := s.audit.ListByARN(ctx, s.reader, arn, limit)
	if err != nil {
		return nil, domain.ErrInternal("list audit events", err)
	}
	return events, nil
}

// SweepSLA logs applications whose SLA has lapsed and returns how many it found.
func (s *ApplicationService) SweepSLA(ctx context.Context, limit int) (int, error) {
	breached, err := s.apps.ListSLABreached(ctx, s.reader, s.now(), limit)
	if err != nil {
		return 0, domain.ErrInternal("list sla breaches", err)
	}
	for _, app := range breached {
		overdue := s.now().Sub(*app.SLADueAt).Round(time.Minute)
		s.logger.Warn("sla breached",
			"arn", app.ARN, "state", app.StateID, "authority", app.AuthorityID,
			"due_at", app.SLADueAt.Format(time.RFC3339), "overdue", overdue.String())
	}
	return len(breached), nil
}

// projectProperty copies data.property into the search projection.
func (s *ApplicationService) projectProperty(ctx context.Context, app *domain.Application) {
	prop, ok := extractProperty(app)
	if !ok {
		return
	}
	prop.UpdatedAt = s.now()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		s.logger.Error("property projection: begin tx", "arn", app.ARN, "error", err)
		return
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.properties.Upsert(ctx, tx, prop); err != nil {
		s.logger.Error("property projection: upsert", "arn", app.ARN, "error", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("property projection: commit", "arn", app.ARN, "error", err)
	}
}

func (s *ApplicationService) trail(ctx context.Context, tx pgx.Tx, audit domain.AuditEvent, events ...domain.OutboxDraft) error {
	if err := s.audit.Insert(ctx, tx, audit); err != nil {
		return domain.ErrInternal("insert audit event", err)
	}
	for _, evt := range events {
		if err := s.outbox.Insert(ctx, tx, evt); err != nil {
			return domain.ErrInternal("insert outbox event", err)
		}
	}
	return nil
}

// authorize lets officers and the system through and restricts citizens to
// their own applications.
func authorize(app *domain.Application, actor domain.Actor) error {
	if actor.Type != domain.ActorCitizen {
		return nil
	}
	if app.ApplicantID.String() != actor.ID {
		return domain.ErrNotFound("application", app.ARN)
	}
	return nil
}

// transitionError maps a refused transition to the error returned to callers.
func transitionError(r *workflow.TransitionResult) error {
	if r.IsNotFound() {
		return domain.ErrTransitionNotFound(r.Message)
	}
	return r.Err()
}

func ensureObject(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage(`{}`), nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, domain.ErrValidation("data must be a JSON object")
	}
	return raw, nil
}

// mergeObjects overlays the top-level keys of patch onto base.
func mergeObjects(base, patch json.RawMessage) (json.RawMessage, error) {
	merged := map[string]interface{}{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &merged); err != nil {
			return nil, domain.ErrInternal("decode application data", err)
		}
		if merged == nil {
			merged = map[string]interface{}{}
		}
	}
	var over map[string]interface{}
	if err := json.Unmarshal(patch, &over); err != nil {
		return nil, domain.ErrValidation("response must be a JSON object")
	}
	for k, v := range over {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, domain.ErrInternal("encode application data", err)
	}
	return out, nil
}

func extractProperty(app *domain.Application) (*domain.ApplicationProperty, bool) {
	var doc struct {
		Property map[string]interface{} `json:"property"`
	}
	if err := json.Unmarshal(app.Data, &doc); err != nil || len(doc.Property) == 0 {
		return nil, false
	}
	p := doc.Property
	prop := &domain.ApplicationProperty{
		ARN:          app.ARN,
		PlotNumber:   text(p["plot_number"]),
		KhasraNumber: text(p["khasra_number"]),
		Village:      text(p["village"]),
		Tehsil:       text(p["tehsil"]),
		District:     text(p["district"]),
	}
	if area, err := number(p["area_sq_meters"]); err == nil {
		prop.AreaSqMeters = &area
	}
	return prop, true
}

func text(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

var errNotNumber = errors.New("not a number")

func number(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q: %w", t, err)
		}
		return f, nil
	default:
		return 0, errNotNumber
	}
}
