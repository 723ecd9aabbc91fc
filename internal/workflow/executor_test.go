package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/repository/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store    *memstore.Store
	repos    memstore.Repositories
	registry *Registry
	exec     *Executor
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memstore.New()
	repos := store.Repositories()

	cfg := loadTestConfig(t)
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	store.PutServiceVersion(domain.ServiceVersion{
		ServiceKey: cfg.ServiceKey,
		Version:    cfg.Version,
		Status:     domain.ServiceVersionPublished,
		Config:     raw,
	})

	registry := NewRegistry(store, repos.ServiceVersions)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := NewExecutor(store, repos.Applications, repos.Audit, repos.Outbox, registry, logger)
	h := &harness{store: store, repos: repos, registry: registry, exec: exec,
		now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	exec.now = func() time.Time { return h.now }
	return h
}

func (h *harness) app(t *testing.T, state string, data string) string {
	t.Helper()
	arn := "ARN-" + uuid.NewString()[:8]
	require.NoError(t, h.repos.Applications.Create(context.Background(), h.store, &domain.Application{
		ARN:            arn,
		ServiceKey:     "building-permit",
		ServiceVersion: 1,
		AuthorityID:    "municipal-corp-north",
		ApplicantID:    uuid.New(),
		StateID:        state,
		Data:           json.RawMessage(data),
	}))
	return arn
}

func (h *harness) state(t *testing.T, arn string) *domain.Application {
	t.Helper()
	a, err := h.repos.Applications.FindByARN(context.Background(), h.store, arn)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

// --- Registry Tests ---

func TestRegistry_GetCachesPublishedVersions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.registry.Get(ctx, "building-permit", 1)
	require.NoError(t, err)
	second, err := h.registry.Get(ctx, "building-permit", 1)
	require.NoError(t, err)
	assert.Same(t, first, second)

	latest, err := h.registry.LatestPublished(ctx, "building-permit")
	require.NoError(t, err)
	assert.Same(t, first, latest)
}

func TestRegistry_NotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.PutServiceVersion(domain.ServiceVersion{
		ServiceKey: "building-permit",
		Version:    2,
		Status:     domain.ServiceVersionDraft,
		Config:     json.RawMessage(`{}`),
	})

	tests := []struct {
		name    string
		key     string
		version int
	}{
		{"unknown service", "water-connection", 1},
		{"unknown version", "building-permit", 9},
		{"draft version", "building-permit", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.registry.Get(ctx, tt.key, tt.version)
			assert.Equal(t, domain.CodeServiceVersionNotFound, domain.CodeOf(err))
		})
	}

	_, err := h.registry.LatestPublished(ctx, "water-connection")
	assert.Equal(t, domain.CodeServiceVersionNotFound, domain.CodeOf(err))
}

func TestRegistry_FeeSchedule(t *testing.T) {
	h := newHarness(t)
	sched, err := h.registry.FeeSchedule(context.Background(), "building-permit", 1)
	require.NoError(t, err)
	assert.Len(t, sched.Default, 2)
	assert.Len(t, sched.Authorities["municipal-corp-north"], 1)
}

// --- Executor Tests ---

func TestExecute_AppliesTransitionWithSLA(t *testing.T) {
	h := newHarness(t)
	arn := h.app(t, "DRAFT", `{"applicant":{"name":"Asha"}}`)

	res, err := h.exec.Execute(context.Background(), nil, TransitionRequest{
		ARN:          arn,
		TransitionID: TransitionSubmit,
		ActorID:      "citizen-1",
		ActorType:    domain.ActorCitizen,
		Remarks:      "first submission",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "DRAFT", res.FromState)
	assert.Equal(t, "SUBMITTED", res.ToState)

	app := h.state(t, arn)
	assert.Equal(t, "SUBMITTED", app.StateID)
	assert.Equal(t, h.now, app.StateEnteredAt)
	require.NotNil(t, app.SLADueAt)
	assert.Equal(t, h.now.AddDate(0, 0, 2), *app.SLADueAt)
	assert.Nil(t, app.DisposedAt)

	assert.Equal(t, []string{domain.AuditStateChanged}, h.store.AuditTypes(arn))
	events := h.store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventApplicationState, events[0].EventType)
	assert.Equal(t, arn, events[0].PartitionKey)
}

func TestExecute_TerminalStateDisposes(t *testing.T) {
	h := newHarness(t)
	arn := h.app(t, "SCRUTINY", `{}`)

	res, err := h.exec.Execute(context.Background(), nil, TransitionRequest{
		ARN: arn, TransitionID: "REJECT", ActorID: "officer-1", ActorType: domain.ActorOfficer,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	app := h.state(t, arn)
	require.NotNil(t, app.DisposedAt)
	assert.Nil(t, app.SLADueAt)
}

func TestExecute_Refusals(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name     string
		state    string
		data     string
		req      TransitionRequest
		wantCode string
		wantMsg  string
	}{
		{
			name:     "unknown transition from state",
			state:    "DRAFT",
			req:      TransitionRequest{TransitionID: "APPROVE", ActorType: domain.ActorOfficer},
			wantCode: domain.CodeTransitionNotFound,
		},
		{
			name:     "actor not permitted",
			state:    "SCRUTINY",
			req:      TransitionRequest{TransitionID: "APPROVE", ActorType: domain.ActorCitizen},
			wantCode: domain.CodeTransitionFailed,
			wantMsg:  "CITIZEN may not perform transition APPROVE",
		},
		{
			name:  "guard not met",
			state: "SCRUTINY",
			req: TransitionRequest{TransitionID: "APPROVE", ActorType: domain.ActorOfficer, Context: map[string]interface{}{
				"checklist": map[string]interface{}{"site_inspected": true, "objections": "OPEN"},
			}},
			wantCode: domain.CodeTransitionFailed,
			wantMsg:  "site inspection must be complete with no open objections",
		},
		{
			name:     "guard reads application data",
			state:    "DRAFT",
			data:     `{"applicant":{}}`,
			req:      TransitionRequest{TransitionID: TransitionSubmit, ActorType: domain.ActorCitizen},
			wantCode: domain.CodeTransitionFailed,
			wantMsg:  "applicant name is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.data
			if data == "" {
				data = `{}`
			}
			arn := h.app(t, tt.state, data)
			req := tt.req
			req.ARN = arn

			res, err := h.exec.Execute(context.Background(), nil, req)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantCode, res.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, res.Message)
			}
			assert.Equal(t, tt.wantCode == domain.CodeTransitionNotFound, res.IsNotFound())

			app := h.state(t, arn)
			assert.Equal(t, tt.state, app.StateID)
			assert.Empty(t, h.store.AuditTypes(arn))
		})
	}
}

func TestExecute_UndecodableDataIsLogged(t *testing.T) {
	h := newHarness(t)
	var logs bytes.Buffer
	h.exec.logger = slog.New(slog.NewTextHandler(&logs, nil))
	arn := h.app(t, "DRAFT", `["not","an","object"]`)

	res, err := h.exec.Execute(context.Background(), nil, TransitionRequest{
		ARN: arn, TransitionID: TransitionSubmit, ActorType: domain.ActorCitizen, ActorID: "citizen-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "applicant name is required", res.Message)
	assert.Contains(t, logs.String(), "application data could not be decoded for guard")
	assert.Contains(t, logs.String(), arn)
	assert.Equal(t, "DRAFT", h.state(t, arn).StateID)
}

func TestExecute_GuardPasses(t *testing.T) {
	h := newHarness(t)
	arn := h.app(t, "SCRUTINY", `{}`)

	res, err := h.exec.Execute(context.Background(), nil, TransitionRequest{
		ARN: arn, TransitionID: "APPROVE", ActorType: domain.ActorOfficer, ActorID: "officer-1",
		Context: map[string]interface{}{
			"checklist": map[string]interface{}{"site_inspected": true, "objections": "NONE"},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "APPROVED", h.state(t, arn).StateID)
}

func TestTransitionResult_Err(t *testing.T) {
	ok := &TransitionResult{Success: true}
	assert.NoError(t, ok.Err())

	failed := &TransitionResult{Code: domain.CodeTransitionFailed, Message: "nope"}
	err := failed.Err()
	require.Error(t, err)
	var appErr *domain.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, domain.CodeTransitionFailed, appErr.Code)
	assert.Equal(t, 422, appErr.Status)
	assert.Equal(t, "nope", appErr.Message)
}

func TestExecute_CallerTransactionRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	arn := h.app(t, "SUBMITTED", `{}`)

	tx, err := h.store.Begin(ctx)
	require.NoError(t, err)
	res, err := h.exec.Execute(ctx, tx, TransitionRequest{
		ARN: arn, TransitionID: TransitionAssignAuto, ActorType: domain.ActorSystem, ActorID: "system",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NoError(t, tx.Rollback(ctx))

	assert.Equal(t, "SUBMITTED", h.state(t, arn).StateID)
	assert.Empty(t, h.store.AuditTypes(arn))
	assert.Empty(t, h.store.OutboxEvents())
}

func TestExecute_OutboxFailureIsAnError(t *testing.T) {
	h := newHarness(t)
	arn := h.app(t, "SUBMITTED", `{}`)
	h.store.FailOn("outbox.Insert", errors.New("outbox down"))

	_, err := h.exec.Execute(context.Background(), nil, TransitionRequest{
		ARN: arn, TransitionID: TransitionAssignAuto, ActorType: domain.ActorSystem,
	})
	require.Error(t, err)
	assert.Equal(t, "SUBMITTED", h.state(t, arn).StateID)
	assert.Empty(t, h.store.AuditTypes(arn))
}

func TestExecute_MissingApplication(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec.Execute(context.Background(), nil, TransitionRequest{
		ARN: "ARN-missing", TransitionID: TransitionSubmit, ActorType: domain.ActorCitizen,
	})
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))

	_, err = h.exec.Execute(context.Background(), nil, TransitionRequest{ARN: "ARN-missing"})
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
}

func TestExecute_SerializesSameApplication(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	arn := h.app(t, "SUBMITTED", `{}`)

	first, err := h.store.Begin(ctx)
	require.NoError(t, err)
	res, err := h.exec.Execute(ctx, first, TransitionRequest{
		ARN: arn, TransitionID: TransitionAssignAuto, ActorType: domain.ActorSystem,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	// A second executor call blocks on the row lock until the first commits,
	// then sees the new state and finds no ASSIGN_AUTO edge from it.
	done := make(chan *TransitionResult, 1)
	go func() {
		r, _ := h.exec.Execute(ctx, nil, TransitionRequest{
			ARN: arn, TransitionID: TransitionAssignAuto, ActorType: domain.ActorSystem,
		})
		done <- r
	}()

	select {
	case <-done:
		t.Fatal("second transition ran while the row was locked")
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, first.Commit(ctx))

	second := <-done
	require.NotNil(t, second)
	assert.True(t, second.IsNotFound())
	assert.Equal(t, "SCRUTINY", second.FromState)
}
