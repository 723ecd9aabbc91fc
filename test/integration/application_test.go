//go:build integration

package integration

import (
	"net/http"
	"sync"
	"testing"

	"github.com/civicflow/platform/internal/auth"
	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/test/integration/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Application Tests ─────────────────────────────────────────────────────

func TestHealth_DatabaseReachable(t *testing.T) {
	env := testutil.NewTestEnv(t)

	resp := env.GET("/health")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApplication_CreateSubmitAndAudit(t *testing.T) {
	env := testutil.NewTestEnv(t)
	token, citizenID := env.CitizenToken()

	app := env.SubmitApplication(token)
	assert.Equal(t, "SCRUTINY", app.StateID)
	assert.Equal(t, citizenID, app.ApplicantID)
	require.NotNil(t, app.PublicARN)
	require.NotNil(t, app.SubmittedAt)

	resp := env.AuthGET("/applications/"+app.ARN+"/audit", token)
	var audit struct {
		Events []domain.AuditEvent `json:"events"`
	}
	testutil.DecodeJSON(t, resp, &audit)
	assert.GreaterOrEqual(t, len(audit.Events), 2)

	// SUBMIT and ASSIGN_AUTO each emit a state change.
	assert.Equal(t, 2, testutil.CountOutboxEvents(t, env, app.ARN, string(domain.EventApplicationState)))
	assert.Equal(t, 1, testutil.CountOutboxEvents(t, env, app.ARN, string(domain.EventApplicationCreated)))
}

func TestApplication_StaleRowVersion(t *testing.T) {
	env := testutil.NewTestEnv(t)
	token, _ := env.CitizenToken()

	resp := env.AuthPOST("/applications", map[string]interface{}{
		"service_key":  "building-permit",
		"authority_id": testutil.TestAuthority,
		"data":         map[string]interface{}{},
	}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var app domain.Application
	testutil.DecodeJSON(t, resp, &app)

	update := func(version int64) *http.Response {
		return env.AuthPATCH("/applications/"+app.ARN+"/data", map[string]interface{}{
			"row_version": version,
			"data":        map[string]interface{}{"applicant": map[string]string{"name": "Asha Verma"}},
		}, token)
	}

	resp = update(app.RowVersion)
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// The same version is now stale.
	resp = update(app.RowVersion)
	testutil.AssertStatus(t, resp, http.StatusConflict)
	testutil.AssertErrorCode(t, resp, domain.CodeConflict)
}

func TestApplication_ConcurrentUpdatesOneWins(t *testing.T) {
	env := testutil.NewTestEnv(t)
	token, _ := env.CitizenToken()

	resp := env.AuthPOST("/applications", map[string]interface{}{
		"service_key":  "building-permit",
		"authority_id": testutil.TestAuthority,
		"data":         map[string]interface{}{},
	}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var app domain.Application
	testutil.DecodeJSON(t, resp, &app)

	const writers = 5
	codes := make([]int, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := env.AuthPATCH("/applications/"+app.ARN+"/data", map[string]interface{}{
				"row_version": app.RowVersion,
				"data":        map[string]interface{}{"writer": i},
			}, token)
			codes[i] = r.StatusCode
			r.Body.Close()
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, c := range codes {
		switch c {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			conflict++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, conflict)
}

func TestApplication_QueryRoundTrip(t *testing.T) {
	env := testutil.NewTestEnv(t)
	token, _ := env.CitizenToken()
	app := env.SubmitApplication(token)

	resp := env.AuthPOST("/applications/"+app.ARN+"/transitions", map[string]interface{}{
		"transition_id": "RAISE_QUERY",
		"remarks":       "site plan missing",
	}, env.OfficerToken(auth.RoleScrutiny))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	testutil.DecodeJSON(t, env.AuthGET("/applications/"+app.ARN, token), &app)
	require.Equal(t, "QUERY_RAISED", app.StateID)

	resp = env.AuthPOST("/applications/"+app.ARN+"/query-response", map[string]interface{}{
		"row_version": app.RowVersion,
		"response":    map[string]interface{}{"site_plan": "uploaded"},
	}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.DecodeJSON(t, resp, &app)
	assert.Equal(t, "SCRUTINY", app.StateID)
	assert.Contains(t, string(app.Data), "site_plan")
}

func TestApplication_GuardRefusal(t *testing.T) {
	env := testutil.NewTestEnv(t)
	token, _ := env.CitizenToken()
	app := env.SubmitApplication(token)

	resp := env.AuthPOST("/applications/"+app.ARN+"/transitions", map[string]interface{}{
		"transition_id": "APPROVE",
		"context":       map[string]interface{}{"checklist": map[string]interface{}{"site_inspected": false}},
	}, env.OfficerToken(auth.RoleApprover))

	testutil.AssertStatus(t, resp, http.StatusUnprocessableEntity)
	testutil.AssertErrorCode(t, resp, domain.CodeTransitionFailed)

	testutil.DecodeJSON(t, env.AuthGET("/applications/"+app.ARN, token), &app)
	assert.Equal(t, "SCRUTINY", app.StateID)
}

func TestApplication_OtherCitizenSeesNothing(t *testing.T) {
	env := testutil.NewTestEnv(t)
	owner, _ := env.CitizenToken()
	app := env.SubmitApplication(owner)

	stranger, _ := env.CitizenToken()
	resp := env.AuthGET("/applications/"+app.ARN, stranger)
	testutil.AssertStatus(t, resp, http.StatusNotFound)
	testutil.AssertErrorCode(t, resp, domain.CodeNotFound)
}
