//go:build integration

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/civicflow/platform/internal/auth"
	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/provider"
	"github.com/civicflow/platform/internal/repository"
	"github.com/civicflow/platform/internal/workflow"
	"github.com/google/uuid"
)

// PublishService stores and publishes a configuration from
// internal/workflow/testdata.
func (env *TestEnv) PublishService(file string) {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := os.ReadFile(filepath.Join(projectRoot(), "internal", "workflow", "testdata", file))
	if err != nil {
		env.t.Fatalf("PublishService: read: %v", err)
	}
	cfg, err := workflow.LoadYAML(raw)
	if err != nil {
		env.t.Fatalf("PublishService: load: %v", err)
	}
	doc, err := json.Marshal(cfg)
	if err != nil {
		env.t.Fatalf("PublishService: encode: %v", err)
	}

	repo := repository.NewServiceVersionRepository()
	if err := repo.SaveDraft(ctx, env.Pool, &domain.ServiceVersion{
		ServiceKey: cfg.ServiceKey,
		Version:    cfg.Version,
		Config:     doc,
	}); err != nil {
		env.t.Fatalf("PublishService: save: %v", err)
	}
	if err := repo.Publish(ctx, env.Pool, cfg.ServiceKey, cfg.Version); err != nil {
		env.t.Fatalf("PublishService: publish: %v", err)
	}
}

// CitizenToken returns a JWT for a fresh citizen and the citizen's id.
func (env *TestEnv) CitizenToken() (token string, citizenID uuid.UUID) {
	env.t.Helper()
	citizenID = uuid.New()
	token, err := env.JWTMgr.GenerateToken(auth.RealmCitizen, citizenID.String(), "citizen@test.gov", "", "")
	if err != nil {
		env.t.Fatalf("CitizenToken: %v", err)
	}
	return token, citizenID
}

// OfficerToken generates a JWT for an officer of TestAuthority with the given role.
func (env *TestEnv) OfficerToken(role string) string {
	env.t.Helper()
	token, err := env.JWTMgr.GenerateToken(auth.RealmOfficer, "officer-"+role, role+"@test.gov", role, TestAuthority)
	if err != nil {
		env.t.Fatalf("OfficerToken: %v", err)
	}
	return token
}

// SubmitApplication creates a building permit for the citizen and submits it.
func (env *TestEnv) SubmitApplication(citizenToken string) domain.Application {
	env.t.Helper()
	resp := env.AuthPOST("/applications", map[string]interface{}{
		"service_key":  "building-permit",
		"authority_id": TestAuthority,
		"data":         map[string]interface{}{"applicant": map[string]string{"name": "Asha Verma"}},
	}, citizenToken)
	var app domain.Application
	env.expect(resp, http.StatusCreated, &app, "SubmitApplication: create")

	resp = env.AuthPOST("/applications/"+app.ARN+"/submit", nil, citizenToken)
	env.expect(resp, http.StatusOK, &app, "SubmitApplication: submit")
	return app
}

// RaiseDemand assesses the scheduled fees, raises a demand over all of them
// and moves the application to PENDING_PAYMENT.
func (env *TestEnv) RaiseDemand(arn string) domain.DemandDetail {
	env.t.Helper()
	officer := env.OfficerToken(auth.RoleScrutiny)

	var assessed struct {
		LineItems []domain.FeeLineItem `json:"line_items"`
	}
	resp := env.AuthPOST("/applications/"+arn+"/fees/from-schedule", nil, officer)
	env.expect(resp, http.StatusCreated, &assessed, "RaiseDemand: assess")

	ids := make([]uuid.UUID, 0, len(assessed.LineItems))
	for _, li := range assessed.LineItems {
		ids = append(ids, li.ID)
	}

	var detail domain.DemandDetail
	resp = env.AuthPOST("/applications/"+arn+"/demands", map[string]interface{}{"line_item_ids": ids}, officer)
	env.expect(resp, http.StatusCreated, &detail, "RaiseDemand: demand")

	resp = env.AuthPOST("/applications/"+arn+"/transitions", map[string]string{"transition_id": "DEMAND_FEES"}, officer)
	env.expect(resp, http.StatusOK, nil, "RaiseDemand: transition")

	return detail
}

// SignedCallback posts a gateway callback signed with TestGatewaySecret.
func (env *TestEnv) SignedCallback(orderID, paymentID, status string) *http.Response {
	env.t.Helper()
	body, err := json.Marshal(map[string]string{
		"gateway_order_id":   orderID,
		"gateway_payment_id": paymentID,
		"status":             status,
	})
	if err != nil {
		env.t.Fatalf("SignedCallback: encode: %v", err)
	}
	return env.RawPOST("/webhooks/payments/"+provider.StubName, body, map[string]string{
		"Content-Type":        "application/json",
		"X-Gateway-Signature": provider.ComputeSignature(TestGatewaySecret, orderID, paymentID),
	})
}

func (env *TestEnv) expect(resp *http.Response, status int, dst interface{}, what string) {
	env.t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != status {
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		env.t.Fatalf("%s: expected %d, got %d: %s", what, status, resp.StatusCode, body.String())
	}
	if dst == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		env.t.Fatalf("%s: decode: %v", what, err)
	}
}

// GET performs an unauthenticated GET request.
func (env *TestEnv) GET(path string) *http.Response {
	env.t.Helper()
	resp, err := http.Get(env.Server.URL + path)
	if err != nil {
		env.t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// AuthGET performs an authenticated GET request.
func (env *TestEnv) AuthGET(path, token string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodGet, path, nil, token)
}

// AuthPOST performs a POST request with optional auth token.
func (env *TestEnv) AuthPOST(path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodPost, path, body, token)
}

// AuthPATCH performs an authenticated PATCH request.
func (env *TestEnv) AuthPATCH(path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodPatch, path, body, token)
}

// RawPOST performs a POST request with raw bytes and custom headers.
func (env *TestEnv) RawPOST(path string, body []byte, headers map[string]string) *http.Response {
	env.t.Helper()
	req, err := http.NewRequest(http.MethodPost, env.Server.URL+path, bytes.NewReader(body))
	if err != nil {
		env.t.Fatalf("RawPOST %s: new request: %v", path, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("RawPOST %s: %v", path, err)
	}
	return resp
}

func (env *TestEnv) do(method, path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			env.t.Fatalf("%s %s: encode: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, env.Server.URL+path, &buf)
	if err != nil {
		env.t.Fatalf("%s %s: new request: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// projectRoot walks up from the working directory to the directory holding go.mod.
func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}
