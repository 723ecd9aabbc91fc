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

// ─── Counter Payment Tests ─────────────────────────────────────────────────

func TestCounterPayment_SettlesDemandAndResumesWorkflow(t *testing.T) {
	env := testutil.NewTestEnv(t)
	citizen, _ := env.CitizenToken()
	app := env.SubmitApplication(citizen)
	detail := env.RaiseDemand(app.ARN)
	require.Equal(t, int64(125000), detail.Demand.TotalAmount)

	accounts := env.OfficerToken(auth.RoleAccounts)
	demandPath := "/demands/" + detail.Demand.ID.String()

	resp := env.AuthPOST(demandPath+"/payments", map[string]interface{}{"mode": "COUNTER", "amount": 25000}, accounts)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var partial domain.PaymentResult
	testutil.DecodeJSON(t, resp, &partial)
	assert.Equal(t, domain.PaymentStatusSuccess, partial.Payment.Status)
	require.NotNil(t, partial.Payment.ReceiptNumber)

	testutil.DecodeJSON(t, env.AuthGET("/applications/"+app.ARN, citizen), &app)
	assert.Equal(t, "PENDING_PAYMENT", app.StateID)

	resp = env.AuthPOST(demandPath+"/payments", map[string]interface{}{"mode": "COUNTER", "amount": 100000}, accounts)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	var summary map[string]interface{}
	testutil.DecodeJSON(t, env.AuthGET(demandPath+"/summary", citizen), &summary)
	assert.Equal(t, "PAID", summary["status"])
	assert.EqualValues(t, 125000, summary["paid_amount"])
	assert.EqualValues(t, 0, summary["remaining_amount"])

	testutil.DecodeJSON(t, env.AuthGET("/applications/"+app.ARN, citizen), &app)
	assert.Equal(t, "SCRUTINY", app.StateID)
}

func TestCounterPayment_RejectsOverpayment(t *testing.T) {
	env := testutil.NewTestEnv(t)
	citizen, _ := env.CitizenToken()
	detail := env.RaiseDemand(env.SubmitApplication(citizen).ARN)

	resp := env.AuthPOST("/demands/"+detail.Demand.ID.String()+"/payments", map[string]interface{}{
		"mode": "COUNTER", "amount": 125001,
	}, env.OfficerToken(auth.RoleAccounts))

	testutil.AssertStatus(t, resp, http.StatusConflict)
	testutil.AssertErrorCode(t, resp, domain.CodeAmountExceedsBalance)
}

func TestCounterPayment_ConcurrentFullPaymentsSettleOnce(t *testing.T) {
	env := testutil.NewTestEnv(t)
	citizen, _ := env.CitizenToken()
	detail := env.RaiseDemand(env.SubmitApplication(citizen).ARN)
	accounts := env.OfficerToken(auth.RoleAccounts)
	demandPath := "/demands/" + detail.Demand.ID.String()

	const clerks = 4
	codes := make([]int, clerks)
	var wg sync.WaitGroup
	for i := 0; i < clerks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := env.AuthPOST(demandPath+"/payments", map[string]interface{}{"mode": "COUNTER", "amount": 125000}, accounts)
			codes[i] = r.StatusCode
			r.Body.Close()
		}(i)
	}
	wg.Wait()

	var created int
	for _, c := range codes {
		if c == http.StatusCreated {
			created++
		} else {
			assert.Equal(t, http.StatusConflict, c)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, int64(125000), testutil.PaidAmount(t, env, detail.Demand.ID.String()))
}

// ─── Gateway Payment Tests ─────────────────────────────────────────────────

func initiateGateway(t *testing.T, env *testutil.TestEnv, citizen string, demand domain.DemandDetail) domain.Payment {
	t.Helper()
	resp := env.AuthPOST("/demands/"+demand.Demand.ID.String()+"/payments", map[string]interface{}{
		"mode": "GATEWAY", "amount": demand.Demand.TotalAmount,
	}, citizen)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var res domain.PaymentResult
	testutil.DecodeJSON(t, resp, &res)
	require.NotNil(t, res.Payment.GatewayOrderID)
	return *res.Payment
}

func TestGatewayPayment_CallbackVerifiesOnce(t *testing.T) {
	env := testutil.NewTestEnv(t)
	citizen, _ := env.CitizenToken()
	app := env.SubmitApplication(citizen)
	detail := env.RaiseDemand(app.ARN)
	payment := initiateGateway(t, env, citizen, detail)
	orderID := *payment.GatewayOrderID

	var first struct {
		Status     string `json:"status"`
		Idempotent bool   `json:"idempotent"`
	}
	resp := env.SignedCallback(orderID, "pay_int_1", "SUCCESS")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.DecodeJSON(t, resp, &first)
	assert.Equal(t, string(domain.PaymentStatusVerified), first.Status)
	assert.False(t, first.Idempotent)

	// The gateway redelivers the same callback.
	var again struct {
		Idempotent bool `json:"idempotent"`
	}
	resp = env.SignedCallback(orderID, "pay_int_1", "SUCCESS")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.DecodeJSON(t, resp, &again)
	assert.True(t, again.Idempotent)

	// A different gateway payment id for a settled order is a replay.
	resp = env.SignedCallback(orderID, "pay_int_2", "SUCCESS")
	testutil.AssertStatus(t, resp, http.StatusConflict)
	testutil.AssertErrorCode(t, resp, domain.CodePaymentReplayDetected)

	assert.Equal(t, int64(125000), testutil.PaidAmount(t, env, detail.Demand.ID.String()))
	assert.Equal(t, 1, testutil.CountOutboxEvents(t, env, payment.ID.String(), string(domain.EventPaymentVerified)))

	testutil.DecodeJSON(t, env.AuthGET("/applications/"+app.ARN, citizen), &app)
	assert.Equal(t, "SCRUTINY", app.StateID)
}

func TestGatewayPayment_BadSignatureRejected(t *testing.T) {
	env := testutil.NewTestEnv(t)
	citizen, _ := env.CitizenToken()
	detail := env.RaiseDemand(env.SubmitApplication(citizen).ARN)
	payment := initiateGateway(t, env, citizen, detail)

	resp := env.RawPOST("/webhooks/payments/stub",
		[]byte(`{"gateway_order_id":"`+*payment.GatewayOrderID+`","gateway_payment_id":"pay_forged","status":"SUCCESS"}`),
		map[string]string{"Content-Type": "application/json", "X-Gateway-Signature": "deadbeef"})

	testutil.AssertStatus(t, resp, http.StatusUnauthorized)
	testutil.AssertErrorCode(t, resp, domain.CodeInvalidGatewaySignature)
	assert.Equal(t, int64(0), testutil.PaidAmount(t, env, detail.Demand.ID.String()))
}

func TestGatewayPayment_FailedCallbackLeavesDemandOpen(t *testing.T) {
	env := testutil.NewTestEnv(t)
	citizen, _ := env.CitizenToken()
	detail := env.RaiseDemand(env.SubmitApplication(citizen).ARN)
	payment := initiateGateway(t, env, citizen, detail)

	var res struct {
		Status string `json:"status"`
	}
	resp := env.SignedCallback(*payment.GatewayOrderID, "pay_declined", "failed")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.DecodeJSON(t, resp, &res)
	assert.Equal(t, string(domain.PaymentStatusFailed), res.Status)

	var summary map[string]interface{}
	testutil.DecodeJSON(t, env.AuthGET("/demands/"+detail.Demand.ID.String()+"/summary", citizen), &summary)
	assert.Equal(t, "PENDING", summary["status"])
	assert.EqualValues(t, 125000, summary["remaining_amount"])
}

// ─── Refund Tests ──────────────────────────────────────────────────────────

func TestRefund_ApproveAndProcess(t *testing.T) {
	env := testutil.NewTestEnv(t)
	citizen, _ := env.CitizenToken()
	detail := env.RaiseDemand(env.SubmitApplication(citizen).ARN)
	accounts := env.OfficerToken(auth.RoleAccounts)

	resp := env.AuthPOST("/demands/"+detail.Demand.ID.String()+"/payments", map[string]interface{}{
		"mode": "COUNTER", "amount": 125000,
	}, accounts)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var paid domain.PaymentResult
	testutil.DecodeJSON(t, resp, &paid)

	refundsPath := "/payments/" + paid.Payment.ID.String() + "/refunds"

	resp = env.AuthPOST(refundsPath, map[string]interface{}{"amount": 100000, "reason": "permit fee waived"}, accounts)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var refund domain.RefundRequest
	testutil.DecodeJSON(t, resp, &refund)
	assert.Equal(t, domain.RefundRequested, refund.Status)

	// Open refunds may not exceed what was paid.
	resp = env.AuthPOST(refundsPath, map[string]interface{}{"amount": 30000, "reason": "duplicate"}, accounts)
	assert.GreaterOrEqual(t, resp.StatusCode, 400)
	resp.Body.Close()

	for _, step := range []struct {
		action string
		want   domain.RefundStatus
	}{
		{"approve", domain.RefundApproved},
		{"process", domain.RefundProcessed},
	} {
		resp = env.AuthPOST("/refunds/"+refund.ID.String()+"/"+step.action, nil, accounts)
		require.Equal(t, http.StatusOK, resp.StatusCode, step.action)
		testutil.DecodeJSON(t, resp, &refund)
		assert.Equal(t, step.want, refund.Status)
	}

	assert.Equal(t, 3, testutil.CountOutboxEvents(t, env, refund.ID.String(), string(domain.EventRefundStatusChanged))+
		testutil.CountOutboxEvents(t, env, refund.ID.String(), string(domain.EventRefundRequested)))
}
