package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Validator Tests ---

func TestValidateCurrency(t *testing.T) {
	tests := []struct {
		name     string
		currency string
		wantErr  bool
	}{
		{"valid INR", "INR", false},
		{"valid USD", "USD", false},
		{"lowercase", "inr", true},
		{"too short", "IN", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCurrency(tt.currency)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePositiveAmount(t *testing.T) {
	assert.NoError(t, ValidatePositiveAmount(1))
	assert.Error(t, ValidatePositiveAmount(0))
	assert.Error(t, ValidatePositiveAmount(-100))
}

func TestValidateHeadCode(t *testing.T) {
	assert.NoError(t, ValidateHeadCode("SCRUTINY_FEE"))
	assert.NoError(t, ValidateHeadCode("CESS2"))
	assert.Error(t, ValidateHeadCode(""))
	assert.Error(t, ValidateHeadCode("scrutiny fee"))
}

func TestValidateServiceKey(t *testing.T) {
	assert.NoError(t, ValidateServiceKey("building-permit"))
	assert.NoError(t, ValidateServiceKey("trade_licence"))
	assert.Error(t, ValidateServiceKey("Building Permit"))
	assert.Error(t, ValidateServiceKey(""))
}

func TestNormalizeHeadCode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"scrutiny_fee", "SCRUTINY_FEE"},
		{"  Permit_Fee\t", "PERMIT_FEE"},
		{"CESS", "CESS"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeHeadCode(tt.in)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, ValidateHeadCode(got))
		})
	}
}

func TestValidateFeeLines(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Error(t, ValidateFeeLines(nil))
	})

	t.Run("valid", func(t *testing.T) {
		err := ValidateFeeLines([]FeeLineInput{
			{HeadCode: "SCRUTINY_FEE", Amount: 50000},
			{HeadCode: "CESS", Amount: 1},
		})
		assert.NoError(t, err)
	})

	t.Run("reports 1-based line", func(t *testing.T) {
		err := ValidateFeeLines([]FeeLineInput{
			{HeadCode: "SCRUTINY_FEE", Amount: 50000},
			{HeadCode: "CESS", Amount: 0},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})
}

// --- Demand Status Tests ---

func TestDeriveDemandStatus(t *testing.T) {
	tests := []struct {
		paid, total int64
		want        DemandStatus
	}{
		{0, 500, DemandPending},
		{1, 500, DemandPartiallyPaid},
		{499, 500, DemandPartiallyPaid},
		{500, 500, DemandPaid},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d of %d", tt.paid, tt.total), func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveDemandStatus(tt.paid, tt.total))
		})
	}
}

func TestFeeDemand_Remaining(t *testing.T) {
	d := FeeDemand{TotalAmount: 500, PaidAmount: 200}
	assert.Equal(t, int64(300), d.Remaining())
}

func TestPaymentStatus_Predicates(t *testing.T) {
	assert.True(t, PaymentStatusSuccess.Settled())
	assert.True(t, PaymentStatusVerified.Settled())
	assert.False(t, PaymentStatusInitiated.Settled())
	assert.False(t, PaymentStatusFailed.Settled())

	assert.False(t, PaymentStatusInitiated.Terminal())
	assert.True(t, PaymentStatusFailed.Terminal())
}

// --- AppError Tests ---

func TestAppError_Error(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := ErrNotFound("application", "abc-123")
		assert.Equal(t, "NOT_FOUND: application abc-123 not found", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := ErrInternal("database error", cause)
		assert.Contains(t, err.Error(), "INTERNAL_ERROR")
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := ErrInternal("wrapped", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestAppError_IsMatchesCode(t *testing.T) {
	wrapped := fmt.Errorf("verify: %w", ErrPaymentReplayDetected())
	assert.True(t, errors.Is(wrapped, ErrPaymentReplayDetected()))
	assert.False(t, errors.Is(wrapped, ErrInvalidGatewaySignature()))
	assert.Equal(t, CodePaymentReplayDetected, CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}

func TestErrorFactories(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantCode   string
		wantStatus int
	}{
		{"ErrNotFound", ErrNotFound("demand", "123"), "NOT_FOUND", 404},
		{"ErrConflict", ErrConflict("stale row version"), "CONFLICT", 409},
		{"ErrValidation", ErrValidation("bad input"), "VALIDATION_ERROR", 400},
		{"ErrInvalidState", ErrInvalidState("not settled"), "INVALID_STATE", 409},
		{"ErrPaymentAmountInvalid", ErrPaymentAmountInvalid(), "PAYMENT_AMOUNT_INVALID", 400},
		{"ErrAmountExceedsBalance", ErrAmountExceedsBalance(550, 500), "PAYMENT_AMOUNT_EXCEEDS_REMAINING_BALANCE", 409},
		{"ErrCallbackFieldsRequired", ErrCallbackFieldsRequired(), "PAYMENT_CALLBACK_FIELDS_REQUIRED", 400},
		{"ErrInvalidPaymentStatus", ErrInvalidPaymentStatus("PENDING"), "INVALID_PAYMENT_STATUS", 400},
		{"ErrInvalidGatewaySignature", ErrInvalidGatewaySignature(), "INVALID_GATEWAY_SIGNATURE", 401},
		{"ErrSignatureSecretMissing", ErrSignatureSecretMissing(), "PAYMENT_SIGNATURE_SECRET_NOT_CONFIGURED", 500},
		{"ErrPaymentReplayDetected", ErrPaymentReplayDetected(), "PAYMENT_REPLAY_DETECTED", 409},
		{"ErrServiceVersionNotFound", ErrServiceVersionNotFound("building-permit", 3), "SERVICE_VERSION_NOT_FOUND", 404},
		{"ErrFeeScheduleInvalidLine", ErrFeeScheduleInvalidLine(2, "amount must be positive"), "FEE_SCHEDULE_INVALID_LINE_2", 422},
		{"ErrTransitionFailed", ErrTransitionFailed("documents missing"), "TRANSITION_FAILED", 422},
		{"ErrGatewayUnavailable", ErrGatewayUnavailable(nil), "GATEWAY_UNAVAILABLE", 503},
		{"ErrInternal", ErrInternal("oops", nil), "INTERNAL_ERROR", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.Equal(t, tt.wantStatus, tt.err.Status)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestSecurityErrorsDoNotLeakDetail(t *testing.T) {
	for _, err := range []*AppError{ErrInvalidGatewaySignature(), ErrPaymentReplayDetected()} {
		assert.NotContains(t, err.Message, "order")
		assert.NotContains(t, err.Message, "secret")
	}
}

// --- Event Factory Tests ---

func TestNewStateChangedEvent(t *testing.T) {
	evt := NewStateChangedEvent("ARN-1", "SUBMIT", "DRAFT", "SUBMITTED", ActorCitizen, "u-1")

	assert.NotEqual(t, uuid.Nil, evt.EventID)
	assert.Equal(t, AggregateApplication, evt.AggregateType)
	assert.Equal(t, "ARN-1", evt.AggregateID)
	assert.Equal(t, "ARN-1", evt.PartitionKey)
	assert.Equal(t, EventApplicationState, evt.EventType)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "SUBMITTED", payload["to_state"])
	assert.Equal(t, "CITIZEN", payload["actor_type"])
}

func TestNewPaymentEvent_PartitionsByARN(t *testing.T) {
	p := &Payment{ID: uuid.New(), ARN: "ARN-9", DemandID: uuid.New(), Mode: PaymentModeCounter, Status: PaymentStatusSuccess, Amount: 200}
	d := &FeeDemand{ID: p.DemandID, PaidAmount: 200, TotalAmount: 500, Status: DemandPartiallyPaid}

	evt := NewPaymentEvent(EventPaymentRecorded, p, d)
	assert.Equal(t, "ARN-9", evt.PartitionKey)
	assert.Equal(t, p.ID.String(), evt.AggregateID)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, float64(200), payload["demand_paid_amount"])
	assert.Equal(t, "PARTIALLY_PAID", payload["demand_status"])
}

func TestNewAuditEvent_NilPayload(t *testing.T) {
	evt := NewAuditEvent("ARN-1", AuditStateChanged, ActorSystem, "system", nil)
	assert.Equal(t, json.RawMessage(`{}`), evt.Payload)
	assert.Equal(t, ActorSystem, evt.ActorType)
}
