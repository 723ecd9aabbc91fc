package handler

import (
	"context"
	"net/http"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PaymentHandler handles fee assessment, demand and payment endpoints.
type PaymentHandler struct {
	paymentSvc *service.PaymentService
	appSvc     *service.ApplicationService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc *service.PaymentService, appSvc *service.ApplicationService) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc, appSvc: appSvc}
}

type assessFeesRequest struct {
	Items []domain.FeeLineInput `json:"items"`
}

// AssessFees handles POST /applications/{arn}/fees (officers).
func (h *PaymentHandler) AssessFees(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	var req assessFeesRequest
	if err := DecodeJSON(r, &req); err != nil {
		badBody(w)
		return
	}

	items, err := h.paymentSvc.AssessFees(r.Context(), chi.URLParam(r, "arn"), req.Items, actor)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, map[string]interface{}{"line_items": items})
}

// AssessFromSchedule handles POST /applications/{arn}/fees/from-schedule (officers).
func (h *PaymentHandler) AssessFromSchedule(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	items, err := h.paymentSvc.AssessFromSchedule(r.Context(), chi.URLParam(r, "arn"), actor)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, map[string]interface{}{"line_items": items})
}

type createDemandRequest struct {
	LineItemIDs []uuid.UUID `json:"line_item_ids"`
}

// CreateDemand handles POST /applications/{arn}/demands (officers).
func (h *PaymentHandler) CreateDemand(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	var req createDemandRequest
	if err := DecodeJSON(r, &req); err != nil {
		badBody(w)
		return
	}

	detail, err := h.paymentSvc.CreateDemand(r.Context(), domain.CreateDemandParams{
		ARN:         chi.URLParam(r, "arn"),
		LineItemIDs: req.LineItemIDs,
		CreatedBy:   actor.ID,
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, detail)
}

// GetDemand handles GET /demands/{id}.
func (h *PaymentHandler) GetDemand(w http.ResponseWriter, r *http.Request) {
	detail, err := h.visibleDemand(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, detail)
}

// GetDemandSummary handles GET /demands/{id}/summary.
func (h *PaymentHandler) GetDemandSummary(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}

	summary, err := h.paymentSvc.DemandSummary(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	if err := h.owns(r.Context(), summary.ARN, actor); err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, summary)
}

type recordPaymentRequest struct {
	Mode           domain.PaymentMode `json:"mode"`
	Amount         int64              `json:"amount"`
	Currency       string             `json:"currency"`
	ReceiptNumber  string             `json:"receipt_number"`
	GatewayOrderID string             `json:"gateway_order_id"`
}

// RecordPayment handles POST /demands/{id}/payments. Only officers may
// record counter receipts.
func (h *PaymentHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	var req recordPaymentRequest
	if err := DecodeJSON(r, &req); err != nil {
		badBody(w)
		return
	}
	if req.Mode == domain.PaymentModeCounter && actor.Type != domain.ActorOfficer {
		RespondError(w, domain.ErrForbidden("counter payments are recorded by officers"))
		return
	}

	detail, err := h.visibleDemand(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	result, err := h.paymentSvc.RecordPayment(r.Context(), domain.RecordPaymentParams{
		ARN:            detail.Demand.ARN,
		DemandID:       detail.Demand.ID,
		Mode:           req.Mode,
		Amount:         req.Amount,
		Currency:       req.Currency,
		ReceiptNumber:  req.ReceiptNumber,
		GatewayOrderID: req.GatewayOrderID,
		RecordedBy:     actor.ID,
		ActorType:      actor.Type,
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, result)
}

type verifyPaymentRequest struct {
	GatewayPaymentID string `json:"gateway_payment_id"`
	GatewaySignature string `json:"gateway_signature"`
}

// VerifyPayment handles POST /payments/{id}/verify.
func (h *PaymentHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}

	var req verifyPaymentRequest
	if err := DecodeJSON(r, &req); err != nil {
		badBody(w)
		return
	}

	p, err := h.paymentSvc.GetPayment(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	if err := h.owns(r.Context(), p.ARN, actor); err != nil {
		RespondError(w, err)
		return
	}

	result, err := h.paymentSvc.VerifyPayment(r.Context(), domain.VerifyGatewayParams{
		PaymentID:        id,
		GatewayPaymentID: req.GatewayPaymentID,
		GatewaySignature: req.GatewaySignature,
		VerifiedBy:       actor.ID,
		ActorType:        actor.Type,
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

func (h *PaymentHandler) visibleDemand(r *http.Request) (*domain.DemandDetail, error) {
	actor, err := actorFromRequest(r)
	if err != nil {
		return nil, err
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		return nil, err
	}
	detail, err := h.paymentSvc.GetDemand(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if err := h.owns(r.Context(), detail.Demand.ARN, actor); err != nil {
		return nil, err
	}
	return detail, nil
}

// owns hides other citizens' records behind NOT_FOUND.
func (h *PaymentHandler) owns(ctx context.Context, arn string, actor domain.Actor) error {
	if actor.Type != domain.ActorCitizen {
		return nil
	}
	_, err := h.appSvc.Get(ctx, arn, actor)
	return err
}
