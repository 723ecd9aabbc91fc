package handler

import (
	"context"
	"net/http"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/service"
	"github.com/google/uuid"
)

// RefundHandler handles officer refund endpoints.
type RefundHandler struct {
	refundSvc *service.RefundService
}

// NewRefundHandler creates a new RefundHandler.
func NewRefundHandler(refundSvc *service.RefundService) *RefundHandler {
	return &RefundHandler{refundSvc: refundSvc}
}

type createRefundRequest struct {
	Amount int64  `json:"amount"` // 0 refunds the full payment
	Reason string `json:"reason"`
}

// Create handles POST /payments/{id}/refunds.
func (h *RefundHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	paymentID, err := pathUUID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}

	var req createRefundRequest
	if err := DecodeJSON(r, &req); err != nil {
		badBody(w)
		return
	}

	refund, err := h.refundSvc.Request(r.Context(), domain.CreateRefundParams{
		PaymentID:   paymentID,
		Amount:      req.Amount,
		Reason:      req.Reason,
		RequestedBy: actor.ID,
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, refund)
}

// Approve handles POST /refunds/{id}/approve.
func (h *RefundHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.refundSvc.Approve)
}

// Reject handles POST /refunds/{id}/reject.
func (h *RefundHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.refundSvc.Reject)
}

// Process handles POST /refunds/{id}/process.
func (h *RefundHandler) Process(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.refundSvc.Process)
}

type refundDecision func(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.RefundRequest, error)

// decide answers 200 with the refund as stored; callers compare its status
// with the one they asked for.
func (h *RefundHandler) decide(w http.ResponseWriter, r *http.Request, fn refundDecision) {
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

	refund, err := fn(r.Context(), id, actor)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, refund)
}
