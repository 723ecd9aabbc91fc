package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/guard"
	"github.com/civicflow/platform/internal/provider"
	"github.com/civicflow/platform/internal/service"
	"github.com/go-chi/chi/v5"
)

// WebhookHandler handles payment gateway callbacks.
type WebhookHandler struct {
	paymentSvc *service.PaymentService
	gateways   *provider.Registry
	limiter    *guard.RateLimiter
	inflight   *guard.IdempotencyGuard
	logger     *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(
	paymentSvc *service.PaymentService,
	gateways *provider.Registry,
	limiter *guard.RateLimiter,
	inflight *guard.IdempotencyGuard,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		paymentSvc: paymentSvc,
		gateways:   gateways,
		limiter:    limiter,
		inflight:   inflight,
		logger:     logger,
	}
}

type callbackResponse struct {
	Status     string          `json:"status"`
	Idempotent bool            `json:"idempotent,omitempty"`
	Payment    *domain.Payment `json:"payment,omitempty"`
}

// HandlePaymentCallback handles POST /webhooks/payments/{provider}.
// The signature may come in the body or the X-Gateway-Signature header.
func (h *WebhookHandler) HandlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	ip := ClientIP(r)
	if res := h.limiter.Check(r.Context(), ip); !res.Allowed {
		h.logger.Warn("webhook rate limited", "ip", ip, "reason", res.Reason)
		RespondJSON(w, http.StatusTooManyRequests, map[string]string{
			"code": "RATE_LIMITED", "message": res.Reason,
		})
		return
	}

	name := chi.URLParam(r, "provider")
	if _, err := h.gateways.Get(name); err != nil {
		RespondError(w, domain.ErrNotFound("payment provider", name))
		return
	}

	var payload domain.CallbackPayload
	if err := DecodeJSON(r, &payload); err != nil {
		badBody(w)
		return
	}
	if payload.GatewaySignature == "" {
		payload.GatewaySignature = r.Header.Get("X-Gateway-Signature")
	}

	key := strings.TrimSpace(payload.GatewayPaymentID)
	if res := h.inflight.Check(r.Context(), key); !res.Allowed {
		RespondJSON(w, http.StatusConflict, map[string]string{
			"code": domain.CodeConflict, "message": res.Reason,
		})
		return
	}
	defer h.inflight.Release(key)

	result, err := h.paymentSvc.HandleCallback(r.Context(), payload)
	if err != nil {
		h.logger.Warn("payment callback rejected",
			"provider", name, "order_id", payload.GatewayOrderID,
			"code", domain.CodeOf(err), "error", err)
		RespondError(w, err)
		return
	}
	if result == nil {
		h.logger.Info("payment callback for unknown order", "provider", name, "order_id", payload.GatewayOrderID)
		RespondJSON(w, http.StatusNotFound, map[string]string{
			"code": domain.CodeNotFound, "message": "not found",
		})
		return
	}

	RespondJSON(w, http.StatusOK, callbackResponse{
		Status:     string(result.Payment.Status),
		Idempotent: result.Idempotent,
		Payment:    result.Payment,
	})
}
