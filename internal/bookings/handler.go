package bookings

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-tours/meridian/internal/platform/httpx"
	"github.com/meridian-tours/meridian/internal/shared"
)

// Handler exposes payment confirmation endpoints: the customer-facing
// confirm call and the asynchronous gateway webhook.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency *shared.IdempotencyStore
	validate    *validator.Validate
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service, idempotency *shared.IdempotencyStore) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		idempotency: idempotency,
		validate:    validator.New(),
	}
}

// MountRoutes registers payment and booking routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/payments/confirm", h.confirmPayment)
	r.Post("/webhooks/gateway", h.gatewayWebhook)
	r.Get("/bookings/{id}", h.showBooking)
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req ConfirmPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.ConfirmPayment(r.Context(), req)
	if err != nil {
		h.logger.Warn("confirm payment failed",
			slog.String("proposal", req.ProposalRef), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// webhookEvent is the gateway's delivery envelope. Deliveries are at
// least-once; the event id dedupes replays.
type webhookEvent struct {
	ID   string `json:"id" validate:"required"`
	Type string `json:"type" validate:"required"`
	Data struct {
		AuthorizationRef string            `json:"authorization"`
		Metadata         map[string]string `json:"metadata"`
	} `json:"data"`
}

func (h *Handler) gatewayWebhook(w http.ResponseWriter, r *http.Request) {
	var evt webhookEvent
	if err := httpx.DecodeJSON(r, &evt); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(evt); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if evt.Type != "authorization.succeeded" {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := h.idempotency.CheckAndInsert(r.Context(), evt.ID, "gateway_webhook"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.JSON(w, http.StatusOK, map[string]string{"status": "already processed"})
			return
		}
		h.logger.Error("webhook idempotency check", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	result, err := h.service.ConfirmPayment(r.Context(), ConfirmPaymentRequest{
		ProposalRef:      evt.Data.Metadata["proposal_id"],
		AuthorizationRef: evt.Data.AuthorizationRef,
	})
	if err != nil {
		// Release the key so the gateway's redelivery can retry.
		if delErr := h.idempotency.Delete(r.Context(), evt.ID); delErr != nil {
			h.logger.Error("release webhook key", slog.Any("error", delErr))
		}
		h.logger.Warn("webhook conversion failed",
			slog.String("event", evt.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) showBooking(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "booking id must be numeric")
		return
	}
	booking, err := h.service.GetBooking(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, booking)
}
