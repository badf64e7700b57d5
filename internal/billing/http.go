// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package billing

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prepwise/prepwise/internal/platform/constants"
	"github.com/prepwise/prepwise/internal/platform/ctxutil"
	"github.com/prepwise/prepwise/internal/platform/middleware"
	"github.com/prepwise/prepwise/internal/platform/request"
	"github.com/prepwise/prepwise/internal/platform/respond"
	"github.com/prepwise/prepwise/internal/platform/sec"
	"github.com/prepwise/prepwise/internal/platform/validate"
)

// maxWebhookBodyBytes bounds how much of a webhook request we will buffer.
const maxWebhookBodyBytes = 1 << 20 // 1 MiB

// Handler exposes the billing service over HTTP.
type Handler struct {
	service       *Service
	webhookSecret string
}

// NewHandler creates the HTTP handler for the billing domain.
func NewHandler(service *Service, webhookSecret string) *Handler {
	return &Handler{service: service, webhookSecret: webhookSecret}
}

// Routes mounts the billing endpoints on a chi router.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Group(func(protected chi.Router) {
		protected.Use(middleware.RequireAuth)
		protected.Post("/checkout", handler.CreateCheckout)
	})

	// The payment provider authenticates via HMAC signature, not via session.
	router.Post("/webhooks/payment", handler.PaymentWebhook)

	return router
}

type createCheckoutRequest struct {
	Plan string `json:"plan"`
}

// CreateCheckout handles POST /checkout for the authenticated user.
func (handler *Handler) CreateCheckout(writer http.ResponseWriter, req *http.Request) {
	userID, err := requestutil.RequiredUserID(req)
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	var body createCheckoutRequest
	if err := requestutil.DecodeJSON(req, &body); err != nil {
		respond.Error(writer, req, err)
		return
	}

	validator := &validate.Validator{}
	err = validator.
		Required("plan", body.Plan).
		OneOf("plan", body.Plan, string(PlanMonthly), string(PlanYearly), string(PlanLifetime)).
		Err()
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	checkout, err := handler.service.CreateCheckout(req.Context(), userID, Plan(body.Plan))
	if err != nil {
		respond.Error(writer, req, err)
		return
	}

	respond.Created(writer, checkout)
}

// PaymentWebhook handles POST /webhooks/payment.
//
// # Response Discipline
//
// Every request is acknowledged with 200, including internal processing
// failures. Bad signatures, unknown references, and storage errors alike are
// logged and dropped; reconciliation against the provider's ledger happens
// out of band. The signature is verified over the raw body BEFORE any JSON
// parsing.
func (handler *Handler) PaymentWebhook(writer http.ResponseWriter, req *http.Request) {
	logger := ctxutil.GetLogger(req.Context())

	rawBody, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBodyBytes))
	if err != nil {
		logger.WarnContext(req.Context(), "webhook_body_read_failed", slog.Any("error", err))
		respond.JSON(writer, http.StatusOK, map[string]string{constants.FieldStatus: "ignored"})
		return
	}

	signature := req.Header.Get(constants.WebhookSignatureHeader)
	if !sec.VerifyWebhookSignature(rawBody, signature, handler.webhookSecret) {
		logger.WarnContext(req.Context(), "webhook_signature_rejected",
			slog.String("remote_addr", req.RemoteAddr),
		)
		respond.JSON(writer, http.StatusOK, map[string]string{constants.FieldStatus: "ignored"})
		return
	}

	var event PaymentEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		logger.WarnContext(req.Context(), "webhook_payload_malformed", slog.Any("error", err))
		respond.JSON(writer, http.StatusOK, map[string]string{constants.FieldStatus: "ignored"})
		return
	}

	if err := handler.service.HandleEvent(req.Context(), &event); err != nil {
		logger.ErrorContext(req.Context(), "webhook_event_failed",
			slog.String("type", event.Type),
			slog.String("reference", event.Reference),
			slog.Any("error", err),
		)
		respond.JSON(writer, http.StatusOK, map[string]string{constants.FieldStatus: "ignored"})
		return
	}

	respond.JSON(writer, http.StatusOK, map[string]string{constants.FieldStatus: "processed"})
}
