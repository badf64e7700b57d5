// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package billing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/prepwise/prepwise/internal/platform/apperr"
	"github.com/prepwise/prepwise/internal/platform/constants"
	"github.com/prepwise/prepwise/internal/platform/ctxutil"
	"github.com/prepwise/prepwise/internal/platform/sec"
	"github.com/prepwise/prepwise/pkg/uuidv7"
)

// referenceTokenLength is the byte length of the random part of a checkout
// reference.
const referenceTokenLength = 16

// planPrice maps each plan to its charge in cents.
var planPrice = map[Plan]int64{
	PlanMonthly:  999,
	PlanYearly:   7999,
	PlanLifetime: 19999,
}

// planDuration maps each plan to its entitlement window.
// Zero means lifetime (no expiry).
var planDuration = map[Plan]time.Duration{
	PlanMonthly:  30 * 24 * time.Hour,
	PlanYearly:   365 * 24 * time.Hour,
	PlanLifetime: 0,
}

// Service orchestrates checkout creation and payment event processing.
type Service struct {
	checkoutRepository CheckoutRepository
	logger             *slog.Logger
}

// NewService wires the billing service.
func NewService(checkoutRepository CheckoutRepository, logger *slog.Logger) *Service {
	return &Service{checkoutRepository: checkoutRepository, logger: logger}
}

// CreateCheckout opens a pending checkout for the given user and plan.
//
// The returned checkout carries the server-issued reference the client must
// forward to the payment provider.
func (service *Service) CreateCheckout(ctx context.Context, userID string, plan Plan) (*Checkout, error) {
	amount, known := planPrice[plan]
	if !known {
		return nil, apperr.ValidationError("Unknown plan")
	}

	token, err := sec.GenerateSecureToken(referenceTokenLength)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	checkout := &Checkout{
		ID:          uuidv7.New(),
		UserID:      userID,
		Reference:   constants.CheckoutReferencePrefix + strings.ToUpper(token),
		Plan:        plan,
		AmountCents: amount,
		Status:      StatusPending,
	}

	if err := service.checkoutRepository.Create(ctx, checkout); err != nil {
		return nil, err
	}

	return checkout, nil
}

// HandleEvent processes one verified payment webhook event.
//
// # Contract
//
// This method never fails the webhook for business reasons. Unknown event
// types, unknown references, and replays are logged and swallowed; only
// storage-level failures return an error, and the transport still
// acknowledges those with 200 after logging them.
func (service *Service) HandleEvent(ctx context.Context, event *PaymentEvent) error {
	logger := ctxutil.GetLogger(ctx)

	if !event.HasCheckoutReference() {
		logger.WarnContext(ctx, "payment_event_without_reference",
			slog.String("type", event.Type),
		)
		return nil
	}

	switch event.Type {
	case EventPaymentSucceeded:
		return service.completePayment(ctx, event)

	case EventPaymentFailed:
		if err := service.checkoutRepository.MarkFailed(ctx, event.Reference); err != nil {
			return err
		}
		logger.InfoContext(ctx, "payment_failed",
			slog.String("reference", event.Reference),
		)
		return nil

	default:
		logger.WarnContext(ctx, "payment_event_unknown_type",
			slog.String("type", event.Type),
		)
		return nil
	}
}

// completePayment validates the paid amount, flips the checkout, and grants
// premium.
func (service *Service) completePayment(ctx context.Context, event *PaymentEvent) error {
	logger := ctxutil.GetLogger(ctx)

	checkout, err := service.checkoutRepository.FindByReference(ctx, event.Reference)
	if err != nil {
		if apperr.IsAppError(err) {
			logger.WarnContext(ctx, "payment_event_unknown_reference",
				slog.String("reference", event.Reference),
			)
			return nil
		}
		return err
	}

	if event.AmountCents != checkout.AmountCents {
		logger.WarnContext(ctx, "payment_amount_mismatch",
			slog.String("reference", event.Reference),
			slog.Int64("expected_cents", checkout.AmountCents),
			slog.Int64("received_cents", event.AmountCents),
		)
		if err := service.checkoutRepository.MarkFailed(ctx, event.Reference); err != nil {
			return err
		}
		return nil
	}

	now := time.Now()
	premiumUntil := entitlementExpiry(checkout.Plan, now)

	if _, err := service.checkoutRepository.CompletePayment(ctx, event.Reference, now, premiumUntil); err != nil {
		if apperr.IsAppError(err) {
			// Replay of an already-processed event.
			logger.InfoContext(ctx, "payment_event_replayed",
				slog.String("reference", event.Reference),
			)
			return nil
		}
		return err
	}

	logger.InfoContext(ctx, "premium_granted",
		slog.String("reference", event.Reference),
		slog.String("user_id", checkout.UserID),
		slog.String("plan", string(checkout.Plan)),
	)
	return nil
}

// entitlementExpiry computes the premium expiry for a plan paid at the given
// time. Returns nil for a lifetime grant.
func entitlementExpiry(plan Plan, paidAt time.Time) *time.Time {
	duration := planDuration[plan]
	if duration == 0 {
		return nil
	}
	until := paidAt.Add(duration)
	return &until
}
