// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

/*
Package billing implements premium subscription checkout and payment webhooks.

# Flow

 1. An authenticated user creates a checkout for a plan. We persist a Checkout
    row with a server-issued reference and hand that reference to the payment
    provider.
 2. The provider calls our webhook with a signed event naming the reference.
 3. We verify the HMAC signature over the raw body, join the event back to the
    checkout via the reference, and grant (or deny) the premium entitlement.

The reference is the only correlation key. No fragile parsing of free-text
payment remarks is involved.
*/
package billing

import (
	"strings"
	"time"

	"github.com/prepwise/prepwise/internal/platform/constants"
)

// Plan identifies a purchasable premium tier.
type Plan string

const (
	PlanMonthly  Plan = "monthly"
	PlanYearly   Plan = "yearly"
	PlanLifetime Plan = "lifetime"
)

// Status tracks a checkout through its lifecycle.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// Checkout is one purchase attempt for one user.
//
// # Reference
//
// Reference is minted server-side at creation ("PW-" + random token) and is
// the durable join key between our records and the provider's events. It
// carries no user data.
type Checkout struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Reference   string     `json:"reference"`
	Plan        Plan       `json:"plan"`
	AmountCents int64      `json:"amount_cents"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

// # Webhook Events

// Event type strings sent by the payment provider.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// PaymentEvent is the decoded webhook payload.
type PaymentEvent struct {
	Type        string `json:"type"`
	Reference   string `json:"reference"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	ProviderID  string `json:"provider_id"`
}

// HasCheckoutReference reports whether the event carries a reference that
// could plausibly have been issued by us.
func (event *PaymentEvent) HasCheckoutReference() bool {
	return strings.HasPrefix(event.Reference, constants.CheckoutReferencePrefix)
}
