// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package billing

import (
	"context"
	"time"
)

// # Checkout Data Access

// CheckoutRepository defines the data access contract for checkouts.
type CheckoutRepository interface {
	// Create persists a new pending checkout.
	//
	// Returns [apperr.Conflict] on a duplicate reference (practically
	// impossible with 32 random bytes, but the unique index enforces it).
	Create(ctx context.Context, checkout *Checkout) error

	// FindByReference returns the checkout carrying the given reference.
	//
	// Returns [apperr.NotFound] when no checkout matches.
	FindByReference(ctx context.Context, reference string) (*Checkout, error)

	// MarkFailed transitions a pending checkout to failed.
	// A checkout that is not pending is left untouched.
	MarkFailed(ctx context.Context, reference string) error

	// CompletePayment flips the pending checkout to paid AND grants the user's
	// premium entitlement in one transaction.
	//
	// # Idempotency
	//
	// The status transition is guarded by "WHERE status = 'pending'". A
	// replayed webhook matches zero rows, the entitlement is not re-granted,
	// and [apperr.NotFound] is returned so the caller can treat the replay as
	// already-processed.
	//
	// premiumUntil is nil for a lifetime grant.
	CompletePayment(ctx context.Context, reference string, paidAt time.Time, premiumUntil *time.Time) (*Checkout, error)
}
