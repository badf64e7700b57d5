// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepwise/prepwise/internal/platform/apperr"
	"github.com/prepwise/prepwise/internal/platform/dberr"
)

// PostgresCheckoutRepository implements [CheckoutRepository] using pgx.
type PostgresCheckoutRepository struct {
	pool *pgxpool.Pool
}

// NewCheckoutRepository creates a new PostgreSQL implementation of the [CheckoutRepository].
func NewCheckoutRepository(pool *pgxpool.Pool) *PostgresCheckoutRepository {
	return &PostgresCheckoutRepository{pool: pool}
}

const checkoutColumns = `id, userid, reference, plan, amountcents, status, createdat, paidat`

// scanCheckout hydrates a Checkout from a pgx row.
func scanCheckout(row pgx.Row) (*Checkout, error) {
	checkout := &Checkout{}
	err := row.Scan(
		&checkout.ID,
		&checkout.UserID,
		&checkout.Reference,
		&checkout.Plan,
		&checkout.AmountCents,
		&checkout.Status,
		&checkout.CreatedAt,
		&checkout.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	return checkout, nil
}

// Create persists a new pending checkout row.
func (repository *PostgresCheckoutRepository) Create(ctx context.Context, checkout *Checkout) error {
	const query = `
		INSERT INTO billing.checkout (
			id, userid, reference, plan, amountcents, status, createdat
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if checkout.CreatedAt.IsZero() {
		checkout.CreatedAt = time.Now()
	}

	_, err := repository.pool.Exec(ctx, query,
		checkout.ID,
		checkout.UserID,
		checkout.Reference,
		checkout.Plan,
		checkout.AmountCents,
		checkout.Status,
		checkout.CreatedAt,
	)

	if err != nil {
		return dberr.Wrap(err, "Checkout reference already exists")
	}

	return nil
}

// FindByReference retrieves a checkout by its provider-facing reference.
func (repository *PostgresCheckoutRepository) FindByReference(ctx context.Context, reference string) (*Checkout, error) {
	const query = `
		SELECT ` + checkoutColumns + `
		FROM billing.checkout
		WHERE reference = $1`

	checkout, err := scanCheckout(repository.pool.QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Checkout")
		}
		return nil, fmt.Errorf("postgres_checkout_repo_find_failed: %w", err)
	}

	return checkout, nil
}

// MarkFailed transitions a pending checkout to failed.
func (repository *PostgresCheckoutRepository) MarkFailed(ctx context.Context, reference string) error {
	const query = `
		UPDATE billing.checkout
		SET status = $2
		WHERE reference = $1 AND status = $3`

	if _, err := repository.pool.Exec(ctx, query, reference, StatusFailed, StatusPending); err != nil {
		return fmt.Errorf("postgres_checkout_repo_mark_failed_failed: %w", err)
	}

	return nil
}

// CompletePayment flips the checkout to paid and grants premium in one
// transaction. See [CheckoutRepository.CompletePayment].
func (repository *PostgresCheckoutRepository) CompletePayment(ctx context.Context, reference string, paidAt time.Time, premiumUntil *time.Time) (*Checkout, error) {
	transaction, err := repository.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres_checkout_repo_complete_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(ctx) }()

	// The status guard makes webhook replays a no-op.
	const flipQuery = `
		UPDATE billing.checkout
		SET status = $2, paidat = $3
		WHERE reference = $1 AND status = $4
		RETURNING ` + checkoutColumns

	checkout, err := scanCheckout(transaction.QueryRow(ctx, flipQuery, reference, StatusPaid, paidAt, StatusPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Pending checkout")
		}
		return nil, fmt.Errorf("postgres_checkout_repo_complete_flip_failed: %w", err)
	}

	const grantQuery = `
		UPDATE users.account
		SET ispremium = TRUE, premiumexpiresat = $2, updatedat = $3
		WHERE id = $1`

	if _, err := transaction.Exec(ctx, grantQuery, checkout.UserID, premiumUntil, time.Now()); err != nil {
		return nil, fmt.Errorf("postgres_checkout_repo_complete_grant_failed: %w", err)
	}

	if err := transaction.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres_checkout_repo_complete_commit_failed: %w", err)
	}

	return checkout, nil
}
