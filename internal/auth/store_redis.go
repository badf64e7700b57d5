// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prepwise/prepwise/internal/platform/apperr"
	"github.com/prepwise/prepwise/internal/platform/constants"
)

// # Volatile Token Repository

// RedisTokenRepository implements [OneTimeTokenRepository] on Redis.
//
// Expiry is delegated to Redis TTLs, so stale reset and verification tokens
// vanish on their own without a cleanup job or extra schema columns.
type RedisTokenRepository struct {
	client *redis.Client
	prefix string
}

// NewResetTokenRepository creates the token store for password reset flows.
func NewResetTokenRepository(client *redis.Client) *RedisTokenRepository {
	return &RedisTokenRepository{client: client, prefix: constants.RedisPrefixResetToken}
}

// NewVerificationTokenRepository creates the token store for email verification flows.
func NewVerificationTokenRepository(client *redis.Client) *RedisTokenRepository {
	return &RedisTokenRepository{client: client, prefix: constants.RedisPrefixVerifyToken}
}

// Set stores the token with the repository's key prefix and a native TTL.
func (repository *RedisTokenRepository) Set(ctx context.Context, token string, userID string, ttl time.Duration) error {
	if err := repository.client.Set(ctx, repository.prefix+token, userID, ttl).Err(); err != nil {
		return fmt.Errorf("redis_token_repo_set_failed: %w", err)
	}
	return nil
}

// Get returns the user ID bound to the token, or [apperr.NotFound] when the
// token is absent or already expired.
func (repository *RedisTokenRepository) Get(ctx context.Context, token string) (string, error) {
	userID, err := repository.client.Get(ctx, repository.prefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperr.NotFound("Token")
		}
		return "", fmt.Errorf("redis_token_repo_get_failed: %w", err)
	}
	return userID, nil
}

// Delete removes a consumed token. Deleting a missing key is not an error.
func (repository *RedisTokenRepository) Delete(ctx context.Context, token string) error {
	if err := repository.client.Del(ctx, repository.prefix+token).Err(); err != nil {
		return fmt.Errorf("redis_token_repo_delete_failed: %w", err)
	}
	return nil
}
