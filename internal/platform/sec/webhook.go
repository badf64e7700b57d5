// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package sec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// # Webhook Signatures

// VerifyWebhookSignature recomputes an HMAC-SHA256 over the exact raw payload
// bytes and compares it to the provider-supplied signature in constant time.
//
// # Raw Bytes Only
//
// Callers must pass the request body exactly as received, BEFORE any JSON
// parsing. Re-serializing a parsed payload breaks the check whenever key
// order or whitespace differs from the provider's encoding.
//
// The signature may carry a "sha256=" prefix (GitHub-style); it is stripped
// before comparison. Any malformed input (empty signature, non-hex characters)
// returns false. This function never returns an error and never panics:
// "false" always means "do not trust this payload".
func VerifyWebhookSignature(rawPayload []byte, providedSignature, sharedSecret string) bool {
	if providedSignature == "" || sharedSecret == "" {
		return false
	}

	providedSignature = strings.TrimPrefix(providedSignature, "sha256=")

	providedBytes, err := hex.DecodeString(providedSignature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(sharedSecret))
	mac.Write(rawPayload)
	expected := mac.Sum(nil)

	// hmac.Equal is constant-time, defeating byte-by-byte timing probes.
	return hmac.Equal(providedBytes, expected)
}

// SignWebhookPayload computes the hex HMAC-SHA256 signature for a payload.
//
// Used by tests and by outbound webhook simulation tooling; the inbound
// verification path is [VerifyWebhookSignature].
func SignWebhookPayload(rawPayload []byte, sharedSecret string) string {
	mac := hmac.New(sha256.New, []byte(sharedSecret))
	mac.Write(rawPayload)
	return hex.EncodeToString(mac.Sum(nil))
}
