package security

import "time"

// TestSecret is a fixed HMAC secret for unit tests only. Do not use in production.
const TestSecret = "unit-test-secret-unit-test-secret-0123"

// NewTestTokenCodec returns a TokenCodec signed with TestSecret, 24h access and 7d refresh lifetimes.
// Used by tests in this and other packages.
func NewTestTokenCodec() *TokenCodec {
	return NewTokenCodec([]byte(TestSecret), "test-issuer", 24*time.Hour, 7*24*time.Hour)
}
