// Package stores persists short-lived MFA login challenges.
//
// # Design
//
// A challenge is a versioned, binary-encoded record holding the account
// reference, a digest of the one-time code, and the expiry. The Redis store
// keeps it under a TTL and consumes it with a WATCH/MULTI optimistic
// transaction: of two concurrent consumers presenting the right code, exactly
// one EXEC succeeds and the other retries into a missing key. The memory store
// gets the same guarantee from a mutex. Digest comparison is constant-time.
//
// This package does not generate codes, enforce rate limits, or make
// authentication decisions, and never sees a plaintext code.
package stores
