// Package middleware adapts [agriauth.Engine] token checks to net/http.
//
// # Guards
//
//   - [Guard] requires a valid bearer token and stores its claims in the
//     request context.
//   - [RequirePermission] additionally checks a permission against the
//     role policy.
//   - [Optional] attaches claims when a valid token is present and lets
//     anonymous requests through.
//
// [ClientMetadata] copies the client IP, User-Agent, and request id onto
// the context so that engine rate limits, risk scoring, and audit records
// see them.
//
// This package translates HTTP semantics into Engine calls. It does not
// parse tokens or evaluate roles itself.
package middleware
