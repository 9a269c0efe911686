// Package agriauth is the authentication core of the AgriVision backend: a
// rate-limited, risk-scored login flow with a one-time-code second factor and
// stateless signed bearer tokens.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// agriauth is the public surface. It exposes [Engine], [Builder], [Config], and value types
// ([Account], [LoginResult], [Claims]). Rate counters, challenge storage, and audit dispatch
// live under internal/ and are never exported. Credential persistence, risk scoring, and
// code delivery are injected capabilities ([AccountStore], risk.Scorer, notify.Channel).
//
// # Login state machine
//
//	Start -> RateChecked -> CredentialsVerified -> RiskEvaluated
//	      -> (MFARequired -> MFAVerified) -> SessionIssued
//
// Every gate can exit to a rejection. Rejections and successes are recorded through the
// audit dispatcher, which never blocks the authentication decision.
package agriauth
