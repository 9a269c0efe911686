package internaldefs

import (
	"github.com/agrivision/agriauth"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   agriauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   agriauth.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for events lost to dispatcher backpressure.
const AuditDroppedName = "agriauth_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

var CounterDefs = []CounterDef{
	{ID: agriauth.MetricLoginSuccess, Name: "agriauth_login_success_total", Help: "Logins that issued a token without step-up."},
	{ID: agriauth.MetricLoginFailure, Name: "agriauth_login_failure_total", Help: "Logins rejected for invalid credentials."},
	{ID: agriauth.MetricLoginRateLimited, Name: "agriauth_login_rate_limited_total", Help: "Logins rejected by a rate window."},
	{ID: agriauth.MetricLoginRiskRejected, Name: "agriauth_login_risk_rejected_total", Help: "Logins rejected at the risk block threshold."},
	{ID: agriauth.MetricMFARequired, Name: "agriauth_mfa_required_total", Help: "Logins stepped up to a one-time code."},
	{ID: agriauth.MetricMFASuccess, Name: "agriauth_mfa_success_total", Help: "Successful one-time code verifications."},
	{ID: agriauth.MetricMFAFailure, Name: "agriauth_mfa_failure_total", Help: "Failed one-time code verifications."},
	{ID: agriauth.MetricMFADeliveryFailed, Name: "agriauth_mfa_delivery_failed_total", Help: "Challenges no channel could deliver."},
	{ID: agriauth.MetricRiskFallback, Name: "agriauth_risk_fallback_total", Help: "Risk evaluations that used the fallback score."},
	{ID: agriauth.MetricRateLimitHit, Name: "agriauth_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: agriauth.MetricTokenIssued, Name: "agriauth_token_issued_total", Help: "Issued bearer tokens."},
	{ID: agriauth.MetricTokenInvalid, Name: "agriauth_token_invalid_total", Help: "Rejected bearer tokens."},
	{ID: agriauth.MetricRegisterSuccess, Name: "agriauth_register_success_total", Help: "Created accounts."},
	{ID: agriauth.MetricRegisterDuplicate, Name: "agriauth_register_duplicate_total", Help: "Registrations rejected as duplicate email."},
	{ID: agriauth.MetricRegisterRateLimited, Name: "agriauth_register_rate_limited_total", Help: "Rate-limited registrations."},
	{ID: agriauth.MetricPasswordChange, Name: "agriauth_password_change_total", Help: "Successful password changes."},
	{ID: agriauth.MetricRoleChange, Name: "agriauth_role_change_total", Help: "Role assignments."},
	{ID: agriauth.MetricAccountDeactivated, Name: "agriauth_account_deactivated_total", Help: "Account deactivations."},
	{ID: agriauth.MetricPasswordReset, Name: "agriauth_password_reset_total", Help: "Passwords replaced through a reset token."},
	{ID: agriauth.MetricEmailVerified, Name: "agriauth_email_verified_total", Help: "Email addresses confirmed through a verification token."},
	{ID: agriauth.MetricExternalLogin, Name: "agriauth_external_login_total", Help: "Logins through an external identity provider."},
	{ID: agriauth.MetricIdentityLinked, Name: "agriauth_identity_linked_total", Help: "External identities linked to an account."},
}

var HistogramDefs = []HistogramDef{
	{ID: agriauth.MetricLoginLatency, Name: "agriauth_login_latency_seconds", Help: "Login latency histogram."},
	{ID: agriauth.MetricValidateTokenLatency, Name: "agriauth_validate_token_latency_seconds", Help: "Token validation latency histogram."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// engine bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw engine buckets to the fixed size.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
