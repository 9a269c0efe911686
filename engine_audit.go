package agriauth

import (
	"context"

	internalaudit "github.com/agrivision/agriauth/internal/audit"
)

const (
	auditEventLoginSuccess        = internalaudit.EventLoginSuccess
	auditEventLoginFailure        = internalaudit.EventLoginFailure
	auditEventLoginRateLimited    = internalaudit.EventLoginRateLimited
	auditEventLoginRiskRejected   = internalaudit.EventLoginRiskRejected
	auditEventMFAChallengeIssued  = internalaudit.EventMFAChallengeIssued
	auditEventMFADeliveryFailed   = internalaudit.EventMFADeliveryFailed
	auditEventMFASuccess          = internalaudit.EventMFASuccess
	auditEventMFAFailure          = internalaudit.EventMFAFailure
	auditEventAccountRegistered   = internalaudit.EventAccountRegistered
	auditEventRegisterRateLimited = internalaudit.EventRegisterRateLimited
	auditEventPasswordChanged     = internalaudit.EventPasswordChanged
	auditEventRoleChanged         = internalaudit.EventRoleChanged
	auditEventAccountDeactivated  = internalaudit.EventAccountDeactivated
	auditEventAccountReactivated  = internalaudit.EventAccountReactivated
	auditEventMFASettingChanged   = internalaudit.EventMFASettingChanged

	auditEventPasswordResetRequested = internalaudit.EventPasswordResetRequested
	auditEventPasswordReset          = internalaudit.EventPasswordReset
	auditEventVerificationRequested  = internalaudit.EventVerificationRequested
	auditEventEmailVerified          = internalaudit.EventEmailVerified
	auditEventIdentityLinked         = internalaudit.EventIdentityLinked
	auditEventExternalLogin          = internalaudit.EventExternalLogin
)

// Audit reasons. They never leave the audit trail.
const (
	reasonRateLimitedIP      = "rate_limited_ip"
	reasonRateLimitedAccount = "rate_limited_account"
	reasonUnknownAccount     = "unknown_account"
	reasonInactiveAccount    = "inactive_account"
	reasonInvalidPassword    = "invalid_password"
	reasonEmptyPassword      = "empty_password"
	reasonRiskRejected       = "risk_rejected"
	reasonBackendUnavailable = "backend_unavailable"
	reasonChallengeMalformed = "challenge_malformed"
	reasonChallengeNotFound  = "challenge_not_found"
	reasonChallengeExpired   = "challenge_expired"
	reasonChallengeMismatch  = "code_mismatch"
	reasonChallengeRateLimit = "rate_limited"
	reasonDuplicateEmail     = "duplicate_email"
	reasonDeliveryAllFailed  = "all_channels_failed"
	reasonDeliveryPartial    = "channel_failed"
	reasonInvalidOldPassword = "invalid_old_password"
	reasonPermissionDenied   = "permission_denied"
	reasonNoPassword         = "no_password"
	reasonTokenMalformed     = "token_malformed"
	reasonTokenNotFound      = "token_not_found"
	reasonTokenExpired       = "token_expired"
	reasonTokenMismatch      = "token_mismatch"
	reasonTokenStale         = "token_stale"
	reasonAlreadyVerified    = "already_verified"
	reasonIdentityConflict   = "identity_conflict"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	reason string,
	metadataBuilder func() map[string]string,
) {
	e.emitActorAudit(ctx, eventType, success, "", accountID, reason, metadataBuilder)
}

// emitActorAudit records an event where actor acted on accountID.
func (e *Engine) emitActorAudit(
	ctx context.Context,
	eventType string,
	success bool,
	actor string,
	accountID string,
	reason string,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		EventType: eventType,
		AccountID: accountID,
		Actor:     actor,
		IP:        ClientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		RequestID: requestIDFromContext(ctx),
		Success:   success,
		Reason:    reason,
		Metadata:  metadata,
	}
	event.Stamp(e.now())

	e.audit.Emit(ctx, event)
}
