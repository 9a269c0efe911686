package agriauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agrivision/agriauth/internal"
	"github.com/agrivision/agriauth/internal/rate"
	"github.com/agrivision/agriauth/internal/stores"
	"github.com/agrivision/agriauth/notify"
)

// issueChallenge stores a fresh one-time code for account and pushes it to
// every configured channel. The challenge survives a total delivery failure;
// the result then reports DeliveryFailed and the failing channel names.
func (e *Engine) issueChallenge(ctx context.Context, account *Account, assessment RiskAssessment) (*LoginResult, error) {
	id, err := internal.NewChallengeID()
	if err != nil {
		return nil, err
	}
	code, err := internal.NewOTP(e.config.MFA.CodeDigits)
	if err != nil {
		return nil, err
	}

	challengeID := id.String()
	ttl := e.config.MFA.ChallengeTTL
	expiresAt := e.now().Add(ttl)

	record := &stores.Challenge{
		AccountID: account.ID,
		Email:     account.Email,
		CodeHash:  internal.HashCode(challengeID, code),
		ExpiresAt: expiresAt.UnixMilli(),
	}
	if err := e.challenges.Save(ctx, challengeID, record, ttl); err != nil {
		e.logger.ErrorContext(ctx, "mfa challenge not saved", slog.String("error", err.Error()))
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, reasonBackendUnavailable, nil)
		return nil, storeErrChallenge(err)
	}
	e.metricInc(MetricMFARequired)

	// Delivery outlives the caller; each channel is bounded by the dispatch timeout.
	results := e.notifier.Dispatch(context.WithoutCancel(ctx), recipientFor(account), notify.Message{
		Subject: e.config.MFA.Subject,
		Code:    code,
		TTL:     ttl,
	})

	result := &LoginResult{
		AccountID:   account.ID,
		Role:        account.Role,
		ExpiresAt:   expiresAt,
		MFARequired: true,
		ChallengeID: challengeID,
	}

	for _, r := range results {
		if r.Err == nil {
			continue
		}
		e.logger.WarnContext(ctx, "mfa code delivery failed",
			slog.String("channel", r.Channel),
			slog.String("account_id", account.ID),
			slog.String("error", r.Err.Error()),
		)
	}
	result.FailedChannels = notify.Failed(results)
	if !notify.Delivered(results) {
		result.DeliveryFailed = true
		e.metricInc(MetricMFADeliveryFailed)
	}
	if result.DeliveryFailed || len(result.FailedChannels) > 0 {
		reason := reasonDeliveryPartial
		if result.DeliveryFailed {
			reason = reasonDeliveryAllFailed
		}
		channels := strings.Join(result.FailedChannels, ",")
		e.emitAudit(ctx, auditEventMFADeliveryFailed, false, account.ID, reason, func() map[string]string {
			return map[string]string{"channels": channels}
		})
	}

	e.emitAudit(ctx, auditEventMFAChallengeIssued, true, account.ID, "", assessment.metadata)
	return result, nil
}

func recipientFor(a *Account) notify.Recipient {
	return notify.Recipient{
		AccountID: a.ID,
		Name:      a.Name,
		Email:     a.Email,
		Phone:     a.Phone,
		PushToken: a.PushToken,
	}
}

// VerifyMFA completes a login that [Engine.Login] stepped up to a second
// factor. Attempts are rate limited per challenge and per client IP. A
// challenge is consumed at most once: of two concurrent calls with the
// correct code exactly one succeeds. Unknown, expired, consumed, and
// mismatched challenges all return [ErrInvalidOrExpiredChallenge].
func (e *Engine) VerifyMFA(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	challengeID = strings.TrimSpace(challengeID)
	code = strings.TrimSpace(code)

	if ip := ClientIPFromContext(ctx); ip != "" {
		if err := e.gate(ctx, rate.ScopeMFAVerify, "ip:"+ip); err != nil {
			return nil, e.mfaGateFailure(ctx, err)
		}
	}
	if challengeID != "" {
		if err := e.gate(ctx, rate.ScopeMFAVerify, "c:"+challengeID); err != nil {
			return nil, e.mfaGateFailure(ctx, err)
		}
	}

	if _, err := internal.ParseChallengeID(challengeID); err != nil || code == "" {
		return nil, e.mfaFailure(ctx, "", reasonChallengeMalformed)
	}

	record, err := e.challenges.Consume(ctx, challengeID, internal.HashCode(challengeID, code))
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound):
			return nil, e.mfaFailure(ctx, "", reasonChallengeNotFound)
		case errors.Is(err, stores.ErrChallengeExpired):
			return nil, e.mfaFailure(ctx, "", reasonChallengeExpired)
		case errors.Is(err, stores.ErrChallengeMismatch):
			return nil, e.mfaFailure(ctx, "", reasonChallengeMismatch)
		default:
			e.logger.ErrorContext(ctx, "mfa challenge store unavailable", slog.String("error", err.Error()))
			e.emitAudit(ctx, auditEventMFAFailure, false, "", reasonBackendUnavailable, nil)
			return nil, storeErrChallenge(err)
		}
	}

	account, err := e.accounts.FindByID(ctx, record.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, e.mfaFailure(ctx, record.AccountID, reasonUnknownAccount)
		}
		e.emitAudit(ctx, auditEventMFAFailure, false, record.AccountID, reasonBackendUnavailable, nil)
		return nil, storeErr(err)
	}
	if !account.Active {
		return nil, e.mfaFailure(ctx, account.ID, reasonInactiveAccount)
	}

	result, err := e.issueSession(ctx, account)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, account.ID, "", nil)
	return result, nil
}

func (e *Engine) mfaGateFailure(ctx context.Context, err error) error {
	reason := reasonBackendUnavailable
	if errors.Is(err, ErrRateLimited) {
		reason = reasonChallengeRateLimit
		e.metricInc(MetricMFAFailure)
	}
	e.emitAudit(ctx, auditEventMFAFailure, false, "", reason, nil)
	return err
}

func (e *Engine) mfaFailure(ctx context.Context, accountID, reason string) error {
	e.metricInc(MetricMFAFailure)
	e.emitAudit(ctx, auditEventMFAFailure, false, accountID, reason, nil)
	return ErrInvalidOrExpiredChallenge
}

func storeErrChallenge(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
