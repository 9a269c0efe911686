package agriauth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/agrivision/agriauth/internal"
	"github.com/agrivision/agriauth/internal/rate"
	"github.com/agrivision/agriauth/internal/stores"
	"github.com/agrivision/agriauth/notify"
)

// RequestPasswordReset mails a single-use reset token to email. Requests are
// rate limited per client IP and per address. Unknown and inactive accounts
// get the same nil result as known ones, so the call does not reveal which
// addresses are registered.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	if err := e.gateRequester(ctx, rate.ScopePasswordReset, "e:"+email); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.emitAudit(ctx, auditEventPasswordResetRequested, false, "", reasonChallengeRateLimit, nil)
		}
		return err
	}

	account, err := e.accounts.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		e.emitAudit(ctx, auditEventPasswordResetRequested, false, "", reasonUnknownAccount, nil)
		return nil
	case err != nil:
		return storeErr(err)
	case !account.Active:
		e.emitAudit(ctx, auditEventPasswordResetRequested, false, account.ID, reasonInactiveAccount, nil)
		return nil
	}

	if _, err := e.sendLinkToken(ctx, e.resets, account, notify.PurposePasswordReset, e.config.PasswordReset); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventPasswordResetRequested, true, account.ID, "", nil)
	return nil
}

// ConfirmPasswordReset redeems a reset token and sets newPassword. The token
// is consumed even when the account turns out to be inactive. Unknown,
// expired, consumed, and tampered tokens return [ErrInvalidOrExpiredToken].
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.validatePassword("password", newPassword); err != nil {
		return err
	}
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	record, err := e.redeemLinkToken(ctx, e.resets, token, auditEventPasswordReset)
	if err != nil {
		return err
	}

	err = e.updateAccount(ctx, record.AccountID, func(a *Account) error {
		// a token mailed to an address the account no longer uses is void
		if !a.Active || a.Email != record.Email {
			return ErrInvalidOrExpiredToken
		}
		a.PasswordHash = hash
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) || errors.Is(err, ErrAccountNotFound) {
			e.emitAudit(ctx, auditEventPasswordReset, false, record.AccountID, reasonTokenStale, nil)
			return ErrInvalidOrExpiredToken
		}
		return err
	}

	// a fresh password clears any lockout built up against the old one
	for _, scope := range []rate.Scope{rate.ScopeLoginAccount, rate.ScopeLoginFailure} {
		if err := e.limiter.Reset(ctx, scope, record.Email); err != nil {
			e.logger.WarnContext(ctx, "login counter not reset",
				slog.String("scope", string(scope)),
				slog.String("error", err.Error()),
			)
		}
	}

	e.metricInc(MetricPasswordReset)
	e.emitAudit(ctx, auditEventPasswordReset, true, record.AccountID, "", nil)
	return nil
}

// RequestEmailVerification mails a verification token to the address of
// accountID. It is a no-op for an already verified address. Requests are
// rate limited per client IP and per account.
func (e *Engine) RequestEmailVerification(ctx context.Context, accountID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	if err := e.gateRequester(ctx, rate.ScopeEmailVerify, "a:"+accountID); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.emitAudit(ctx, auditEventVerificationRequested, false, accountID, reasonChallengeRateLimit, nil)
		}
		return err
	}

	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return storeErr(err)
	}
	if !account.Active {
		return ErrInvalidCredentials
	}
	if account.EmailVerified {
		e.emitAudit(ctx, auditEventVerificationRequested, false, account.ID, reasonAlreadyVerified, nil)
		return nil
	}

	delivered, err := e.sendLinkToken(ctx, e.verifications, account, notify.PurposeEmailVerification, e.config.EmailVerification)
	if err != nil {
		return err
	}
	if !delivered {
		e.emitAudit(ctx, auditEventVerificationRequested, false, account.ID, reasonDeliveryAllFailed, nil)
		return ErrDownstreamUnavailable
	}
	e.emitAudit(ctx, auditEventVerificationRequested, true, account.ID, "", nil)
	return nil
}

// ConfirmEmailVerification redeems a verification token and marks the
// address verified. A token issued before the account changed its email
// returns [ErrInvalidOrExpiredToken].
func (e *Engine) ConfirmEmailVerification(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}

	record, err := e.redeemLinkToken(ctx, e.verifications, token, auditEventEmailVerified)
	if err != nil {
		return err
	}

	err = e.updateAccount(ctx, record.AccountID, func(a *Account) error {
		if a.Email != record.Email {
			return ErrInvalidOrExpiredToken
		}
		a.EmailVerified = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) || errors.Is(err, ErrAccountNotFound) {
			e.emitAudit(ctx, auditEventEmailVerified, false, record.AccountID, reasonTokenStale, nil)
			return ErrInvalidOrExpiredToken
		}
		return err
	}

	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEventEmailVerified, true, record.AccountID, "", nil)
	return nil
}

// gateRequester counts one request against the client IP, when known, and
// then against target.
func (e *Engine) gateRequester(ctx context.Context, scope rate.Scope, target string) error {
	if ip := ClientIPFromContext(ctx); ip != "" {
		if err := e.gate(ctx, scope, "ip:"+ip); err != nil {
			return err
		}
	}
	return e.gate(ctx, scope, target)
}

// sendLinkToken stores a fresh token for account in store and mails it. The
// token survives a delivery failure; delivered reports whether any mail
// channel accepted it.
func (e *Engine) sendLinkToken(
	ctx context.Context,
	store stores.ChallengeStore,
	account *Account,
	purpose notify.Purpose,
	flow TokenFlowConfig,
) (delivered bool, err error) {
	token, id, secret, err := internal.NewLinkToken()
	if err != nil {
		return false, err
	}

	record := &stores.Challenge{
		AccountID: account.ID,
		Email:     account.Email,
		CodeHash:  internal.HashCode(id, secret),
		ExpiresAt: e.now().Add(flow.TokenTTL).UnixMilli(),
	}
	if err := store.Save(ctx, id, record, flow.TokenTTL); err != nil {
		e.logger.ErrorContext(ctx, "link token not saved",
			slog.String("purpose", string(purpose)),
			slog.String("error", err.Error()),
		)
		return false, storeErrChallenge(err)
	}

	results := e.mailer.Dispatch(context.WithoutCancel(ctx), recipientFor(account), notify.Message{
		Purpose: purpose,
		Subject: flow.Subject,
		Code:    token,
		TTL:     flow.TokenTTL,
	})
	for _, r := range results {
		if r.Err != nil {
			e.logger.WarnContext(ctx, "link token delivery failed",
				slog.String("purpose", string(purpose)),
				slog.String("channel", r.Channel),
				slog.String("account_id", account.ID),
				slog.String("error", r.Err.Error()),
			)
		}
	}
	return notify.Delivered(results), nil
}

// redeemLinkToken consumes token from store. Every token failure collapses
// to ErrInvalidOrExpiredToken.
func (e *Engine) redeemLinkToken(ctx context.Context, store stores.ChallengeStore, token, eventType string) (*stores.Challenge, error) {
	if ip := ClientIPFromContext(ctx); ip != "" {
		if err := e.gate(ctx, rate.ScopeTokenConfirm, "ip:"+ip); err != nil {
			if errors.Is(err, ErrRateLimited) {
				e.emitAudit(ctx, eventType, false, "", reasonChallengeRateLimit, nil)
			}
			return nil, err
		}
	}

	id, secret, ok := internal.SplitLinkToken(token)
	if !ok {
		e.emitAudit(ctx, eventType, false, "", reasonTokenMalformed, nil)
		return nil, ErrInvalidOrExpiredToken
	}

	record, err := store.Consume(ctx, id, internal.HashCode(id, secret))
	if err != nil {
		reason := reasonBackendUnavailable
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound):
			reason = reasonTokenNotFound
		case errors.Is(err, stores.ErrChallengeExpired):
			reason = reasonTokenExpired
		case errors.Is(err, stores.ErrChallengeMismatch):
			reason = reasonTokenMismatch
		}
		e.emitAudit(ctx, eventType, false, "", reason, nil)
		if reason == reasonBackendUnavailable {
			e.logger.ErrorContext(ctx, "link token store unavailable", slog.String("error", err.Error()))
			return nil, storeErrChallenge(err)
		}
		return nil, ErrInvalidOrExpiredToken
	}
	return record, nil
}
