package agriauth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/agrivision/agriauth/internal/rate"
	"github.com/agrivision/agriauth/risk"
)

// Login authenticates email and password.
//
// The gates run in order: per-IP and per-account rate limits, credential
// verification, risk scoring. A score at or above RiskConfig.BlockThreshold
// (when set) rejects with [ErrRiskRejected]. A score at or above
// MFAThreshold, or an account with MFAEnabled, yields a result with
// MFARequired set and no token; finish with [Engine.VerifyMFA]. Otherwise
// the result carries a signed token.
//
// Unknown accounts, inactive accounts, and wrong or empty passwords all
// return [ErrInvalidCredentials]. Client IP, user agent, and request id are
// read from ctx (see [WithClientIP]).
func (e *Engine) Login(ctx context.Context, email, pw string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer e.observeSince(MetricLoginLatency, start)

	email = normalizeEmail(email)
	ip := ClientIPFromContext(ctx)

	// Start -> RateChecked
	if err := e.gate(ctx, rate.ScopeLoginIP, ip); err != nil {
		return nil, e.loginGateFailure(ctx, email, reasonRateLimitedIP, err)
	}
	if err := e.gate(ctx, rate.ScopeLoginAccount, email); err != nil {
		return nil, e.loginGateFailure(ctx, email, reasonRateLimitedAccount, err)
	}

	// RateChecked -> CredentialsVerified
	account, err := e.verifyCredentials(ctx, email, pw)
	if err != nil {
		return nil, err
	}

	// CredentialsVerified -> RiskEvaluated
	return e.completeLogin(ctx, account, e.assessRisk(ctx, email))
}

// completeLogin applies the risk decision to an authenticated account: a
// rejection, a second-factor challenge, or a session.
func (e *Engine) completeLogin(ctx context.Context, account *Account, assessment RiskAssessment) (*LoginResult, error) {
	if block := e.config.Risk.BlockThreshold; block > 0 && assessment.Score >= block {
		e.metricInc(MetricLoginRiskRejected)
		e.emitAudit(ctx, auditEventLoginRiskRejected, false, account.ID, reasonRiskRejected, assessment.metadata)
		return nil, ErrRiskRejected
	}

	if assessment.Score >= e.config.Risk.MFAThreshold || account.MFAEnabled {
		return e.issueChallenge(ctx, account, assessment)
	}

	// RiskEvaluated -> SessionIssued
	result, err := e.issueSession(ctx, account)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.ID, "", assessment.metadata)
	return result, nil
}

func (e *Engine) loginGateFailure(ctx context.Context, email, reason string, err error) error {
	if errors.Is(err, ErrRateLimited) {
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", reason, func() map[string]string {
			return map[string]string{"identifier": email}
		})
		return err
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, "", reasonBackendUnavailable, nil)
	return err
}

// verifyCredentials looks up email and checks pw. Every credential failure
// collapses to ErrInvalidCredentials; a missing account still pays for one
// hash verification.
func (e *Engine) verifyCredentials(ctx context.Context, email, pw string) (*Account, error) {
	account, err := e.accounts.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		e.emitAudit(ctx, auditEventLoginFailure, false, "", reasonBackendUnavailable, nil)
		return nil, storeErr(err)
	}

	if account == nil {
		_, _ = e.hasher.Verify(pw, e.dummyHash)
		return nil, e.credentialFailure(ctx, email, "", reasonUnknownAccount)
	}
	if pw == "" {
		return nil, e.credentialFailure(ctx, email, account.ID, reasonEmptyPassword)
	}
	// accounts created through an external provider have no password yet
	if account.PasswordHash == "" {
		_, _ = e.hasher.Verify(pw, e.dummyHash)
		return nil, e.credentialFailure(ctx, email, account.ID, reasonNoPassword)
	}

	ok, verr := e.hasher.Verify(pw, account.PasswordHash)
	if verr != nil {
		e.logger.WarnContext(ctx, "stored password hash unreadable",
			slog.String("account_id", account.ID),
			slog.String("error", verr.Error()),
		)
	}
	if !ok {
		return nil, e.credentialFailure(ctx, email, account.ID, reasonInvalidPassword)
	}
	if !account.Active {
		return nil, e.credentialFailure(ctx, email, account.ID, reasonInactiveAccount)
	}

	e.maybeRehash(ctx, account, pw)
	return account, nil
}

func (e *Engine) credentialFailure(ctx context.Context, email, accountID, reason string) error {
	if _, err := e.limiter.Record(ctx, rate.ScopeLoginFailure, email); err != nil {
		e.logger.WarnContext(ctx, "failure history not recorded", slog.String("error", err.Error()))
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, accountID, reason, nil)
	return ErrInvalidCredentials
}

func (e *Engine) maybeRehash(ctx context.Context, account *Account, pw string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsRehash(account.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		return
	}

	// Single attempt against the version this login read. On a conflict the
	// upgrade waits for the next login.
	updated := account.Clone()
	updated.PasswordHash = hash
	updated.UpdatedAt = e.now().UTC()
	if err := e.accounts.Update(ctx, updated); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrAccountConflict) {
			level = slog.LevelDebug
		}
		e.logger.Log(ctx, level, "password rehash not persisted",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	account.PasswordHash = hash
	account.Version = updated.Version
}

func (e *Engine) assessRisk(ctx context.Context, email string) RiskAssessment {
	failures, err := e.limiter.Count(ctx, rate.ScopeLoginFailure, email)
	if err != nil {
		e.logger.WarnContext(ctx, "failure history unavailable", slog.String("error", err.Error()))
	}

	signal := risk.Signal{
		IP:             ClientIPFromContext(ctx),
		UserAgent:      userAgentFromContext(ctx),
		RecentFailures: int(failures),
		At:             e.now(),
	}

	score, fallback, serr := e.risk.Evaluate(ctx, signal)
	if fallback {
		e.metricInc(MetricRiskFallback)
		attrs := []any{slog.Int("fallback_score", score)}
		if serr != nil {
			attrs = append(attrs, slog.String("error", serr.Error()))
		}
		e.logger.WarnContext(ctx, "risk scorer unavailable, using fallback", attrs...)
	}

	return RiskAssessment{Score: score, Signal: signal, Fallback: fallback}
}

func (a RiskAssessment) metadata() map[string]string {
	meta := map[string]string{"risk_score": strconv.Itoa(a.Score)}
	if a.Fallback {
		meta["risk_fallback"] = "true"
	}
	return meta
}

// issueSession signs a token for account and clears its login counters.
func (e *Engine) issueSession(ctx context.Context, account *Account) (*LoginResult, error) {
	token, claims, err := e.tokens.Issue(account.ID, string(account.Role))
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricTokenIssued)

	for _, scope := range []rate.Scope{rate.ScopeLoginAccount, rate.ScopeLoginFailure} {
		if err := e.limiter.Reset(ctx, scope, account.Email); err != nil {
			e.logger.WarnContext(ctx, "login counter not reset",
				slog.String("scope", string(scope)),
				slog.String("error", err.Error()),
			)
		}
	}

	return &LoginResult{
		Token:     token,
		ExpiresAt: claims.ExpiresAt,
		AccountID: account.ID,
		Role:      account.Role,
	}, nil
}
