package agriauth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/agrivision/agriauth/internal/rate"
)

// maxExternalAttempts bounds re-resolution when a concurrent first login for
// the same identity creates the account first.
const maxExternalAttempts = 2

// LinkExternalIdentity records that provider asserts subject for accountID.
// The actor must hold accounts:manage. Relinking the same subject is a
// no-op; a subject owned by another account, or a different subject already
// on this account for provider, returns [ErrIdentityLinked].
func (e *Engine) LinkExternalIdentity(ctx context.Context, actorID, accountID string, provider Provider, subject string) error {
	if err := e.ready(); err != nil {
		return err
	}
	provider, subject, err := externalKey(provider, subject)
	if err != nil {
		return err
	}
	if err := e.authorizeActor(ctx, actorID, accountID, auditEventIdentityLinked); err != nil {
		return err
	}

	changed, err := e.linkIdentity(ctx, accountID, provider, subject)
	if err != nil {
		if errors.Is(err, ErrIdentityLinked) {
			e.emitActorAudit(ctx, auditEventIdentityLinked, false, actorID, accountID, reasonIdentityConflict, providerMeta(provider))
		}
		return err
	}
	if changed {
		e.metricInc(MetricIdentityLinked)
		e.emitActorAudit(ctx, auditEventIdentityLinked, true, actorID, accountID, "", providerMeta(provider))
	}
	return nil
}

// LoginExternal signs in an identity a provider already authenticated. The
// account is found by provider subject, else by email (and the subject is
// linked to it), else created with a verified email, no password, and the
// default role. From there the login follows the same risk and second-factor
// gates as [Engine.Login]. Logins are rate limited per client IP.
func (e *Engine) LoginExternal(ctx context.Context, login ExternalLogin) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	provider, subject, err := externalKey(login.Provider, login.Subject)
	if err != nil {
		return nil, err
	}
	email := normalizeEmail(login.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	if err := e.gate(ctx, rate.ScopeLoginIP, ClientIPFromContext(ctx)); err != nil {
		return nil, e.loginGateFailure(ctx, email, reasonRateLimitedIP, err)
	}

	account, err := e.resolveExternal(ctx, provider, subject, email, strings.TrimSpace(login.Name))
	if err != nil {
		if errors.Is(err, ErrIdentityLinked) {
			e.emitAudit(ctx, auditEventExternalLogin, false, "", reasonIdentityConflict, providerMeta(provider))
		}
		return nil, err
	}
	if !account.Active {
		return nil, e.credentialFailure(ctx, email, account.ID, reasonInactiveAccount)
	}

	e.metricInc(MetricExternalLogin)
	e.emitAudit(ctx, auditEventExternalLogin, true, account.ID, "", providerMeta(provider))
	return e.completeLogin(ctx, account, e.assessRisk(ctx, email))
}

func (e *Engine) resolveExternal(ctx context.Context, provider Provider, subject, email, name string) (*Account, error) {
	var err error
	for attempt := 0; attempt < maxExternalAttempts; attempt++ {
		var account *Account
		account, err = e.accounts.FindByExternalID(ctx, provider, subject)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, storeErr(err)
		}

		account, err = e.accounts.FindByEmail(ctx, email)
		switch {
		case err == nil && !account.Active:
			return account, nil
		case err == nil:
			changed, err := e.linkIdentity(ctx, account.ID, provider, subject)
			if err != nil {
				return nil, err
			}
			if changed {
				e.metricInc(MetricIdentityLinked)
				e.emitAudit(ctx, auditEventIdentityLinked, true, account.ID, "", providerMeta(provider))
			}
			linked, err := e.accounts.FindByID(ctx, account.ID)
			return linked, storeErr(err)
		case !errors.Is(err, ErrAccountNotFound):
			return nil, storeErr(err)
		}

		if name == "" {
			name = email[:strings.Index(email, "@")]
		}
		now := e.now().UTC()
		account = &Account{
			ID:            uuid.NewString(),
			Email:         email,
			Name:          name,
			Role:          e.config.Account.DefaultRole,
			Active:        true,
			EmailVerified: true,
			ExternalIDs:   map[string]string{string(provider): subject},
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err = e.accounts.Create(ctx, account)
		if err == nil {
			e.metricInc(MetricRegisterSuccess)
			e.emitAudit(ctx, auditEventAccountRegistered, true, account.ID, "", func() map[string]string {
				return map[string]string{"role": string(account.Role), "provider": string(provider)}
			})
			return account, nil
		}
		if !errors.Is(err, ErrAccountExists) {
			return nil, storeErr(err)
		}
		// lost a race with another first login; resolve again
	}
	return nil, storeErr(err)
}

// linkIdentity sets provider's subject on accountID and reports whether the
// record changed.
func (e *Engine) linkIdentity(ctx context.Context, accountID string, provider Provider, subject string) (bool, error) {
	owner, err := e.accounts.FindByExternalID(ctx, provider, subject)
	switch {
	case err == nil && owner.ID != accountID:
		return false, ErrIdentityLinked
	case err == nil:
		return false, nil
	case !errors.Is(err, ErrAccountNotFound):
		return false, storeErr(err)
	}

	err = e.updateAccount(ctx, accountID, func(a *Account) error {
		if current := a.ExternalIDs[string(provider)]; current != "" && current != subject {
			return ErrIdentityLinked
		}
		if a.ExternalIDs == nil {
			a.ExternalIDs = make(map[string]string, 1)
		}
		a.ExternalIDs[string(provider)] = subject
		return nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrAccountExists):
		// the store caught a concurrent link of the same subject
		return false, ErrIdentityLinked
	default:
		return false, err
	}
}

func externalKey(provider Provider, subject string) (Provider, string, error) {
	p, err := ParseProvider(string(provider))
	if err != nil {
		return "", "", err
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", "", validationError("subject", "is required")
	}
	if len(subject) > 255 {
		return "", "", validationError("subject", "is too long")
	}
	return p, subject, nil
}

func providerMeta(p Provider) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"provider": string(p)}
	}
}
