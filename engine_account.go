package agriauth

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/agrivision/agriauth/internal/rate"
	"github.com/agrivision/agriauth/permission"
)

// Register creates an active account. Registrations are rate limited per
// client IP. The email is normalized before uniqueness is checked, and an
// empty role falls back to AccountConfig.DefaultRole. Only roles listed in
// AccountConfig.SelfServiceRoles may be requested.
func (e *Engine) Register(ctx context.Context, reg Registration) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	if err := e.gate(ctx, rate.ScopeRegister, ClientIPFromContext(ctx)); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricRegisterRateLimited)
			e.emitAudit(ctx, auditEventRegisterRateLimited, false, "", reasonRateLimitedIP, nil)
		}
		return nil, err
	}

	email := normalizeEmail(reg.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(reg.Name)
	if name == "" {
		return nil, validationError("name", "is required")
	}
	if err := e.validatePassword("password", reg.Password); err != nil {
		return nil, err
	}
	role, err := e.registrationRole(reg.Role)
	if err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(reg.Password)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	account := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		Phone:        strings.TrimSpace(reg.Phone),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventAccountRegistered, false, "", reasonDuplicateEmail, nil)
			return nil, ErrAccountExists
		}
		return nil, storeErr(err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventAccountRegistered, true, account.ID, "", func() map[string]string {
		return map[string]string{"role": string(role)}
	})
	return publicAccount(account), nil
}

func (e *Engine) registrationRole(raw string) (Role, error) {
	if strings.TrimSpace(raw) == "" {
		return e.config.Account.DefaultRole, nil
	}
	role, err := ParseRole(raw)
	if err != nil {
		return "", err
	}
	if !slices.Contains(e.config.Account.SelfServiceRoles, role) {
		return "", validationError("role", "cannot be self-assigned")
	}
	return role, nil
}

// ChangePassword replaces the password of accountID after verifying old.
// A wrong old password returns [ErrInvalidCredentials].
func (e *Engine) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return storeErr(err)
	}
	if !account.Active {
		return ErrInvalidCredentials
	}
	if ok, _ := e.hasher.Verify(oldPassword, account.PasswordHash); !ok || oldPassword == "" {
		e.emitAudit(ctx, auditEventPasswordChanged, false, account.ID, reasonInvalidOldPassword, nil)
		return ErrInvalidCredentials
	}
	if err := e.validatePassword("newPassword", newPassword); err != nil {
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	verified := account.PasswordHash
	if err := e.updateAccount(ctx, accountID, func(a *Account) error {
		// the old password was checked against this hash only
		if !a.Active || a.PasswordHash != verified {
			return ErrInvalidCredentials
		}
		a.PasswordHash = hash
		return nil
	}); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChange)
	e.emitAudit(ctx, auditEventPasswordChanged, true, account.ID, "", nil)
	return nil
}

// AssignRole sets the role of accountID. The actor must be active and hold
// the accounts:manage permission.
func (e *Engine) AssignRole(ctx context.Context, actorID, accountID string, role Role) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !role.Valid() {
		return validationError("role", "unknown role "+string(role))
	}
	if err := e.authorizeActor(ctx, actorID, accountID, auditEventRoleChanged); err != nil {
		return err
	}

	var previous Role
	if err := e.mutateAccount(ctx, accountID, func(a *Account) {
		previous = a.Role
		a.Role = role
	}); err != nil {
		return err
	}

	e.metricInc(MetricRoleChange)
	e.emitActorAudit(ctx, auditEventRoleChanged, true, actorID, accountID, "", func() map[string]string {
		return map[string]string{"from": string(previous), "to": string(role)}
	})
	return nil
}

// Deactivate disables login for accountID. Accounts are never deleted.
func (e *Engine) Deactivate(ctx context.Context, actorID, accountID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if actorID == accountID {
		return validationError("accountId", "cannot deactivate own account")
	}
	if err := e.authorizeActor(ctx, actorID, accountID, auditEventAccountDeactivated); err != nil {
		return err
	}
	if err := e.mutateAccount(ctx, accountID, func(a *Account) { a.Active = false }); err != nil {
		return err
	}

	e.metricInc(MetricAccountDeactivated)
	e.emitActorAudit(ctx, auditEventAccountDeactivated, true, actorID, accountID, "", nil)
	return nil
}

// Reactivate re-enables a deactivated account.
func (e *Engine) Reactivate(ctx context.Context, actorID, accountID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.authorizeActor(ctx, actorID, accountID, auditEventAccountReactivated); err != nil {
		return err
	}
	if err := e.mutateAccount(ctx, accountID, func(a *Account) { a.Active = true }); err != nil {
		return err
	}

	e.emitActorAudit(ctx, auditEventAccountReactivated, true, actorID, accountID, "", nil)
	return nil
}

// SetMFAEnabled turns the always-on second factor on or off for accountID.
func (e *Engine) SetMFAEnabled(ctx context.Context, accountID string, enabled bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.mutateAccount(ctx, accountID, func(a *Account) { a.MFAEnabled = enabled }); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventMFASettingChanged, true, accountID, "", func() map[string]string {
		if enabled {
			return map[string]string{"mfa": "enabled"}
		}
		return map[string]string{"mfa": "disabled"}
	})
	return nil
}

// GetAccount returns the account with id, without its password hash.
func (e *Engine) GetAccount(ctx context.Context, id string) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	account, err := e.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return publicAccount(account), nil
}

func (e *Engine) authorizeActor(ctx context.Context, actorID, accountID, eventType string) error {
	actor, err := e.accounts.FindByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.emitActorAudit(ctx, eventType, false, actorID, accountID, reasonPermissionDenied, nil)
			return ErrForbidden
		}
		return storeErr(err)
	}
	if !actor.Active || !e.policy.Allowed(string(actor.Role), permission.AccountsManage) {
		e.emitActorAudit(ctx, eventType, false, actorID, accountID, reasonPermissionDenied, nil)
		return ErrForbidden
	}
	return nil
}

const maxUpdateAttempts = 4

func (e *Engine) mutateAccount(ctx context.Context, id string, mutate func(*Account)) error {
	return e.updateAccount(ctx, id, func(a *Account) error {
		mutate(a)
		return nil
	})
}

// updateAccount applies mutate to a fresh read of id and writes it back with
// the read's version. A conflicting concurrent write causes a re-read and
// another attempt, so mutate must be safe to run more than once. An error
// from mutate aborts without writing.
func (e *Engine) updateAccount(ctx context.Context, id string, mutate func(*Account) error) error {
	var err error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var account *Account
		account, err = e.accounts.FindByID(ctx, id)
		if err != nil {
			return storeErr(err)
		}
		updated := account.Clone()
		if err := mutate(updated); err != nil {
			return err
		}
		updated.UpdatedAt = e.now().UTC()

		err = e.accounts.Update(ctx, updated)
		if !errors.Is(err, ErrAccountConflict) {
			return storeErr(err)
		}
		e.logger.DebugContext(ctx, "account update conflicted, retrying",
			slog.String("account_id", id),
			slog.Int("attempt", attempt+1),
		)
	}
	return err
}
