package httpapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/agrivision/agriauth"
	"github.com/agrivision/agriauth/middleware"
)

// Engine is the auth surface the API drives. *agriauth.Engine satisfies it.
type Engine interface {
	middleware.Authorizer

	Register(ctx context.Context, reg agriauth.Registration) (*agriauth.Account, error)
	Login(ctx context.Context, email, password string) (*agriauth.LoginResult, error)
	VerifyMFA(ctx context.Context, challengeID, code string) (*agriauth.LoginResult, error)
	ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error
	SetMFAEnabled(ctx context.Context, accountID string, enabled bool) error
	GetAccount(ctx context.Context, id string) (*agriauth.Account, error)
	AssignRole(ctx context.Context, actorID, accountID string, role agriauth.Role) error
	Deactivate(ctx context.Context, actorID, accountID string) error
	Reactivate(ctx context.Context, actorID, accountID string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
	RequestEmailVerification(ctx context.Context, accountID string) error
	ConfirmEmailVerification(ctx context.Context, token string) error
	LinkExternalIdentity(ctx context.Context, actorID, accountID string, provider agriauth.Provider, subject string) error
	LoginExternal(ctx context.Context, login agriauth.ExternalLogin) (*agriauth.LoginResult, error)
}

type authHandler struct {
	engine Engine
}

// register handles self-service sign-up.
func (h *authHandler) register(c echo.Context) error {
	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	account, err := h.engine.Register(c.Request().Context(), agriauth.Registration{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     req.Role,
		Phone:    req.Phone,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return success(c, http.StatusCreated, toAccountResponse(account), "Account registered successfully")
}

// login answers 200 with a token, or 202 when a second factor is pending.
func (h *authHandler) login(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.engine.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return errors.WithStack(err)
	}

	if result.MFARequired {
		return success(c, http.StatusAccepted, toChallengeResponse(result), "Verification code required")
	}

	return success(c, http.StatusOK, toTokenResponse(result), "Login successful")
}

func (h *authHandler) verifyMFA(c echo.Context) error {
	var req verifyMFARequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.engine.VerifyMFA(c.Request().Context(), req.ChallengeID, req.Code)
	if err != nil {
		return errors.WithStack(err)
	}

	return success(c, http.StatusOK, toTokenResponse(result), "Login successful")
}

func (h *authHandler) me(c echo.Context) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return agriauth.ErrTokenInvalid
	}

	account, err := h.engine.GetAccount(c.Request().Context(), claims.AccountID)
	if err != nil {
		// a token outliving its account reads as unauthenticated
		if errors.Is(err, agriauth.ErrAccountNotFound) {
			return agriauth.ErrTokenInvalid
		}
		return errors.WithStack(err)
	}

	return success(c, http.StatusOK, meResponse{
		Claims: claimsResponse{
			AccountID: claims.AccountID,
			Role:      claims.Role.String(),
			IssuedAt:  claims.IssuedAt,
			ExpiresAt: claims.ExpiresAt,
		},
		Account: toAccountResponse(account),
	}, "")
}

func (h *authHandler) changePassword(c echo.Context) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return agriauth.ErrTokenInvalid
	}

	var req changePasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.engine.ChangePassword(c.Request().Context(), claims.AccountID, req.OldPassword, req.NewPassword); err != nil {
		return errors.WithStack(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *authHandler) setMFA(c echo.Context) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return agriauth.ErrTokenInvalid
	}

	var req mfaSettingRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.engine.SetMFAEnabled(c.Request().Context(), claims.AccountID, *req.Enabled); err != nil {
		return errors.WithStack(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// requestPasswordReset always answers 202 so the response does not reveal
// whether the address is registered.
func (h *authHandler) requestPasswordReset(c echo.Context) error {
	var req passwordResetRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.engine.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
		return errors.WithStack(err)
	}

	return success(c, http.StatusAccepted, nil, "If the address is registered, a reset link has been sent")
}

func (h *authHandler) confirmPasswordReset(c echo.Context) error {
	var req confirmPasswordResetRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.engine.ConfirmPasswordReset(c.Request().Context(), req.Token, req.Password); err != nil {
		return errors.WithStack(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *authHandler) requestEmailVerification(c echo.Context) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return agriauth.ErrTokenInvalid
	}

	if err := h.engine.RequestEmailVerification(c.Request().Context(), claims.AccountID); err != nil {
		return errors.WithStack(err)
	}

	return success(c, http.StatusAccepted, nil, "Verification email sent")
}

func (h *authHandler) confirmEmailVerification(c echo.Context) error {
	var req confirmTokenRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.engine.ConfirmEmailVerification(c.Request().Context(), req.Token); err != nil {
		return errors.WithStack(err)
	}

	return c.NoContent(http.StatusNoContent)
}

type adminHandler struct {
	engine Engine
}

func (h *adminHandler) getAccount(c echo.Context) error {
	account, err := h.engine.GetAccount(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errors.WithStack(err)
	}

	return success(c, http.StatusOK, toAccountResponse(account), "")
}

func (h *adminHandler) assignRole(c echo.Context) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return agriauth.ErrTokenInvalid
	}

	var req assignRoleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	role, err := agriauth.ParseRole(req.Role)
	if err != nil {
		return err
	}

	if err := h.engine.AssignRole(c.Request().Context(), claims.AccountID, c.Param("id"), role); err != nil {
		return errors.WithStack(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *adminHandler) deactivate(c echo.Context) error {
	return h.setActive(c, h.engine.Deactivate)
}

func (h *adminHandler) reactivate(c echo.Context) error {
	return h.setActive(c, h.engine.Reactivate)
}

func (h *adminHandler) setActive(c echo.Context, apply func(ctx context.Context, actorID, accountID string) error) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return agriauth.ErrTokenInvalid
	}

	if err := apply(c.Request().Context(), claims.AccountID, c.Param("id")); err != nil {
		return errors.WithStack(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *adminHandler) linkIdentity(c echo.Context) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return agriauth.ErrTokenInvalid
	}

	var req linkIdentityRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	provider, err := agriauth.ParseProvider(c.Param("provider"))
	if err != nil {
		return err
	}

	if err := h.engine.LinkExternalIdentity(c.Request().Context(), claims.AccountID, c.Param("id"), provider, req.Subject); err != nil {
		return errors.WithStack(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// externalLogin is called by the OAuth broker after it has authenticated
// the user with the provider. The client IP is the broker's forwarded one.
func (h *adminHandler) externalLogin(c echo.Context) error {
	var req externalLoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.engine.LoginExternal(c.Request().Context(), agriauth.ExternalLogin{
		Provider: agriauth.Provider(req.Provider),
		Subject:  req.Subject,
		Email:    req.Email,
		Name:     req.Name,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	if result.MFARequired {
		return success(c, http.StatusAccepted, toChallengeResponse(result), "Verification code required")
	}

	return success(c, http.StatusOK, toTokenResponse(result), "Login successful")
}
