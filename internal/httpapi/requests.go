package httpapi

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/agrivision/agriauth"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,max=120"`
	Role     string `json:"role" validate:"omitempty,max=32"`
	Phone    string `json:"phone" validate:"omitempty,e164"`
}

// Only presence is checked on login; format problems fall through to the
// engine and read as bad credentials.
type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type verifyMFARequest struct {
	ChallengeID string `json:"challengeId" validate:"required"`
	Code        string `json:"code" validate:"required"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

type mfaSettingRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type passwordResetRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type confirmPasswordResetRequest struct {
	Token    string `json:"token" validate:"required,max=128"`
	Password string `json:"password" validate:"required"`
}

type confirmTokenRequest struct {
	Token string `json:"token" validate:"required,max=128"`
}

type linkIdentityRequest struct {
	Subject string `json:"subject" validate:"required,max=255"`
}

type externalLoginRequest struct {
	Provider string `json:"provider" validate:"required,oneof=google facebook github"`
	Subject  string `json:"subject" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Name     string `json:"name" validate:"omitempty,max=120"`
}

type assignRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=standard researcher supplier admin"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
	AccountID string    `json:"accountId"`
	Role      string    `json:"role"`
}

type challengeResponse struct {
	MFARequired    bool      `json:"mfaRequired"`
	ChallengeID    string    `json:"challengeId"`
	ExpiresAt      time.Time `json:"expiresAt"`
	DeliveryFailed bool      `json:"deliveryFailed"`
	FailedChannels []string  `json:"failedChannels,omitempty"`
}

type accountResponse struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Role       string    `json:"role"`
	Active     bool      `json:"active"`
	MFAEnabled bool      `json:"mfaEnabled"`
	Phone      string    `json:"phone,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type claimsResponse struct {
	AccountID string    `json:"accountId"`
	Role      string    `json:"role"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type meResponse struct {
	Claims  claimsResponse  `json:"claims"`
	Account accountResponse `json:"account"`
}

func toTokenResponse(r *agriauth.LoginResult) tokenResponse {
	return tokenResponse{
		Token:     r.Token,
		TokenType: "Bearer",
		ExpiresAt: r.ExpiresAt,
		AccountID: r.AccountID,
		Role:      r.Role.String(),
	}
}

func toChallengeResponse(r *agriauth.LoginResult) challengeResponse {
	return challengeResponse{
		MFARequired:    true,
		ChallengeID:    r.ChallengeID,
		ExpiresAt:      r.ExpiresAt,
		DeliveryFailed: r.DeliveryFailed,
		FailedChannels: r.FailedChannels,
	}
}

func toAccountResponse(a *agriauth.Account) accountResponse {
	return accountResponse{
		ID:         a.ID,
		Email:      a.Email,
		Name:       a.Name,
		Role:       a.Role.String(),
		Active:     a.Active,
		MFAEnabled: a.MFAEnabled,
		Phone:      a.Phone,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

// requestValidator adapts go-playground/validator to echo.Validator and
// reports fields by their JSON names.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: v}
}

func (v *requestValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) && httpErr.Code == http.StatusRequestEntityTooLarge {
			return err
		}
		return errBadBody
	}
	return c.Validate(req)
}
