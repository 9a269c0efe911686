package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/agrivision/agriauth"
)

// errBadBody is returned when a request body does not decode.
var errBadBody = errors.New("malformed request body")

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Credential and challenge failures share one generic message each so the
// body never tells an unknown account from a wrong password.
var errorMappings = []errorMapping{
	{agriauth.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, try again later"},
	{agriauth.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"},
	{agriauth.ErrInvalidOrExpiredChallenge, http.StatusUnauthorized, "INVALID_CHALLENGE", "Invalid or expired verification code"},
	{agriauth.ErrTokenInvalid, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required"},
	{agriauth.ErrInvalidOrExpiredToken, http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired link"},
	{agriauth.ErrRiskRejected, http.StatusForbidden, "LOGIN_REJECTED", "Login rejected"},
	{agriauth.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "Forbidden"},
	{agriauth.ErrAccountExists, http.StatusConflict, "ACCOUNT_EXISTS", "An account with this email already exists"},
	{agriauth.ErrAccountNotFound, http.StatusNotFound, "NOT_FOUND", "Account not found"},
	{agriauth.ErrAccountConflict, http.StatusConflict, "CONFLICT", "Account was modified concurrently, retry"},
	{agriauth.ErrIdentityLinked, http.StatusConflict, "IDENTITY_LINKED", "This identity is already linked"},
	{agriauth.ErrBackendUnavailable, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable"},
	{agriauth.ErrDownstreamUnavailable, http.StatusBadGateway, "DELIVERY_FAILED", "Message could not be delivered, try again later"},
	{agriauth.ErrEngineNotReady, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable"},
	{errBadBody, http.StatusBadRequest, "INVALID_INPUT", "Malformed request body"},
}

// ErrorHandler renders every handler error as a Response envelope.
type ErrorHandler struct {
	logger *slog.Logger
}

func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorHandler{logger: logger}
}

// HandleHTTPError is installed as echo's HTTPErrorHandler.
func (h *ErrorHandler) HandleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	if writeErr := h.write(err, c); writeErr != nil {
		h.logger.Error("error response not written", slog.String("error", writeErr.Error()))
	}
}

func (h *ErrorHandler) write(err error, c echo.Context) error {
	var fieldErr *agriauth.ValidationError
	if errors.As(err, &fieldErr) {
		return failure(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed",
			[]FieldError{{Field: fieldErr.Field, Message: fieldErr.Message}})
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return failure(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", fieldErrors(validationErrs))
	}

	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		if m.target == agriauth.ErrTokenInvalid {
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="agrivision"`)
		}
		return failure(c, m.status, m.code, m.message, nil)
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		message := http.StatusText(httpErr.Code)
		if s, ok := httpErr.Message.(string); ok && s != "" {
			message = s
		}
		return failure(c, httpErr.Code, "HTTP_ERROR", message, nil)
	}

	h.logger.Error("Unhandled error",
		slog.String("error", err.Error()),
		slog.String("path", c.Request().URL.Path),
		slog.String("method", c.Request().Method),
	)

	return failure(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
}

func fieldErrors(errs validator.ValidationErrors) []FieldError {
	out := make([]FieldError, 0, len(errs))
	for _, fe := range errs {
		out = append(out, FieldError{Field: fe.Field(), Message: ruleMessage(fe)})
	}
	return out
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "e164":
		return "must be an E.164 phone number"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return fmt.Sprintf("failed the %s rule", fe.Tag())
	}
}
