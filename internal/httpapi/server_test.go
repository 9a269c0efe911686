package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrivision/agriauth"
	"github.com/agrivision/agriauth/notify"
	"github.com/agrivision/agriauth/risk"
	"github.com/agrivision/agriauth/store/memory"
)

type codeChannel struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *codeChannel) Name() string { return "email" }

func (c *codeChannel) Send(_ context.Context, to notify.Recipient, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[to.AccountID] = msg.Code
	return nil
}

func (c *codeChannel) code(accountID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[accountID]
}

type apiHarness struct {
	t       *testing.T
	engine  *agriauth.Engine
	store   *memory.Store
	channel *codeChannel
	router  *echo.Echo
}

func newHarness(t *testing.T, score int, opts Options) *apiHarness {
	t.Helper()

	cfg := agriauth.DefaultConfig()
	cfg.Token.PrivateKey = []byte("http-test-secret-http-test-secret-01")
	cfg.Password.BcryptCost = 10

	store := memory.New()
	channel := &codeChannel{codes: make(map[string]string)}
	engine, err := agriauth.New().
		WithConfig(cfg).
		WithAccountStore(store).
		WithRiskScorer(risk.Static(score)).
		WithNotifyChannels(channel).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &apiHarness{
		t:       t,
		engine:  engine,
		store:   store,
		channel: channel,
		router:  NewRouter(engine, opts),
	}
}

func (h *apiHarness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	return rec
}

func (h *apiHarness) register(email, password string) string {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email":    email,
		"password": password,
		"name":     "Test Farmer",
	})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		Data accountResponse `json:"data"`
	}
	decode(h.t, rec, &out)
	return out.Data.ID
}

func (h *apiHarness) login(email, password string) string {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Data tokenResponse `json:"data"`
	}
	decode(h.t, rec, &out)
	require.NotEmpty(h.t, out.Data.Token)
	return out.Data.Token
}

func (h *apiHarness) promote(email string, role agriauth.Role) {
	h.t.Helper()
	ctx := context.Background()
	account, err := h.store.FindByEmail(ctx, email)
	require.NoError(h.t, err)
	account.Role = role
	require.NoError(h.t, h.store.Update(ctx, account))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out Response
	decode(t, rec, &out)
	assert.False(t, out.Success)
	assert.Equal(t, rec.Code, out.Code)
	require.NotNil(t, out.Error)
	return out.Error.Code
}

func TestRegisterAndLogin(t *testing.T) {
	h := newHarness(t, 10, Options{})

	id := h.register("alice@example.com", "tomato-season")
	assert.NotEmpty(t, id)

	rec := h.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "Alice@Example.com",
		"password": "tomato-season",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Success bool          `json:"success"`
		Data    tokenResponse `json:"data"`
	}
	decode(t, rec, &out)
	assert.True(t, out.Success)
	assert.Equal(t, "Bearer", out.Data.TokenType)
	assert.Equal(t, id, out.Data.AccountID)
	assert.Equal(t, "standard", out.Data.Role)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), out.Data.ExpiresAt, time.Minute)
}

func TestRegisterErrors(t *testing.T) {
	h := newHarness(t, 10, Options{})
	h.register("bob@example.com", "harvest-moon")

	rec := h.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "BOB@example.com", "password": "harvest-moon", "name": "Bob",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ACCOUNT_EXISTS", errorCode(t, rec))

	rec = h.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "carol@example.com", "password": "harvest-moon",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var out struct {
		Error struct {
			Code    string       `json:"code"`
			Details []FieldError `json:"details"`
		} `json:"error"`
	}
	decode(t, rec, &out)
	assert.Equal(t, "VALIDATION_ERROR", out.Error.Code)
	require.Len(t, out.Error.Details, 1)
	assert.Equal(t, "name", out.Error.Details[0].Field)

	rec = h.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "dave@example.com", "password": "abc", "name": "Dave",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	decode(t, rec, &out)
	require.Len(t, out.Error.Details, 1)
	assert.Equal(t, "password", out.Error.Details[0].Field)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	raw := httptest.NewRecorder()
	h.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, raw))
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	h := newHarness(t, 10, Options{})
	h.register("erin@example.com", "irrigation-1")

	wrong := h.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "erin@example.com", "password": "nope-nope"})
	unknown := h.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ghost@example.com", "password": "nope-nope"})

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.JSONEq(t, wrong.Body.String(), unknown.Body.String())
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, wrong))
}

func TestLoginRateLimitedPerIP(t *testing.T) {
	h := newHarness(t, 10, Options{})

	for i := 0; i < 5; i++ {
		rec := h.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "x@example.com", "password": "wrong-pass"})
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	rec := h.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "x@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, rec))
}

func TestMFAStepUpFlow(t *testing.T) {
	h := newHarness(t, 90, Options{})
	id := h.register("frank@example.com", "greenhouse-7")

	rec := h.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "frank@example.com", "password": "greenhouse-7"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var challenge struct {
		Data challengeResponse `json:"data"`
	}
	decode(t, rec, &challenge)
	assert.True(t, challenge.Data.MFARequired)
	assert.False(t, challenge.Data.DeliveryFailed)
	require.NotEmpty(t, challenge.Data.ChallengeID)
	assert.NotContains(t, rec.Body.String(), "token")

	code := h.channel.code(id)
	require.NotEmpty(t, code)

	body := map[string]string{"challengeId": challenge.Data.ChallengeID, "code": code}
	rec = h.do(http.MethodPost, "/v1/auth/mfa/verify", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var token struct {
		Data tokenResponse `json:"data"`
	}
	decode(t, rec, &token)
	assert.NotEmpty(t, token.Data.Token)
	assert.Equal(t, id, token.Data.AccountID)

	rec = h.do(http.MethodPost, "/v1/auth/mfa/verify", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CHALLENGE", errorCode(t, rec))
}

func TestMeRequiresToken(t *testing.T) {
	h := newHarness(t, 10, Options{})
	id := h.register("gina@example.com", "orchard-row-9")
	token := h.login("gina@example.com", "orchard-row-9")

	rec := h.do(http.MethodGet, "/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Data meResponse `json:"data"`
	}
	decode(t, rec, &out)
	assert.Equal(t, id, out.Data.Claims.AccountID)
	assert.Equal(t, "gina@example.com", out.Data.Account.Email)
	assert.NotContains(t, rec.Body.String(), "$2a$")

	rec = h.do(http.MethodGet, "/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderWWWAuthenticate), "Bearer")

	rec = h.do(http.MethodGet, "/v1/auth/me", token+"x", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
}

func TestChangePasswordAndMFASetting(t *testing.T) {
	h := newHarness(t, 10, Options{})
	id := h.register("hana@example.com", "seedling-42")
	token := h.login("hana@example.com", "seedling-42")

	rec := h.do(http.MethodPost, "/v1/auth/password", token, map[string]string{
		"oldPassword": "wrong-old", "newPassword": "seedling-43",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/v1/auth/password", token, map[string]string{
		"oldPassword": "seedling-42", "newPassword": "seedling-43",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	h.login("hana@example.com", "seedling-43")

	rec = h.do(http.MethodPut, "/v1/auth/mfa", token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPut, "/v1/auth/mfa", token, map[string]any{"enabled": true})
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	account, err := h.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, account.MFAEnabled)
}

func TestAdminRoutesRequirePermission(t *testing.T) {
	h := newHarness(t, 10, Options{})
	targetID := h.register("ivan@example.com", "soil-sample-1")
	h.register("root@example.com", "admin-pass-1")
	h.promote("root@example.com", agriauth.RoleAdmin)

	userToken := h.login("ivan@example.com", "soil-sample-1")
	adminToken := h.login("root@example.com", "admin-pass-1")

	rec := h.do(http.MethodPut, "/v1/admin/accounts/"+targetID+"/role", userToken, map[string]string{"role": "researcher"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))

	rec = h.do(http.MethodPut, "/v1/admin/accounts/"+targetID+"/role", adminToken, map[string]string{"role": "wizard"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPut, "/v1/admin/accounts/"+targetID+"/role", adminToken, map[string]string{"role": "researcher"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = h.do(http.MethodGet, "/v1/admin/accounts/"+targetID, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Data accountResponse `json:"data"`
	}
	decode(t, rec, &out)
	assert.Equal(t, "researcher", out.Data.Role)

	rec = h.do(http.MethodPost, "/v1/admin/accounts/"+targetID+"/deactivate", adminToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = h.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ivan@example.com", "password": "soil-sample-1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/v1/admin/accounts/"+targetID+"/reactivate", adminToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	h.login("ivan@example.com", "soil-sample-1")

	rec = h.do(http.MethodGet, "/v1/admin/accounts/missing", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestThrottlePerIP(t *testing.T) {
	h := newHarness(t, 10, Options{ThrottleRequests: 2, ThrottleWindow: time.Minute})

	for i := 0; i < 2; i++ {
		rec := h.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "a@example.com", "password": "whatever"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := h.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "a@example.com", "password": "whatever"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	health := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, health.Code, "health is not throttled")
}

func TestBodyLimit(t *testing.T) {
	h := newHarness(t, 10, Options{MaxRequestBodySize: "1KB"})

	rec := h.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "big@example.com", "password": "long-enough", "name": strings.Repeat("n", 4096),
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	ready := errors.New("redis down")
	var failing bool
	h := newHarness(t, 10, Options{
		Registry: registry,
		Ready: func(context.Context) error {
			if failing {
				return ready
			}
			return nil
		},
	})

	rec := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	failing = true
	rec = h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOT_READY", errorCode(t, rec))

	rec = h.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `agriauth_http_requests_total{method="GET",route="/healthz",status="503"} 1`)
}

func TestErrorHandlerHidesInternalErrors(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	NewErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil))).
		HandleHTTPError(errors.New("pq: connection refused at 10.0.0.5"), c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, rec))
}

func TestErrorHandlerMapsBackendUnavailable(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := errors.Join(agriauth.ErrBackendUnavailable, errors.New("dial tcp"))
	NewErrorHandler(nil).HandleHTTPError(err, c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", errorCode(t, rec))
}

func TestPasswordResetRoutes(t *testing.T) {
	h := newHarness(t, 10, Options{})
	id := h.register("lars@example.com", "soil-sample-1")

	rec := h.do(http.MethodPost, "/v1/auth/password/reset", "", map[string]string{"email": "lars@example.com"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	token := h.channel.code(id)
	require.NotEmpty(t, token)

	// unknown addresses get the same answer
	rec = h.do(http.MethodPost, "/v1/auth/password/reset", "", map[string]string{"email": "ghost@example.com"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = h.do(http.MethodPost, "/v1/auth/password/reset", "", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))

	rec = h.do(http.MethodPost, "/v1/auth/password/reset/confirm", "", map[string]string{"token": "nope.nope", "password": "fresh-soil-22"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, rec))

	rec = h.do(http.MethodPost, "/v1/auth/password/reset/confirm", "", map[string]string{"token": token, "password": "fresh-soil-22"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	h.login("lars@example.com", "fresh-soil-22")

	rec = h.do(http.MethodPost, "/v1/auth/password/reset/confirm", "", map[string]string{"token": token, "password": "fresh-soil-23"})
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, rec))
}

func TestPasswordResetRouteRateLimited(t *testing.T) {
	h := newHarness(t, 10, Options{})
	h.register("maja@example.com", "soil-sample-1")

	for i := 0; i < 3; i++ {
		rec := h.do(http.MethodPost, "/v1/auth/password/reset", "", map[string]string{"email": "maja@example.com"})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}
	rec := h.do(http.MethodPost, "/v1/auth/password/reset", "", map[string]string{"email": "maja@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, rec))
}

func TestEmailVerificationRoutes(t *testing.T) {
	h := newHarness(t, 10, Options{})
	id := h.register("nora@example.com", "soil-sample-1")
	token := h.login("nora@example.com", "soil-sample-1")

	rec := h.do(http.MethodPost, "/v1/auth/email/verify", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/v1/auth/email/verify", token, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	link := h.channel.code(id)
	require.NotEmpty(t, link)

	rec = h.do(http.MethodPost, "/v1/auth/email/verify/confirm", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/v1/auth/email/verify/confirm", "", map[string]string{"token": link})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	account, err := h.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, account.EmailVerified)
}

func TestExternalIdentityRoutes(t *testing.T) {
	h := newHarness(t, 10, Options{})
	targetID := h.register("olaf@example.com", "soil-sample-1")
	h.register("broker@example.com", "admin-pass-1")
	h.promote("broker@example.com", agriauth.RoleAdmin)
	adminToken := h.login("broker@example.com", "admin-pass-1")
	userToken := h.login("olaf@example.com", "soil-sample-1")

	path := "/v1/admin/accounts/" + targetID + "/identities/github"
	rec := h.do(http.MethodPut, path, userToken, map[string]string{"subject": "octo-1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPut, "/v1/admin/accounts/"+targetID+"/identities/myspace", adminToken, map[string]string{"subject": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))

	rec = h.do(http.MethodPut, path, adminToken, map[string]string{"subject": "octo-1"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = h.do(http.MethodPut, path, adminToken, map[string]string{"subject": "octo-2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "IDENTITY_LINKED", errorCode(t, rec))

	login := map[string]string{"provider": "github", "subject": "octo-1", "email": "someone-else@example.com"}
	rec = h.do(http.MethodPost, "/v1/admin/external-logins", userToken, login)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/v1/admin/external-logins", adminToken, login)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Data tokenResponse `json:"data"`
	}
	decode(t, rec, &out)
	assert.Equal(t, targetID, out.Data.AccountID)

	rec = h.do(http.MethodPost, "/v1/admin/external-logins", adminToken, map[string]string{
		"provider": "google", "subject": "g-5", "email": "new-farmer@example.com", "name": "New Farmer",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &out)
	created, err := h.store.FindByEmail(context.Background(), "new-farmer@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, out.Data.AccountID)
	assert.True(t, created.EmailVerified)
	assert.Equal(t, "g-5", created.ExternalIDs["google"])
}

func TestErrorHandlerMapsDeliveryFailure(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	NewErrorHandler(nil).HandleHTTPError(agriauth.ErrDownstreamUnavailable, c)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "DELIVERY_FAILED", errorCode(t, rec))
}
